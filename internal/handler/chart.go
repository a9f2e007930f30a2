package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/dukerupert/starchart/internal/model"
	"github.com/dukerupert/starchart/internal/store"
)

const maxSaveBody = 1 << 20

type ChartHandler struct {
	chartStore *store.ChartStore
	totalStars int
	logger     *slog.Logger
	now        func() time.Time
}

func NewChartHandler(cs *store.ChartStore, totalStars int, logger *slog.Logger) *ChartHandler {
	if totalStars <= 0 {
		totalStars = model.DefaultTotalStars
	}
	return &ChartHandler{chartStore: cs, totalStars: totalStars, logger: logger, now: time.Now}
}

// Current returns the full chart.
func (h *ChartHandler) Current(w http.ResponseWriter, r *http.Request) {
	noCache(w)

	state, err := h.chartStore.GetCurrentData()
	if err != nil {
		h.logger.Error("failed to load chart", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load chart")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Sync returns the chart plus the server clock so clients can order fetches
// without trusting their own clock.
func (h *ChartHandler) Sync(w http.ResponseWriter, r *http.Request) {
	noCache(w)

	state, err := h.chartStore.GetCurrentData()
	if err != nil {
		h.logger.Error("failed to load chart for sync", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load chart")
		return
	}

	now := h.now().UTC()
	writeJSON(w, http.StatusOK, model.SyncState{
		ChartState:  *state,
		LastUpdated: now.Format("2006-01-02T15:04:05.000Z07:00"),
		ServerTime:  now.UnixMilli(),
	})
}

// Save applies a partial chart. Fields missing from the body are untouched.
func (h *ChartHandler) Save(w http.ResponseWriter, r *http.Request) {
	noCache(w)

	var req model.SaveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSaveBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// An empty theme string means "no change".
	if req.CurrentTheme != nil && *req.CurrentTheme == "" {
		req.CurrentTheme = nil
	}

	if err := h.validateSave(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.chartStore.SaveFullData(req); err != nil {
		h.logger.Error("failed to save chart", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.SaveResponse{
		Success:   true,
		Timestamp: h.now().UnixMilli(),
	})
}

func (h *ChartHandler) validateSave(req *model.SaveRequest) error {
	if req.Points != nil && (*req.Points < 0 || *req.Points > h.totalStars) {
		return fmt.Errorf("points must be between 0 and %d", h.totalStars)
	}
	if req.CurrentTheme != nil && !req.CurrentTheme.Valid() {
		return fmt.Errorf("unknown theme %q", *req.CurrentTheme)
	}
	for index := range req.StarComments {
		if index < 0 || index >= h.totalStars {
			return fmt.Errorf("star index %d out of range", index)
		}
	}
	for index, sticker := range req.StickerTypes {
		if index < 0 || index >= h.totalStars {
			return fmt.Errorf("star index %d out of range", index)
		}
		if sticker < 0 {
			return fmt.Errorf("sticker type for star %d must be >= 0", index)
		}
	}
	// Annotations sent alongside points must sit on filled stars.
	if req.Points != nil {
		for index := range req.StarComments {
			if index >= *req.Points {
				return fmt.Errorf("comment on star %d but only %d stars filled", index, *req.Points)
			}
		}
		for index := range req.StickerTypes {
			if index >= *req.Points {
				return fmt.Errorf("sticker on star %d but only %d stars filled", index, *req.Points)
			}
		}
	}
	if rp := req.RewardPreview; rp != nil {
		rp.Reward = strings.TrimSpace(rp.Reward)
		if rp.Reward == "" {
			return fmt.Errorf("reward is required")
		}
		if rp.Stars < 1 {
			return fmt.Errorf("reward stars must be >= 1")
		}
	}
	return nil
}
