package handler

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/dukerupert/starchart/internal/database"
	"github.com/dukerupert/starchart/internal/model"
	"github.com/dukerupert/starchart/internal/store"
)

func setupChartHandler(t *testing.T) (*ChartHandler, *store.ChartStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cs := store.NewChartStore(db)
	if err := cs.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	h := NewChartHandler(cs, model.DefaultTotalStars, slog.New(slog.DiscardHandler))
	h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return h, cs
}

func doSave(t *testing.T, h *ChartHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/data/save", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Save(rec, req)
	return rec
}

func assertNoCache(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	want := map[string]string{
		"Cache-Control": "no-cache, no-store, must-revalidate",
		"Pragma":        "no-cache",
		"Expires":       "0",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestCurrentReturnsDefaults(t *testing.T) {
	h, _ := setupChartHandler(t)

	rec := httptest.NewRecorder()
	h.Current(rec, httptest.NewRequest(http.MethodGet, "/data/current", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	assertNoCache(t, rec)

	var state model.ChartState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Points != 0 {
		t.Errorf("points = %d, want 0", state.Points)
	}
	if state.CurrentTheme != model.ThemeDefault {
		t.Errorf("theme = %q, want %q", state.CurrentTheme, model.ThemeDefault)
	}
	if state.RewardPreview != model.DefaultRewardPreview() {
		t.Errorf("reward = %+v, want defaults", state.RewardPreview)
	}
	if state.UpdatedAt == nil {
		t.Error("expected updatedAt to be set")
	}
}

func TestSyncIncludesServerClock(t *testing.T) {
	h, _ := setupChartHandler(t)

	rec := httptest.NewRecorder()
	h.Sync(rec, httptest.NewRequest(http.MethodGet, "/data/sync", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	assertNoCache(t, rec)

	var raw map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"points", "starComments", "stickerTypes", "currentTheme", "rewardPreview", "lastUpdated", "serverTime"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	if raw["lastUpdated"] != "2026-03-01T12:00:00.000Z" {
		t.Errorf("lastUpdated = %v", raw["lastUpdated"])
	}

	var sync model.SyncState
	if err := json.Unmarshal(rec.Body.Bytes(), &sync); err != nil {
		t.Fatalf("decode sync: %v", err)
	}
	if sync.ServerTime != h.now().UnixMilli() {
		t.Errorf("serverTime = %d, want %d", sync.ServerTime, h.now().UnixMilli())
	}
}

func TestSavePartialKeepsOtherFields(t *testing.T) {
	h, cs := setupChartHandler(t)

	rec := doSave(t, h, `{"points": 4, "currentTheme": "christmas"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("first save status = %d: %s", rec.Code, rec.Body.String())
	}
	assertNoCache(t, rec)

	var resp model.SaveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Timestamp != h.now().UnixMilli() {
		t.Errorf("response = %+v", resp)
	}

	rec = doSave(t, h, `{"starComments": {"0": "tidy room"}, "stickerTypes": {"0": 3}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("second save status = %d: %s", rec.Code, rec.Body.String())
	}

	state, err := cs.GetCurrentData()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Points != 4 {
		t.Errorf("points = %d, want 4", state.Points)
	}
	if state.CurrentTheme != model.ThemeChristmas {
		t.Errorf("theme = %q, want christmas", state.CurrentTheme)
	}
	if state.StarComments[0] != "tidy room" || state.StickerTypes[0] != 3 {
		t.Errorf("annotations = %v / %v", state.StarComments, state.StickerTypes)
	}
}

func TestSaveEmptyThemeIsIgnored(t *testing.T) {
	h, cs := setupChartHandler(t)

	doSave(t, h, `{"currentTheme": "christmas"}`)
	rec := doSave(t, h, `{"currentTheme": "", "points": 1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	state, _ := cs.GetCurrentData()
	if state.CurrentTheme != model.ThemeChristmas {
		t.Errorf("theme = %q, want christmas", state.CurrentTheme)
	}
}

func TestSaveRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"points":`},
		{"negative points", `{"points": -1}`},
		{"points above goal", `{"points": 16}`},
		{"unknown theme", `{"currentTheme": "halloween"}`},
		{"comment index out of range", `{"starComments": {"15": "x"}}`},
		{"negative sticker", `{"stickerTypes": {"0": -2}}`},
		{"comment above points", `{"points": 1, "starComments": {"0": "A", "2": "C"}}`},
		{"sticker above points", `{"points": 0, "stickerTypes": {"0": 1}}`},
		{"empty reward title", `{"rewardPreview": {"stars": 15, "reward": "  ", "description": ""}}`},
		{"zero reward stars", `{"rewardPreview": {"stars": 0, "reward": "Zoo", "description": ""}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, cs := setupChartHandler(t)

			rec := doSave(t, h, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] == "" {
				t.Error("expected error message")
			}

			state, _ := cs.GetCurrentData()
			if state.Points != 0 || state.CurrentTheme != model.ThemeDefault {
				t.Errorf("rejected save changed state: %+v", state)
			}
		})
	}
}

func TestSaveStorageFailure(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	cs := store.NewChartStore(db)
	h := NewChartHandler(cs, 0, slog.New(slog.DiscardHandler))
	db.Close()

	rec := doSave(t, h, `{"points": 2}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] == "" {
		t.Error("expected storage error message")
	}

	rec = httptest.NewRecorder()
	h.Current(rec, httptest.NewRequest(http.MethodGet, "/data/current", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("current status = %d, want 500", rec.Code)
	}
	assertNoCache(t, rec)
}

func TestSaveWithoutInitializeReturns500(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	h := NewChartHandler(store.NewChartStore(db), 0, slog.New(slog.DiscardHandler))

	rec := doSave(t, h, `{"points": 2}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), store.ErrNotInitialized.Error()) {
		t.Errorf("body = %s, want not-initialized error", rec.Body.String())
	}
}
