package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/dukerupert/starchart/internal/model"
)

// API is a thin HTTP client for the chart endpoints.
type API struct {
	baseURL    string
	httpClient *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Sync fetches the chart with the server clock. The t parameter defeats any
// cache that ignores the no-cache headers.
func (a *API) Sync(ctx context.Context) (*model.SyncState, error) {
	url := a.baseURL + "/data/sync?t=" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var state model.SyncState
	if err := a.do(req, &state); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	return &state, nil
}

func (a *API) Save(ctx context.Context, body model.SaveRequest) (*model.SaveResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/data/save", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp model.SaveResponse
	if err := a.do(req, &resp); err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}
	return &resp, nil
}

func (a *API) do(req *http.Request, v any) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		json.Unmarshal(data, &body)
		return &StatusError{Code: resp.StatusCode, Message: body.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
