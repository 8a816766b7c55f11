package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// API calls the authenticated dispenser endpoints.
type API struct {
	HTTP    *http.Client
	BaseURL string
}

// Login touches the caller's last activity and returns the server's view
// of the caller's id.
func (a *API) Login(ctx context.Context) (string, error) {
	var out struct {
		User string `json:"user"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/login", nil, &out); err != nil {
		return "", err
	}
	return out.User, nil
}

// Services lists the catalogue with available stock.
func (a *API) Services(ctx context.Context) ([]Service, error) {
	var out struct {
		Services []Service `json:"services"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/services", nil, &out); err != nil {
		return nil, err
	}
	return out.Services, nil
}

// Generate takes one credential for service.
func (a *API) Generate(ctx context.Context, service string) (Generated, error) {
	var out Generated
	err := a.do(ctx, http.MethodPost, "/api/generate", map[string]string{"service": service}, &out)
	return out, err
}

// History returns up to limit past generations; limit <= 0 uses the server default.
func (a *API) History(ctx context.Context, limit int) ([]HistoryItem, error) {
	path := "/api/history"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out struct {
		History []HistoryItem `json:"history"`
	}
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// Stats returns the caller's usage summary.
func (a *API) Stats(ctx context.Context) (Stats, error) {
	var out struct {
		Stats Stats `json:"stats"`
	}
	err := a.do(ctx, http.MethodGet, "/api/stats", nil, &out)
	return out.Stats, err
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
