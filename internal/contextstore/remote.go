package contextstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RemoteConfig holds connection settings for an external fact-store service.
type RemoteConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// RemoteAdapter implements Adapter against the fact store's REST API.
type RemoteAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRemoteAdapter creates a new remote fact-store client.
func NewRemoteAdapter(cfg RemoteConfig) *RemoteAdapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &RemoteAdapter{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type searchResponse struct {
	Results []Record `json:"results"`
	Count   int      `json:"count"`
}

type versionResponse struct {
	Scope   string `json:"scope"`
	Version uint64 `json:"version"`
}

// Search queries the store for ranked records.
func (a *RemoteAdapter) Search(ctx context.Context, q Query) ([]Record, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	resp, err := a.doRequest(ctx, http.MethodPost, "/api/v1/records/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: store returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return searchResp.Results, nil
}

// Put writes a record to the store.
func (a *RemoteAdapter) Put(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	resp, err := a.doRequest(ctx, http.MethodPost, "/api/v1/records", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: store returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// Version reads the scope's write counter.
func (a *RemoteAdapter) Version(ctx context.Context, scope string) (uint64, error) {
	path := "/api/v1/scopes/" + url.PathEscape(scope) + "/version"
	resp, err := a.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: store returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var versionResp versionResponse
	if err := json.NewDecoder(resp.Body).Decode(&versionResp); err != nil {
		return 0, fmt.Errorf("failed to decode version response: %w", err)
	}
	return versionResp.Version, nil
}

// Close is a no-op for the HTTP adapter.
func (a *RemoteAdapter) Close() error {
	return nil
}

// doRequest performs an HTTP request with proper headers
func (a *RemoteAdapter) doRequest(ctx context.Context, method, path string, body *bytes.Reader) (*http.Response, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, a.baseURL+path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Vera-Core/1.0.0")

	return a.httpClient.Do(req)
}
