package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OllamaConfig holds Ollama client configuration
type OllamaConfig struct {
	URL          string
	DefaultModel string
}

// OllamaClient is an Ollama completion client
type OllamaClient struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// NewOllamaClient creates a new Ollama client. Call deadlines come from the
// request context, not a client-level timeout.
func NewOllamaClient(cfg *OllamaConfig) (*OllamaClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ollama URL is required")
	}

	return &OllamaClient{
		baseURL:      cfg.URL,
		defaultModel: cfg.DefaultModel,
		httpClient:   &http.Client{},
	}, nil
}

// Complete sends a generation request to Ollama
func (c *OllamaClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	options := map[string]interface{}{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	ollamaReq := map[string]interface{}{
		"model":   model,
		"prompt":  req.Prompt,
		"stream":  false,
		"options": options,
	}

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/generate", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var ollamaResp OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &Response{
		Content:    ollamaResp.Response,
		Model:      ollamaResp.Model,
		TokensUsed: ollamaResp.EvalCount,
	}, nil
}

// Health checks if Ollama is healthy
func (c *OllamaClient) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/tags", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned status %d", resp.StatusCode)
	}

	return nil
}

// OllamaResponse represents an Ollama API response
type OllamaResponse struct {
	Model       string `json:"model"`
	Response    string `json:"response"`
	Done        bool   `json:"done"`
	PromptCount int    `json:"prompt_eval_count"`
	EvalCount   int    `json:"eval_count"`
}
