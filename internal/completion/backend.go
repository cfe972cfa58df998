package completion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verahub/vera-core/internal/config"
	"github.com/verahub/vera-core/internal/metrics"
)

// Lane pairs a provider client with its default model.
type Lane struct {
	Name   string
	Model  string
	Client Client
}

// Backend routes completion requests to the lane named by the selected
// profile and enforces the hard per-call timeout.
type Backend struct {
	lanes       map[string]*Lane
	defaultLane string
	timeout     time.Duration
	logger      *slog.Logger
	mu          sync.RWMutex
}

// NewBackend creates a completion backend from config
func NewBackend(cfg *config.CompletionConfig, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		lanes:       make(map[string]*Lane),
		defaultLane: cfg.DefaultLane,
		timeout:     cfg.GetTimeout(),
		logger:      logger,
	}

	for _, lc := range cfg.Lanes {
		client, err := createClient(lc)
		if err != nil {
			return nil, fmt.Errorf("lane %s: %w", lc.Name, err)
		}
		b.lanes[lc.Name] = &Lane{Name: lc.Name, Model: lc.Model, Client: client}
	}

	if b.defaultLane != "" {
		if _, ok := b.lanes[b.defaultLane]; !ok {
			return nil, fmt.Errorf("default lane %s not found", b.defaultLane)
		}
	} else {
		for name := range b.lanes {
			b.defaultLane = name
			break
		}
	}

	return b, nil
}

func createClient(lc config.LaneConfig) (Client, error) {
	switch lc.Type {
	case "ollama":
		return NewOllamaClient(&OllamaConfig{URL: lc.URL, DefaultModel: lc.Model})
	case "openai-compatible", "openai", "vllm", "openrouter":
		return NewOpenAIClient(&OpenAIConfig{BaseURL: lc.URL, APIKey: lc.APIKey, Model: lc.Model})
	default:
		return nil, fmt.Errorf("unsupported completion type: %s", lc.Type)
	}
}

// Complete runs one completion under the profile's lane and sampling
// settings. The call is cancelled at the backend timeout; a late result is
// discarded by the cancelled HTTP round trip, never merged.
func (b *Backend) Complete(ctx context.Context, profile config.ProfileConfig, prompt string) (*Response, error) {
	laneName := profile.Lane
	if laneName == "" {
		laneName = b.defaultLane
	}

	b.mu.RLock()
	lane, ok := b.lanes[laneName]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lane %s not found", laneName)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	resp, err := lane.Client.Complete(callCtx, &Request{
		Prompt:      prompt,
		Model:       lane.Model,
		Temperature: profile.Temperature,
		MaxTokens:   profile.MaxTokens,
	})
	metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	resp.Lane = laneName
	b.logger.Debug("completion finished",
		"lane", laneName,
		"model", resp.Model,
		"tokens", resp.TokensUsed,
	)
	return resp, nil
}

// Health checks all lanes
func (b *Backend) Health(ctx context.Context) map[string]error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	results := make(map[string]error)
	for name, lane := range b.lanes {
		results[name] = lane.Client.Health(ctx)
	}
	return results
}
