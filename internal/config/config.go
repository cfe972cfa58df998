package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for vera-core
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Store        StoreConfig        `yaml:"store"`
	Cache        CacheConfig        `yaml:"cache"`
	Completion   CompletionConfig   `yaml:"completion"`
	Router       RouterConfig       `yaml:"router"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Experts      ExpertsConfig      `yaml:"experts"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// StoreConfig defines context store settings
type StoreConfig struct {
	// Driver is "sqlite" for the local adapter or "remote" for an external
	// fact-store service reached over HTTP.
	Driver  string `yaml:"driver"`
	Path    string `yaml:"path,omitempty"`
	URL     string `yaml:"url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
	Timeout string `yaml:"timeout,omitempty"`
}

// GetTimeout returns the store timeout as a time.Duration
func (s *StoreConfig) GetTimeout() time.Duration {
	if s.Timeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// CacheConfig defines summary cache settings
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis,omitempty"`
	TTL     string      `yaml:"ttl,omitempty"`
	// SummaryLatencyThreshold: summaries cheaper than this are not cached.
	SummaryLatencyThreshold string `yaml:"summary_latency_threshold,omitempty"`
	// ReaperSchedule is a cron expression for the TTL reaper.
	ReaperSchedule string `yaml:"reaper_schedule,omitempty"`
}

// GetTTL returns the cache TTL as a time.Duration
func (c *CacheConfig) GetTTL() time.Duration {
	if c.TTL == "" {
		return 10 * time.Minute
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// GetSummaryLatencyThreshold returns the caching latency threshold
func (c *CacheConfig) GetSummaryLatencyThreshold() time.Duration {
	if c.SummaryLatencyThreshold == "" {
		return 50 * time.Millisecond
	}
	d, err := time.ParseDuration(c.SummaryLatencyThreshold)
	if err != nil {
		return 50 * time.Millisecond
	}
	return d
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// LaneConfig defines a completion lane (engine + default model)
type LaneConfig struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"` // ollama, openai-compatible
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model"`
}

// ProfileConfig maps an intent class to a lane and sampling settings
type ProfileConfig struct {
	Name        string  `yaml:"name"`
	Lane        string  `yaml:"lane"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// CompletionConfig defines completion backend settings
type CompletionConfig struct {
	Lanes       []LaneConfig    `yaml:"lanes"`
	Profiles    []ProfileConfig `yaml:"profiles"`
	DefaultLane string          `yaml:"default_lane,omitempty"`
	Timeout     string          `yaml:"timeout,omitempty"`
}

// GetTimeout returns the completion call timeout as a time.Duration
func (c *CompletionConfig) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// RouterConfig defines query router settings
type RouterConfig struct {
	// TieMargin: classes scoring within this margin of the top class trigger
	// the blast-radius tie-break.
	TieMargin float64 `yaml:"tie_margin,omitempty"`
	// ContextBudget is the character budget for assembled context.
	ContextBudget int `yaml:"context_budget,omitempty"`
}

// OrchestratorConfig defines task graph execution settings
type OrchestratorConfig struct {
	Workers      int    `yaml:"workers,omitempty"`
	TaskTimeout  string `yaml:"task_timeout,omitempty"`
	GraphTimeout string `yaml:"graph_timeout,omitempty"`
}

// GetTaskTimeout returns the default per-task timeout
func (o *OrchestratorConfig) GetTaskTimeout() time.Duration {
	if o.TaskTimeout == "" {
		return 15 * time.Second
	}
	d, err := time.ParseDuration(o.TaskTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetGraphTimeout returns the whole-graph timeout
func (o *OrchestratorConfig) GetGraphTimeout() time.Duration {
	if o.GraphTimeout == "" {
		return 45 * time.Second
	}
	d, err := time.ParseDuration(o.GraphTimeout)
	if err != nil {
		return 45 * time.Second
	}
	return d
}

// HandlerConfig defines a single expert handler
type HandlerConfig struct {
	Name string `yaml:"name"`
	// Mode is "builtin" for in-process handlers or "redis" for remote
	// handlers reached over Redis Streams.
	Mode    string `yaml:"mode"`
	Timeout string `yaml:"timeout,omitempty"`
}

// GetTimeout returns the per-call timeout for this handler
func (h *HandlerConfig) GetTimeout() time.Duration {
	if h.Timeout == "" {
		return 0 // fall back to the orchestrator default
	}
	d, err := time.ParseDuration(h.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// ExpertsConfig defines expert handler settings
type ExpertsConfig struct {
	Redis             RedisConfig     `yaml:"redis,omitempty"`
	NodeName          string          `yaml:"node_name,omitempty"`
	Handlers          []HandlerConfig `yaml:"handlers"`
	HeartbeatInterval string          `yaml:"heartbeat_interval,omitempty"`
}

// GetHeartbeatInterval returns the handler heartbeat interval
func (e *ExpertsConfig) GetHeartbeatInterval() time.Duration {
	if e.HeartbeatInterval == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(e.HeartbeatInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("VERA_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.Port)
	}
	if url := os.Getenv("VERA_STORE_URL"); url != "" {
		c.Store.URL = url
	}
	if addr := os.Getenv("VERA_REDIS_ADDR"); addr != "" {
		c.Cache.Redis.Addr = addr
		c.Experts.Redis.Addr = addr
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		for i := range c.Completion.Lanes {
			if c.Completion.Lanes[i].Type == "openai-compatible" || c.Completion.Lanes[i].Type == "openai" {
				c.Completion.Lanes[i].APIKey = apiKey
			}
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for the sqlite driver")
		}
	case "remote":
		if c.Store.URL == "" {
			return fmt.Errorf("store URL is required for the remote driver")
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if len(c.Completion.Lanes) == 0 {
		return fmt.Errorf("at least one completion lane is required")
	}
	laneNames := make(map[string]bool, len(c.Completion.Lanes))
	for _, lane := range c.Completion.Lanes {
		laneNames[lane.Name] = true
	}
	for _, p := range c.Completion.Profiles {
		if !laneNames[p.Lane] {
			return fmt.Errorf("profile %s references unknown lane %s", p.Name, p.Lane)
		}
	}
	// The whole-graph timeout must exceed the largest per-task timeout so at
	// least one level of sequential dependency can complete.
	maxTask := c.Orchestrator.GetTaskTimeout()
	for _, h := range c.Experts.Handlers {
		if t := h.GetTimeout(); t > maxTask {
			maxTask = t
		}
	}
	if c.Orchestrator.GetGraphTimeout() <= maxTask {
		return fmt.Errorf("graph timeout %s must be greater than the largest task timeout %s",
			c.Orchestrator.GetGraphTimeout(), maxTask)
	}
	return nil
}
