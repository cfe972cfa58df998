package config

import (
	"os"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	yaml := []byte(`
server:
  port: 18700
  host: localhost
store:
  driver: sqlite
  path: /tmp/vera.db
completion:
  lanes:
    - name: chat
      type: ollama
      url: http://localhost:11434
      model: test-model
  profiles:
    - name: conversational
      lane: chat
      temperature: 0.8
  default_lane: chat
`)
	f, _ := os.CreateTemp("", "config-*.yaml")
	f.Write(yaml)
	f.Close()
	defer os.Remove(f.Name())

	cfg, err := Load(f.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 18700 {
		t.Errorf("Expected port 18700, got %d", cfg.Server.Port)
	}
	if cfg.Completion.DefaultLane != "chat" {
		t.Errorf("Expected default_lane chat, got %s", cfg.Completion.DefaultLane)
	}
	if cfg.Completion.Profiles[0].Temperature != 0.8 {
		t.Errorf("Expected temperature 0.8, got %f", cfg.Completion.Profiles[0].Temperature)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 18700, Host: "localhost"},
		Store:  StoreConfig{Driver: "sqlite", Path: "/tmp/vera.db"},
		Completion: CompletionConfig{
			Lanes:    []LaneConfig{{Name: "chat", Type: "ollama", URL: "http://localhost:11434", Model: "test"}},
			Profiles: []ProfileConfig{{Name: "conversational", Lane: "chat", Temperature: 0.8}},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: -1}}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for invalid port")
	}
}

func TestValidateUnknownProfileLane(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 18700},
		Store:  StoreConfig{Driver: "sqlite", Path: "/tmp/vera.db"},
		Completion: CompletionConfig{
			Lanes:    []LaneConfig{{Name: "chat", Type: "ollama", URL: "http://localhost:11434", Model: "test"}},
			Profiles: []ProfileConfig{{Name: "factual", Lane: "missing", Temperature: 0.2}},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for unknown profile lane")
	}
}

func TestValidateGraphTimeout(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 18700},
		Store:  StoreConfig{Driver: "sqlite", Path: "/tmp/vera.db"},
		Completion: CompletionConfig{
			Lanes: []LaneConfig{{Name: "chat", Type: "ollama", URL: "http://localhost:11434", Model: "test"}},
		},
		Orchestrator: OrchestratorConfig{TaskTimeout: "30s", GraphTimeout: "20s"},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for graph timeout below task timeout")
	}
}
