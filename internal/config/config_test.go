package config

import (
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		AI: &AIConfig{
			Providers: []AIProvider{{
				ID:   "openai",
				Type: "openai",
				Models: []AIProviderModel{
					{ModelName: "gpt-5-mini", IsDefault: true},
				},
			}},
		},
	}
}

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := validConfig()
	cfg.DBPath = "/var/lib/orbit/orbit.db"
	cfg.LogFormat = "text"
	cfg.Calendar = &CalendarConfig{ClientID: "client-123"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.DBPath != cfg.DBPath || got.LogFormat != "text" {
		t.Fatalf("got %+v", got)
	}
	if got.Calendar == nil || got.Calendar.ClientID != "client-123" {
		t.Fatalf("calendar = %+v", got.Calendar)
	}

	if id, ok := got.AI.DefaultModelID(); !ok || id != "openai/gpt-5-mini" {
		t.Fatalf("default model = %q ok=%v", id, ok)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := (&Config{}).Validate(); err == nil {
		t.Fatalf("expected missing ai config error")
	}

	cfg := validConfig()
	cfg.LogLevel = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid log level error")
	}

	cfg = validConfig()
	cfg.AI.Providers[0].Models[0].IsDefault = false
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing default model error")
	}

	cfg = validConfig()
	cfg.AI.Providers[0].Type = "openai_compatible"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected base_url requirement for openai_compatible")
	}
	cfg.AI.Providers[0].BaseURL = "http://localhost:8080/v1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestAIConfig_IsAllowedModelID(t *testing.T) {
	t.Parallel()
	ai := validConfig().AI

	if !ai.IsAllowedModelID("openai/gpt-5-mini") {
		t.Fatalf("expected allowed")
	}
	if ai.IsAllowedModelID("openai/other") {
		t.Fatalf("unlisted model allowed")
	}
	if ai.IsAllowedModelID("gpt-5-mini") {
		t.Fatalf("id without provider allowed")
	}
}

func TestEffectiveDBPath(t *testing.T) {
	t.Parallel()
	cfg := validConfig()

	got := cfg.EffectiveDBPath("/home/x/.orbit-agent/config.json")
	if got != filepath.Join("/home/x/.orbit-agent", "orbit.db") {
		t.Fatalf("got %q", got)
	}

	cfg.DBPath = "/tmp/custom.db"
	if got := cfg.EffectiveDBPath("/home/x/.orbit-agent/config.json"); got != "/tmp/custom.db" {
		t.Fatalf("got %q", got)
	}
}

func TestInitConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")

	out, err := InitConfig(InitArgs{
		ConfigPath:   path,
		ProviderType: "anthropic",
		ModelName:    "claude-sonnet-4-5",
	})
	if err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if out != path {
		t.Fatalf("written path = %q", out)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if id, ok := cfg.AI.DefaultModelID(); !ok || id != "anthropic/claude-sonnet-4-5" {
		t.Fatalf("default model = %q", id)
	}

	// Rerunning must not clobber an existing config.
	if _, err := InitConfig(InitArgs{ConfigPath: path, ProviderType: "openai", ModelName: "gpt-5-mini"}); err == nil {
		t.Fatalf("expected error on existing config")
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load after failed init: %v", err)
	}
	if id, _ := cfg.AI.DefaultModelID(); id != "anthropic/claude-sonnet-4-5" {
		t.Fatalf("config was clobbered: %q", id)
	}
}
