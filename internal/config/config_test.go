package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"TEACHERBOT_HOME", "DISCORD_TOKEN", "TELEGRAM_TOKEN", "OLLAMA_HOST", "OLLAMA_MODEL",
	"OLLAMA_VISION_MODEL", "GROQ_API_KEY", "GROQ_MODEL", "TEMPERATURE", "TIMEOUT", "DATA_DIR",
	"SYSTEM_PROMPT", "MAX_CONVERSATION_LOG_SIZE", "TEACHERBOT_ADMIN_IDS", "PROFILE_INTERVAL",
	"TEACHERBOT_LOG_LEVEL",
}

func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	return tmpDir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Models.OllamaModel != DefaultOllamaModel {
		t.Errorf("ollamaModel = %q, want %q", cfg.Models.OllamaModel, DefaultOllamaModel)
	}
	if cfg.Models.VisionModel != DefaultVisionModel {
		t.Errorf("visionModel = %q, want %q", cfg.Models.VisionModel, DefaultVisionModel)
	}
	if cfg.Models.Temperature != DefaultTemperature {
		t.Errorf("temperature = %v, want %v", cfg.Models.Temperature, DefaultTemperature)
	}
	if cfg.Bot.MaxConversation != DefaultMaxConversation {
		t.Errorf("maxConversation = %d, want %d", cfg.Bot.MaxConversation, DefaultMaxConversation)
	}
	if cfg.Storage.DataDir != DefaultDataDir {
		t.Errorf("dataDir = %q, want %q", cfg.Storage.DataDir, DefaultDataDir)
	}
	if !cfg.Channels.Discord.Enabled {
		t.Error("discord should be enabled by default")
	}
	if cfg.Channels.Telegram.Enabled {
		t.Error("telegram should be disabled by default")
	}
	if cfg.Gateway.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Gateway.Port, DefaultPort)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Models.OllamaModel != DefaultOllamaModel {
		t.Errorf("expected default model %q, got %q", DefaultOllamaModel, cfg.Models.OllamaModel)
	}
	if cfg.Bot.SystemPrompt != DefaultSystemPrompt {
		t.Error("expected default system prompt")
	}
}

func TestLoadConfig_WithFile(t *testing.T) {
	tmpDir := isolate(t)

	cfgDir := filepath.Join(tmpDir, ".teacherbot")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	raw := `{"models":{"ollamaModel":"mistral","temperature":0.2},"bot":{"maxConversation":10},"storage":{"dataDir":"/srv/teacher"}}`
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Models.OllamaModel != "mistral" {
		t.Errorf("ollamaModel = %q, want mistral", cfg.Models.OllamaModel)
	}
	if cfg.Models.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", cfg.Models.Temperature)
	}
	if cfg.Bot.MaxConversation != 10 {
		t.Errorf("maxConversation = %d, want 10", cfg.Bot.MaxConversation)
	}
	if cfg.Storage.DataDir != "/srv/teacher" {
		t.Errorf("dataDir = %q", cfg.Storage.DataDir)
	}
	// untouched fields keep defaults
	if cfg.Models.VisionModel != DefaultVisionModel {
		t.Errorf("visionModel = %q, want default", cfg.Models.VisionModel)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := isolate(t)

	cfgDir := filepath.Join(tmpDir, ".teacherbot")
	_ = os.MkdirAll(cfgDir, 0755)
	_ = os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{not json"), 0644)

	if _, err := LoadConfig(); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("DISCORD_TOKEN", "disc-token")
	t.Setenv("TELEGRAM_TOKEN", "tg-token")
	t.Setenv("OLLAMA_MODEL", "qwen2")
	t.Setenv("OLLAMA_VISION_MODEL", "bakllava")
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("GROQ_MODEL", "mixtral")
	t.Setenv("TEMPERATURE", "0.3")
	t.Setenv("TIMEOUT", "30")
	t.Setenv("DATA_DIR", "/tmp/tb")
	t.Setenv("MAX_CONVERSATION_LOG_SIZE", "7")
	t.Setenv("TEACHERBOT_ADMIN_IDS", "1, 2,3")
	t.Setenv("PROFILE_INTERVAL", "5m")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Channels.Discord.Token != "disc-token" {
		t.Errorf("discord token = %q", cfg.Channels.Discord.Token)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "tg-token" {
		t.Errorf("telegram = %+v", cfg.Channels.Telegram)
	}
	if cfg.Models.OllamaModel != "qwen2" || cfg.Models.VisionModel != "bakllava" {
		t.Errorf("models = %+v", cfg.Models)
	}
	if cfg.Models.GroqAPIKey != "gsk_test" || cfg.Models.GroqModel != "mixtral" {
		t.Errorf("groq = %q/%q", cfg.Models.GroqAPIKey, cfg.Models.GroqModel)
	}
	if cfg.Models.Temperature != 0.3 {
		t.Errorf("temperature = %v", cfg.Models.Temperature)
	}
	if cfg.Models.TimeoutDuration() != 30*time.Second {
		t.Errorf("timeout = %v", cfg.Models.TimeoutDuration())
	}
	if cfg.Storage.DataDir != "/tmp/tb" {
		t.Errorf("dataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Bot.MaxConversation != 7 {
		t.Errorf("maxConversation = %d", cfg.Bot.MaxConversation)
	}
	if len(cfg.Bot.AdminIDs) != 3 || cfg.Bot.AdminIDs[1] != "2" {
		t.Errorf("adminIds = %v", cfg.Bot.AdminIDs)
	}
	if cfg.Profile.IntervalDuration() != 5*time.Minute {
		t.Errorf("interval = %v", cfg.Profile.IntervalDuration())
	}
}

func TestLoadConfig_InvalidNumericEnvIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("TEMPERATURE", "warm")
	t.Setenv("TIMEOUT", "soon")
	t.Setenv("MAX_CONVERSATION_LOG_SIZE", "-4")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Models.Temperature != DefaultTemperature {
		t.Errorf("temperature = %v, want default", cfg.Models.Temperature)
	}
	if cfg.Models.Timeout != DefaultTimeout {
		t.Errorf("timeout = %d, want default", cfg.Models.Timeout)
	}
	if cfg.Bot.MaxConversation != DefaultMaxConversation {
		t.Errorf("maxConversation = %d, want default", cfg.Bot.MaxConversation)
	}
}

func TestConfigDir_Override(t *testing.T) {
	t.Setenv("TEACHERBOT_HOME", "/opt/teacherbot")
	if got := ConfigDir(); got != "/opt/teacherbot" {
		t.Errorf("ConfigDir = %q", got)
	}
	if got := ConfigPath(); got != filepath.Join("/opt/teacherbot", "config.json") {
		t.Errorf("ConfigPath = %q", got)
	}
}

func TestProfileIntervalDuration_Invalid(t *testing.T) {
	p := ProfileConfig{Interval: "often"}
	if p.IntervalDuration() != 30*time.Minute {
		t.Errorf("IntervalDuration = %v, want 30m", p.IntervalDuration())
	}
}

func TestSaveConfig(t *testing.T) {
	tmpDir := isolate(t)

	cfg := DefaultConfig()
	cfg.Models.OllamaModel = "phi3"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, ".teacherbot", "config.json"))
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}
	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if loaded.Models.OllamaModel != "phi3" {
		t.Errorf("saved model = %q, want phi3", loaded.Models.OllamaModel)
	}
}
