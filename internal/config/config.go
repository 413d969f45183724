package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultOllamaHost      = "http://localhost:11434"
	DefaultOllamaModel     = "llama3"
	DefaultVisionModel     = "llava"
	DefaultGroqModel       = "llama-3-8b-8192"
	DefaultGroqBaseURL     = "https://api.groq.com/openai/v1"
	DefaultTemperature     = 0.7
	DefaultTimeout         = 120
	DefaultMaxTokens       = 512
	DefaultMaxImageBytes   = 2 * 1024 * 1024
	DefaultMaxConversation = 50
	DefaultDataDir         = "data"
	DefaultProfileInterval = "30m"
	DefaultProfileMessages = 50
	DefaultSearchBaseURL   = "https://api.duckduckgo.com"
	DefaultSearchResults   = 8
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 18790
	DefaultBufSize         = 100
	DefaultLogMode         = "dev"
	DefaultLogLevel        = "info"
)

const DefaultSystemPrompt = "You are Ollama Teacher, a friendly AI assistant focused on AI, machine learning, and programming topics. " +
	"You explain concepts clearly, give practical examples, and point learners to good resources. " +
	"Keep answers concise and honest about what you do not know."

type Config struct {
	Bot      BotConfig      `json:"bot"`
	Models   ModelsConfig   `json:"models"`
	Channels ChannelsConfig `json:"channels"`
	Storage  StorageConfig  `json:"storage"`
	Profile  ProfileConfig  `json:"profile"`
	Search   SearchConfig   `json:"search"`
	Gateway  GatewayConfig  `json:"gateway"`
	Log      LogConfig      `json:"log"`
}

type BotConfig struct {
	SystemPrompt    string   `json:"systemPrompt"`
	MaxConversation int      `json:"maxConversation"`
	AdminIDs        []string `json:"adminIds,omitempty"` // used by transports without a native admin role
}

type ModelsConfig struct {
	OllamaHost    string  `json:"ollamaHost"`
	OllamaModel   string  `json:"ollamaModel"`
	VisionModel   string  `json:"visionModel"`
	Temperature   float64 `json:"temperature"`
	Timeout       int     `json:"timeout"` // seconds
	MaxTokens     int     `json:"maxTokens"`
	MaxImageBytes int64   `json:"maxImageBytes"`
	GroqAPIKey    string  `json:"groqApiKey,omitempty"`
	GroqModel     string  `json:"groqModel"`
	GroqBaseURL   string  `json:"groqBaseUrl,omitempty"`
}

func (m ModelsConfig) TimeoutDuration() time.Duration {
	if m.Timeout <= 0 {
		return DefaultTimeout * time.Second
	}
	return time.Duration(m.Timeout) * time.Second
}

type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
}

type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type StorageConfig struct {
	DataDir string `json:"dataDir"`
}

type ProfileConfig struct {
	Enabled     bool   `json:"enabled"`
	Interval    string `json:"interval"`
	MaxMessages int    `json:"maxMessages"`
}

func (p ProfileConfig) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(p.Interval))
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultProfileInterval)
	}
	return d
}

type SearchConfig struct {
	BaseURL    string `json:"baseUrl,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
	MaxResults int    `json:"maxResults"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type LogConfig struct {
	Mode  string `json:"mode"` // "dev" or "prod"
	Level string `json:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			SystemPrompt:    DefaultSystemPrompt,
			MaxConversation: DefaultMaxConversation,
		},
		Models: ModelsConfig{
			OllamaHost:    DefaultOllamaHost,
			OllamaModel:   DefaultOllamaModel,
			VisionModel:   DefaultVisionModel,
			Temperature:   DefaultTemperature,
			Timeout:       DefaultTimeout,
			MaxTokens:     DefaultMaxTokens,
			MaxImageBytes: DefaultMaxImageBytes,
			GroqModel:     DefaultGroqModel,
			GroqBaseURL:   DefaultGroqBaseURL,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{Enabled: true},
		},
		Storage: StorageConfig{
			DataDir: DefaultDataDir,
		},
		Profile: ProfileConfig{
			Enabled:     true,
			Interval:    DefaultProfileInterval,
			MaxMessages: DefaultProfileMessages,
		},
		Search: SearchConfig{
			BaseURL:    DefaultSearchBaseURL,
			MaxResults: DefaultSearchResults,
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Log: LogConfig{
			Mode:  DefaultLogMode,
			Level: DefaultLogLevel,
		},
	}
}

func ConfigDir() string {
	if dir := os.Getenv("TEACHERBOT_HOME"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".teacherbot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnv layers environment variable overrides on top of the file config.
func applyEnv(cfg *Config) {
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		cfg.Channels.Discord.Token = token
	}
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		cfg.Models.OllamaHost = host
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		cfg.Models.OllamaModel = model
	}
	if model := os.Getenv("OLLAMA_VISION_MODEL"); model != "" {
		cfg.Models.VisionModel = model
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		cfg.Models.GroqAPIKey = key
	}
	if model := os.Getenv("GROQ_MODEL"); model != "" {
		cfg.Models.GroqModel = model
	}
	if temp := os.Getenv("TEMPERATURE"); temp != "" {
		if parsed, err := strconv.ParseFloat(temp, 64); err == nil {
			cfg.Models.Temperature = parsed
		}
	}
	if timeout := os.Getenv("TIMEOUT"); timeout != "" {
		if parsed, err := strconv.Atoi(timeout); err == nil {
			cfg.Models.Timeout = parsed
		}
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if prompt := os.Getenv("SYSTEM_PROMPT"); prompt != "" {
		cfg.Bot.SystemPrompt = prompt
	}
	if size := os.Getenv("MAX_CONVERSATION_LOG_SIZE"); size != "" {
		if parsed, err := strconv.Atoi(size); err == nil {
			cfg.Bot.MaxConversation = parsed
		}
	}
	if ids := os.Getenv("TEACHERBOT_ADMIN_IDS"); ids != "" {
		cfg.Bot.AdminIDs = splitList(ids)
	}
	if interval := os.Getenv("PROFILE_INTERVAL"); interval != "" {
		cfg.Profile.Interval = interval
	}
	if level := os.Getenv("TEACHERBOT_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Bot.SystemPrompt) == "" {
		cfg.Bot.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Bot.MaxConversation <= 0 {
		cfg.Bot.MaxConversation = DefaultMaxConversation
	}
	if cfg.Models.OllamaHost == "" {
		cfg.Models.OllamaHost = DefaultOllamaHost
	}
	if cfg.Models.OllamaModel == "" {
		cfg.Models.OllamaModel = DefaultOllamaModel
	}
	if cfg.Models.VisionModel == "" {
		cfg.Models.VisionModel = DefaultVisionModel
	}
	if cfg.Models.GroqModel == "" {
		cfg.Models.GroqModel = DefaultGroqModel
	}
	if cfg.Models.GroqBaseURL == "" {
		cfg.Models.GroqBaseURL = DefaultGroqBaseURL
	}
	if cfg.Models.Timeout <= 0 {
		cfg.Models.Timeout = DefaultTimeout
	}
	if cfg.Models.MaxTokens <= 0 {
		cfg.Models.MaxTokens = DefaultMaxTokens
	}
	if cfg.Models.MaxImageBytes <= 0 {
		cfg.Models.MaxImageBytes = DefaultMaxImageBytes
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultDataDir
	}
	if cfg.Profile.Interval == "" {
		cfg.Profile.Interval = DefaultProfileInterval
	}
	if cfg.Profile.MaxMessages <= 0 {
		cfg.Profile.MaxMessages = DefaultProfileMessages
	}
	if cfg.Search.BaseURL == "" {
		cfg.Search.BaseURL = DefaultSearchBaseURL
	}
	if cfg.Search.MaxResults <= 0 {
		cfg.Search.MaxResults = DefaultSearchResults
	}
	if cfg.Log.Mode == "" {
		cfg.Log.Mode = DefaultLogMode
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

func splitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
