package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the companion runtime.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	APIAuthToken     string

	EVIWSBaseURL string
	EVIAPIKey    string
	EVIConfigID  string

	ConnectTimeout     time.Duration
	CaptureSampleRate  int
	CaptureInterval    time.Duration
	CaptureWAVPath     string
	VisibleBufferLimit int
	ClearOnDisconnect  bool
	PlaybackDumpPath   string

	CompletionProvider string
	CompletionBaseURL  string
	CompletionAPIKey   string
	CompletionModel    string
	EmotionBaseURL     string

	DatabaseURL        string
	LocalCachePath     string
	StoreRetryAttempts int

	MergeMaxMessages   int
	SessionPresetsPath string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("AMICA_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("AMICA_METRICS_NAMESPACE", "amica"),
		APIAuthToken:     envTrimmed("AMICA_API_TOKEN"),
		EVIWSBaseURL:     envOrDefault("AMICA_EVI_WS_BASE_URL", "wss://api.hume.ai"),
		EVIAPIKey:        envTrimmed("AMICA_EVI_API_KEY"),
		EVIConfigID:      envTrimmed("AMICA_EVI_CONFIG_ID"),
		// Provider flag: "openai" shaped chat completions are the only wire
		// contract; "compatible" points the same client at another endpoint
		// and therefore requires an explicit base URL.
		CompletionProvider: envOrDefault("AMICA_COMPLETION_PROVIDER", "openai"),
		CompletionBaseURL:  envTrimmed("AMICA_COMPLETION_BASE_URL"),
		CompletionAPIKey:   envTrimmed("AMICA_COMPLETION_API_KEY"),
		CompletionModel:    envOrDefault("AMICA_COMPLETION_MODEL", "gpt-4o-mini"),
		EmotionBaseURL:     envTrimmed("AMICA_EMOTION_URL"),
		DatabaseURL:        envTrimmed("DATABASE_URL"),
		LocalCachePath:     envTrimmed("AMICA_LOCAL_CACHE_PATH"),
		CaptureWAVPath:     envTrimmed("AMICA_CAPTURE_WAV"),
		PlaybackDumpPath:   envTrimmed("AMICA_PLAYBACK_DUMP"),
		SessionPresetsPath: envTrimmed("AMICA_SESSION_PRESETS"),

		ShutdownTimeout:    15 * time.Second,
		ConnectTimeout:     15 * time.Second,
		CaptureSampleRate:  16000,
		CaptureInterval:    100 * time.Millisecond,
		VisibleBufferLimit: 100,
		ClearOnDisconnect:  true,
		StoreRetryAttempts: 3,
		MergeMaxMessages:   50,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("AMICA_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("AMICA_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureInterval, err = durationFromEnv("AMICA_CAPTURE_INTERVAL", cfg.CaptureInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureSampleRate, err = intFromEnv("AMICA_CAPTURE_SAMPLE_RATE", cfg.CaptureSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.VisibleBufferLimit, err = intFromEnv("AMICA_VISIBLE_BUFFER_LIMIT", cfg.VisibleBufferLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreRetryAttempts, err = intFromEnv("AMICA_STORE_RETRY_ATTEMPTS", cfg.StoreRetryAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.MergeMaxMessages, err = intFromEnv("AMICA_MERGE_MAX_MESSAGES", cfg.MergeMaxMessages)
	if err != nil {
		return Config{}, err
	}
	cfg.ClearOnDisconnect, err = boolFromEnv("AMICA_CLEAR_ON_DISCONNECT", cfg.ClearOnDisconnect)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("AMICA_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConnectTimeout < time.Second {
		return Config{}, fmt.Errorf("AMICA_CONNECT_TIMEOUT must be at least 1s")
	}
	if cfg.CaptureSampleRate <= 0 {
		return Config{}, fmt.Errorf("AMICA_CAPTURE_SAMPLE_RATE must be positive")
	}
	if cfg.CaptureInterval < 10*time.Millisecond {
		return Config{}, fmt.Errorf("AMICA_CAPTURE_INTERVAL must be at least 10ms")
	}
	if cfg.VisibleBufferLimit <= 0 {
		return Config{}, fmt.Errorf("AMICA_VISIBLE_BUFFER_LIMIT must be positive")
	}
	if cfg.MergeMaxMessages <= 0 {
		return Config{}, fmt.Errorf("AMICA_MERGE_MAX_MESSAGES must be positive")
	}
	if cfg.StoreRetryAttempts <= 0 {
		return Config{}, fmt.Errorf("AMICA_STORE_RETRY_ATTEMPTS must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.CompletionProvider)) {
	case "openai":
		if cfg.CompletionBaseURL == "" {
			cfg.CompletionBaseURL = "https://api.openai.com/v1"
		}
	case "compatible":
		if cfg.CompletionBaseURL == "" {
			return Config{}, fmt.Errorf("AMICA_COMPLETION_BASE_URL is required when AMICA_COMPLETION_PROVIDER=compatible")
		}
	default:
		return Config{}, fmt.Errorf("invalid AMICA_COMPLETION_PROVIDER: %q (expected openai|compatible)", cfg.CompletionProvider)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
