package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string
	LogLevel    string
	Port        string

	DatabaseURL string
	StorageDir  string

	ChunkWindow time.Duration
	Workers     int

	RetryMaxAttempts int
	RetryBase        float64
	RetryUnit        time.Duration

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	TranscribeModel    string
	TranscribeLanguage string
	TranscribeTimeout  time.Duration

	DiarizeURL     string
	DiarizeToken   string
	DiarizeTimeout time.Duration

	FFmpegPath  string
	FFprobePath string

	LLMGatewayURL string
	LLMModel      string
	LLMAPIKey     string
	UseMockLLM    bool
}

var defaults = map[string]any{
	"ENVIRONMENT":         "local",
	"LOG_LEVEL":           "info",
	"PORT":                "8080",
	"DATABASE_URL":        "hearings.db",
	"STORAGE_DIR":         "data/audio",
	"CHUNK_WINDOW":        "120s",
	"WORKERS":             4,
	"RETRY_MAX_ATTEMPTS":  5,
	"RETRY_BASE":          2.0,
	"RETRY_UNIT":          "1s",
	"OPENAI_API_KEY":      "",
	"OPENAI_BASE_URL":     "",
	"TRANSCRIBE_MODEL":    "whisper-1",
	"TRANSCRIBE_LANGUAGE": "en",
	"TRANSCRIBE_TIMEOUT":  "5m",
	"DIARIZE_URL":         "http://localhost:8001",
	"DIARIZE_TOKEN":       "",
	"DIARIZE_TIMEOUT":     "10m",
	"FFMPEG_PATH":         "ffmpeg",
	"FFPROBE_PATH":        "ffprobe",
	"LLM_GATEWAY_URL":     "",
	"LLM_MODEL":           "gpt-4o-mini",
	"LLM_API_KEY":         "",
	"USE_MOCK_LLM":        false,
}

// Load reads .env (when present), an optional CONFIG_FILE and the process
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func FromViper(v *viper.Viper) *Config {
	return &Config{
		Environment:        v.GetString("ENVIRONMENT"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		Port:               v.GetString("PORT"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		StorageDir:         v.GetString("STORAGE_DIR"),
		ChunkWindow:        v.GetDuration("CHUNK_WINDOW"),
		Workers:            v.GetInt("WORKERS"),
		RetryMaxAttempts:   v.GetInt("RETRY_MAX_ATTEMPTS"),
		RetryBase:          v.GetFloat64("RETRY_BASE"),
		RetryUnit:          v.GetDuration("RETRY_UNIT"),
		OpenAIAPIKey:       v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:      v.GetString("OPENAI_BASE_URL"),
		TranscribeModel:    v.GetString("TRANSCRIBE_MODEL"),
		TranscribeLanguage: v.GetString("TRANSCRIBE_LANGUAGE"),
		TranscribeTimeout:  v.GetDuration("TRANSCRIBE_TIMEOUT"),
		DiarizeURL:         v.GetString("DIARIZE_URL"),
		DiarizeToken:       v.GetString("DIARIZE_TOKEN"),
		DiarizeTimeout:     v.GetDuration("DIARIZE_TIMEOUT"),
		FFmpegPath:         v.GetString("FFMPEG_PATH"),
		FFprobePath:        v.GetString("FFPROBE_PATH"),
		LLMGatewayURL:      v.GetString("LLM_GATEWAY_URL"),
		LLMModel:           v.GetString("LLM_MODEL"),
		LLMAPIKey:          v.GetString("LLM_API_KEY"),
		UseMockLLM:         v.GetBool("USE_MOCK_LLM"),
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.ChunkWindow <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_WINDOW must be positive, got %s", c.ChunkWindow))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts))
	}
	if c.RetryBase < 1 {
		errs = append(errs, fmt.Errorf("RETRY_BASE must be at least 1, got %g", c.RetryBase))
	}
	if c.RetryUnit < 0 {
		errs = append(errs, fmt.Errorf("RETRY_UNIT must not be negative, got %s", c.RetryUnit))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.StorageDir == "" {
		errs = append(errs, errors.New("STORAGE_DIR is required"))
	}
	return errors.Join(errs...)
}
