package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"floorplan/internal/domain"
)

// Queue backend schemes accepted in QUEUE_URL.
const (
	QueueBackendRedis    = "redis"
	QueueBackendPostgres = "postgres"
	QueueBackendMemory   = "memory"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	QueueURL           string
	QueueName          string
	JobTTL             time.Duration
	WorkerPollInterval time.Duration
	ModelID            string
	AdapterPath        string
	OutputDir          string
	GeminiAPIKey       string
	GeminiModel        string
	GeminiBaseURL      string
	InferenceBackend   string
	InferenceURL       string
	FontPath           string
	CORSAllowedOrigins []string
	MaxUploadBytes     int64
	MaxImageDimension  int
	MetricsAddr        string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. When CONFIG_FILE is set its values are used for keys
// the environment leaves unset.
func LoadConfig() (*Config, error) {
	file, err := loadConfigFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}
		return file[key]
	}
	env := func(key, fallback string) string {
		if v := lookup(key); v != "" {
			return v
		}
		return fallback
	}
	envInt := func(key string, fallback int) int {
		if v := lookup(key); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
		return fallback
	}

	queueURL := lookup("QUEUE_URL")
	if queueURL == "" {
		queueURL = env("REDIS_URL", "redis://redis:6379/0")
	}
	geminiKey := lookup("GOOGLE_API_KEY")
	if geminiKey == "" {
		geminiKey = lookup("GEMINI_API_KEY")
	}

	cfg := &Config{
		AppEnv:             env("APP_ENV", "development"),
		Port:               env("PORT", "8000"),
		QueueURL:           queueURL,
		QueueName:          env("QUEUE_NAME", "inference"),
		JobTTL:             time.Second * time.Duration(envInt("JOB_TTL_SECONDS", 86400)),
		WorkerPollInterval: time.Second * time.Duration(envInt("WORKER_POLL_SECONDS", 2)),
		ModelID:            env("SD_MODEL_ID", "runwayml/stable-diffusion-v1-5"),
		AdapterPath:        env("LORA_PATH", "/models/lora"),
		OutputDir:          env("OUTPUT_DIR", "/data/generated"),
		GeminiAPIKey:       strings.TrimSpace(geminiKey),
		GeminiModel:        env("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:      env("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		InferenceBackend:   strings.ToLower(env("INFERENCE_BACKEND", "synthetic")),
		InferenceURL:       env("INFERENCE_URL", "http://localhost:7860"),
		FontPath:           lookup("FONT_PATH"),
		CORSAllowedOrigins: splitList(env("CORS_ALLOWED_ORIGINS", "http://localhost:3000,*")),
		MaxUploadBytes:     int64(envInt("MAX_UPLOAD_MB", 16)) << 20,
		MaxImageDimension:  envInt("MAX_IMAGE_DIMENSION", 2048),
		MetricsAddr:        lookup("METRICS_ADDR"),
		HTTPReadTimeout:    time.Second * time.Duration(envInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(envInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:    time.Second * time.Duration(envInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if _, err := cfg.QueueBackend(); err != nil {
		return nil, err
	}
	switch cfg.InferenceBackend {
	case "synthetic", "sdapi":
	default:
		return nil, fmt.Errorf("unsupported INFERENCE_BACKEND %q", cfg.InferenceBackend)
	}
	if cfg.MaxImageDimension <= 0 {
		return nil, fmt.Errorf("MAX_IMAGE_DIMENSION must be positive, got %d", cfg.MaxImageDimension)
	}
	if cfg.WorkerPollInterval <= 0 {
		cfg.WorkerPollInterval = 2 * time.Second
	}

	return cfg, nil
}

// QueueBackend returns the backend kind selected by QueueURL.
func (c *Config) QueueBackend() (string, error) {
	u, err := url.Parse(c.QueueURL)
	if err != nil {
		return "", fmt.Errorf("parse QUEUE_URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "redis", "rediss":
		return QueueBackendRedis, nil
	case "postgres", "postgresql":
		return QueueBackendPostgres, nil
	case "memory":
		return QueueBackendMemory, nil
	default:
		return "", fmt.Errorf("unsupported QUEUE_URL scheme %q", u.Scheme)
	}
}

// DefaultModel is the model configuration applied when a request names none.
func (c *Config) DefaultModel() domain.ModelConfig {
	return domain.ModelConfig{ModelID: c.ModelID, AdapterPath: c.AdapterPath}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
