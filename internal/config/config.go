package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port string `yaml:"port"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Job store
	JobStore        string        `yaml:"job_store"` // "memory" | "redis" | "sqlite" | "postgres"
	DBPath          string        `yaml:"db_path"`   // SQLite path
	DBUrl           string        `yaml:"db_url"`    // Postgres DSN
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	JobTTL          time.Duration `yaml:"job_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	StuckJobTimeout time.Duration `yaml:"stuck_job_timeout"`

	// Upstreams
	Upstream UpstreamConfig `yaml:"upstream"`

	// Images
	Images ImageConfig `yaml:"images"`
}

// UpstreamConfig covers the three chat providers.
type UpstreamConfig struct {
	ChatURL   string `yaml:"chat_url"`
	ChatModel string `yaml:"chat_model"`
	ChatKey   string `yaml:"chat_key"`

	VisionURL     string `yaml:"vision_url"`
	VisionAgentID string `yaml:"vision_agent_id"`

	AlternateURL    string `yaml:"alternate_url"`
	AlternateModel  string `yaml:"alternate_model"`
	AlternateKey    string `yaml:"alternate_key"`
	AlternatePrefix string `yaml:"alternate_prefix"`

	FrameTimeout    time.Duration `yaml:"frame_timeout"`
	MaxPromptLength int           `yaml:"max_prompt_length"`
}

// ImageConfig covers fulfillment of generate_image jobs.
type ImageConfig struct {
	Tier             string        `yaml:"tier"`
	PollinationsURL  string        `yaml:"pollinations_url"`
	ProdiaURL        string        `yaml:"prodia_url"`
	HuggingFaceURL   string        `yaml:"huggingface_url"`
	HuggingFaceToken string        `yaml:"huggingface_token"`
	HuggingFaceRPS   float64       `yaml:"huggingface_rps"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxConcurrent    int           `yaml:"max_concurrent"` // 0 = unlimited
	ProgressInterval time.Duration `yaml:"progress_interval"`

	// Object storage for providers that return raw bytes.
	S3Endpoint      string `yaml:"s3_endpoint"`
	S3AccessKey     string `yaml:"s3_access_key"`
	S3SecretKey     string `yaml:"s3_secret_key"`
	S3Bucket        string `yaml:"s3_bucket"`
	S3UseSSL        bool   `yaml:"s3_use_ssl"`
	S3PublicBaseURL string `yaml:"s3_public_base_url"`
}

func defaults() *Config {
	return &Config{
		Port:            "8080",
		LogLevel:        "info",
		JobStore:        "memory",
		DBPath:          "./data/streamgate.db",
		RedisAddr:       "localhost:6379",
		JobTTL:          time.Hour,
		SweepInterval:   10 * time.Minute,
		StuckJobTimeout: 5 * time.Minute,
		Upstream: UpstreamConfig{
			ChatURL:         "https://api.mistral.ai/v1/chat/completions",
			ChatModel:       "mistral-large-latest",
			VisionURL:       "https://api.mistral.ai/v1/agents/completions",
			AlternateURL:    "https://generativelanguage.googleapis.com/v1beta/models/{model}:generateContent",
			AlternateModel:  "gemini-2.0-flash",
			AlternatePrefix: "gemini",
			FrameTimeout:    45 * time.Second,
			MaxPromptLength: 1000,
		},
		Images: ImageConfig{
			Tier:             "free",
			PollinationsURL:  "https://image.pollinations.ai",
			ProdiaURL:        "https://image.prodia.com",
			HuggingFaceURL:   "https://api-inference.huggingface.co/models/black-forest-labs/FLUX.1-schnell",
			HuggingFaceRPS:   1,
			Timeout:          60 * time.Second,
			MaxConcurrent:    4,
			ProgressInterval: 800 * time.Millisecond,
			S3Bucket:         "streamgate-images",
		},
	}
}

// Load reads the optional YAML file named by STREAMGATE_CONFIG and then applies
// environment overrides.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv("STREAMGATE_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = firstEnv([]string{"STREAMGATE_PORT", "PORT"}, cfg.Port)
	cfg.LogLevel = firstEnv([]string{"STREAMGATE_LOG_LEVEL", "LOG_LEVEL"}, cfg.LogLevel)

	cfg.JobStore = strings.ToLower(getEnv("STREAMGATE_JOB_STORE", cfg.JobStore))
	cfg.DBPath = getEnv("STREAMGATE_DB_PATH", cfg.DBPath)
	cfg.DBUrl = getEnv("STREAMGATE_DATABASE_URL", cfg.DBUrl)
	cfg.RedisAddr = getEnv("STREAMGATE_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("STREAMGATE_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("STREAMGATE_REDIS_DB", cfg.RedisDB)
	cfg.JobTTL = getEnvDuration("STREAMGATE_JOB_TTL", cfg.JobTTL)
	cfg.SweepInterval = getEnvDuration("STREAMGATE_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.StuckJobTimeout = getEnvDuration("STREAMGATE_STUCK_JOB_TIMEOUT", cfg.StuckJobTimeout)

	up := &cfg.Upstream
	up.ChatURL = getEnv("STREAMGATE_CHAT_URL", up.ChatURL)
	up.ChatModel = getEnv("STREAMGATE_CHAT_MODEL", up.ChatModel)
	up.ChatKey = getEnv("MISTRAL_API_KEY", up.ChatKey)
	up.VisionURL = getEnv("STREAMGATE_VISION_URL", up.VisionURL)
	up.VisionAgentID = getEnv("PIXTRAL_AGENT_ID", up.VisionAgentID)
	up.AlternateURL = getEnv("STREAMGATE_ALTERNATE_URL", up.AlternateURL)
	up.AlternateModel = getEnv("STREAMGATE_ALTERNATE_MODEL", up.AlternateModel)
	up.AlternateKey = getEnv("GEMINI_API_KEY", up.AlternateKey)
	up.AlternatePrefix = getEnv("STREAMGATE_ALTERNATE_PREFIX", up.AlternatePrefix)
	up.FrameTimeout = getEnvDuration("STREAMGATE_FRAME_TIMEOUT", up.FrameTimeout)
	up.MaxPromptLength = getEnvInt("STREAMGATE_MAX_PROMPT_LENGTH", up.MaxPromptLength)

	img := &cfg.Images
	img.Tier = strings.ToLower(getEnv("STREAMGATE_IMAGE_TIER", img.Tier))
	img.PollinationsURL = getEnv("STREAMGATE_POLLINATIONS_URL", img.PollinationsURL)
	img.ProdiaURL = getEnv("STREAMGATE_PRODIA_URL", img.ProdiaURL)
	img.HuggingFaceURL = getEnv("STREAMGATE_HUGGINGFACE_URL", img.HuggingFaceURL)
	img.HuggingFaceToken = getEnv("HUGGINGFACE_ACCESS_TOKEN", img.HuggingFaceToken)
	img.HuggingFaceRPS = getEnvFloat("STREAMGATE_HUGGINGFACE_RPS", img.HuggingFaceRPS)
	img.Timeout = getEnvDuration("STREAMGATE_IMAGE_TIMEOUT", img.Timeout)
	img.MaxConcurrent = getEnvInt("STREAMGATE_MAX_CONCURRENT_JOBS", img.MaxConcurrent)
	img.ProgressInterval = getEnvDuration("STREAMGATE_PROGRESS_INTERVAL", img.ProgressInterval)
	img.S3Endpoint = getEnv("STREAMGATE_S3_ENDPOINT", img.S3Endpoint)
	img.S3AccessKey = getEnv("STREAMGATE_S3_ACCESS_KEY", img.S3AccessKey)
	img.S3SecretKey = getEnv("STREAMGATE_S3_SECRET_KEY", img.S3SecretKey)
	img.S3Bucket = getEnv("STREAMGATE_S3_BUCKET", img.S3Bucket)
	img.S3UseSSL = getEnvBool("STREAMGATE_S3_USE_SSL", img.S3UseSSL)
	img.S3PublicBaseURL = getEnv("STREAMGATE_S3_PUBLIC_BASE_URL", img.S3PublicBaseURL)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// firstEnv returns the first non-empty variable; earlier keys take precedence.
func firstEnv(keys []string, fallback string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
