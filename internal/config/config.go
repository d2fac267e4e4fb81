package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`

	WhisperURL     string        `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperModel   string        `env:"WHISPER_MODEL" envDefault:"large-v3"`
	WhisperTimeout time.Duration `env:"WHISPER_TIMEOUT" envDefault:"600s"`
	Language       string        `env:"LANGUAGE" envDefault:"pt"`

	NERURL     string        `env:"NER_URL"`
	NERToken   string        `env:"NER_TOKEN"`
	NERTimeout time.Duration `env:"NER_TIMEOUT" envDefault:"600s"`

	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	OpenAIModel  string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	BatchSize       int `env:"BATCH_SIZE" envDefault:"3"`
	MaxRetries      int `env:"MAX_RETRIES" envDefault:"3"`
	ProgressCeiling int `env:"PROGRESS_CEILING" envDefault:"90"`

	JobRetention       time.Duration `env:"JOB_RETENTION" envDefault:"168h"`
	FailedJobRetention time.Duration `env:"FAILED_JOB_RETENTION" envDefault:"24h"`

	AudioDir string `env:"AUDIO_DIR" envDefault:"./audio"`

	S3 S3Config

	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"scribe-engine"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:","`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"0"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"20"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// S3Config configures the optional S3 audio backend.
type S3Config struct {
	Bucket     string `env:"S3_BUCKET"`
	Region     string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint   string `env:"S3_ENDPOINT"`
	AccessKey  string `env:"S3_ACCESS_KEY"`
	SecretKey  string `env:"S3_SECRET_KEY"`
	Prefix     string `env:"S3_PREFIX"`
	LocalCache bool   `env:"S3_LOCAL_CACHE" envDefault:"true"`

	PresignExpiry  time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`
	CacheRetention time.Duration `env:"S3_CACHE_RETENTION" envDefault:"168h"`
	CacheMaxGB     int           `env:"S3_CACHE_MAX_GB" envDefault:"0"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	AudioDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}

	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints that env tags cannot express.
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be >= 1, got %d", c.BatchSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be >= 0, got %d", c.MaxRetries)
	}
	if c.ProgressCeiling < 1 || c.ProgressCeiling > 100 {
		return fmt.Errorf("PROGRESS_CEILING must be in 1..100, got %d", c.ProgressCeiling)
	}
	if c.JobRetention <= 0 {
		return fmt.Errorf("JOB_RETENTION must be positive, got %s", c.JobRetention)
	}
	return nil
}
