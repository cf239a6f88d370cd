package config

import (
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds application configuration.
type Config struct {
	Env             string   `env:"ENV" envDefault:"dev"`
	Host            string   `env:"HOST" envDefault:"0.0.0.0"`
	Port            string   `env:"PORT" envDefault:"8000"`
	CORSAllowOrigin []string `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	MaxBodyBytes    int64    `env:"MAX_BODY_BYTES" envDefault:"1048576"`

	TemplatePath          string        `env:"TEMPLATE_PATH" envDefault:"template.tex"`
	Placeholder           string        `env:"TEMPLATE_PLACEHOLDER" envDefault:"{{PLACEHOLDER}}"`
	CompilerPath          string        `env:"LATEX_COMPILER" envDefault:"pdflatex"`
	CompileTimeout        time.Duration `env:"COMPILE_TIMEOUT" envDefault:"60s"`
	MaxConcurrentCompiles int           `env:"MAX_CONCURRENT_COMPILES" envDefault:"4"`
	WorkDir               string        `env:"WORK_DIR" envDefault:"./work"`
	KeepWorkDirs          bool          `env:"KEEP_WORK_DIRS" envDefault:"false"`

	ObjectStoreType string `env:"OBJECT_STORE" envDefault:"local"`
	LocalStoreDir   string `env:"LOCAL_STORE_DIR" envDefault:"./data"`
	AWSRegion       string `env:"AWS_REGION"`
	S3Bucket        string `env:"S3_BUCKET"`
	S3Prefix        string `env:"S3_PREFIX"`
	SSEKMSKeyID     string `env:"SSE_KMS_KEY_ID"`

	DatabaseURL string `env:"DATABASE_URL"`

	QueueURL          string `env:"GENERATION_QUEUE_URL"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY" envDefault:"2"`
	QueueBuffer       int    `env:"QUEUE_BUFFER" envDefault:"64"`

	// SQSVisibilityTimeout is in seconds and never below two compile timeouts.
	SQSVisibilityTimeout int `env:"SQS_VISIBILITY_TIMEOUT_SECONDS" envDefault:"300"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"1"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"5"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Printf("config: %v; falling back to defaults for invalid keys", err)
	}
	return Normalize(cfg)
}

// Normalize fills zero values and canonicalizes enumerated settings.
func Normalize(cfg Config) Config {
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.ObjectStoreType = normalizeStoreType(cfg.ObjectStoreType)
	cfg.CORSAllowOrigin = trimAll(cfg.CORSAllowOrigin)

	if strings.TrimSpace(cfg.Placeholder) == "" {
		cfg.Placeholder = "{{PLACEHOLDER}}"
	}
	if strings.TrimSpace(cfg.CompilerPath) == "" {
		cfg.CompilerPath = "pdflatex"
	}
	if strings.TrimSpace(cfg.TemplatePath) == "" {
		cfg.TemplatePath = "template.tex"
	}
	if strings.TrimSpace(cfg.WorkDir) == "" {
		cfg.WorkDir = "./work"
	}
	if strings.TrimSpace(cfg.LocalStoreDir) == "" {
		cfg.LocalStoreDir = "./data"
	}
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = 60 * time.Second
	}
	if cfg.MaxConcurrentCompiles <= 0 {
		cfg.MaxConcurrentCompiles = 1
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.QueueBuffer <= 0 {
		cfg.QueueBuffer = 64
	}
	if cfg.SQSVisibilityTimeout <= 0 {
		cfg.SQSVisibilityTimeout = 300
	}
	if minVisibility := int(cfg.CompileTimeout.Seconds()) * 2; cfg.SQSVisibilityTimeout < minVisibility {
		cfg.SQSVisibilityTimeout = minVisibility
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Env == "production" && strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Printf("DATABASE_URL is required in production")
	}
	return cfg
}

// IsDevLike reports whether in-memory fallbacks are acceptable.
func (c Config) IsDevLike() bool {
	return c.Env == "dev" || c.Env == "local"
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}
