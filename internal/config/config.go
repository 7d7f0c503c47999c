// Package config reads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Content backends.
const (
	ContentBackendFile   = "file"
	ContentBackendS3     = "s3"
	ContentBackendMemory = "memory"
)

// Model kinds.
const (
	ModelGRPC   = "grpc"
	ModelStatic = "static"
)

type Config struct {
	LogLevel string

	HTTPAddr       string
	JWTSecret      string
	JWTAudience    string
	PredictTimeout time.Duration
	PollInterval   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueueName     string

	JobResultTTL         time.Duration
	FingerprintResultTTL time.Duration
	FingerprintLRUSize   int

	ContentBackend string
	UploadDir      string
	S3             S3Config

	ModelKind        string
	ModelAddr        string
	StaticLabel      string
	InferenceTimeout time.Duration

	DatabaseDSN string

	ConnectAttempts int
	ConnectDelay    time.Duration

	Workers     int
	MetricsAddr string
}

type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Load reads a .env file when present and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	r := reader{getenv: getenv}
	cfg := &Config{
		LogLevel: r.str("LOG_LEVEL", "info"),

		HTTPAddr:       r.str("HTTP_ADDR", ":8080"),
		JWTSecret:      r.str("JWT_SECRET", "dev-secret"),
		JWTAudience:    r.str("JWT_AUDIENCE", ""),
		PredictTimeout: r.duration("PREDICT_TIMEOUT", 30*time.Second),
		PollInterval:   r.duration("POLL_INTERVAL", 100*time.Millisecond),

		RedisAddr:     r.str("REDIS_ADDR", "redis:6379"),
		RedisPassword: r.str("REDIS_PASSWORD", ""),
		RedisDB:       r.integer("REDIS_DB", 0),
		QueueName:     r.str("QUEUE_NAME", "service_queue"),

		JobResultTTL:         r.duration("JOB_RESULT_TTL", time.Hour),
		FingerprintResultTTL: r.duration("FINGERPRINT_RESULT_TTL", 0),
		FingerprintLRUSize:   r.integer("FINGERPRINT_LRU_SIZE", 4096),

		ContentBackend: strings.ToLower(r.str("CONTENT_BACKEND", ContentBackendFile)),
		UploadDir:      r.str("UPLOAD_DIR", "uploads"),
		S3: S3Config{
			Bucket:          r.str("S3_BUCKET", ""),
			Prefix:          r.str("S3_PREFIX", "uploads"),
			Region:          r.str("AWS_REGION", ""),
			Endpoint:        r.str("S3_ENDPOINT", ""),
			AccessKeyID:     r.str("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: r.str("AWS_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    r.boolean("S3_USE_PATH_STYLE", false),
		},

		ModelKind:        strings.ToLower(r.str("MODEL_KIND", ModelGRPC)),
		ModelAddr:        r.str("MODEL_ADDR", "model:50051"),
		StaticLabel:      r.str("MODEL_STATIC_LABEL", "unknown"),
		InferenceTimeout: r.duration("INFERENCE_TIMEOUT", 20*time.Second),

		DatabaseDSN: r.str("DATABASE_DSN", ""),

		ConnectAttempts: r.integer("CONNECT_ATTEMPTS", 5),
		ConnectDelay:    r.duration("CONNECT_DELAY", time.Second),

		Workers:     r.integer("WORKERS", 1),
		MetricsAddr: r.str("METRICS_ADDR", ":9090"),
	}
	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.ContentBackend {
	case ContentBackendFile:
		if c.UploadDir == "" {
			return errors.New("UPLOAD_DIR is required for the file content backend")
		}
	case ContentBackendS3:
		if c.S3.Bucket == "" {
			return errors.New("S3_BUCKET is required for the s3 content backend")
		}
	case ContentBackendMemory:
	default:
		return fmt.Errorf("CONTENT_BACKEND must be file, s3 or memory, got %q", c.ContentBackend)
	}
	switch c.ModelKind {
	case ModelGRPC:
		if c.ModelAddr == "" {
			return errors.New("MODEL_ADDR is required for the grpc model")
		}
	case ModelStatic:
	default:
		return fmt.Errorf("MODEL_KIND must be grpc or static, got %q", c.ModelKind)
	}
	if c.ConnectAttempts < 1 {
		return errors.New("CONNECT_ATTEMPTS must be at least 1")
	}
	if c.PredictTimeout <= 0 {
		return errors.New("PREDICT_TIMEOUT must be positive")
	}
	if c.Workers < 1 {
		return errors.New("WORKERS must be at least 1")
	}
	return nil
}

type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) str(key, fallback string) string {
	if value := strings.TrimSpace(r.getenv(key)); value != "" {
		return value
	}
	return fallback
}

func (r *reader) integer(key string, fallback int) int {
	value := strings.TrimSpace(r.getenv(key))
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(r.getenv(key))
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (r *reader) boolean(key string, fallback bool) bool {
	value := strings.TrimSpace(r.getenv(key))
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}
