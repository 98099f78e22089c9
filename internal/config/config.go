// Package config centralizes how AthleteDocs reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment key, e.g. ATHLETEDOCS_ADDRESS.
const Prefix = "ATHLETEDOCS"

// Config represents runtime configuration shared by the API server, the
// worker and the CLI.
type Config struct {
	Address      string `envconfig:"ADDRESS" default:":8080"`
	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`

	MinFileSize       int64    `envconfig:"MIN_FILE_BYTES" default:"1024"`
	MaxFileSize       int64    `envconfig:"MAX_FILE_BYTES" default:"5242880"`
	AllowedTypes      []string `envconfig:"ALLOWED_TYPES" default:"image/jpeg,image/png,image/jpg,application/pdf"`
	AllowedExtensions []string `envconfig:"ALLOWED_EXTENSIONS" default:".jpg,.jpeg,.png,.pdf"`

	BlobBackend string `envconfig:"BLOB_BACKEND" default:"local"`
	UploadDir   string `envconfig:"UPLOAD_DIR" default:"uploads"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT" default:"localhost:9000"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"athlete-documents"`
	GCSBucket   string `envconfig:"GCS_BUCKET"`

	GCPProject   string `envconfig:"GCP_PROJECT"`
	VertexRegion string `envconfig:"VERTEX_REGION" default:"us-central1"`
	VertexModel  string `envconfig:"VERTEX_MODEL" default:"gemini-1.5-pro"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	SigningSecret string        `envconfig:"SIGNING_SECRET"`
	SignedURLTTL  time.Duration `envconfig:"SIGNED_URL_TTL" default:"5m"`

	PollInterval          time.Duration `envconfig:"POLL_INTERVAL" default:"1s"`
	HeartbeatInterval     time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"10s"`
	StallTimeout          time.Duration `envconfig:"STALL_TIMEOUT" default:"2m"`
	MaintenanceInterval   time.Duration `envconfig:"MAINTENANCE_INTERVAL" default:"1m"`
	CompletedJobRetention time.Duration `envconfig:"COMPLETED_JOB_RETENTION" default:"168h"`
	FailedJobRetention    time.Duration `envconfig:"FAILED_JOB_RETENTION" default:"720h"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

const (
	defaultMinFileSize  = 1 << 10
	defaultMaxFileSize  = 5 << 20
	defaultSignedTTL    = 5 * time.Minute
	defaultPoll         = time.Second
	defaultHeartbeat    = 10 * time.Second
	defaultStallTimeout = 2 * time.Minute
	defaultMaintenance  = time.Minute
)

// Load reads configuration from the environment, then clamps values that
// would leave a component unusable back to their defaults.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.BlobBackend = strings.ToLower(cfg.BlobBackend)
	switch cfg.StoreBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("set %s_DATABASE_URL", Prefix)
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
	switch cfg.BlobBackend {
	case "local", "minio", "memory":
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("set %s_GCS_BUCKET", Prefix)
		}
	default:
		return nil, fmt.Errorf("unsupported blob backend %q", cfg.BlobBackend)
	}
	if cfg.SigningSecret == "" {
		cfg.SigningSecret = randomSecret()
	}
	if cfg.MinFileSize <= 0 {
		cfg.MinFileSize = defaultMinFileSize
	}
	if cfg.MaxFileSize <= 0 || cfg.MaxFileSize < cfg.MinFileSize {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPoll
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.StallTimeout <= cfg.HeartbeatInterval {
		cfg.StallTimeout = defaultStallTimeout
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = defaultMaintenance
	}
	cfg.AllowedTypes = normalizeList(cfg.AllowedTypes)
	cfg.AllowedExtensions = normalizeList(cfg.AllowedExtensions)
	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte("fallbacksecret"))
	}
	return hex.EncodeToString(buf)
}
