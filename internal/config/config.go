// Package config loads runtime configuration for the image repository
// service from environment variables, optionally backed by a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting the HTTP surface and core need.
type Config struct {
	BindAddr    string
	DataRoot    string
	ServiceToken string

	// TargetFormat forces all uploads to be re-encoded to this container
	// regardless of what was detected. Empty means "keep detected format".
	TargetFormat string

	// OperatorWhitelist restricts which variant-chain operators GET requests
	// may use. Empty means "no restriction" (identity/thumbnail/blur all
	// allowed).
	OperatorWhitelist map[string]bool

	MaxUploadMB          int
	MaxConcurrentUploads int
	SkipValidateImports  bool
	SessionTmpTTLHours   int
	SweepOnStart         bool
	VariantWorkers       int
	MinFreeBytes         int64

	LogLevel  string
	LogPretty bool
}

// Load reads configuration from environment variables, loading a .env file
// first if one is present (ignored if absent — this mirrors the teacher's
// precedent of env-only configuration with dotenv purely as a developer
// convenience, not a requirement).
func Load() (*Config, error) {
	_ = godotenv.Load()

	maxUploadMB, err := getEnvInt("MAX_UPLOAD_MB", 50)
	if err != nil {
		return nil, err
	}
	ttlHours, err := getEnvInt("SESSION_TMP_TTL_HOURS", 24)
	if err != nil {
		return nil, err
	}
	variantWorkers, err := getEnvInt("VARIANT_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	minFreeMB, err := getEnvInt("MIN_FREE_MB", 512)
	if err != nil {
		return nil, err
	}
	maxConcurrentUploads, err := getEnvInt("MAX_CONCURRENT_UPLOADS", 256)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BindAddr:             getEnv("BIND_ADDR", ":8080"),
		DataRoot:             getEnv("DATA_ROOT", "/data/pictura"),
		ServiceToken:         getEnv("SERVICE_TOKEN", ""),
		TargetFormat:         strings.ToLower(strings.TrimSpace(getEnv("TARGET_FORMAT", ""))),
		OperatorWhitelist:    parseWhitelist(getEnv("OPERATOR_WHITELIST", "")),
		MaxUploadMB:          maxUploadMB,
		MaxConcurrentUploads: maxConcurrentUploads,
		SkipValidateImports:  getEnvBool("SKIP_VALIDATE_IMPORTS", false),
		SessionTmpTTLHours:   ttlHours,
		SweepOnStart:         getEnvBool("SWEEP_ON_START", false),
		VariantWorkers:       variantWorkers,
		MinFreeBytes:         int64(minFreeMB) << 20,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogPretty:            getEnvBool("LOG_PRETTY", false),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.TargetFormat {
	case "", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("TARGET_FORMAT must be one of jpeg, png, webp (got %q)", c.TargetFormat)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	return nil
}

// parseWhitelist turns a comma-separated operator list into a set. An empty
// input means "no restriction" — represented as a nil map.
func parseWhitelist(csv string) map[string]bool {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, op := range strings.Split(csv, ",") {
		op = strings.ToLower(strings.TrimSpace(op))
		if op != "" {
			set[op] = true
		}
	}
	return set
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
