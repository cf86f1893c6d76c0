package gateway

import (
	"crypto/rand"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const minAuthKeyLen = 16
const generatedAuthKeyLen = 128

// Config holds every externally-configurable gateway setting: server
// binding, the backend seed list, probe cadence, admin auth, and the
// ambient telemetry/hot-reload knobs this rewrite adds on top of the core
// spec.
type Config struct {
	Host string
	Port int

	BaseAPIURLs       []string
	APICheckInterval  time.Duration
	APIAuthKey        string
	APIAuthKeyGenerated bool

	SeedFile string

	MetricsAddr     string
	HealthAddr      string
	LogLevel        string
	OTelServiceName string
}

// Defaults returns a Config populated with the documented defaults. Callers
// override fields from flags/env before validating.
func Defaults() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             8000,
		APICheckInterval: 5 * time.Second,
		LogLevel:         "info",
		OTelServiceName:  "ocr-gateway",
	}
}

// LoadFromEnv overlays environment variables onto cfg, following the
// documented option table. Flags should be applied after this call so they
// take precedence.
func (cfg *Config) LoadFromEnv() error {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("BASE_API_URLS"); v != "" {
		cfg.BaseAPIURLs = splitURLList(v)
	}
	if v := os.Getenv("API_CHECK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid API_CHECK_INTERVAL %q: %w", v, err)
		}
		cfg.APICheckInterval = d
	}
	if v := os.Getenv("API_AUTH_KEY"); v != "" {
		cfg.APIAuthKey = v
	}
	if v := os.Getenv("SEED_FILE"); v != "" {
		cfg.SeedFile = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("HEALTH_ADDR"); v != "" {
		cfg.HealthAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		cfg.OTelServiceName = v
	}
	return nil
}

// splitURLList accepts comma- or space-separated backend URLs.
func splitURLList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks the required invariants (at least one seed URL, auth key
// length) and, if no auth key was configured, generates a random one and
// reports it via APIAuthKeyGenerated so the caller can print it.
func (cfg *Config) Validate() error {
	if len(cfg.BaseAPIURLs) == 0 {
		return fmt.Errorf("at least one base-api-url is required")
	}
	if cfg.APIAuthKey != "" {
		if len(cfg.APIAuthKey) < minAuthKeyLen {
			return fmt.Errorf("api-auth-key must be at least %d characters", minAuthKeyLen)
		}
		return nil
	}
	key, err := generateAuthKey(generatedAuthKeyLen)
	if err != nil {
		return fmt.Errorf("generating api-auth-key: %w", err)
	}
	cfg.APIAuthKey = key
	cfg.APIAuthKeyGenerated = true
	return nil
}

const authKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func generateAuthKey(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = authKeyAlphabet[int(b)%len(authKeyAlphabet)]
	}
	return string(out), nil
}
