package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joao-fontenele/mpesa-checkout/internal/mpesa"
)

type Config struct {
	Port         string
	PostgresURL  string
	KafkaBrokers []string
	RedisAddr    string

	MPesa    mpesa.Config
	Callback CallbackConfig

	SweepInterval time.Duration
	StuckAfter    time.Duration
}

type CallbackConfig struct {
	// Sandbox disables the source address check.
	Sandbox           bool
	TrustProxyHeaders bool
	// AllowList overrides the built-in Safaricom addresses when non-empty.
	AllowList []string
}

// Load reads the process environment, after merging an optional .env file
// from the working directory.
func Load(defaultPort string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	cfg := Config{
		Port:         getenv("PORT", defaultPort),
		PostgresURL:  os.Getenv("POSTGRES_URL"),
		KafkaBrokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		MPesa: mpesa.Config{
			BaseURL:        getenv("MPESA_BASE_URL", mpesa.SandboxBaseURL),
			ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
			Passkey:        os.Getenv("MPESA_PASSKEY"),
			ShortCode:      getenv("MPESA_SHORTCODE", mpesa.SandboxShortCode),
			CallbackURL:    callbackURL(),
		},
		Callback: CallbackConfig{
			AllowList: splitCSV(os.Getenv("MPESA_CALLBACK_ALLOWLIST")),
		},
	}

	var err error
	if cfg.MPesa.RequestTimeout, err = durationEnv("MPESA_REQUEST_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.Callback.Sandbox, err = boolEnv("MPESA_SANDBOX", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.Callback.TrustProxyHeaders, err = boolEnv("MPESA_TRUST_PROXY_HEADERS", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.StuckAfter, err = durationEnv("STUCK_AFTER", 15*time.Minute); err != nil {
		errs = append(errs, err)
	}

	return cfg, errors.Join(errs...)
}

// callbackURL prefers the explicit override used for local tunnels.
func callbackURL() string {
	if v := os.Getenv("MPESA_CALLBACK_URL"); v != "" {
		return v
	}
	if base := strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"); base != "" {
		return base + "/mpesa/callback"
	}
	return ""
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def, fmt.Errorf("%s: invalid duration %q", k, v)
	}
	return d, nil
}

func boolEnv(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: invalid boolean %q", k, v)
	}
	return b, nil
}
