package config

import (
	"testing"
	"time"

	"github.com/joao-fontenele/mpesa-checkout/internal/mpesa"
)

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())
		for _, k := range []string{"PORT", "MPESA_BASE_URL", "MPESA_SHORTCODE", "MPESA_CALLBACK_URL", "PUBLIC_BASE_URL", "MPESA_SANDBOX", "KAFKA_BROKERS", "SWEEP_INTERVAL", "STUCK_AFTER", "MPESA_REQUEST_TIMEOUT"} {
			t.Setenv(k, "")
		}

		cfg, err := Load("8081")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Port != "8081" {
			t.Errorf("expected port 8081, got %s", cfg.Port)
		}
		if cfg.MPesa.BaseURL != mpesa.SandboxBaseURL {
			t.Errorf("expected sandbox base url, got %s", cfg.MPesa.BaseURL)
		}
		if cfg.MPesa.ShortCode != mpesa.SandboxShortCode {
			t.Errorf("expected sandbox shortcode, got %s", cfg.MPesa.ShortCode)
		}
		if cfg.MPesa.RequestTimeout != 10*time.Second {
			t.Errorf("expected 10s timeout, got %s", cfg.MPesa.RequestTimeout)
		}
		if cfg.Callback.Sandbox {
			t.Error("expected sandbox disabled by default")
		}
		if len(cfg.KafkaBrokers) != 0 {
			t.Errorf("expected no brokers, got %v", cfg.KafkaBrokers)
		}
		if cfg.StuckAfter != 15*time.Minute {
			t.Errorf("expected 15m stuck window, got %s", cfg.StuckAfter)
		}
	})

	t.Run("callback url override wins over public base url", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("PUBLIC_BASE_URL", "https://shop.example.com/")
		t.Setenv("MPESA_CALLBACK_URL", "")

		cfg, err := Load("8081")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.MPesa.CallbackURL != "https://shop.example.com/mpesa/callback" {
			t.Errorf("unexpected callback url %s", cfg.MPesa.CallbackURL)
		}

		t.Setenv("MPESA_CALLBACK_URL", "https://abc.ngrok.io/cb")
		cfg, err = Load("8081")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.MPesa.CallbackURL != "https://abc.ngrok.io/cb" {
			t.Errorf("unexpected callback url %s", cfg.MPesa.CallbackURL)
		}
	})

	t.Run("parses lists and flags", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
		t.Setenv("MPESA_SANDBOX", "true")
		t.Setenv("MPESA_CALLBACK_ALLOWLIST", "10.0.0.1,10.0.0.2")

		cfg, err := Load("8081")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
			t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
		}
		if !cfg.Callback.Sandbox {
			t.Error("expected sandbox enabled")
		}
		if len(cfg.Callback.AllowList) != 2 {
			t.Errorf("unexpected allow list %v", cfg.Callback.AllowList)
		}
	})

	t.Run("rejects malformed values", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("MPESA_SANDBOX", "maybe")
		t.Setenv("STUCK_AFTER", "soon")

		if _, err := Load("8081"); err == nil {
			t.Fatal("expected error")
		}
	})
}
