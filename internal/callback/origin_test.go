package callback

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOriginGuard_ClientAddr(t *testing.T) {
	newReq := func(headers map[string]string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/mpesa/callback", nil)
		r.RemoteAddr = "10.0.0.7:51234"
		for k, v := range headers {
			r.Header.Set(k, v)
		}
		return r
	}

	tests := []struct {
		name    string
		trust   bool
		headers map[string]string
		want    string
	}{
		{"peer address by default", false, nil, "10.0.0.7"},
		{"headers ignored when untrusted", false, map[string]string{"X-Forwarded-For": "196.201.214.200"}, "10.0.0.7"},
		{"first forwarded hop", true, map[string]string{"X-Forwarded-For": "196.201.214.200, 10.0.0.1"}, "196.201.214.200"},
		{"x-real-ip", true, map[string]string{"X-Real-IP": "196.201.213.44"}, "196.201.213.44"},
		{"cf-connecting-ip", true, map[string]string{"CF-Connecting-IP": "196.201.212.138"}, "196.201.212.138"},
		{"trusted without headers", true, nil, "10.0.0.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewOriginGuard(nil, tt.trust, false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := g.ClientAddr(newReq(tt.headers)); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestOriginGuard_Allowed(t *testing.T) {
	t.Run("default allow-list", func(t *testing.T) {
		g, err := NewOriginGuard(nil, false, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, addr := range SafaricomAddresses {
			if !g.Allowed(addr) {
				t.Errorf("expected %s to be allowed", addr)
			}
		}
		for _, addr := range []string{"10.0.0.7", "196.201.214.201", "", "not-an-ip"} {
			if g.Allowed(addr) {
				t.Errorf("expected %q to be rejected", addr)
			}
		}
	})

	t.Run("ipv4-mapped ipv6", func(t *testing.T) {
		g, _ := NewOriginGuard(nil, false, false)
		if !g.Allowed("::ffff:196.201.214.200") {
			t.Error("expected mapped address to be allowed")
		}
	})

	t.Run("custom allow-list replaces default", func(t *testing.T) {
		g, err := NewOriginGuard([]string{"127.0.0.1"}, false, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !g.Allowed("127.0.0.1") {
			t.Error("expected 127.0.0.1 to be allowed")
		}
		if g.Allowed("196.201.214.200") {
			t.Error("expected default address to be rejected")
		}
	})

	t.Run("sandbox accepts everything", func(t *testing.T) {
		g, _ := NewOriginGuard(nil, false, true)
		if !g.Allowed("10.0.0.7") {
			t.Error("expected sandbox to allow any origin")
		}
	})

	t.Run("invalid allow-list entry", func(t *testing.T) {
		if _, err := NewOriginGuard([]string{"196.201.214.300"}, false, false); err == nil {
			t.Error("expected error for invalid address")
		}
	})
}
