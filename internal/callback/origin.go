package callback

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// SafaricomAddresses are the published source addresses of M-Pesa callbacks.
var SafaricomAddresses = []string{
	"196.201.214.200",
	"196.201.214.206",
	"196.201.213.114",
	"196.201.214.207",
	"196.201.214.208",
	"196.201.213.44",
	"196.201.212.127",
	"196.201.212.128",
	"196.201.212.129",
	"196.201.212.132",
	"196.201.212.136",
	"196.201.212.138",
}

// OriginGuard decides whether a request came from the payment gateway.
type OriginGuard struct {
	allowed           map[netip.Addr]struct{}
	trustProxyHeaders bool
	disabled          bool
}

// NewOriginGuard builds a guard over allowList, or SafaricomAddresses when
// the list is empty. With sandbox set every origin is accepted.
func NewOriginGuard(allowList []string, trustProxyHeaders, sandbox bool) (*OriginGuard, error) {
	if len(allowList) == 0 {
		allowList = SafaricomAddresses
	}
	allowed := make(map[netip.Addr]struct{}, len(allowList))
	for _, s := range allowList {
		addr, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid callback allow-list address %q: %w", s, err)
		}
		allowed[addr.Unmap()] = struct{}{}
	}
	return &OriginGuard{
		allowed:           allowed,
		trustProxyHeaders: trustProxyHeaders,
		disabled:          sandbox,
	}, nil
}

// ClientAddr returns the address the request is attributed to. Forwarding
// headers are only consulted when the service sits behind a trusted proxy.
func (g *OriginGuard) ClientAddr(r *http.Request) string {
	if g.trustProxyHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if v := r.Header.Get("X-Real-IP"); v != "" {
			return strings.TrimSpace(v)
		}
		if v := r.Header.Get("CF-Connecting-IP"); v != "" {
			return strings.TrimSpace(v)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (g *OriginGuard) Allowed(clientAddr string) bool {
	if g.disabled {
		return true
	}
	addr, err := netip.ParseAddr(clientAddr)
	if err != nil {
		return false
	}
	_, ok := g.allowed[addr.Unmap()]
	return ok
}
