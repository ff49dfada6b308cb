package mpesa

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenCache holds the OAuth access token until shortly before it expires.
// Concurrent refreshes are collapsed into one exchange.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time

	refresh singleflight.Group
}

func (c *tokenCache) get(now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !now.Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

func (c *tokenCache) set(token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = expiresAt
}

func (c *tokenCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}
