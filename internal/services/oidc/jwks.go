package oidc

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// DefaultJWKSTTL is how long a fetched key set is reused
const DefaultJWKSTTL = time.Hour

type cachedSet struct {
	keys    jwk.Set
	expires time.Time
}

// JWKSManager fetches and caches key sets by URL
type JWKSManager struct {
	client *http.Client
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedSet
}

// NewJWKSManager creates a JWKS manager with a one hour cache
func NewJWKSManager() *JWKSManager {
	return NewJWKSManagerWithClient(&http.Client{Timeout: 10 * time.Second}, DefaultJWKSTTL)
}

// NewJWKSManagerWithClient creates a JWKS manager using client for fetches
func NewJWKSManagerWithClient(client *http.Client, ttl time.Duration) *JWKSManager {
	return &JWKSManager{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cachedSet),
	}
}

// GetJWKS returns the key set at jwksURL, fetching it when the cached copy is missing or stale
func (m *JWKSManager) GetJWKS(ctx context.Context, jwksURL string) (jwk.Set, error) {
	m.mu.RLock()
	c, ok := m.cache[jwksURL]
	m.mu.RUnlock()
	if ok && m.now().Before(c.expires) {
		return c.keys, nil
	}

	keys, err := jwk.Fetch(ctx, jwksURL, jwk.WithHTTPClient(m.client))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	m.mu.Lock()
	m.cache[jwksURL] = cachedSet{keys: keys, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return keys, nil
}

// Invalidate drops a cached key set so the next call refetches it
func (m *JWKSManager) Invalidate(jwksURL string) {
	m.mu.Lock()
	delete(m.cache, jwksURL)
	m.mu.Unlock()
}
