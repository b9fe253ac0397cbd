// Package oidctest runs a fake identity provider key endpoint for tests.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Provider serves a JWKS document and signs tokens with the matching keys.
type Provider struct {
	Server *httptest.Server

	mu      sync.RWMutex
	keys    map[string]*rsa.PrivateKey
	hits    atomic.Int64
	failing atomic.Bool
}

// NewProvider starts a provider publishing one key with id kid.
func NewProvider(t testing.TB, kid string) *Provider {
	t.Helper()

	p := &Provider{keys: map[string]*rsa.PrivateKey{}}
	p.AddKey(t, kid)

	p.Server = httptest.NewServer(http.HandlerFunc(p.serveJWKS))
	t.Cleanup(p.Server.Close)

	return p
}

// URL is the JWKS endpoint.
func (p *Provider) URL() string {
	return p.Server.URL
}

// Hits counts JWKS requests served.
func (p *Provider) Hits() int64 {
	return p.hits.Load()
}

// SetFailing makes the endpoint answer 503.
func (p *Provider) SetFailing(failing bool) {
	p.failing.Store(failing)
}

// AddKey generates and publishes a new key.
func (p *Provider) AddKey(t testing.TB, kid string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[kid] = key
}

// RemoveKey stops publishing kid. Tokens can still be signed with it.
func (p *Provider) RemoveKey(kid string) *rsa.PrivateKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.keys[kid]
	delete(p.keys, kid)

	return key
}

// Sign signs claims with the published key kid.
func (p *Provider) Sign(t testing.TB, kid string, claims jwt.Claims) string {
	t.Helper()

	p.mu.RLock()
	key, ok := p.keys[kid]
	p.mu.RUnlock()
	require.True(t, ok, "unknown kid %s", kid)

	return SignWith(t, key, kid, claims)
}

// SignWith signs claims with an arbitrary key.
func SignWith(t testing.TB, key *rsa.PrivateKey, kid string, claims jwt.Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	return signed
}

func (p *Provider) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	p.hits.Add(1)
	if p.failing.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)

		return
	}

	p.mu.RLock()
	set := jose.JSONWebKeySet{}
	for kid, key := range p.keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       &key.PublicKey,
			KeyID:     kid,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		})
	}
	p.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}
