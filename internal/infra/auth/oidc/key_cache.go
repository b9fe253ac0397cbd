// Package oidc holds the verification machinery shared by identity providers
// that sign ID tokens with a published JSON Web Key Set.
package oidc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"keystone/internal/domain/entity"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/domain/service"
	"keystone/internal/errors"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

const (
	defaultKeyCacheTTL  = 24 * time.Hour
	defaultFetchTimeout = 10 * time.Second
	maxJWKSBodySize     = 1 << 20
)

// KeyCacheConfig configures a KeyCache.
type KeyCacheConfig struct {
	Provider   entity.ProviderType
	JWKSURL    string
	TTL        time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    service.AuthMetrics
}

// keySet is immutable once published.
type keySet struct {
	keys      map[string]any
	fetchedAt time.Time
}

// KeyCache is a process-wide cache of one provider's signing keys.
//
// Readers load the current set through an atomic pointer. A refresh builds a
// complete new set and swaps it in, so no reader ever sees a partial set.
// Concurrent refreshes collapse into one HTTP request.
type KeyCache struct {
	provider entity.ProviderType
	jwksURL  string
	ttl      time.Duration
	client   *http.Client
	logger   *slog.Logger
	metrics  service.AuthMetrics

	current atomic.Pointer[keySet]
	group   singleflight.Group
	now     func() time.Time
}

// NewKeyCache creates an empty cache. Keys are fetched on first use.
func NewKeyCache(cfg KeyCacheConfig) (*KeyCache, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.Errorf("%s: jwks url is required", cfg.Provider)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultKeyCacheTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultFetchTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &KeyCache{
		provider: cfg.Provider,
		jwksURL:  cfg.JWKSURL,
		ttl:      cfg.TTL,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}, nil
}

// Key returns the public key for kid.
//
// A stale or empty cache is refreshed first. If kid is still unknown the
// cache is refetched exactly once more; a kid that is unknown after that
// fails with ErrInvalidCredential. Fetch failures are ErrIdentityProviderUnavailable.
func (c *KeyCache) Key(ctx context.Context, kid string) (any, error) {
	set := c.current.Load()
	refreshed := false

	if set == nil || c.now().Sub(set.fetchedAt) >= c.ttl {
		var err error
		if set, err = c.refresh(ctx, set); err != nil {
			return nil, err
		}
		refreshed = true
	}

	if key, ok := set.keys[kid]; ok {
		return key, nil
	}

	if !refreshed {
		c.logger.InfoContext(ctx, "Unknown signing key, refetching key set",
			slog.String("provider", c.provider.String()),
			slog.String("kid", kid),
		)
		var err error
		if set, err = c.refresh(ctx, set); err != nil {
			return nil, err
		}
		if key, ok := set.keys[kid]; ok {
			return key, nil
		}
	}

	return nil, domainerrors.ErrInvalidCredential.WrapMessage("unknown signing key id")
}

// Invalidate drops the cached set.
func (c *KeyCache) Invalidate() {
	c.current.Store(nil)
}

// refresh fetches a new set unless another caller already replaced seen.
// The shared fetch is detached from the caller that started it and bounded
// by the client timeout; each caller still stops waiting when its own ctx ends.
func (c *KeyCache) refresh(ctx context.Context, seen *keySet) (*keySet, error) {
	ch := c.group.DoChan("jwks", func() (any, error) {
		if cur := c.current.Load(); cur != nil && cur != seen && c.now().Sub(cur.fetchedAt) < c.ttl {
			return cur, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout())
		defer cancel()

		start := time.Now()
		set, err := c.fetch(fetchCtx)
		if c.metrics != nil {
			c.metrics.RecordKeyFetch(c.provider.String(), time.Since(start), err)
		}
		if err != nil {
			c.logger.ErrorContext(ctx, "Failed to fetch signing keys",
				slog.String("provider", c.provider.String()),
				slog.Any("error", err),
			)

			return nil, err
		}
		c.current.Store(set)

		return set, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, domainerrors.ErrIdentityProviderUnavailable.WrapMessage(res.Err.Error())
		}

		return res.Val.(*keySet), nil
	case <-ctx.Done():
		return nil, domainerrors.ErrIdentityProviderUnavailable.WrapMessage(ctx.Err().Error())
	}
}

func (c *KeyCache) fetchTimeout() time.Duration {
	if c.client.Timeout > 0 {
		return c.client.Timeout
	}

	return defaultFetchTimeout
}

func (c *KeyCache) fetch(ctx context.Context) (*keySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch jwks")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read jwks")
	}

	var jwks jose.JSONWebKeySet
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, errors.Wrap(err, "decode jwks")
	}

	keys := make(map[string]any, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.KeyID == "" || !k.Valid() || !k.IsPublic() {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		keys[k.KeyID] = k.Key
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contains no usable signing keys")
	}

	return &keySet{keys: keys, fetchedAt: c.now()}, nil
}
