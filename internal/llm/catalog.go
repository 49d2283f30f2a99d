package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const listTimeout = 30 * time.Second

type catalogEntry struct {
	models    []string
	fetchedAt time.Time
}

// Catalog caches model listings per credential.
type Catalog struct {
	provider *Provider
	fallback string
	ttl      time.Duration
	group    singleflight.Group
	mu       sync.RWMutex
	entries  map[string]catalogEntry
	now      func() time.Time
}

// NewCatalog creates a catalog. fallback is offered whenever listing fails.
func NewCatalog(provider *Provider, fallback string, ttl time.Duration) *Catalog {
	return &Catalog{
		provider: provider,
		fallback: fallback,
		ttl:      ttl,
		entries:  make(map[string]catalogEntry),
		now:      time.Now,
	}
}

// Fallback returns the default model identifier.
func (c *Catalog) Fallback() string {
	return c.fallback
}

// Models lists generation-capable models for apiKey. On failure it returns the
// fallback list together with the error so callers can still offer a choice.
func (c *Catalog) Models(ctx context.Context, apiKey string) ([]string, error) {
	id := c.provider.Fingerprint(apiKey)
	if id == "" {
		return []string{c.fallback}, ErrMissingAPIKey
	}

	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.models, nil
	}

	// Waiters share one listing, so it must outlive the caller that started it.
	v, err, _ := c.group.Do(id, func() (interface{}, error) {
		listCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listTimeout)
		defer cancel()

		client, err := c.provider.Client(listCtx, apiKey)
		if err != nil {
			return nil, err
		}
		models, err := client.ListModels(listCtx)
		if err != nil {
			c.provider.Forget(apiKey)
			return nil, err
		}
		c.mu.Lock()
		now := c.now()
		c.pruneLocked(now)
		c.entries[id] = catalogEntry{models: models, fetchedAt: now}
		c.mu.Unlock()
		return models, nil
	})
	if err != nil {
		slog.Warn("Model listing failed, using fallback", "fallback", c.fallback, "error", err)
		return []string{c.fallback}, err
	}

	models := v.([]string)
	if len(models) == 0 {
		return []string{c.fallback}, nil
	}
	return models, nil
}

// DefaultModel returns the first listed model, or the fallback.
func (c *Catalog) DefaultModel(ctx context.Context, apiKey string) string {
	models, err := c.Models(ctx, apiKey)
	if err != nil || len(models) == 0 {
		return c.fallback
	}
	return models[0]
}

// Invalidate drops the cached listing for apiKey.
func (c *Catalog) Invalidate(apiKey string) {
	id := c.provider.Fingerprint(apiKey)
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Prune drops expired listings and returns how many were removed.
func (c *Catalog) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneLocked(c.now())
}

func (c *Catalog) pruneLocked(now time.Time) int {
	removed := 0
	for id, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}
