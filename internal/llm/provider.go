package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Factory builds a Client for one credential.
type Factory func(ctx context.Context, apiKey string) (Client, error)

// GeminiFactory returns a Factory producing Gemini clients.
func GeminiFactory(logger *slog.Logger) Factory {
	return func(ctx context.Context, apiKey string) (Client, error) {
		return NewGeminiClient(ctx, apiKey, logger)
	}
}

// Default bounds for cached session-key clients.
const (
	DefaultMaxClients    = 64
	DefaultClientIdleTTL = time.Hour
)

type providerEntry struct {
	client   Client
	lastUsed time.Time
}

// Provider hands out one cached Client per credential. A session-supplied key
// takes precedence over the server key.
//
// The server key's client lives for the whole process. Session-key clients
// are dropped once idle past idleTTL, and the least recently used one is
// evicted when more than maxClients are held.
type Provider struct {
	mu         sync.Mutex
	clients    map[string]*providerEntry
	factory    Factory
	defaultKey string
	defaultID  string
	maxClients int
	idleTTL    time.Duration
	now        func() time.Time
}

// ProviderOption customizes a Provider.
type ProviderOption func(*Provider)

// WithClientLimits bounds the session-key client cache.
func WithClientLimits(maxClients int, idleTTL time.Duration) ProviderOption {
	return func(p *Provider) {
		if maxClients > 0 {
			p.maxClients = maxClients
		}
		if idleTTL > 0 {
			p.idleTTL = idleTTL
		}
	}
}

// NewProvider creates a provider falling back to defaultKey.
func NewProvider(defaultKey string, factory Factory, opts ...ProviderOption) *Provider {
	p := &Provider{
		clients:    make(map[string]*providerEntry),
		factory:    factory,
		defaultKey: strings.TrimSpace(defaultKey),
		maxClients: DefaultMaxClients,
		idleTTL:    DefaultClientIdleTTL,
		now:        time.Now,
	}
	if p.defaultKey != "" {
		p.defaultID = keyID(p.defaultKey)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HasDefaultKey reports whether the server was started with its own key.
func (p *Provider) HasDefaultKey() bool {
	return p.defaultKey != ""
}

// resolve picks the effective credential.
func (p *Provider) resolve(apiKey string) string {
	if k := strings.TrimSpace(apiKey); k != "" {
		return k
	}
	return p.defaultKey
}

// keyID fingerprints a credential so raw keys never become map keys or log fields.
func keyID(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:8])
}

// Client returns the client for apiKey, creating it on first use.
func (p *Provider) Client(ctx context.Context, apiKey string) (Client, error) {
	key := p.resolve(apiKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	id := keyID(key)

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if e, ok := p.clients[id]; ok {
		e.lastUsed = now
		return e.client, nil
	}
	c, err := p.factory(ctx, key)
	if err != nil {
		return nil, err
	}
	p.clients[id] = &providerEntry{client: c, lastUsed: now}
	p.pruneLocked(now)
	return c, nil
}

// Forget drops the cached client for apiKey. The server key is never dropped.
func (p *Provider) Forget(apiKey string) {
	id := keyID(strings.TrimSpace(apiKey))
	if id == p.defaultID {
		return
	}
	p.mu.Lock()
	delete(p.clients, id)
	p.mu.Unlock()
}

// Prune drops idle session-key clients and returns how many were removed.
func (p *Provider) Prune() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pruneLocked(p.now())
}

// Cached returns the number of clients currently held.
func (p *Provider) Cached() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *Provider) pruneLocked(now time.Time) int {
	removed := 0
	for id, e := range p.clients {
		if id != p.defaultID && now.Sub(e.lastUsed) > p.idleTTL {
			delete(p.clients, id)
			removed++
		}
	}
	for len(p.clients)-p.pinned() > p.maxClients {
		oldest := ""
		var oldestAt time.Time
		for id, e := range p.clients {
			if id == p.defaultID {
				continue
			}
			if oldest == "" || e.lastUsed.Before(oldestAt) {
				oldest, oldestAt = id, e.lastUsed
			}
		}
		delete(p.clients, oldest)
		removed++
	}
	return removed
}

// pinned is 1 while the server key's client is cached.
func (p *Provider) pinned() int {
	if _, ok := p.clients[p.defaultID]; ok && p.defaultID != "" {
		return 1
	}
	return 0
}

// Fingerprint returns the cache identity of the effective credential, or "" when none.
func (p *Provider) Fingerprint(apiKey string) string {
	key := p.resolve(apiKey)
	if key == "" {
		return ""
	}
	return keyID(key)
}
