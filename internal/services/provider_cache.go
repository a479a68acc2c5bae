package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/internal/providers"
	"github.com/nimasrn/school-notify/pkg/logger"
)

// ProviderCache keeps one provider per saved config so breaker and scoring
// state carries over between jobs. A provider is rebuilt, and the old one
// closed, once the config it was built from changes.
type ProviderCache struct {
	opts []providers.Option

	mu      sync.Mutex
	entries map[int64]*cacheEntry
}

type cacheEntry struct {
	key      string
	provider providers.Provider
}

// sharedProvider hides Close from callers; the cache owns the provider.
type sharedProvider struct {
	providers.Provider
}

func (sharedProvider) Close() error { return nil }

func NewProviderCache(opts ...providers.Option) *ProviderCache {
	return &ProviderCache{
		opts:    opts,
		entries: make(map[int64]*cacheEntry),
	}
}

// Get satisfies ProviderFactory. Configs that were never saved (ID 0) are
// built fresh and belong to the caller.
func (c *ProviderCache) Get(ctx context.Context, cfg *model.ProviderConfig) (providers.Provider, error) {
	if cfg == nil || cfg.ID == 0 {
		return providers.New(ctx, cfg, c.opts...)
	}
	key, err := snapshotKey(cfg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[cfg.ID]; ok {
		if e.key == key {
			return sharedProvider{e.provider}, nil
		}
		if err := providers.Close(e.provider); err != nil {
			logger.Warn("[dispatch] stale provider close failed", "provider_id", cfg.ID, "error", err)
		}
		delete(c.entries, cfg.ID)
	}

	p, err := providers.New(ctx, cfg, c.opts...)
	if err != nil {
		return nil, err
	}
	c.entries[cfg.ID] = &cacheEntry{key: key, provider: p}
	return sharedProvider{p}, nil
}

// Close releases every cached provider.
func (c *ProviderCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, e := range c.entries {
		if err := providers.Close(e.provider); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.entries, id)
	}
	return firstErr
}

func (c *ProviderCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func snapshotKey(cfg *model.ProviderConfig) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
