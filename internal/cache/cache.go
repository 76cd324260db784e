// Package cache implements the Cache Tier (C3): a best-effort JSON k/v
// store with TTL, backed in-process by ristretto. Every operation
// degrades to a typed miss/false on backend failure rather than
// raising, so a cold or misbehaving cache never fails a request - it
// only costs a round trip to the Graph Tier or upstream.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
)

// Tier is the Cache Tier's contract. Every method is best-effort: a
// backend error is logged and surfaced as a miss/false, never an error
// return, matching the "never raise" invariant.
type Tier interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) bool
	MGet(ctx context.Context, keys []string) map[string]json.RawMessage
	MSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
	DeleteByPattern(ctx context.Context, prefix string) int
	Exists(ctx context.Context, key string) bool
	TTL(ctx context.Context, key string) (time.Duration, bool)
}

// entry is the JSON envelope every value is wrapped in before storage,
// stamping cached_at so readers can observe cache-layer age
// independent of the backend TTL.
type entry struct {
	CachedAt time.Time       `json:"cached_at"`
	Value    json.RawMessage `json:"value"`
}

// ristrettoTier is the ristretto-backed Tier implementation. Ristretto
// has no native key enumeration, so delete_by_pattern (e.g. clearing
// every "paper:{id}:*" variant after a cache-invalidation request) is
// served by an in-process registry of every live key; the worst a
// registry/backend drift can cause is an occasional stale registry
// entry whose delete is a no-op, not an incorrect cache read.
type ristrettoTier struct {
	manager *gocache.Cache[[]byte]
	logger  *slog.Logger
	mu      sync.Mutex
	keys    map[string]struct{}
}

// Config configures the ristretto cost/counter budget; see the ristretto
// documentation for NumCounters/MaxCost semantics.
type Config struct {
	NumCounters int64
	MaxCost     int64
}

func New(cfg Config, logger *slog.Logger) (Tier, error) {
	rcache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	rstore := ristretto_store.NewRistretto(rcache)
	manager := gocache.New[[]byte](rstore)

	return &ristrettoTier{
		manager: manager,
		logger:  logger,
		keys:    make(map[string]struct{}),
	}, nil
}

func (t *ristrettoTier) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	raw, err := t.manager.Get(ctx, key)
	if err != nil || raw == nil {
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		t.logger.Warn("cache entry decode failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	return e.Value, true
}

func (t *ristrettoTier) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) bool {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		t.logger.Warn("cache value encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	payload, err := json.Marshal(entry{CachedAt: time.Now().UTC(), Value: valueJSON})
	if err != nil {
		return false
	}

	if err := t.manager.Set(ctx, key, payload, store.WithExpiration(ttl)); err != nil {
		t.logger.Warn("cache set failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	t.registerKey(key)
	return true
}

func (t *ristrettoTier) MGet(ctx context.Context, keys []string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := t.Get(ctx, k); ok {
			out[k] = v
		}
	}
	return out
}

func (t *ristrettoTier) MSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) bool {
	ok := true
	for k, v := range items {
		if !t.Set(ctx, k, v, ttl) {
			ok = false
		}
	}
	return ok
}

func (t *ristrettoTier) Delete(ctx context.Context, key string) bool {
	if err := t.manager.Delete(ctx, key); err != nil {
		t.logger.Warn("cache delete failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	t.unregisterKey(key)
	return true
}

// DeleteByPattern removes every registered key with the given prefix
// (the gateway's key schemes are all prefix-delimited, so a caller
// passing e.g. "paper:abc123" clears every cached view of that paper).
func (t *ristrettoTier) DeleteByPattern(ctx context.Context, prefix string) int {
	t.mu.Lock()
	matched := make([]string, 0)
	for k := range t.keys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	t.mu.Unlock()

	deleted := 0
	for _, k := range matched {
		if t.Delete(ctx, k) {
			deleted++
		}
	}
	return deleted
}

func (t *ristrettoTier) Exists(ctx context.Context, key string) bool {
	_, ok := t.Get(ctx, key)
	return ok
}

// TTL is best-effort: ristretto does not expose remaining TTL, so a hit
// reports a positive sentinel duration rather than a precise value.
func (t *ristrettoTier) TTL(ctx context.Context, key string) (time.Duration, bool) {
	if _, ok := t.Get(ctx, key); !ok {
		return 0, false
	}
	return time.Minute, true
}

func (t *ristrettoTier) registerKey(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys[key] = struct{}{}
}

func (t *ristrettoTier) unregisterKey(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.keys, key)
}
