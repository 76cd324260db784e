package cache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTier(t *testing.T) Tier {
	t.Helper()
	tier, err := New(Config{NumCounters: 1000, MaxCost: 1 << 20}, slog.Default())
	require.NoError(t, err)
	return tier
}

// ristretto buffers writes asynchronously; tests give the buffer a beat
// to drain before asserting on a just-written key.
func settle() { time.Sleep(20 * time.Millisecond) }

func TestTier_SetGet(t *testing.T) {
	tier := newTestTier(t)
	ctx := context.Background()

	ok := tier.Set(ctx, "paper:abc:full", map[string]string{"paperId": "abc"}, time.Minute)
	require.True(t, ok)
	settle()

	raw, found := tier.Get(ctx, "paper:abc:full")
	require.True(t, found)
	assert.Contains(t, string(raw), "abc")
}

func TestTier_GetMiss(t *testing.T) {
	tier := newTestTier(t)
	_, found := tier.Get(context.Background(), "paper:does-not-exist:full")
	assert.False(t, found)
}

func TestTier_MSetMGet(t *testing.T) {
	tier := newTestTier(t)
	ctx := context.Background()

	items := map[string]interface{}{
		"paper:one:full": map[string]string{"paperId": "one"},
		"paper:two:full": map[string]string{"paperId": "two"},
	}
	require.True(t, tier.MSet(ctx, items, time.Minute))
	settle()

	got := tier.MGet(ctx, []string{"paper:one:full", "paper:two:full", "paper:missing:full"})
	assert.Len(t, got, 2)
	assert.Contains(t, string(got["paper:one:full"]), "one")
}

func TestTier_DeleteByPattern(t *testing.T) {
	tier := newTestTier(t)
	ctx := context.Background()

	tier.Set(ctx, "paper:abc:full", "v1", time.Minute)
	tier.Set(ctx, "paper:abc:selector:deadbeef", "v2", time.Minute)
	tier.Set(ctx, "paper:xyz:full", "v3", time.Minute)
	settle()

	deleted := tier.DeleteByPattern(ctx, "paper:abc")
	assert.Equal(t, 2, deleted)

	_, found := tier.Get(ctx, "paper:xyz:full")
	assert.True(t, found)
	_, found = tier.Get(ctx, "paper:abc:full")
	assert.False(t, found)
}

func TestTier_Exists(t *testing.T) {
	tier := newTestTier(t)
	ctx := context.Background()

	assert.False(t, tier.Exists(ctx, "paper:abc:full"))
	tier.Set(ctx, "paper:abc:full", "v", time.Minute)
	settle()
	assert.True(t, tier.Exists(ctx, "paper:abc:full"))
}
