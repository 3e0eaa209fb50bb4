package allowlist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a controllable catalogue for cache tests
type fakeSource struct {
	mu    sync.Mutex
	rows  []TableRow
	err   error
	loads atomic.Int64
	slow  time.Duration
}

func (f *fakeSource) LoadActiveTables(ctx context.Context) ([]TableRow, error) {
	f.loads.Add(1)
	if f.slow > 0 {
		time.Sleep(f.slow)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]TableRow, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeSource) set(rows []TableRow, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
	f.err = err
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "ih.patients", NormalizeKey("ih", "patients"))
	assert.Equal(t, "ih.patients", NormalizeKey("IH", "Patients"))
	assert.Equal(t, "ih.patients", NormalizeKey(`"ih"`, `"patients"`))
	assert.Equal(t, "patients", NormalizeKey("", "patients"))
}

func TestCache_LoadsAndContains(t *testing.T) {
	src := &fakeSource{rows: []TableRow{{Schema: "ih", Table: "patients"}, {Schema: "ih", Table: "appointments"}}}
	cache := NewCache(src, time.Minute)

	snap, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())

	assert.True(t, snap.Contains("ih", "patients"))
	assert.True(t, snap.Contains("IH", "PATIENTS"))
	assert.False(t, snap.Contains("public", "users"))

	// Unqualified references resolve through the bare key
	assert.True(t, snap.Contains("", "patients"))
}

func TestCache_ColdFailureIsClosed(t *testing.T) {
	src := &fakeSource{err: errors.New("catalogue down")}
	cache := NewCache(src, time.Minute)

	_, err := cache.Get(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCache_ServesWithinTTLWithoutReload(t *testing.T) {
	src := &fakeSource{rows: []TableRow{{Schema: "ih", Table: "patients"}}}
	cache := NewCache(src, time.Minute)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	_, err = cache.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), src.loads.Load())
}

func TestCache_ReloadsAfterTTL(t *testing.T) {
	src := &fakeSource{rows: []TableRow{{Schema: "ih", Table: "patients"}}}
	cache := NewCache(src, 10*time.Millisecond)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	src.set([]TableRow{{Schema: "ih", Table: "patients"}, {Schema: "ih", Table: "providers"}}, nil)
	time.Sleep(20 * time.Millisecond)

	snap, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())
	assert.True(t, snap.Contains("ih", "providers"))
}

func TestCache_InvalidateForcesReload(t *testing.T) {
	src := &fakeSource{rows: []TableRow{{Schema: "ih", Table: "patients"}}}
	cache := NewCache(src, time.Hour)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	// Newly activated table becomes visible immediately after invalidate
	src.set([]TableRow{{Schema: "ih", Table: "patients"}, {Schema: "ih", Table: "labs"}}, nil)
	cache.Invalidate()

	snap, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Contains("ih", "labs"))
	assert.Equal(t, int64(2), src.loads.Load())
}

func TestCache_DeactivatedTableDropsOut(t *testing.T) {
	src := &fakeSource{rows: []TableRow{{Schema: "ih", Table: "patients"}, {Schema: "ih", Table: "labs"}}}
	cache := NewCache(src, time.Hour)

	snap, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.True(t, snap.Contains("ih", "labs"))

	src.set([]TableRow{{Schema: "ih", Table: "patients"}}, nil)
	cache.Invalidate()

	snap, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Contains("ih", "labs"))
}

func TestCache_ServesStaleOnReloadFailure(t *testing.T) {
	src := &fakeSource{rows: []TableRow{{Schema: "ih", Table: "patients"}}}
	cache := NewCache(src, time.Hour)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	src.set(nil, errors.New("catalogue down"))
	cache.Invalidate()

	// Reload fails, but the prior snapshot keeps serving
	snap, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Contains("ih", "patients"))
}

func TestCache_ConcurrentReloadsCollapse(t *testing.T) {
	src := &fakeSource{rows: []TableRow{{Schema: "ih", Table: "patients"}}, slow: 20 * time.Millisecond}
	cache := NewCache(src, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := cache.Get(context.Background())
			assert.NoError(t, err)
			assert.NotNil(t, snap)
		}()
	}
	wg.Wait()

	// Single-flight keeps concurrent cold reads to one catalogue read
	assert.Equal(t, int64(1), src.loads.Load())
}

func TestIsTableAllowed(t *testing.T) {
	src := &fakeSource{rows: []TableRow{{Schema: "ih", Table: "patients"}}}
	cache := NewCache(src, time.Minute)

	ok, err := cache.IsTableAllowed(context.Background(), "ih", "patients")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.IsTableAllowed(context.Background(), "public", "users")
	require.NoError(t, err)
	assert.False(t, ok)
}
