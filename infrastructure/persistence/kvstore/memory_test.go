package kvstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"forumsearch/application/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimer drives freecache expiry
type fakeTimer struct {
	now atomic.Uint32
}

func newFakeTimer() *fakeTimer {
	t := &fakeTimer{}
	t.now.Store(1_000)
	return t
}

func (t *fakeTimer) Now() uint32 { return t.now.Load() }

func (t *fakeTimer) Advance(d time.Duration) { t.now.Add(uint32(d / time.Second)) }

func TestMemoryStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1024 * 1024)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	// deleting an absent key is not an error
	assert.NoError(t, store.Delete(ctx, "k"))
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	timer := newFakeTimer()
	store := NewMemoryStore(1024*1024, WithTimer(timer))

	require.NoError(t, store.Set(ctx, "short", []byte("1"), 10*time.Second))
	require.NoError(t, store.Set(ctx, "forever", []byte("2"), 0))

	timer.Advance(9 * time.Second)
	_, err := store.Get(ctx, "short")
	require.NoError(t, err)

	timer.Advance(2 * time.Second)
	_, err = store.Get(ctx, "short")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	timer.Advance(24 * time.Hour)
	_, err = store.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestMemoryStore_Incr(t *testing.T) {
	ctx := context.Background()
	timer := newFakeTimer()
	store := NewMemoryStore(1024*1024, WithTimer(timer))

	n, err := store.Incr(ctx, "hits", 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	timer.Advance(30 * time.Second)
	n, err = store.Incr(ctx, "hits", 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// the second Incr keeps the original expiry
	timer.Advance(31 * time.Second)
	_, err = store.Get(ctx, "hits")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	// a counter without a remaining TTL takes the caller's
	require.NoError(t, store.Set(ctx, "misses", []byte("4"), 0))
	n, err = store.Incr(ctx, "misses", 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	timer.Advance(61 * time.Second)
	_, err = store.Get(ctx, "misses")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, store.Set(ctx, "text", []byte("abc"), 0))
	_, err = store.Incr(ctx, "text", 0)
	assert.Error(t, err)
}

func TestMemoryStore_IncrConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1024 * 1024)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Incr(ctx, "c", 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "50", string(got))
}

func TestTTLSeconds(t *testing.T) {
	assert.Equal(t, 0, ttlSeconds(0))
	assert.Equal(t, 0, ttlSeconds(-time.Second))
	assert.Equal(t, 1, ttlSeconds(200*time.Millisecond))
	assert.Equal(t, 2, ttlSeconds(1500*time.Millisecond))
	assert.Equal(t, 3600, ttlSeconds(time.Hour))
}
