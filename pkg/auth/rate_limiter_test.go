package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"forumsearch/application/ports"
	"forumsearch/infrastructure/persistence/kvstore"
	apperrors "forumsearch/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Set(offset time.Duration) {
	c.t = time.Unix(1_700_000_000, 0).Add(offset)
}

func newTestLimiter(t *testing.T, store ports.Store, policies map[Action]Policy) (*RateLimiter, *testClock) {
	t.Helper()
	clock := &testClock{}
	clock.Set(0)
	l, err := NewRateLimiter(store, policies, zap.NewNop(), WithClock(clock.Now))
	require.NoError(t, err)
	return l, clock
}

// downStore fails every call
type downStore struct{}

func (downStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, ports.ErrUnavailable
}

func (downStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return ports.ErrUnavailable
}

func (downStore) Delete(ctx context.Context, key string) error {
	return ports.ErrUnavailable
}

func TestRateLimiter_QuotaBlockAndRecovery(t *testing.T) {
	ctx := context.Background()
	block := 300 * time.Second
	limiter, clock := newTestLimiter(t, kvstore.NewMemoryStore(1024*1024), map[Action]Policy{
		ActionSearch: {Requests: 3, Window: 60 * time.Second, Block: block},
	})

	for i, want := range []int{2, 1, 0} {
		clock.Set(time.Duration(i*10) * time.Second)
		d, err := limiter.CheckAndRecord(ctx, ActionSearch, "ip:203.0.113.7")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, want, d.Remaining, "request %d", i)
		assert.Nil(t, d.BlockedUntil)
		assert.Equal(t, clock.t.Add(-time.Duration(i*10)*time.Second).Add(60*time.Second), d.ResetTime)
	}

	clock.Set(25 * time.Second)
	d, err := limiter.CheckAndRecord(ctx, ActionSearch, "ip:203.0.113.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	require.NotNil(t, d.BlockedUntil)
	assert.Equal(t, clock.t.Add(block), *d.BlockedUntil)
	assert.Equal(t, *d.BlockedUntil, d.ResetTime)

	// still blocked later in the block period
	clock.Set(200 * time.Second)
	d, err = limiter.CheckAndRecord(ctx, ActionSearch, "ip:203.0.113.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	clock.Set(block + 26*time.Second)
	d, err = limiter.CheckAndRecord(ctx, ActionSearch, "ip:203.0.113.7")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
	assert.Nil(t, d.BlockedUntil)
}

func TestRateLimiter_BlockEndsAtBlockedUntil(t *testing.T) {
	ctx := context.Background()
	limiter, clock := newTestLimiter(t, kvstore.NewMemoryStore(1024*1024), map[Action]Policy{
		ActionSearch: {Requests: 1, Window: 10 * time.Second, Block: 30 * time.Second},
	})

	_, err := limiter.CheckAndRecord(ctx, ActionSearch, "user:1")
	require.NoError(t, err)

	clock.Set(time.Second)
	d, err := limiter.CheckAndRecord(ctx, ActionSearch, "user:1")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	clock.Set(31 * time.Second)
	d, err = limiter.CheckAndRecord(ctx, ActionSearch, "user:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "now == blocked_until lifts the block")
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	ctx := context.Background()
	limiter, clock := newTestLimiter(t, kvstore.NewMemoryStore(1024*1024), map[Action]Policy{
		ActionSuggestions: {Requests: 2, Window: 60 * time.Second, Block: 300 * time.Second},
	})

	clock.Set(0)
	_, err := limiter.CheckAndRecord(ctx, ActionSuggestions, "ip:198.51.100.1")
	require.NoError(t, err)
	clock.Set(30 * time.Second)
	d, err := limiter.CheckAndRecord(ctx, ActionSuggestions, "ip:198.51.100.1")
	require.NoError(t, err)
	require.Equal(t, 0, d.Remaining)

	// first request has left the window
	clock.Set(61 * time.Second)
	d, err = limiter.CheckAndRecord(ctx, ActionSuggestions, "ip:198.51.100.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Unix(1_700_000_000, 0).Add(90*time.Second), d.ResetTime)
}

func TestRateLimiter_WindowBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	limiter, clock := newTestLimiter(t, kvstore.NewMemoryStore(1024*1024), map[Action]Policy{
		ActionSuggestions: {Requests: 2, Window: 60 * time.Second, Block: 300 * time.Second},
	})

	clock.Set(0)
	_, err := limiter.CheckAndRecord(ctx, ActionSuggestions, "ip:198.51.100.1")
	require.NoError(t, err)
	clock.Set(30 * time.Second)
	_, err = limiter.CheckAndRecord(ctx, ActionSuggestions, "ip:198.51.100.1")
	require.NoError(t, err)

	// a request exactly one window after the first still counts it
	clock.Set(60 * time.Second)
	d, err := limiter.Peek(ctx, ActionSuggestions, "ip:198.51.100.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = limiter.CheckAndRecord(ctx, ActionSuggestions, "ip:198.51.100.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.NotNil(t, d.BlockedUntil)
	assert.Equal(t, time.Unix(1_700_000_000, 0).Add(360*time.Second), *d.BlockedUntil)
}

func TestRateLimiter_IdentifiersAndActionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, kvstore.NewMemoryStore(1024*1024), map[Action]Policy{
		ActionSearch:      {Requests: 1, Window: time.Minute, Block: time.Minute},
		ActionSuggestions: {Requests: 1, Window: time.Minute, Block: time.Minute},
	})

	d, _ := limiter.CheckAndRecord(ctx, ActionSearch, "user:a")
	assert.True(t, d.Allowed)
	d, _ = limiter.CheckAndRecord(ctx, ActionSearch, "user:b")
	assert.True(t, d.Allowed)
	d, _ = limiter.CheckAndRecord(ctx, ActionSuggestions, "user:a")
	assert.True(t, d.Allowed)
	d, _ = limiter.CheckAndRecord(ctx, ActionSearch, "user:a")
	assert.False(t, d.Allowed)
}

func TestRateLimiter_UnknownAction(t *testing.T) {
	limiter, _ := newTestLimiter(t, kvstore.NewMemoryStore(1024*1024), nil)

	_, err := limiter.CheckAndRecord(context.Background(), Action("upload"), "user:1")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	limiter, _ := newTestLimiter(t, downStore{}, nil)

	for i := 0; i < 50; i++ {
		d, err := limiter.CheckAndRecord(context.Background(), ActionSearch, "ip:203.0.113.9")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.True(t, d.Degraded)
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, kvstore.NewMemoryStore(1024*1024), map[Action]Policy{
		ActionAdmin: {Requests: 1, Window: time.Minute, Block: 10 * time.Minute},
	})

	_, _ = limiter.CheckAndRecord(ctx, ActionAdmin, "user:ops")
	d, _ := limiter.CheckAndRecord(ctx, ActionAdmin, "user:ops")
	require.False(t, d.Allowed)

	require.NoError(t, limiter.Reset(ctx, ActionAdmin, "user:ops"))

	d, err := limiter.CheckAndRecord(ctx, ActionAdmin, "user:ops")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	err = limiter.Reset(ctx, Action("nope"), "user:ops")
	assert.True(t, apperrors.IsValidation(err))
}

func TestRateLimiter_Peek(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, kvstore.NewMemoryStore(1024*1024), map[Action]Policy{
		ActionSearch: {Requests: 2, Window: time.Minute, Block: time.Minute},
	})

	d, err := limiter.Peek(ctx, ActionSearch, "user:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)

	_, _ = limiter.CheckAndRecord(ctx, ActionSearch, "user:1")
	for i := 0; i < 3; i++ {
		d, err = limiter.Peek(ctx, ActionSearch, "user:1")
		require.NoError(t, err)
		assert.Equal(t, 1, d.Remaining, "peek must not record")
	}

	l, _ := newTestLimiter(t, downStore{}, nil)
	_, err = l.Peek(ctx, ActionSearch, "user:1")
	assert.True(t, errors.Is(err, ports.ErrUnavailable))
}

func TestRateLimiter_PolicyValidation(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
	}{
		{"zero quota", Policy{Requests: 0, Window: time.Minute, Block: time.Minute}},
		{"negative window", Policy{Requests: 1, Window: -time.Second, Block: time.Minute}},
		{"zero block", Policy{Requests: 1, Window: time.Minute}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRateLimiter(kvstore.NewMemoryStore(1024*1024), map[Action]Policy{ActionSearch: tt.policy}, nil)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestRateLimiter_UpdatePolicies(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, kvstore.NewMemoryStore(1024*1024), nil)

	assert.Equal(t, DefaultPolicies(), limiter.Policies())

	err := limiter.UpdatePolicies(map[Action]Policy{
		ActionSearch: {Requests: 1, Window: time.Minute, Block: time.Minute},
		ActionAdmin:  {Requests: -1, Window: time.Minute, Block: time.Minute},
	})
	require.Error(t, err)
	assert.Equal(t, DefaultPolicies(), limiter.Policies(), "invalid update must not apply")

	require.NoError(t, limiter.UpdatePolicies(map[Action]Policy{
		ActionSearch: {Requests: 1, Window: time.Minute, Block: time.Minute},
	}))
	assert.Equal(t, 1, limiter.Policies()[ActionSearch].Requests)
	assert.Equal(t, 100, limiter.Policies()[ActionAdmin].Requests)

	_, _ = limiter.CheckAndRecord(ctx, ActionSearch, "user:x")
	d, _ := limiter.CheckAndRecord(ctx, ActionSearch, "user:x")
	assert.False(t, d.Allowed)
}
