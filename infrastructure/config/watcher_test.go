package config

import (
	"os"
	"sync"
	"testing"
	"time"

	"forumsearch/pkg/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingUpdater struct {
	mu      sync.Mutex
	applied []map[auth.Action]auth.Policy
}

func (u *recordingUpdater) UpdatePolicies(policies map[auth.Action]auth.Policy) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.applied = append(u.applied, policies)
	return nil
}

func (u *recordingUpdater) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.applied)
}

func (u *recordingUpdater) last() map[auth.Action]auth.Policy {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.applied[len(u.applied)-1]
}

func TestWatcher_Reload(t *testing.T) {
	path := writeFile(t, "rate_limits:\n  search:\n    requests: 3\n    window: 1m\n    block: 5m\n")
	updater := &recordingUpdater{}

	w, err := NewWatcher(path, updater, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	w.Reload()
	require.Equal(t, 1, updater.count())
	assert.Equal(t, 3, updater.last()[auth.ActionSearch].Requests)

	// an invalid file keeps the current policies
	require.NoError(t, os.WriteFile(path, []byte("rate_limits:\n  search:\n    requests: 0\n"), 0o600))
	w.Reload()
	assert.Equal(t, 1, updater.count())
	assert.Equal(t, 1, w.Reloads())
}

func TestWatcher_PicksUpFileChanges(t *testing.T) {
	path := writeFile(t, "log_level: info\n")
	updater := &recordingUpdater{}

	w, err := NewWatcher(path, updater, zap.NewNop())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("rate_limits:\n  admin:\n    requests: 9\n    window: 1m\n    block: 1m\n"), 0o600))

	require.Eventually(t, func() bool { return updater.count() > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 9, updater.last()[auth.ActionAdmin].Requests)
}
