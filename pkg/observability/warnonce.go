package observability

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// WarnOnce logs a warning the first time a degradation is seen and stays
// quiet for repeats until the degradation recovers or the interval passes.
// It keeps a sustained store outage from producing one log line per request.
type WarnOnce struct {
	mu     sync.Mutex
	active *expirable.LRU[string, time.Time]
	logger *zap.Logger
}

// NewWarnOnce creates a gate. interval bounds how long a single outage stays
// silent before it is reported again.
func NewWarnOnce(logger *zap.Logger, interval time.Duration) *WarnOnce {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &WarnOnce{
		active: expirable.NewLRU[string, time.Time](256, nil, interval),
		logger: logger,
	}
}

// Warn logs msg unless key is already active. Reports whether it logged.
func (w *WarnOnce) Warn(key, msg string, fields ...zap.Field) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.active.Get(key); ok {
		return false
	}
	w.active.Add(key, time.Now())
	w.logger.Warn(msg, append(fields, zap.String("degradation", key))...)
	return true
}

// Recover clears key and logs the outage duration if it was active
func (w *WarnOnce) Recover(key, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	since, ok := w.active.Peek(key)
	if !ok {
		return
	}
	w.active.Remove(key)
	w.logger.Info(msg,
		zap.String("degradation", key),
		zap.Duration("degraded_for", time.Since(since)),
	)
}
