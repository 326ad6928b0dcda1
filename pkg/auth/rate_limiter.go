package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"forumsearch/application/ports"
	apperrors "forumsearch/pkg/errors"
	"forumsearch/pkg/observability"

	"go.uber.org/zap"
)

// Action is a rate-limited operation
type Action string

const (
	ActionSearch      Action = "search"
	ActionSuggestions Action = "suggestions"
	ActionAdmin       Action = "admin"
)

// Policy is the quota for one action: at most Requests per Window, then a
// hard block for Block
type Policy struct {
	Requests int           `json:"requests" yaml:"requests"`
	Window   time.Duration `json:"window" yaml:"window"`
	Block    time.Duration `json:"block" yaml:"block"`
}

// Validate rejects non-positive quotas and durations
func (p Policy) Validate() error {
	if p.Requests <= 0 {
		return fmt.Errorf("requests must be positive, got %d", p.Requests)
	}
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", p.Window)
	}
	if p.Block <= 0 {
		return fmt.Errorf("block must be positive, got %s", p.Block)
	}
	return nil
}

// DefaultPolicies returns the built-in per-action quotas
func DefaultPolicies() map[Action]Policy {
	return map[Action]Policy{
		ActionSearch:      {Requests: 30, Window: 60 * time.Second, Block: 300 * time.Second},
		ActionSuggestions: {Requests: 60, Window: 60 * time.Second, Block: 300 * time.Second},
		ActionAdmin:       {Requests: 100, Window: 60 * time.Second, Block: 600 * time.Second},
	}
}

// Decision is the outcome of an admission check
type Decision struct {
	Allowed      bool       `json:"allowed"`
	Remaining    int        `json:"remaining"`
	ResetTime    time.Time  `json:"reset_time"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`

	// Degraded is set when the store could not be reached and the request
	// was let through unchecked
	Degraded bool `json:"degraded,omitempty"`
}

// RetryAfter returns how long a rejected caller should wait
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || d.ResetTime.Before(now) {
		return 0
	}
	return d.ResetTime.Sub(now)
}

// RateLimitError builds the RATE_LIMIT error returned for a rejected decision
func RateLimitError(action Action, decision Decision, now time.Time) *apperrors.AppError {
	details := map[string]interface{}{
		"action":     string(action),
		"reset_time": decision.ResetTime.Unix(),
	}
	if decision.BlockedUntil != nil {
		details["blocked_until"] = decision.BlockedUntil.Unix()
	}
	return apperrors.NewRateLimitError(string(action), decision.RetryAfter(now)).
		WithDetails(details).
		WithCode("RATE_LIMITED_" + strings.ToUpper(string(action)))
}

type blockRecord struct {
	BlockedUntil int64 `json:"blocked_until"`
}

// RateLimiter enforces a sliding window per (action, identifier) with a
// hard block once the quota is exceeded. State lives in the shared store so
// every instance sees the same windows. The prune-then-append sequence is
// not atomic across instances; concurrent requests may be undercounted.
type RateLimiter struct {
	store ports.Store

	mu       sync.RWMutex
	policies map[Action]Policy

	now     func() time.Time
	logger  *zap.Logger
	warn    *observability.WarnOnce
	metrics *observability.Collector
}

// RateLimiterOption configures a RateLimiter
type RateLimiterOption func(*RateLimiter)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) RateLimiterOption {
	return func(l *RateLimiter) {
		l.now = now
	}
}

// WithMetrics records decisions on the given collector
func WithMetrics(metrics *observability.Collector) RateLimiterOption {
	return func(l *RateLimiter) {
		l.metrics = metrics
	}
}

// WithWarnOnce shares a warn-once gate with other components
func WithWarnOnce(warn *observability.WarnOnce) RateLimiterOption {
	return func(l *RateLimiter) {
		l.warn = warn
	}
}

// NewRateLimiter creates a limiter. Actions missing from policies use the
// defaults; an invalid policy is rejected.
func NewRateLimiter(store ports.Store, policies map[Action]Policy, logger *zap.Logger, opts ...RateLimiterOption) (*RateLimiter, error) {
	if store == nil {
		return nil, apperrors.NewValidationError("rate limiter requires a store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	merged, err := mergePolicies(DefaultPolicies(), policies)
	if err != nil {
		return nil, err
	}

	l := &RateLimiter{
		store:    store,
		policies: merged,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.warn == nil {
		l.warn = observability.NewWarnOnce(logger, time.Minute)
	}

	return l, nil
}

func mergePolicies(base, overrides map[Action]Policy) (map[Action]Policy, error) {
	merged := make(map[Action]Policy, len(base))
	for action, p := range base {
		merged[action] = p
	}
	for action, p := range overrides {
		if err := p.Validate(); err != nil {
			return nil, apperrors.NewValidationErrorf("invalid rate limit policy for %q: %v", action, err)
		}
		merged[action] = p
	}
	return merged, nil
}

// UpdatePolicies replaces the policies named in policies. Nothing changes
// if any of them is invalid.
func (l *RateLimiter) UpdatePolicies(policies map[Action]Policy) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged, err := mergePolicies(l.policies, policies)
	if err != nil {
		return err
	}
	l.policies = merged
	return nil
}

// Policies returns a copy of the active policies
func (l *RateLimiter) Policies() map[Action]Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[Action]Policy, len(l.policies))
	for action, p := range l.policies {
		out[action] = p
	}
	return out
}

// Actions returns the configured actions in sorted order
func (l *RateLimiter) Actions() []Action {
	l.mu.RLock()
	defer l.mu.RUnlock()

	actions := make([]Action, 0, len(l.policies))
	for action := range l.policies {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

func (l *RateLimiter) policy(action Action) (Policy, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.policies[action]
	if !ok {
		return Policy{}, apperrors.NewValidationErrorf("unknown rate limit action %q", action)
	}
	return p, nil
}

func windowKey(action Action, identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s", action, identifier)
}

func blockKey(action Action, identifier string) string {
	return fmt.Sprintf("ratelimit:block:%s:%s", action, identifier)
}

// CheckAndRecord decides whether a request may proceed and records it if
// so. The only error is an unknown action; store failures let the request
// through with Degraded set.
func (l *RateLimiter) CheckAndRecord(ctx context.Context, action Action, identifier string) (Decision, error) {
	p, err := l.policy(action)
	if err != nil {
		return Decision{}, err
	}
	now := l.now()

	if d, blocked, err := l.checkBlock(ctx, action, identifier, now); err != nil {
		return l.failOpen(action, p, now, "get_block", err), nil
	} else if blocked {
		l.metrics.RateLimitDecision(string(action), "rejected")
		return d, nil
	}

	timestamps, err := l.loadWindow(ctx, action, identifier, now, p.Window)
	if err != nil {
		return l.failOpen(action, p, now, "get_window", err), nil
	}

	if len(timestamps) >= p.Requests {
		blockedUntil := now.Add(p.Block)
		raw, _ := json.Marshal(blockRecord{BlockedUntil: blockedUntil.UnixMilli()})
		if err := l.store.Set(ctx, blockKey(action, identifier), raw, p.Block); err != nil {
			return l.failOpen(action, p, now, "set_block", err), nil
		}
		// the next window starts fresh once the block lifts
		if err := l.store.Delete(ctx, windowKey(action, identifier)); err != nil {
			l.storeError(action, "delete_window", err)
		} else {
			l.storeRecovered()
		}

		l.logger.Info("rate limit exceeded, blocking",
			zap.String("action", string(action)),
			zap.String("identifier", identifier),
			zap.Time("blocked_until", blockedUntil),
		)
		l.metrics.RateLimitDecision(string(action), "rejected")
		return Decision{
			Allowed:      false,
			Remaining:    0,
			ResetTime:    blockedUntil,
			BlockedUntil: &blockedUntil,
		}, nil
	}

	timestamps = append(timestamps, now.UnixMilli())
	raw, _ := json.Marshal(timestamps)
	if err := l.store.Set(ctx, windowKey(action, identifier), raw, p.Window); err != nil {
		return l.failOpen(action, p, now, "set_window", err), nil
	}
	l.storeRecovered()

	l.metrics.RateLimitDecision(string(action), "allowed")
	return Decision{
		Allowed:   true,
		Remaining: p.Requests - len(timestamps),
		ResetTime: time.UnixMilli(timestamps[0]).Add(p.Window),
	}, nil
}

// Peek reports the decision the next request would get without recording it
func (l *RateLimiter) Peek(ctx context.Context, action Action, identifier string) (Decision, error) {
	p, err := l.policy(action)
	if err != nil {
		return Decision{}, err
	}
	now := l.now()

	if d, blocked, err := l.checkBlock(ctx, action, identifier, now); err != nil {
		return Decision{}, fmt.Errorf("read block record: %w", err)
	} else if blocked {
		return d, nil
	}

	timestamps, err := l.loadWindow(ctx, action, identifier, now, p.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("read request window: %w", err)
	}

	d := Decision{
		Allowed:   len(timestamps) < p.Requests,
		Remaining: p.Requests - len(timestamps),
		ResetTime: now.Add(p.Window),
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if len(timestamps) > 0 {
		d.ResetTime = time.UnixMilli(timestamps[0]).Add(p.Window)
	}
	return d, nil
}

// Reset clears the window and any block for the identifier
func (l *RateLimiter) Reset(ctx context.Context, action Action, identifier string) error {
	if _, err := l.policy(action); err != nil {
		return err
	}

	var errs []error
	if err := l.store.Delete(ctx, blockKey(action, identifier)); err != nil {
		errs = append(errs, err)
	}
	if err := l.store.Delete(ctx, windowKey(action, identifier)); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reset rate limit %s/%s: %w", action, identifier, err)
	}

	l.logger.Info("rate limit reset",
		zap.String("action", string(action)),
		zap.String("identifier", identifier),
	)
	return nil
}

// checkBlock returns a rejecting decision while a block is live. An
// expired block record is discarded.
func (l *RateLimiter) checkBlock(ctx context.Context, action Action, identifier string, now time.Time) (Decision, bool, error) {
	raw, err := l.store.Get(ctx, blockKey(action, identifier))
	if errors.Is(err, ports.ErrNotFound) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, err
	}

	var rec blockRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		l.logger.Warn("discarding malformed rate limit block record",
			zap.String("action", string(action)),
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		_ = l.store.Delete(ctx, blockKey(action, identifier))
		return Decision{}, false, nil
	}

	blockedUntil := time.UnixMilli(rec.BlockedUntil)
	if blockedUntil.After(now) {
		return Decision{
			Allowed:      false,
			Remaining:    0,
			ResetTime:    blockedUntil,
			BlockedUntil: &blockedUntil,
		}, true, nil
	}

	if err := l.store.Delete(ctx, blockKey(action, identifier)); err != nil {
		l.storeError(action, "delete_block", err)
	}
	return Decision{}, false, nil
}

// loadWindow returns the request timestamps (unix ms) inside the window
func (l *RateLimiter) loadWindow(ctx context.Context, action Action, identifier string, now time.Time, window time.Duration) ([]int64, error) {
	raw, err := l.store.Get(ctx, windowKey(action, identifier))
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var timestamps []int64
	if err := json.Unmarshal(raw, &timestamps); err != nil {
		l.logger.Warn("discarding malformed rate limit window",
			zap.String("action", string(action)),
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		return nil, nil
	}

	windowStart := now.Add(-window).UnixMilli()
	pruned := timestamps[:0]
	for _, ts := range timestamps {
		if ts >= windowStart {
			pruned = append(pruned, ts)
		}
	}
	return pruned, nil
}

func (l *RateLimiter) failOpen(action Action, p Policy, now time.Time, op string, err error) Decision {
	l.storeError(action, op, err)
	l.metrics.RateLimitDecision(string(action), "fail_open")
	return Decision{
		Allowed:   true,
		Remaining: p.Requests,
		ResetTime: now.Add(p.Window),
		Degraded:  true,
	}
}

func (l *RateLimiter) storeError(action Action, op string, err error) {
	l.metrics.StoreError("ratelimit", op)
	l.warn.Warn("ratelimit:store", "rate limiter store unavailable, failing open",
		zap.String("action", string(action)),
		zap.String("operation", op),
		zap.Error(err),
	)
}

func (l *RateLimiter) storeRecovered() {
	l.warn.Recover("ratelimit:store", "rate limiter store recovered")
}
