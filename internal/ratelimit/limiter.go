// Package ratelimit implements the tiered rate-limiting and quota-enforcement
// engine. Every inbound request consults it to decide allow-or-reject, with
// counters held in a shared store so limits are enforced across all process
// instances rather than per-process. It supports per-category windowed limits
// scaled by subscription tier, plus an independent per-user daily quota.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Result is the decision for one windowed limit check. It is computed fresh
// on every call and never persisted.
type Result struct {
	Allowed     bool          `json:"allowed"`
	Key         string        `json:"key"`
	Category    Category      `json:"category"`
	Count       int           `json:"count"`
	Limit       int           `json:"limit"`
	Remaining   int           `json:"remaining"`
	WindowStart time.Time     `json:"window_start"`
	WindowEnd   time.Time     `json:"window_end"`
	ResetAt     time.Time     `json:"reset_at"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"` // meaningful only when denied
	Reason      string        `json:"reason,omitempty"`
}

// Limiter computes effective limits and runs the check-and-increment protocol
// against the counter store. It holds all its dependencies explicitly; there
// is no process-wide registry.
type Limiter struct {
	store        Store
	policies     *Policies
	keys         keyBuilder
	storeTimeout time.Duration
	failClosed   map[Category]bool
	logger       *slog.Logger
	warnEvery    rate.Sometimes
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for degraded-mode warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithStoreTimeout bounds each round trip to the counter store. Timeouts
// trigger the fail-open path instead of blocking the request.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		l.storeTimeout = d
	}
}

// WithFailClosed marks categories that deny traffic when the counter store
// is unreachable. All other categories fail open: an outage of the limiter's
// own backing store must not become an outage of the product.
func WithFailClosed(categories ...Category) Option {
	return func(l *Limiter) {
		for _, c := range categories {
			l.failClosed[c] = true
		}
	}
}

// New creates a Limiter backed by the given counter store and policy
// registry. keyPrefix namespaces all counter keys in the shared store.
func New(store Store, policies *Policies, keyPrefix string, opts ...Option) *Limiter {
	l := &Limiter{
		store:        store,
		policies:     policies,
		keys:         keyBuilder{prefix: keyPrefix},
		storeTimeout: 500 * time.Millisecond,
		failClosed:   make(map[Category]bool),
		logger:       slog.Default(),
		warnEvery:    rate.Sometimes{Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check runs the check-and-increment protocol for one request.
//
// The returned error is non-nil only for an unknown category, which is a
// programming error at the call site. Store failures never surface as
// errors: they take the fail-open path (or fail-closed, if the category is
// configured that way) so hot-path traffic keeps flowing during an outage
// of the limiter's backing store.
func (l *Limiter) Check(ctx context.Context, identity string, c Category, t Tier) (Result, error) {
	policy, ok := l.policies.Category(c)
	if !ok {
		return Result{}, errors.New("unknown rate limit category: " + string(c))
	}
	limit, err := l.policies.EffectiveLimit(c, t)
	if err != nil {
		return Result{}, err
	}

	key := l.keys.window(c, identity)

	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	count, ttl, err := l.store.Get(ctx, key)
	if err != nil {
		return l.storeFailure(c, identity, limit, policy, err), nil
	}

	now := time.Now()

	if count >= int64(limit) {
		// Denied calls do not consume budget: repeated rejections report
		// the same count.
		resetAt := now.Add(policy.Window)
		if ttl > 0 {
			resetAt = now.Add(ttl)
		}
		return Result{
			Allowed:     false,
			Key:         identity,
			Category:    c,
			Count:       int(count),
			Limit:       limit,
			Remaining:   0,
			WindowStart: resetAt.Add(-policy.Window),
			WindowEnd:   resetAt,
			ResetAt:     resetAt,
			RetryAfter:  ceilSeconds(resetAt.Sub(now)),
			Reason:      policy.Message,
		}, nil
	}

	newCount, newTTL, err := l.store.Incr(ctx, key, policy.Window)
	if err != nil {
		return l.storeFailure(c, identity, limit, policy, err), nil
	}

	resetAt := now.Add(newTTL)
	remaining := limit - int(newCount)
	if remaining < 0 {
		// Concurrent callers can overshoot by one unit; never report
		// negative budget.
		remaining = 0
	}

	return Result{
		Allowed:     true,
		Key:         identity,
		Category:    c,
		Count:       int(newCount),
		Limit:       limit,
		Remaining:   remaining,
		WindowStart: resetAt.Add(-policy.Window),
		WindowEnd:   resetAt,
		ResetAt:     resetAt,
	}, nil
}

// State is the read-only counterpart of Check: same limit computation, but
// it only peeks and never increments. Store errors propagate because this
// is an administrative path, not hot-path traffic.
func (l *Limiter) State(ctx context.Context, identity string, c Category, t Tier) (Result, error) {
	policy, ok := l.policies.Category(c)
	if !ok {
		return Result{}, errors.New("unknown rate limit category: " + string(c))
	}
	limit, err := l.policies.EffectiveLimit(c, t)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	count, ttl, err := l.store.Get(ctx, l.keys.window(c, identity))
	if err != nil {
		return Result{}, err
	}

	now := time.Now()
	resetAt := now.Add(policy.Window)
	if ttl > 0 {
		resetAt = now.Add(ttl)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:     count < int64(limit),
		Key:         identity,
		Category:    c,
		Count:       int(count),
		Limit:       limit,
		Remaining:   remaining,
		WindowStart: resetAt.Add(-policy.Window),
		WindowEnd:   resetAt,
		ResetAt:     resetAt,
	}, nil
}

// Reset deletes the counters for the given categories, or for every known
// category when none are specified. It is an explicit administrative
// operation: failures propagate to the caller rather than being swallowed.
func (l *Limiter) Reset(ctx context.Context, identity string, categories ...Category) error {
	if len(categories) == 0 {
		categories = Categories()
	}

	var errs []error
	for _, c := range categories {
		if _, ok := l.policies.Category(c); !ok {
			errs = append(errs, errors.New("unknown rate limit category: "+string(c)))
			continue
		}
		if err := l.store.Delete(ctx, l.keys.window(c, identity)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Policies exposes the read-only policy registry for introspection.
func (l *Limiter) Policies() *Policies {
	return l.policies
}

// storeFailure builds the degraded-mode result for a store error. The
// default is to fail open with a zero count; categories configured
// fail-closed are denied instead. Warnings are throttled so a store outage
// does not flood the log on every request.
func (l *Limiter) storeFailure(c Category, identity string, limit int, policy CategoryPolicy, err error) Result {
	l.warnEvery.Do(func() {
		l.logger.Warn("rate limit store unavailable",
			"category", c,
			"fail_closed", l.failClosed[c],
			"error", err,
		)
	})

	now := time.Now()
	if l.failClosed[c] {
		return Result{
			Allowed:     false,
			Key:         identity,
			Category:    c,
			Limit:       limit,
			Remaining:   0,
			WindowStart: now,
			WindowEnd:   now.Add(policy.Window),
			ResetAt:     now.Add(policy.Window),
			RetryAfter:  ceilSeconds(policy.Window),
			Reason:      "rate limiter temporarily unavailable",
		}
	}

	return Result{
		Allowed:     true,
		Key:         identity,
		Category:    c,
		Count:       0,
		Limit:       limit,
		Remaining:   limit,
		WindowStart: now,
		WindowEnd:   now.Add(policy.Window),
		ResetAt:     now.Add(policy.Window),
	}
}

// ceilSeconds rounds a duration up to whole seconds, the resolution of the
// Retry-After header.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}
