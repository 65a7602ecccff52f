package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"limitgate/internal/models"
)

// Principal carries the caller identity resolved by the surrounding
// authentication layer. Anonymous requests have an empty UserID.
type Principal struct {
	UserID string
	Role   string
	Tier   Tier
}

type principalContextKey struct{}

// WithPrincipal attaches the resolved caller identity to the request context.
// The auth middleware calls this; Guard reads it back.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFrom extracts the caller identity from the request context.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// RejectionEvent describes one denied request, handed to the rejection hook
// for offline analytics. The hook must not block; slow consumers should
// buffer or drop.
type RejectionEvent struct {
	Key        string
	UserID     string
	Tier       Tier
	Category   Category
	Code       string
	Limit      int
	RetryAfter time.Duration
	OccurredAt time.Time
}

// GuardOption configures the Guard middleware.
type GuardOption func(*guard)

// WithDailyQuota enables the daily quota check for authenticated callers on
// top of the windowed limit.
func WithDailyQuota() GuardOption {
	return func(g *guard) {
		g.quota = true
	}
}

// WithRejectionHook registers a callback invoked for every denied request.
func WithRejectionHook(hook func(RejectionEvent)) GuardOption {
	return func(g *guard) {
		g.onRejection = hook
	}
}

// WithGuardLogger sets the logger for rejection warnings.
func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *guard) {
		g.logger = logger
	}
}

type guard struct {
	limiter     *Limiter
	category    Category
	quota       bool
	onRejection func(RejectionEvent)
	logger      *slog.Logger
}

// Guard returns HTTP middleware enforcing the given category's windowed
// limit, and optionally the daily quota, for every request it wraps.
//
// For each request it resolves the identity key and tier from the request
// context, checks role bypass before touching the counter store (exempted
// roles never consume a budget slot), calls the limiter core, and either
// attaches informational headers and proceeds or short-circuits with a 429.
func Guard(limiter *Limiter, category Category, opts ...GuardOption) func(http.Handler) http.Handler {
	g := &guard{
		limiter:  limiter,
		category: category,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	policy, ok := g.limiter.Policies().Category(g.category)
	if !ok {
		// A route guarded with an unregistered category is a programming
		// error, not a traffic condition.
		writeLimiterError(w, http.StatusInternalServerError,
			models.NewErrorResponse("rate limit category not configured", models.ErrorCodeInternalError))
		return
	}

	principal, _ := PrincipalFrom(r.Context())
	if principal.Role != "" && policy.SkipsRole(principal.Role) {
		next.ServeHTTP(w, r)
		return
	}

	tier := principal.Tier
	if tier == "" {
		tier = TierFree
	}
	identity := resolveIdentity(r, policy.KeyType, principal)

	result, err := g.limiter.Check(r.Context(), identity, g.category, tier)
	if err != nil {
		writeLimiterError(w, http.StatusInternalServerError,
			models.NewErrorResponse(err.Error(), models.ErrorCodeInternalError))
		return
	}

	setLimitHeaders(w, result)

	if !result.Allowed {
		g.reject(w, r, principal, tier, models.ErrorCodeRateLimitExceeded, result.Reason, models.ErrorDetails{
			Category:   string(result.Category),
			Limit:      result.Limit,
			Remaining:  0,
			RetryAfter: int(result.RetryAfter.Seconds()),
			ResetAt:    result.ResetAt,
		}, result.RetryAfter, identity)
		return
	}

	if g.quota && principal.UserID != "" {
		q := g.limiter.CheckDailyQuota(r.Context(), principal.UserID, tier)
		if !q.Unlimited {
			w.Header().Set("X-Quota-Limit", fmt.Sprintf("%d", q.Limit))
			w.Header().Set("X-Quota-Remaining", fmt.Sprintf("%d", q.Remaining))
		}
		if !q.Allowed {
			retryAfter := ceilSeconds(time.Until(q.ResetAt))
			g.reject(w, r, principal, tier, models.ErrorCodeDailyQuotaExceeded,
				"Daily usage quota exceeded", models.ErrorDetails{
					Category:   string(g.category),
					Limit:      q.Limit,
					Remaining:  0,
					RetryAfter: int(retryAfter.Seconds()),
					ResetAt:    q.ResetAt,
				}, retryAfter, identity)
			return
		}
	}

	next.ServeHTTP(w, r)
}

// reject writes the 429 response and notifies the rejection hook.
func (g *guard) reject(w http.ResponseWriter, r *http.Request, principal Principal, tier Tier,
	code, message string, details models.ErrorDetails, retryAfter time.Duration, identity string) {

	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
	writeLimiterError(w, http.StatusTooManyRequests, models.NewRejectionResponse(code, message, details))

	g.logger.Warn("request rejected",
		"code", code,
		"category", g.category,
		"key", identity,
		"tier", tier,
		"retry_after", retryAfter,
	)

	if g.onRejection != nil {
		g.onRejection(RejectionEvent{
			Key:        identity,
			UserID:     principal.UserID,
			Tier:       tier,
			Category:   g.category,
			Code:       code,
			Limit:      details.Limit,
			RetryAfter: retryAfter,
			OccurredAt: time.Now(),
		})
	}
}

// setLimitHeaders attaches the informational rate limit headers on every
// guarded response, allowed or not.
func setLimitHeaders(w http.ResponseWriter, result Result) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetAt.Unix()))
	w.Header().Set("X-RateLimit-Category", string(result.Category))
}

// resolveIdentity picks the counter key for a request according to the
// policy's key type, falling back to the client IP when no user is known.
func resolveIdentity(r *http.Request, keyType KeyType, principal Principal) string {
	switch keyType {
	case KeyTypeUser, KeyTypeUserOrIP:
		if principal.UserID != "" {
			return "user:" + principal.UserID
		}
		return "ip:" + clientIP(r)
	default:
		return "ip:" + clientIP(r)
	}
}

// clientIP extracts the client IP from the request, checking proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}

func writeLimiterError(w http.ResponseWriter, status int, resp *models.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
