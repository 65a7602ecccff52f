package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"limitgate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore records how often the backend is touched.
type countingStore struct {
	MemoryStore
	mu    sync.Mutex
	calls int
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	s := &countingStore{
		MemoryStore: MemoryStore{
			cleanupInterval: time.Minute,
			counters:        make(map[string]*counter),
			done:            make(chan struct{}),
		},
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func (s *countingStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.MemoryStore.Incr(ctx, key, ttl)
}

func (s *countingStore) Get(ctx context.Context, key string) (int64, time.Duration, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.MemoryStore.Get(ctx, key)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, handler http.Handler, principal *Principal) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", "/guarded", nil)
	req.RemoteAddr = "203.0.113.7:4321"
	if principal != nil {
		req = req.WithContext(WithPrincipal(req.Context(), *principal))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGuard_SetsRateLimitHeaders(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	handler := Guard(limiter, CategoryPublic)(okHandler())

	rec := doRequest(t, handler, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "29", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "public", rec.Header().Get("X-RateLimit-Category"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestGuard_RejectsOverLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	handler := Guard(limiter, CategoryAuth)(okHandler())

	for i := 0; i < 5; i++ {
		rec := doRequest(t, handler, nil)
		require.Equal(t, http.StatusOK, rec.Code, "call %d", i+1)
	}

	rec := doRequest(t, handler, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, models.ErrorCodeRateLimitExceeded, resp.Error.Code)
	require.NotNil(t, resp.Error.Details)
	assert.Equal(t, "auth", resp.Error.Details.Category)
	assert.Equal(t, 5, resp.Error.Details.Limit)
	assert.Equal(t, 0, resp.Error.Details.Remaining)
	assert.Greater(t, resp.Error.Details.RetryAfter, 0)
	assert.False(t, resp.Error.Details.ResetAt.IsZero())
}

func TestGuard_RoleBypassSkipsStore(t *testing.T) {
	store := newCountingStore(t)
	policies, err := NewPolicies(nil)
	require.NoError(t, err)
	limiter := New(store, policies, "test")

	handler := Guard(limiter, CategoryDefault)(okHandler())

	rec := doRequest(t, handler, &Principal{UserID: "u1", Role: "admin", Tier: TierFree})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"), "bypassed requests get no limit headers")
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 0, store.calls, "exempt roles must never consume a budget slot")
}

func TestGuard_TierSelectsLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	handler := Guard(limiter, CategoryAI)(okHandler())

	rec := doRequest(t, handler, &Principal{UserID: "u1", Role: "member", Tier: TierProfessional})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
}

func TestGuard_AnonymousKeyedByIP(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	handler := Guard(limiter, CategoryPublic)(okHandler())

	req := httptest.NewRequest("GET", "/guarded", nil)
	req.RemoteAddr = "10.0.0.1:999"
	req.Header.Set("X-Forwarded-For", "198.51.100.2, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// The forwarded client, not the proxy, owns the window.
	res, err := limiter.State(context.Background(), "ip:198.51.100.2", CategoryPublic, TierFree)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestGuard_DailyQuotaExceeded(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })
	policies, err := NewPolicies(map[string]models.TierOverride{
		"free": {DailyQuota: intPtr(2)},
	})
	require.NoError(t, err)
	limiter := New(store, policies, "test")

	handler := Guard(limiter, CategoryDefault, WithDailyQuota())(okHandler())
	principal := &Principal{UserID: "u1", Role: "member", Tier: TierFree}

	for i := 0; i < 2; i++ {
		rec := doRequest(t, handler, principal)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-Quota-Limit"))
	}

	rec := doRequest(t, handler, principal)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrorCodeDailyQuotaExceeded, resp.Error.Code)
	assert.Equal(t, "0", rec.Header().Get("X-Quota-Remaining"))
}

func TestGuard_QuotaSkippedForAnonymous(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	handler := Guard(limiter, CategoryDefault, WithDailyQuota())(okHandler())

	rec := doRequest(t, handler, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Quota-Limit"), "quota applies to authenticated callers only")
}

func TestGuard_RejectionHook(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	var mu sync.Mutex
	var events []RejectionEvent
	hook := func(ev RejectionEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	handler := Guard(limiter, CategoryAuth, WithRejectionHook(hook))(okHandler())

	for i := 0; i < 7; i++ {
		doRequest(t, handler, nil)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2, "five allowed, two rejected")
	assert.Equal(t, CategoryAuth, events[0].Category)
	assert.Equal(t, models.ErrorCodeRateLimitExceeded, events[0].Code)
	assert.Equal(t, "ip:203.0.113.7:4321", events[0].Key)
	assert.False(t, events[0].OccurredAt.IsZero())
}

func TestGuard_FailOpenStillServes(t *testing.T) {
	policies, err := NewPolicies(nil)
	require.NoError(t, err)
	limiter := New(failingStore{}, policies, "test")

	handler := Guard(limiter, CategoryDefault, WithDailyQuota())(okHandler())

	rec := doRequest(t, handler, &Principal{UserID: "u1", Role: "member", Tier: TierFree})
	assert.Equal(t, http.StatusOK, rec.Code, "store outage must not 429 or 500 traffic")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:999"
	assert.Equal(t, "10.0.0.1:999", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.9")
	assert.Equal(t, "198.51.100.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}
