package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"limitgate/internal/models"
	"limitgate/internal/ratelimit"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	// Administrative introspection. Token-authenticated when an admin token
	// is configured; these endpoints expose per-customer limit state.
	adminAPI := api.PathPrefix("").Subrouter()
	adminAPI.Use(adminAuthMiddleware(config.Security.AdminToken))
	adminAPI.HandleFunc("/limits/{key}", handlers.ListLimitStates).Methods("GET")
	adminAPI.HandleFunc("/limits/{key}/{category}", handlers.GetLimitState).Methods("GET")
	adminAPI.HandleFunc("/limits/{key}", handlers.ResetLimits).Methods("DELETE")
	adminAPI.HandleFunc("/quota/{user_id}", handlers.GetQuotaState).Methods("GET")
	adminAPI.HandleFunc("/rejections", handlers.ListRejections).Methods("GET")
	adminAPI.HandleFunc("/stats/tiers", handlers.GetTierStats).Methods("GET")

	if config.Limiter.Enabled {
		registerGuardedRoutes(api, handlers)
	}

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		errorResp := models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest)
		json.NewEncoder(w).Encode(errorResp)
	})

	return router
}

// registerGuardedRoutes mounts one sample route per traffic category so the
// platform's edge can proxy through them and every category policy is
// exercised end to end.
func registerGuardedRoutes(api *mux.Router, handlers *Handlers) {
	limiter := handlers.limiter
	hook := ratelimit.WithRejectionHook(handlers.recordRejection)

	guard := func(c ratelimit.Category, opts ...ratelimit.GuardOption) func(http.Handler) http.Handler {
		return ratelimit.Guard(limiter, c, append([]ratelimit.GuardOption{hook}, opts...)...)
	}

	routes := api.PathPrefix("/routes").Subrouter()
	routes.Handle("/ping",
		guard(ratelimit.CategoryDefault, ratelimit.WithDailyQuota())(handlers.echoHandler("ping"))).Methods("GET")
	routes.Handle("/completions",
		guard(ratelimit.CategoryAI, ratelimit.WithDailyQuota())(handlers.echoHandler("completions"))).Methods("POST")
	routes.Handle("/login",
		guard(ratelimit.CategoryAuth)(handlers.echoHandler("login"))).Methods("POST")
	routes.Handle("/documents",
		guard(ratelimit.CategoryWrite, ratelimit.WithDailyQuota())(handlers.echoHandler("documents"))).Methods("POST", "PUT", "DELETE")
	routes.Handle("/uploads",
		guard(ratelimit.CategoryUpload, ratelimit.WithDailyQuota())(handlers.echoHandler("uploads"))).Methods("POST")
	routes.Handle("/webhooks/{provider}",
		guard(ratelimit.CategoryWebhook)(handlers.echoHandler("webhooks"))).Methods("POST")
	routes.Handle("/status",
		guard(ratelimit.CategoryPublic)(handlers.echoHandler("status"))).Methods("GET")
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				errorResp := models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError)
				json.NewEncoder(w).Encode(errorResp)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// WithRateLimiter adds rate limiting middleware to the router.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}
