package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"limitgate/internal/audit"
	"limitgate/internal/models"
	"limitgate/internal/ratelimit"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Handlers contains HTTP handlers for the limiter administration API
type Handlers struct {
	limiter    *ratelimit.Limiter
	store      ratelimit.Store
	auditStore audit.Store
	version    string
}

// NewHandlers creates a new handlers instance
func NewHandlers(limiter *ratelimit.Limiter, store ratelimit.Store, auditStore audit.Store, version string) *Handlers {
	return &Handlers{
		limiter:    limiter,
		store:      store,
		auditStore: auditStore,
		version:    version,
	}
}

// LimitStateResponse reports the current window state for one identity across
// one or more categories.
type LimitStateResponse struct {
	Key        string                      `json:"key"`
	Tier       string                      `json:"tier"`
	Categories map[string]ratelimit.Result `json:"categories"`
}

// HealthCheck handles health check requests
// GET /health
//
// The counter store being down degrades rather than fails the service: the
// limiter fails open, so traffic still flows, just unthrottled.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version

	if err := h.store.Ping(ctx); err != nil {
		response.Status = models.StatusDegraded
		response.AddComponent("counter_store", models.StatusUnhealthy, err.Error())
	} else {
		response.AddComponent("counter_store", models.StatusHealthy, "Counter store is operational")
	}

	if err := h.auditStore.Ping(ctx); err != nil {
		response.Status = models.StatusDegraded
		response.AddComponent("audit_store", models.StatusUnhealthy, err.Error())
	} else {
		response.AddComponent("audit_store", models.StatusHealthy, "Audit store is operational")
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// ListLimitStates reports window state across every category for one identity.
// GET /api/v1/limits/{key}?tier=free
//
// Reads are peeks: inspecting a window never consumes budget from it.
func (h *Handlers) ListLimitStates(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	tier, err := parseTierParam(r)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return
	}

	states := make(map[string]ratelimit.Result, len(ratelimit.Categories()))
	for _, c := range ratelimit.Categories() {
		res, err := h.limiter.State(r.Context(), key, c, tier)
		if err != nil {
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, err.Error())
			return
		}
		states[string(c)] = res
	}

	h.writeJSONResponse(w, http.StatusOK, &LimitStateResponse{
		Key:        key,
		Tier:       string(tier),
		Categories: states,
	})
}

// GetLimitState reports window state for one identity and category.
// GET /api/v1/limits/{key}/{category}?tier=free
func (h *Handlers) GetLimitState(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["key"]

	category, err := ratelimit.ParseCategory(vars["category"])
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return
	}

	tier, err := parseTierParam(r)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return
	}

	res, err := h.limiter.State(r.Context(), key, category, tier)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, err.Error())
		return
	}

	h.writeJSONResponse(w, http.StatusOK, res)
}

// ResetLimits clears counters for one identity.
// DELETE /api/v1/limits/{key}?category=ai
//
// Without a category parameter every category window is cleared. Resets are
// an operator action (support unblocking a customer), so failures surface as
// errors instead of failing open.
func (h *Handlers) ResetLimits(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var categories []ratelimit.Category
	if param := r.URL.Query().Get("category"); param != "" {
		category, err := ratelimit.ParseCategory(param)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
			return
		}
		categories = append(categories, category)
	}

	if err := h.limiter.Reset(r.Context(), key, categories...); err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, err.Error())
		return
	}

	slog.Info("Rate limit counters reset", "key", key, "categories", categories)
	w.WriteHeader(http.StatusNoContent)
}

// GetQuotaState reports daily quota consumption for one user.
// GET /api/v1/quota/{user_id}?tier=free
func (h *Handlers) GetQuotaState(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	tier, err := parseTierParam(r)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return
	}

	res, err := h.limiter.QuotaState(r.Context(), userID, tier)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, err.Error())
		return
	}

	h.writeJSONResponse(w, http.StatusOK, res)
}

// ListRejections returns recent rejection events, newest first.
// GET /api/v1/rejections?limit=50
func (h *Handlers) ListRejections(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if param := r.URL.Query().Get("limit"); param != "" {
		parsed, err := strconv.Atoi(param)
		if err != nil || parsed <= 0 {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > 1000 {
		limit = 1000
	}

	events, err := h.auditStore.Recent(r.Context(), limit)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, err.Error())
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"rejections": events,
		"count":      len(events),
	})
}

// GetTierStats returns rejection counts grouped by tier and error code.
// GET /api/v1/stats/tiers
func (h *Handlers) GetTierStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.auditStore.TierStats(r.Context())
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, err.Error())
		return
	}
	if stats == nil {
		stats = []audit.TierStat{}
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"stats": stats,
	})
}

// recordRejection is the guard middleware's rejection hook. Persistence runs
// on a separate goroutine so a slow audit backend never delays the 429.
func (h *Handlers) recordRejection(ev ratelimit.RejectionEvent) {
	event := &audit.Event{
		ID:         uuid.NewString(),
		Key:        ev.Key,
		UserID:     ev.UserID,
		Tier:       string(ev.Tier),
		Category:   string(ev.Category),
		Code:       ev.Code,
		Limit:      ev.Limit,
		RetryAfter: int(ev.RetryAfter.Seconds()),
		OccurredAt: ev.OccurredAt,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.auditStore.Record(ctx, event); err != nil {
			slog.Warn("Failed to record rejection event", "error", err, "key", event.Key)
		}
	}()
}

// echoHandler serves the guarded sample routes. Real deployments guard their
// own business handlers the same way.
func (h *Handlers) echoHandler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"route":   name,
		})
	})
}

// parseTierParam reads the optional tier query parameter, defaulting to free.
func parseTierParam(r *http.Request) (ratelimit.Tier, error) {
	param := r.URL.Query().Get("tier")
	if param == "" {
		return ratelimit.TierFree, nil
	}
	return ratelimit.ParseTier(param)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written, so log instead of sending a second response.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
