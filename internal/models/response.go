// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON envelope across all endpoints
// - Machine-readable error codes for programmatic handling
// - Rejections carry everything a client needs to back off correctly
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// ErrorResponse is the envelope for every non-2xx response.
//
// Rejections (429) additionally populate Details so clients can render the
// limit, remaining budget, and when to retry without parsing headers.
type ErrorResponse struct {
	Success bool     `json:"success"` // Always false
	Error   APIError `json:"error"`
}

type APIError struct {
	Code    string        `json:"code"`              // Machine-readable error code
	Message string        `json:"message"`           // Human-readable error description
	Details *ErrorDetails `json:"details,omitempty"` // Limit state, present on rejections
}

// ErrorDetails describes the limiter state at the moment of rejection.
type ErrorDetails struct {
	Category   string    `json:"category"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	RetryAfter int       `json:"retryAfter"` // Seconds until a retry can succeed
	ResetAt    time.Time `json:"resetAt"`    // When the current window or quota day ends
}

// Standard error codes.
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
// - Machine-readable for client error handling
const (
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"  // 429: Windowed limit hit
	ErrorCodeDailyQuotaExceeded = "DAILY_QUOTA_EXCEEDED" // 429: Daily quota hit
	ErrorCodeBadRequest         = "BAD_REQUEST"          // 400: Invalid request format
	ErrorCodeValidation         = "VALIDATION_ERROR"     // 422: Input validation failed
	ErrorCodeNotFound           = "NOT_FOUND"            // 404: Resource doesn't exist
	ErrorCodeUnauthorized       = "UNAUTHORIZED"         // 401: Authentication required
	ErrorCodeInternalError      = "INTERNAL_ERROR"       // 500: Server-side error
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"      // 405: Method not allowed etc.
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error: APIError{
			Code:    code,
			Message: message,
		},
	}
}

// NewRejectionResponse builds the 429 payload for a denied request.
func NewRejectionResponse(code, message string, details ErrorDetails) *ErrorResponse {
	return &ErrorResponse{
		Error: APIError{
			Code:    code,
			Message: message,
			Details: &details,
		},
	}
}

// HealthCheckResponse reports overall service health plus per-component detail.
type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health status constants.
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
