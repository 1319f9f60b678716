// Package utils provides helpers shared by the HTTP surface: request ID
// propagation, JSON responses and request decoding, client IP extraction
// and retry with backoff.
package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// GetRequestID retrieves the request ID from the context.
// Returns an empty string if none is present.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID adds a request ID to the context. Called by the logging
// middleware for every request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error     string `json:"error"`                // HTTP status text (e.g., "Bad Request")
	Message   string `json:"message,omitempty"`    // Detailed error message
	RequestID string `json:"request_id,omitempty"` // Request ID for tracing
}

// SuccessResponse wraps response data with an optional message and request ID.
type SuccessResponse struct {
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// RespondWithError sends a JSON error response carrying the request ID.
//
// Example:
//
//	if errors.Is(err, portal.ErrNoUser) {
//	    utils.RespondWithError(w, r, http.StatusUnauthorized, "Not signed in")
//	    return
//	}
func RespondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	requestID := GetRequestID(r.Context())
	writeJSON(w, statusCode, ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		RequestID: requestID,
	}, requestID)
}

// RespondWithJSON sends data as-is with the given status code.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data, GetRequestID(r.Context()))
}

// RespondWithSuccess sends a 200 response wrapping data in SuccessResponse.
//
// Example:
//
//	utils.RespondWithSuccess(w, r, snapshot, "")
func RespondWithSuccess(w http.ResponseWriter, r *http.Request, data interface{}, message string) {
	requestID := GetRequestID(r.Context())
	writeJSON(w, http.StatusOK, SuccessResponse{
		Data:      data,
		Message:   message,
		RequestID: requestID,
	}, requestID)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("Failed to encode JSON response")
	}
}

var validate = validator.New()

// DecodeJSON decodes the request body into dst and runs struct validation.
// Unknown fields are rejected.
//
// Example:
//
//	var req signInRequest
//	if err := utils.DecodeJSON(r, &req); err != nil {
//	    utils.RespondWithError(w, r, http.StatusBadRequest, err.Error())
//	    return
//	}
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
