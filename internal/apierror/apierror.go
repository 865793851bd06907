// Package apierror implements the uniform HTTP error envelope shared
// by every intake endpoint, adapted from Aidin1998-finalex's response
// envelope (api/responses/standard.go) to this repo's
// {message, error_code, timestamp, errors?} shape and net/http instead
// of gin.
package apierror

import (
	"encoding/json"
	"net/http"
	"time"
)

// Code is a stable machine-readable error identifier.
type Code string

const (
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeNotFound       Code = "NOT_FOUND"
	CodeConflict       Code = "CONFLICT"
	CodeRateLimited    Code = "RATE_LIMITED"
	CodeInternal       Code = "INTERNAL_ERROR"
	CodeUnavailable    Code = "SERVICE_UNAVAILABLE"
	CodeQueueFull      Code = "QUEUE_FULL"
)

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Envelope is the uniform JSON body written on every error response.
type Envelope struct {
	Message   string       `json:"message"`
	ErrorCode Code         `json:"error_code"`
	Timestamp time.Time    `json:"timestamp"`
	Errors    []FieldError `json:"errors,omitempty"`
}

// Write encodes an Envelope with the given status code.
func Write(w http.ResponseWriter, status int, code Code, message string, fieldErrors ...FieldError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{
		Message:   message,
		ErrorCode: code,
		Timestamp: time.Now().UTC(),
		Errors:    fieldErrors,
	})
}

func BadRequest(w http.ResponseWriter, message string, fieldErrors ...FieldError) {
	Write(w, http.StatusBadRequest, CodeValidation, message, fieldErrors...)
}

func NotFound(w http.ResponseWriter, message string) {
	Write(w, http.StatusNotFound, CodeNotFound, message)
}

func Conflict(w http.ResponseWriter, message string) {
	Write(w, http.StatusConflict, CodeConflict, message)
}

func TooManyRequests(w http.ResponseWriter, message string) {
	Write(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

func Internal(w http.ResponseWriter, message string) {
	Write(w, http.StatusInternalServerError, CodeInternal, message)
}

func Unavailable(w http.ResponseWriter, message string) {
	Write(w, http.StatusServiceUnavailable, CodeUnavailable, message)
}

// QueueFull reports 507 Insufficient Storage: the engine's bounded
// command queue is full, distinct from a 503 store/persistence outage.
func QueueFull(w http.ResponseWriter, message string) {
	Write(w, http.StatusInsufficientStorage, CodeQueueFull, message)
}
