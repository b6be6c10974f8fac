package hubapi

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// EngineError is the JSON error envelope every failing route returns.
type EngineError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

func (e EngineError) Error() string { return e.Message }

// Error types.
const (
	ErrTypeValidation   = "validation_error"
	ErrTypeUnauthorized = "unauthorized"
	ErrTypeNotFound     = "not_found"
	ErrTypeConflict     = "conflict"
	ErrTypeNotReady     = "not_ready"
	ErrTypeLoadFailed   = "load_failed"
	ErrTypeTimeout      = "timeout"
	ErrTypeInternal     = "internal_error"
	ErrTypeUnavailable  = "service_unavailable"
)

// ErrorCategory groups error types for logging.
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryGame       ErrorCategory = "game"
	CategorySystem     ErrorCategory = "system"
)

// GetErrorCategory returns the category for an error type.
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeValidation, ErrTypeUnauthorized:
		return CategoryValidation
	case ErrTypeNotReady, ErrTypeLoadFailed, ErrTypeConflict:
		return CategoryGame
	default:
		return CategorySystem
	}
}

// ErrorBuilder helps construct structured errors with context.
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]any
	requestID string
}

// NewError creates a new error builder.
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{errType: errType, message: message, context: make(map[string]any)}
}

func (eb *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// WithCause records err's message under "cause".
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

func (eb *ErrorBuilder) Build() EngineError {
	e := EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if len(eb.context) > 0 {
		e.Context = eb.context
	}
	return e
}

// ErrorHandler writes and logs EngineErrors.
type ErrorHandler struct {
	logger *log.Logger
}

func NewErrorHandler(logger *log.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Write logs and writes an error of the given type.
func (eh *ErrorHandler) Write(w http.ResponseWriter, r *http.Request, status int, errType, message string, err error) {
	e := NewError(errType, message).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("path", r.URL.Path).
		WithCause(err).
		Build()
	eh.log(r, e, status)
	eh.writeErrorResponse(w, status, e)
}

// HandleValidationError reports a bad request field.
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	e := NewError(ErrTypeValidation, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		Build()
	eh.log(r, e, http.StatusBadRequest)
	eh.writeErrorResponse(w, http.StatusBadRequest, e)
}

func (eh *ErrorHandler) log(r *http.Request, e EngineError, status int) {
	level := "ERROR"
	if status < 500 {
		level = "WARN"
	}
	eh.logger.Printf("error_occurred level=%s type=%s category=%s status=%d request_id=%s method=%s path=%s message=%q",
		level, e.Type, GetErrorCategory(e.Type), status, e.RequestID, r.Method, r.URL.Path, e.Message)
}

func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, e EngineError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Hub-Version", Version)
	w.Header().Set("X-Error-Type", e.Type)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// RecoveryHandler turns panics into internal_error responses.
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())
				eh.logger.Printf("panic_recovered request_id=%s path=%s method=%s panic=%v",
					requestID, r.URL.Path, r.Method, rvr)
				e := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					WithContext("panic", fmt.Sprintf("%v", rvr)).
					WithContext("path", r.URL.Path).
					Build()
				eh.writeErrorResponse(w, http.StatusInternalServerError, e)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
