package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Error types as they appear in the "type" field of the envelope.
const (
	TypeAuthentication = "authentication_error"
	TypePermission     = "permission_error"
	TypeInvalidRequest = "invalid_request_error"
	TypeNotFound       = "not_found_error"
	TypeUpstream       = "upstream_error"
	TypeTimeout        = "timeout_error"
	TypeRateLimit      = "rate_limit_error"
	TypeServer         = "server_error"
)

// APIError is rendered in OpenAI's error envelope:
//
//	{"error": {"message": "...", "type": "...", "param": null, "code": null}}
//
// Extensions are merged into the inner object.
type APIError struct {
	Status  int     `json:"-"`
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`

	Extensions map[string]interface{} `json:"-"`

	Log error `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%d] %s: %s", e.Status, e.Type, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Log
}

func (e *APIError) MarshalJSON() ([]byte, error) {
	type Alias APIError

	body := make(map[string]interface{}, len(e.Extensions)+4)
	for k, v := range e.Extensions {
		body[k] = v
	}

	stdJSON, err := json.Marshal(Alias(*e))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stdJSON, &body); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]interface{}{"error": body})
}

type ErrorOption func(*APIError)

// NewError creates a generic APIError.
func NewError(status int, errType, message string, opts ...ErrorOption) *APIError {
	e := &APIError{
		Status:     status,
		Type:       errType,
		Message:    message,
		Extensions: make(map[string]interface{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// WithExtension adds a custom key-value pair to the error object
func WithExtension(key string, value interface{}) ErrorOption {
	return func(e *APIError) {
		e.Extensions[key] = value
	}
}

// WithLog attaches an internal error for server-side logging
func WithLog(err error) ErrorOption {
	return func(e *APIError) {
		e.Log = err
	}
}

func WithCode(code string) ErrorOption {
	return func(e *APIError) {
		e.Code = &code
	}
}

func WithParam(param string) ErrorOption {
	return func(e *APIError) {
		e.Param = &param
	}
}

// AuthenticationError is returned for a missing or unknown credential.
func AuthenticationError(message string) *APIError {
	return NewError(http.StatusUnauthorized, TypeAuthentication, message, WithCode("invalid_api_key"))
}

// AuthorizationError is returned when a valid caller credential hits an
// admin-only operation.
func AuthorizationError(message string) *APIError {
	return NewError(http.StatusForbidden, TypePermission, message, WithCode("insufficient_permissions"))
}

// NoProviderForModel is returned when no entry serves the requested model.
func NoProviderForModel(model string) *APIError {
	return NewError(
		http.StatusNotFound,
		TypeInvalidRequest,
		fmt.Sprintf("The model `%s` is not served by any configured provider.", model),
		WithCode("model_not_found"),
		WithParam("model"),
	)
}

// UpstreamError wraps a failed upstream call. status is zero for transport
// failures where no response was received.
func UpstreamError(status int, detail string, err error) *APIError {
	msg := "Upstream provider request failed"
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}

	opts := []ErrorOption{WithLog(err)}
	if status > 0 {
		opts = append(opts, WithExtension("upstream_status", status))
	}
	return NewError(http.StatusBadGateway, TypeUpstream, msg, opts...)
}

// TimeoutError is returned when the upstream made no progress within d.
func TimeoutError(d time.Duration) *APIError {
	return NewError(
		http.StatusGatewayTimeout,
		TypeTimeout,
		fmt.Sprintf("Upstream provider did not respond within %s", d),
	)
}

// ValidationError creates a rich validation error
func ValidationError(validationErrors map[string]string) *APIError {
	return NewError(
		http.StatusBadRequest,
		TypeInvalidRequest,
		"One or more fields failed validation",
		WithExtension("errors", validationErrors),
	)
}

// BadRequestError creates a standard error for a bad request
func BadRequestError(message string, opts ...ErrorOption) *APIError {
	return NewError(http.StatusBadRequest, TypeInvalidRequest, message, opts...)
}

// NotFoundError creates a standard 404 error
func NotFoundError(message string) *APIError {
	return NewError(http.StatusNotFound, TypeNotFound, message)
}

// RateLimitError creates standard 429 rate limit error
func RateLimitError(message string) *APIError {
	return NewError(http.StatusTooManyRequests, TypeRateLimit, message)
}

// InternalError creates a standard error for any internal server error
func InternalError(message string, err error) *APIError {
	return NewError(http.StatusInternalServerError, TypeServer, message, WithLog(err))
}
