package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidField ErrorCode = "validation_invalid_field"
	ErrCodeValidationInvalidBody  ErrorCode = "validation_invalid_body"

	// Document build (422). Raised while composing a block tree from a
	// definition; always carries the failing block's path in Details.
	ErrCodeUnknownBlockType   ErrorCode = "build_unknown_block_type"
	ErrCodeMissingProperty    ErrorCode = "build_missing_required_property"
	ErrCodeInvalidChildPolicy ErrorCode = "build_invalid_child_policy"
	ErrCodeInvalidDefinition  ErrorCode = "build_invalid_definition"

	// Feed expansion (502). The feed source could not be retrieved or parsed;
	// distinct from build_* because the definition itself may be fine.
	ErrCodeFeedFetchFailed ErrorCode = "feed_fetch_failed"

	// Auth (401)
	ErrCodeAuthKeyMissing ErrorCode = "auth_api_key_missing"
	ErrCodeAuthKeyInvalid ErrorCode = "auth_api_key_invalid"
	ErrCodeAuthKeyRevoked ErrorCode = "auth_api_key_revoked"

	// Not Found (404)
	ErrCodeNotFoundDocument ErrorCode = "not_found_document"
	ErrCodeNotFoundRender   ErrorCode = "not_found_render"
	ErrCodeNotFoundAPIKey   ErrorCode = "not_found_api_key"

	// Conflict (409)
	ErrCodeConflictDocumentName ErrorCode = "conflict_document_name_exists"

	// Upstream (502)
	ErrCodeUpstreamFeed        ErrorCode = "upstream_feed_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"

	// Internal (500)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalRender     ErrorCode = "internal_render_error"
	ErrCodeInternalQueue      ErrorCode = "internal_queue_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "build_"):
		return http.StatusUnprocessableEntity // 422
	case s == string(ErrCodeFeedFetchFailed):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
