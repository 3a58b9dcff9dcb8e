package errors

const (
	HttpInternalError      = "internal_error"
	HttpInvalidJsonError   = "invalid_json"
	HttpValidationError    = "validation_failed"
	HttpUnknownActionError = "unknown_action"
	HttpNotFoundError      = "not_found"
)

// ErrorResponse is the error response body for all HTTP endpoints.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
