package errors

const (
	HttpInternalError     = "internal_error"
	HttpInvalidJsonError  = "invalid_json"
	HttpInvalidQueryError = "invalid_query"
	HttpUnknownKindError  = "unknown_kind"
	HttpJobNotFoundError  = "job_not_found"
	HttpNotAvailableError = "not_available"
	HttpSourceUnavailable = "source_unavailable"
	HttpBodyTooLargeError = "body_too_large"
)

// ErrorResponse is the error response body for every API error.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
