package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/ardhilink/plotsync/internal/middleware"
)

// Error code constants for standardized error responses. The source-related
// codes are deliberately distinct: "cannot reach source", "no data" and
// "rejected by business rule" must never be conflated into one generic error.
const (
	ErrNotFound          = "NOT_FOUND"
	ErrBadRequest        = "BAD_REQUEST"
	ErrInternalServer    = "INTERNAL_SERVER_ERROR"
	ErrValidation        = "VALIDATION_ERROR"
	ErrSourceUnreachable = "SOURCE_UNREACHABLE"
	ErrNoData            = "NO_DATA"
	ErrPlotUnavailable   = "PLOT_UNAVAILABLE"
	ErrConflict          = "CONFLICT"
)

// ErrorResponse is the top-level error response structure.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// NotFound returns a 404 Not Found error response.
func NotFound(c *gin.Context, message string) {
	respond(c, http.StatusNotFound, ErrNotFound, message, nil)
}

// NoData returns a 404 response distinguishing "the source answered but has
// nothing" from a lookup miss or an unreachable source.
func NoData(c *gin.Context, message string) {
	respond(c, http.StatusNotFound, ErrNoData, message, nil)
}

// BadRequest returns a 400 Bad Request error response with optional details.
func BadRequest(c *gin.Context, message string, details map[string]interface{}) {
	respond(c, http.StatusBadRequest, ErrBadRequest, message, details)
}

// SourceUnreachable returns a 503 for transport failures against the remote
// source. The client is expected to offer a retry.
func SourceUnreachable(c *gin.Context, message string) {
	respond(c, http.StatusServiceUnavailable, ErrSourceUnreachable, message, nil)
}

// PlotUnavailable returns a 409 for reservations against plots that are not
// available (business-rule rejection, surfaced verbatim).
func PlotUnavailable(c *gin.Context, message string) {
	respond(c, http.StatusConflict, ErrPlotUnavailable, message, nil)
}

// Conflict returns a 409 for duplicate in-flight operations.
func Conflict(c *gin.Context, message string) {
	respond(c, http.StatusConflict, ErrConflict, message, nil)
}

// InternalServerError returns a 500 Internal Server Error response.
// The actual error details are logged but not exposed to the client.
func InternalServerError(c *gin.Context, message string, err error) {
	log := middleware.GetLogger(c)
	requestID := middleware.GetRequestID(c)

	if log != nil {
		log.Error("Internal server error", err, map[string]interface{}{
			"message":    message,
			"request_id": requestID,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
		})
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: ErrorDetail{
			Code:      ErrInternalServer,
			Message:   message,
			RequestID: requestID,
		},
	})
}

// ValidationError returns a 400 Bad Request error response with
// field-specific validation errors from the validator library.
func ValidationError(c *gin.Context, validationErrors validator.ValidationErrors) {
	details := make(map[string]interface{})
	for _, err := range validationErrors {
		details[err.Field()] = formatValidationError(err)
	}
	respond(c, http.StatusBadRequest, ErrValidation, "Validation failed for one or more fields", details)
}

// respond logs the failure and writes the error envelope.
func respond(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	log := middleware.GetLogger(c)
	requestID := middleware.GetRequestID(c)

	if log != nil {
		fields := map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": requestID,
			"path":       c.Request.URL.Path,
		}
		if details != nil {
			fields["details"] = details
		}
		log.Warn("Request failed", fields)
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: requestID,
		},
	})
}

// formatValidationError converts a validator.FieldError to a human-readable message.
func formatValidationError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Must be a valid email address"
	case "min":
		return "Value is too short or small (minimum: " + err.Param() + ")"
	case "max":
		return "Value is too long or large (maximum: " + err.Param() + ")"
	case "gte":
		return "Must be greater than or equal to " + err.Param()
	case "lte":
		return "Must be less than or equal to " + err.Param()
	case "oneof":
		return "Must be one of: " + err.Param()
	default:
		return "Validation failed for tag: " + err.Tag()
	}
}
