package dedup

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	httperr "github.com/aevon-lab/ledgerview/internal/core/errors"
)

const (
	msgScanFailed  = "Failed to scan for duplicates"
	msgPurgeFailed = "Failed to purge duplicates"
	msgInvalidJSON = "Invalid JSON body"
)

// detectorError carries the HTTP error shape from a helper back to the handler.
type detectorError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *detectorError) Error() string {
	return e.message
}

// RegisterRoutes registers the duplicate and purge routes on the given router.
func (d *Detector) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/duplicates", d.HandleScan)
	r.POST("/v1/purge", d.HandlePurge)
}

// HandleScan handles GET /v1/duplicates
func (d *Detector) HandleScan(c *gin.Context) {
	report, err := d.Scan(c.Request.Context())
	if err != nil {
		writeError(c, storeError(err, msgScanFailed))
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandlePurge handles POST /v1/purge
// An empty body purges everything the scan reports.
func (d *Detector) HandlePurge(c *gin.Context) {
	var req PurgeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Warn("[Detector] Invalid purge request", "error", err)
			writeError(c, &detectorError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpInvalidJsonError,
				message:    msgInvalidJSON,
				details:    err.Error(),
			})
			return
		}
	}

	result, err := d.Purge(c.Request.Context(), req)
	if err != nil {
		writeError(c, storeError(err, msgPurgeFailed))
		return
	}
	c.JSON(http.StatusOK, result)
}

func storeError(err error, message string) *detectorError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &detectorError{
			statusCode: http.StatusServiceUnavailable,
			errorType:  httperr.HttpSourceUnavailable,
			message:    message,
			details:    err.Error(),
		}
	}
	slog.Error("[Detector] Request failed", "error", err)
	return &detectorError{
		statusCode: http.StatusInternalServerError,
		errorType:  httperr.HttpInternalError,
		message:    message,
		details:    err.Error(),
	}
}

// writeError serializes a detectorError as the JSON HTTP response.
func writeError(c *gin.Context, err *detectorError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
