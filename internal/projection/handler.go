package projection

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	coreagg "github.com/aevon-lab/ledgerview/internal/core/aggregation"
	httperr "github.com/aevon-lab/ledgerview/internal/core/errors"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

// RegisterRoutes registers all projection API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/aggregates/:kind/:period", s.HandleQueryAggregate)
	r.POST("/v1/rebuilds", s.HandleRequestRebuild)
	r.GET("/v1/rebuilds/:job_id", s.HandleRebuildStatus)
	r.POST("/v1/cache/clear", s.HandleClearCache)
	r.GET("/v1/cache/stats", s.HandleCacheStats)
}

// HandleQueryAggregate handles GET /v1/aggregates/:kind/:period
// Query parameters: dimension
func (s *Service) HandleQueryAggregate(c *gin.Context) {
	var uri struct {
		Kind   string `uri:"kind" binding:"required"`
		Period string `uri:"period" binding:"required"`
	}
	var query struct {
		Dimension string `form:"dimension"`
	}

	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	req := AggregateQueryRequest{
		Kind:      uri.Kind,
		Period:    uri.Period,
		Dimension: query.Dimension,
	}

	resp, err := s.QueryAggregate(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err, "Failed to query aggregate")
		return
	}

	if resp.Status == StatusPending {
		c.JSON(http.StatusAccepted, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleRequestRebuild handles POST /v1/rebuilds
func (s *Service) HandleRequestRebuild(c *gin.Context) {
	var req RebuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid JSON body",
			Details:   err.Error(),
		})
		return
	}

	resp, err := s.RequestRebuild(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err, "Failed to request rebuild")
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// HandleRebuildStatus handles GET /v1/rebuilds/:job_id
func (s *Service) HandleRebuildStatus(c *gin.Context) {
	resp, err := s.RebuildStatus(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpJobNotFoundError,
				Message:   "Rebuild job not found",
			})
			return
		}
		writeServiceError(c, err, "Failed to load rebuild job")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleClearCache handles POST /v1/cache/clear
// An empty body clears the whole freshness cache.
func (s *Service) HandleClearCache(c *gin.Context) {
	var req ClearCacheRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidJsonError,
				Message:   "Invalid JSON body",
				Details:   err.Error(),
			})
			return
		}
	}

	resp, err := s.ClearCache(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err, "Failed to clear cache")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCacheStats handles GET /v1/cache/stats
func (s *Service) HandleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.CacheStats())
}

// writeServiceError maps service errors onto the shared error body.
func writeServiceError(c *gin.Context, err error, message string) {
	var na *notAvailableError
	switch {
	case errors.Is(err, ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid aggregate query",
			Details:   err.Error(),
		})
	case errors.Is(err, coreagg.ErrUnknownKind):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnknownKindError,
			Message:   "Unknown aggregate kind",
			Details:   err.Error(),
		})
	case errors.As(err, &na):
		c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotAvailableError,
			Message:   "Aggregate not available, rebuild failed",
			Details: gin.H{
				"job_id": na.jobID,
				"error":  na.err.Error(),
			},
		})
	case errors.Is(err, ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
			ErrorType: httperr.HttpSourceUnavailable,
			Message:   "Aggregate store unavailable, retry later",
			Details:   err.Error(),
		})
	default:
		slog.Error("[Projection] Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   message,
			Details:   err.Error(),
		})
	}
}
