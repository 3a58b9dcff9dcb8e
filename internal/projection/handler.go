package projection

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/signaldesk-lab/signal-metrics/internal/core/bucket"
	httperr "github.com/signaldesk-lab/signal-metrics/internal/core/errors"
	"github.com/signaldesk-lab/signal-metrics/internal/core/storage"
)

// RegisterRoutes registers all projection API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/counters", s.HandleQueryCounters)
	r.GET("/v1/counters/:user_id", s.HandleQueryUserCounters)
	r.GET("/v1/summary/:user_id", s.HandleSummarizeUser)
}

// counterQueryParams are the shared query parameters of the counter
// listing endpoints.
type counterQueryParams struct {
	Action string `form:"action"`
	Period string `form:"period"`
	Date   string `form:"date"`
	From   string `form:"from"`
	To     string `form:"to"`
	Limit  int    `form:"limit"`
}

// HandleQueryCounters handles GET /v1/counters
// Query parameters: action, period, from, to, limit
func (s *Service) HandleQueryCounters(c *gin.Context) {
	var query counterQueryParams
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	s.serveCounterQuery(c, nil, query)
}

// HandleQueryUserCounters handles GET /v1/counters/:user_id
// The user_id segment is a positive integer or "anonymous".
// Query parameters: action, period, date, from, to, limit. When date is set
// together with action the endpoint returns the single exact bucket.
func (s *Service) HandleQueryUserCounters(c *gin.Context) {
	userID, err := parseUserParam(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   "Invalid user identifier",
			Details:   err.Error(),
		})
		return
	}

	var query counterQueryParams
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	if query.Date != "" {
		s.servePointLookup(c, userID, query)
		return
	}

	s.serveCounterQuery(c, userID, query)
}

// HandleSummarizeUser handles GET /v1/summary/:user_id
// Query parameters: actions (comma-separated filter, optional)
func (s *Service) HandleSummarizeUser(c *gin.Context) {
	userID, err := parseUserParam(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   "Invalid user identifier",
			Details:   err.Error(),
		})
		return
	}

	summary, err := s.Summarize(c.Request.Context(), userID, c.Query("actions"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to summarize activity",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Service) serveCounterQuery(c *gin.Context, userID *int64, query counterQueryParams) {
	req := CounterQueryRequest{
		UserID:   userID,
		Action:   query.Action,
		Period:   bucket.Period(query.Period),
		DateFrom: query.From,
		DateTo:   query.To,
		Limit:    query.Limit,
	}

	records, err := s.QueryCounters(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidQuery) {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpValidationError,
				Message:   "Invalid counter query",
				Details:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query counters",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"counters": records, "count": len(records)})
}

func (s *Service) servePointLookup(c *gin.Context, userID *int64, query counterQueryParams) {
	rec, err := s.GetCounter(c.Request.Context(), userID, query.Action, query.Date, bucket.Period(query.Period))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpNotFoundError,
				Message:   "Counter not found",
				Details:   err.Error(),
			})
		case errors.Is(err, ErrInvalidQuery):
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpValidationError,
				Message:   "Invalid counter lookup",
				Details:   err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "Failed to fetch counter",
				Details:   err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, rec)
}
