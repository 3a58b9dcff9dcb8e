package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	v1 "github.com/signaldesk-lab/signal-metrics/internal/api/v1"
	"github.com/signaldesk-lab/signal-metrics/internal/core/bucket"
	httperr "github.com/signaldesk-lab/signal-metrics/internal/core/errors"
	"github.com/signaldesk-lab/signal-metrics/internal/core/storage"
)

const (
	msgReadBodyFailed  = "Failed to read request body"
	msgInvalidJSON     = "Invalid JSON body"
	msgUnknownAction   = "Action is not tracked"
	msgPersistFailed   = "Failed to record activity"
	msgBodyTooLarge    = "Request body exceeds maximum allowed size"
	msgInvalidActivity = "Invalid activity event"
)

// ingestionError carries the structured HTTP error shape from a helper back
// to the orchestrator, keeping the helpers decoupled from gin.Context.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// recordResponse is the success body: the post-increment counts for both
// bucket granularities.
type recordResponse struct {
	Status       string `json:"status"`
	UserID       *int64 `json:"user_id"`
	Action       string `json:"action"`
	DailyCount   int64  `json:"daily_count"`
	MonthlyCount int64  `json:"monthly_count"`
}

// RecordActivityHandler handles HTTP POST requests for the live counting
// path: one activity event increments the daily and monthly counters.
func (s *Service) RecordActivityHandler(c *gin.Context) {
	evt, err := s.parseActivity(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := s.validateActivity(evt); err != nil {
		writeError(c, err)
		return
	}

	daily, monthly, err := s.recordActivity(c.Request.Context(), evt)
	if err != nil {
		writeError(c, err)
		return
	}

	slog.Info("Recorded activity",
		"user_id", bucket.NormalizeUserID(evt.UserID),
		"action", evt.Action,
		"daily_count", daily.Count,
		"monthly_count", monthly.Count)

	c.JSON(http.StatusAccepted, recordResponse{
		Status:       "accepted",
		UserID:       daily.UserID,
		Action:       evt.Action,
		DailyCount:   daily.Count,
		MonthlyCount: monthly.Count,
	})
}

// parseActivity reads the raw request body and binds it into an
// ActivityEvent.
func (s *Service) parseActivity(c *gin.Context) (*v1.ActivityEvent, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgBodyTooLarge,
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var evt v1.ActivityEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	return &evt, nil
}

// validateActivity runs envelope validation, then checks the action against
// the tracked-action registry when one is configured.
func (s *Service) validateActivity(evt *v1.ActivityEvent) *ingestionError {
	if err := evt.Validate(); err != nil {
		slog.Warn("Activity validation failed", "error", err, "action", evt.Action)
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    msgInvalidActivity,
			details:    err.Error(),
		}
	}

	if !s.actions.Known(evt.Action) {
		slog.Warn("Unknown action rejected", "action", evt.Action)
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpUnknownActionError,
			message:    msgUnknownAction,
			details:    map[string]interface{}{"action": evt.Action},
		}
	}

	return nil
}

// recordActivity upserts the daily and monthly counter buckets.
func (s *Service) recordActivity(ctx context.Context, evt *v1.ActivityEvent) (daily, monthly *v1.CounterRecord, err *ingestionError) {
	increment := evt.EffectiveIncrement()

	dailyRec, upsertErr := s.counters.Upsert(ctx, evt.UserID, evt.Action, evt.OccurredAt, bucket.PeriodDaily, increment)
	if upsertErr != nil {
		return nil, nil, persistError(upsertErr, evt.Action)
	}

	monthlyRec, upsertErr := s.counters.Upsert(ctx, evt.UserID, evt.Action, evt.OccurredAt, bucket.PeriodMonthly, increment)
	if upsertErr != nil {
		return nil, nil, persistError(upsertErr, evt.Action)
	}

	return dailyRec, monthlyRec, nil
}

func persistError(err error, action string) *ingestionError {
	var verr *storage.ValidationError
	if errors.As(err, &verr) {
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    verr.Error(),
		}
	}

	slog.Error("Failed to persist activity", "error", err, "action", action)
	return &ingestionError{
		statusCode: http.StatusInternalServerError,
		errorType:  httperr.HttpInternalError,
		message:    msgPersistFailed,
	}
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
