package ingestion

import (
	"github.com/gin-gonic/gin"
	"github.com/signaldesk-lab/signal-metrics/internal/core/storage"
	"github.com/signaldesk-lab/signal-metrics/internal/core/tracking"
)

type Service struct {
	counters         storage.CounterStore
	actions          tracking.Registry
	maxBodySizeBytes int
}

func NewService(counters storage.CounterStore, actions tracking.Registry, maxBodySizeMB int) *Service {
	if counters == nil {
		panic("ingestion: counter store must not be nil")
	}
	if actions == nil {
		panic("ingestion: action registry must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		counters:         counters,
		actions:          actions,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/activity", s.RecordActivityHandler)
}
