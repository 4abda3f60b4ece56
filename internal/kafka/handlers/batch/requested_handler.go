package batch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/renditionlab/renditions/internal/model"
)

// service defines the interface for executing batch jobs.
type service interface {
	RunBatch(ctx context.Context, job model.Job) (model.BatchSummary, error)
}

// RequestedHandler handles Kafka messages for requested batch jobs.
// It relies on a service that renders every source and recipe pairing.
type RequestedHandler struct {
	service service
}

// NewRequestedHandler creates a new handler with the given service.
func NewRequestedHandler(s service) *RequestedHandler {
	return &RequestedHandler{service: s}
}

// Handle executes the batch job carried by a Kafka message.
// It unmarshals the job, runs it through the service, and logs the result.
func (h *RequestedHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var job model.Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return fmt.Errorf("unmarshal job: %w", err)
	}

	summary, err := h.service.RunBatch(ctx, job)
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}

	zlog.Logger.Printf("batch %s executed: %d rendered, %d failed", job.ID, summary.Rendered, summary.Failed)

	return nil
}
