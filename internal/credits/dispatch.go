package credits

import (
	"context"

	"github.com/crosslogic/credit-plane/pkg/events"
	"github.com/crosslogic/credit-plane/pkg/metrics"
	"go.uber.org/zap"
)

// Dispatcher publishes cost-verification requests. Verification improves
// billing accuracy but is never a precondition for the unit of work, so
// every failure here is logged and swallowed.
type Dispatcher struct {
	queue  VerificationQueue
	bus    *events.Bus
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. bus may be nil.
func NewDispatcher(queue VerificationQueue, bus *events.Bus, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, bus: bus, logger: logger}
}

// RequestVerification publishes a verification request, best effort.
func (d *Dispatcher) RequestVerification(ctx context.Context, req VerificationRequest) {
	if err := d.queue.Publish(ctx, req); err != nil {
		metrics.VerificationPublishes.WithLabelValues("error").Inc()
		d.logger.Warn("failed to publish cost verification request",
			zap.String("generation_id", req.GenerationID),
			zap.String("reservation_id", req.ReservationID),
			zap.String("workspace_id", req.WorkspaceID),
			zap.Error(err),
		)
		return
	}

	metrics.VerificationPublishes.WithLabelValues("ok").Inc()

	if d.bus != nil {
		_ = d.bus.Publish(ctx, events.NewEvent(events.EventVerificationRequested, req.WorkspaceID, map[string]interface{}{
			"generation_id":  req.GenerationID,
			"reservation_id": req.ReservationID,
		}))
	}
}
