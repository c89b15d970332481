package consumers

import (
	"context"
	"fmt"

	"github.com/track360/track360-backend/internal/video/domain"
	"github.com/track360/track360-backend/internal/video/repository"
	"github.com/track360/track360-backend/pkg/errors"
	"github.com/track360/track360-backend/pkg/httputil"
	"github.com/track360/track360-backend/pkg/logger"
	"github.com/track360/track360-backend/pkg/messaging"
	"github.com/track360/track360-backend/pkg/metrics"
)

// QueueDetectionEvents is the queue the API reads detector output from.
const QueueDetectionEvents = "track360-api.detection-events"

// DetectionStore is what the detection handler needs.
type DetectionStore interface {
	GetProcessed(ctx context.Context, id string) (*domain.ProcessedVideo, error)
	GetProcessedByUnprocessedID(ctx context.Context, unprocessedID string) (*domain.ProcessedVideo, error)
	GetUnprocessed(ctx context.Context, id string) (*domain.UnprocessedVideo, error)
	InsertDetectionResult(ctx context.Context, r *domain.DetectionResult) error
}

var _ DetectionStore = (repository.Store)(nil)

// DetectionEventHandler stores detection results sent by the detector.
// It can be exercised without a broker.
type DetectionEventHandler struct {
	store  DetectionStore
	logger *logger.Logger
}

// NewDetectionEventHandler creates a new detection event handler
func NewDetectionEventHandler(store DetectionStore, log *logger.Logger) *DetectionEventHandler {
	return &DetectionEventHandler{
		store:  store,
		logger: log.WithComponent("detection-consumer"),
	}
}

// HandleDetectionCompleted validates and stores one detection result.
// Payloads that can never succeed are returned as permanent failures.
func (h *DetectionEventHandler) HandleDetectionCompleted(ctx context.Context, event *messaging.Event) error {
	var r domain.DetectionResult
	if err := event.UnmarshalData(&r); err != nil {
		return messaging.Permanent(fmt.Errorf("decode detection result: %w", err))
	}
	if err := r.Validate(); err != nil {
		return messaging.Permanent(err)
	}
	for _, id := range []string{r.VideoID, r.UnprocessedID} {
		if id != "" && !httputil.IsObjectID(id) {
			return messaging.Permanent(fmt.Errorf("invalid video reference %q", id))
		}
	}

	if err := h.resolve(ctx, &r); err != nil {
		return err
	}

	r.ID = ""
	r.DetectionSummary = r.CountByCategory()
	if r.Duration == "" && r.DurationSeconds > 0 {
		r.Duration = domain.FormatDuration(r.DurationSeconds)
	}

	if err := h.store.InsertDetectionResult(ctx, &r); err != nil {
		return err
	}

	h.logger.Info().
		Str("event_id", event.ID).
		Str("video_id", r.VideoID).
		Str("unprocessed_id", r.UnprocessedID).
		Int("detections", r.DetectionSummary[domain.SummaryTotal]).
		Msg("detection result stored")
	return nil
}

// resolve checks that the result refers to a known video and fills in
// the processed id when only the capture id was sent.
func (h *DetectionEventHandler) resolve(ctx context.Context, r *domain.DetectionResult) error {
	if r.VideoID != "" {
		p, err := h.store.GetProcessed(ctx, r.VideoID)
		switch {
		case err == nil:
			if r.UnprocessedID == "" {
				r.UnprocessedID = p.UnprocessedID
			}
			return nil
		case !errors.Is(err, errors.ErrNotFound):
			return err
		case r.UnprocessedID == "":
			return messaging.Permanent(fmt.Errorf("processed video %s not found", r.VideoID))
		}
	}

	if _, err := h.store.GetUnprocessed(ctx, r.UnprocessedID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return messaging.Permanent(fmt.Errorf("unprocessed video %s not found", r.UnprocessedID))
		}
		return err
	}

	p, err := h.store.GetProcessedByUnprocessedID(ctx, r.UnprocessedID)
	switch {
	case err == nil:
		r.VideoID = p.ID
	case !errors.Is(err, errors.ErrNotFound):
		return err
	default:
		// Not promoted yet; the result is found later through the capture id.
		r.VideoID = ""
	}
	return nil
}

// DetectionEventConsumer reads detection.completed events from RabbitMQ.
type DetectionEventConsumer struct {
	consumer *messaging.Consumer
	handler  *DetectionEventHandler
	logger   *logger.Logger
}

// NewDetectionEventConsumer declares the queue, binds it and registers the handler.
func NewDetectionEventConsumer(rmq *messaging.RabbitMQ, store DetectionStore, log *logger.Logger) (*DetectionEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, QueueDetectionEvents, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeDetectionEvents, messaging.EventDetectionCompleted); err != nil {
		return nil, err
	}

	c := &DetectionEventConsumer{
		consumer: consumer,
		handler:  NewDetectionEventHandler(store, log),
		logger:   log,
	}

	consumer.RegisterHandler(messaging.EventDetectionCompleted, c.handler.HandleDetectionCompleted)
	consumer.OnResult = func(_ string, d messaging.Disposition) {
		metrics.DetectionEventsTotal.WithLabelValues(d.String()).Inc()
	}

	return c, nil
}

// Start starts consuming messages
func (c *DetectionEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}
