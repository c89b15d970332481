package events

import (
	"context"

	"github.com/track360/track360-backend/internal/video/domain"
	"github.com/track360/track360-backend/pkg/logger"
	"github.com/track360/track360-backend/pkg/messaging"
)

// ServiceName is the event source recorded on published events.
const ServiceName = "track360-api"

// VideoEventPublisher publishes video lifecycle events. A nil publisher
// is valid and drops every event, which is how the API runs without a broker.
type VideoEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewVideoEventPublisher creates a publisher on the video events exchange.
func NewVideoEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*VideoEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeVideoEvents, ServiceName, log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing publisher.
func NewWithPublisher(publisher messaging.EventPublisher, log *logger.Logger) *VideoEventPublisher {
	return &VideoEventPublisher{
		publisher: publisher,
		logger:    log,
	}
}

// PublishVideoIngested announces a new capture to detection workers.
func (p *VideoEventPublisher) PublishVideoIngested(ctx context.Context, v *domain.UnprocessedVideo) {
	if p == nil {
		return
	}

	data := messaging.VideoIngestedEvent{
		UnprocessedID: v.ID,
		VideoURL:      v.VideoURL,
		Latitude:      v.Location.Latitude,
		Longitude:     v.Location.Longitude,
		Address:       v.Location.Address,
		CreatedAt:     v.CreatedAt,
	}

	if err := p.publisher.Publish(ctx, messaging.EventVideoIngested, data); err != nil {
		p.logger.Error().Err(err).Str("video_id", v.ID).Msg("failed to publish video ingested event")
	}
}

// PublishVideoProcessed announces a promotion.
func (p *VideoEventPublisher) PublishVideoProcessed(ctx context.Context, v *domain.ProcessedVideo) {
	if p == nil {
		return
	}

	data := messaging.VideoProcessedEvent{
		ProcessedID:       v.ID,
		UnprocessedID:     v.UnprocessedID,
		ProcessedVideoURL: v.ProcessedVideoURL,
		DetectionSummary:  v.Summary(),
		CreatedAt:         v.CreatedAt,
	}

	if err := p.publisher.Publish(ctx, messaging.EventVideoProcessed, data); err != nil {
		p.logger.Error().Err(err).Str("video_id", v.ID).Msg("failed to publish video processed event")
	}
}
