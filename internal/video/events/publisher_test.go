package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/track360/track360-backend/internal/video/domain"
	"github.com/track360/track360-backend/pkg/logger"
	"github.com/track360/track360-backend/pkg/messaging"
	"github.com/track360/track360-backend/pkg/testutil"
)

func TestVideoEventPublisher_PublishVideoIngested(t *testing.T) {
	mock := testutil.NewMockPublisher()
	pub := NewWithPublisher(mock, logger.Nop())
	fx := testutil.NewFixtureFactory()
	v := fx.UnprocessedVideo()

	pub.PublishVideoIngested(context.Background(), v)

	events := mock.Events()
	require.Len(t, events, 1)
	assert.Equal(t, messaging.EventVideoIngested, events[0].Type)

	data, ok := events[0].Payload.(messaging.VideoIngestedEvent)
	require.True(t, ok)
	assert.Equal(t, v.ID, data.UnprocessedID)
	assert.Equal(t, v.VideoURL, data.VideoURL)
	assert.Equal(t, v.Location.Latitude, data.Latitude)
	assert.Equal(t, v.Location.Address, data.Address)
}

func TestVideoEventPublisher_PublishVideoProcessed(t *testing.T) {
	mock := testutil.NewMockPublisher()
	pub := NewWithPublisher(mock, logger.Nop())
	fx := testutil.NewFixtureFactory()
	p := fx.ProcessedVideo(fx.UnprocessedVideo(), 2, 3)

	pub.PublishVideoProcessed(context.Background(), p)

	mock.AssertEventPublished(t, messaging.EventVideoProcessed)
	data := mock.Events()[0].Payload.(messaging.VideoProcessedEvent)
	assert.Equal(t, p.ID, data.ProcessedID)
	assert.Equal(t, p.UnprocessedID, data.UnprocessedID)
	assert.Equal(t, 5, data.DetectionSummary[domain.SummaryTotal])
}

func TestVideoEventPublisher_FailuresAreSwallowed(t *testing.T) {
	mock := testutil.NewMockPublisher()
	mock.Err = errors.New("channel closed")
	pub := NewWithPublisher(mock, logger.Nop())

	assert.NotPanics(t, func() {
		pub.PublishVideoIngested(context.Background(), &domain.UnprocessedVideo{ID: "x"})
	})
	mock.AssertNoEventsPublished(t)
}

func TestVideoEventPublisher_NilIsNoop(t *testing.T) {
	var pub *VideoEventPublisher

	assert.NotPanics(t, func() {
		pub.PublishVideoIngested(context.Background(), &domain.UnprocessedVideo{})
		pub.PublishVideoProcessed(context.Background(), &domain.ProcessedVideo{})
	})
}
