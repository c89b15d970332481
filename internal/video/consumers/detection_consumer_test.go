package consumers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/track360/track360-backend/internal/video/consumers"
	"github.com/track360/track360-backend/internal/video/domain"
	"github.com/track360/track360-backend/pkg/errors"
	"github.com/track360/track360-backend/pkg/logger"
	"github.com/track360/track360-backend/pkg/messaging"
	"github.com/track360/track360-backend/pkg/testutil"
)

func detectionEvent(t *testing.T, data interface{}) *messaging.Event {
	t.Helper()
	event, err := messaging.NewEvent(messaging.EventDetectionCompleted, "detector", "corr-1", data)
	require.NoError(t, err)
	return event
}

func frames(categories ...string) []domain.DetectionFrame {
	out := make([]domain.DetectionFrame, 0, len(categories))
	for i, c := range categories {
		out = append(out, domain.DetectionFrame{
			TimestampSeconds: float64(i),
			Detections: []domain.Detection{
				{Category: c, Confidence: 0.9, BoundingBox: [4]float64{1, 2, 3, 4}},
			},
		})
	}
	return out
}

// TestDetectionEventHandler tests the event handling logic directly without RabbitMQ
func TestDetectionEventHandler_StoresResultForProcessedVideo(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore()
	f := testutil.NewFixtureFactory()

	u := f.UnprocessedVideo()
	require.NoError(t, store.InsertUnprocessed(ctx, u))
	p := f.ProcessedVideo(u, 0, 0)
	require.NoError(t, store.InsertProcessed(ctx, p))

	h := consumers.NewDetectionEventHandler(store, logger.Nop())
	err := h.HandleDetectionCompleted(ctx, detectionEvent(t, map[string]interface{}{
		"video_id":          p.ID,
		"duration_seconds":  9.57,
		"detection_summary": map[string]int{"pothole": 99},
		"detections":        frames(domain.CategoryPothole, domain.CategoryBrokenRoad, domain.CategoryPothole),
	}))
	require.NoError(t, err)

	results := store.DetectionResults()
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, p.ID, r.VideoID)
	assert.Equal(t, u.ID, r.UnprocessedID)
	assert.Equal(t, "0:10", r.Duration)
	assert.Equal(t, 2, r.DetectionSummary[domain.CategoryPothole])
	assert.Equal(t, 1, r.DetectionSummary[domain.CategoryBrokenRoad])
	assert.Equal(t, 3, r.DetectionSummary[domain.SummaryTotal])
}

func TestDetectionEventHandler_LinksByCaptureID(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore()
	f := testutil.NewFixtureFactory()
	h := consumers.NewDetectionEventHandler(store, logger.Nop())

	t.Run("capture not yet promoted", func(t *testing.T) {
		u := f.UnprocessedVideo()
		require.NoError(t, store.InsertUnprocessed(ctx, u))

		require.NoError(t, h.HandleDetectionCompleted(ctx, detectionEvent(t, map[string]interface{}{
			"unprocessed_id": u.ID,
			"detections":     frames(domain.CategoryPothole),
		})))

		r, err := store.FindDetectionResult(ctx, "", u.ID)
		require.NoError(t, err)
		assert.Empty(t, r.VideoID)
	})

	t.Run("capture already promoted", func(t *testing.T) {
		u := f.UnprocessedVideo()
		require.NoError(t, store.InsertUnprocessed(ctx, u))
		p := f.ProcessedVideo(u, 0, 0)
		require.NoError(t, store.InsertProcessed(ctx, p))

		require.NoError(t, h.HandleDetectionCompleted(ctx, detectionEvent(t, map[string]interface{}{
			"unprocessed_id": u.ID,
			"detections":     frames(domain.CategoryBrokenRoad),
		})))

		r, err := store.FindDetectionResult(ctx, p.ID, "")
		require.NoError(t, err)
		assert.Equal(t, u.ID, r.UnprocessedID)
	})
}

func TestDetectionEventHandler_Rejects(t *testing.T) {
	unknown := "65f1a2b3c4d5e6f708192a3b"

	tests := []struct {
		name string
		data interface{}
	}{
		{name: "not an object", data: []int{1, 2}},
		{name: "no video reference", data: map[string]interface{}{"detections": frames(domain.CategoryPothole)}},
		{name: "malformed id", data: map[string]interface{}{"video_id": "abc"}},
		{name: "unknown processed video", data: map[string]interface{}{"video_id": unknown}},
		{name: "unknown capture", data: map[string]interface{}{"unprocessed_id": unknown}},
		{
			name: "confidence out of range",
			data: map[string]interface{}{
				"video_id": unknown,
				"detections": []domain.DetectionFrame{{
					Detections: []domain.Detection{{Category: "pothole", Confidence: 1.5}},
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMemoryStore()
			h := consumers.NewDetectionEventHandler(store, logger.Nop())

			err := h.HandleDetectionCompleted(context.Background(), detectionEvent(t, tt.data))
			require.Error(t, err)
			assert.True(t, messaging.IsPermanent(err))
			assert.Empty(t, store.DetectionResults())
		})
	}
}

func TestDetectionEventHandler_StoreFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore()
	f := testutil.NewFixtureFactory()
	p := f.ProcessedVideo(nil, 0, 0)
	require.NoError(t, store.InsertProcessed(ctx, p))
	store.Err["InsertDetectionResult"] = errors.Storage("failed to insert detection result", assert.AnError)

	h := consumers.NewDetectionEventHandler(store, logger.Nop())
	err := h.HandleDetectionCompleted(ctx, detectionEvent(t, map[string]interface{}{
		"video_id":   p.ID,
		"detections": frames(domain.CategoryPothole),
	}))
	require.Error(t, err)
	assert.False(t, messaging.IsPermanent(err))
}
