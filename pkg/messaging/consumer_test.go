package messaging

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/track360/track360-backend/pkg/logger"
)

func encodeEvent(t *testing.T, eventType string, data interface{}) []byte {
	t.Helper()
	event, err := NewEvent(eventType, "detector", "corr-1", data)
	require.NoError(t, err)
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return body
}

func TestDispatch(t *testing.T) {
	transient := stderrors.New("store timeout")

	tests := []struct {
		name       string
		body       func(t *testing.T) []byte
		handlerErr error
		attempts   int
		want       Disposition
	}{
		{
			name: "malformed body is dead lettered",
			body: func(*testing.T) []byte { return []byte("{not json") },
			want: DeadLetter,
		},
		{
			name: "unknown type is acked",
			body: func(t *testing.T) []byte { return encodeEvent(t, "video.deleted", map[string]string{}) },
			want: Ack,
		},
		{
			name: "handled event is acked",
			body: func(t *testing.T) []byte { return encodeEvent(t, EventDetectionCompleted, map[string]string{"video_id": "x"}) },
			want: Ack,
		},
		{
			name:       "transient failure is requeued",
			body:       func(t *testing.T) []byte { return encodeEvent(t, EventDetectionCompleted, map[string]string{}) },
			handlerErr: transient,
			want:       Requeue,
		},
		{
			name:       "transient failure after max attempts is dead lettered",
			body:       func(t *testing.T) []byte { return encodeEvent(t, EventDetectionCompleted, map[string]string{}) },
			handlerErr: transient,
			attempts:   maxDeliveryAttempts,
			want:       DeadLetter,
		},
		{
			name:       "permanent failure is dead lettered immediately",
			body:       func(t *testing.T) []byte { return encodeEvent(t, EventDetectionCompleted, map[string]string{}) },
			handlerErr: Permanent(stderrors.New("unknown video")),
			want:       DeadLetter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newConsumer(nil, "test-queue", logger.Nop())

			var gotCorrelation string
			c.RegisterHandler(EventDetectionCompleted, func(ctx context.Context, e *Event) error {
				gotCorrelation = getCorrelationID(ctx)
				return tt.handlerErr
			})

			var reported []Disposition
			c.OnResult = func(_ string, d Disposition) { reported = append(reported, d) }

			got := c.Dispatch(context.Background(), tt.body(t), tt.attempts)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, []Disposition{tt.want}, reported)
			if gotCorrelation != "" {
				assert.Equal(t, "corr-1", gotCorrelation)
			}
		})
	}
}

func TestGetRetryCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"no headers", nil, 0},
		{"retry header", amqp.Table{HeaderRetryCount: int32(2)}, 2},
		{"retry header as int64", amqp.Table{HeaderRetryCount: int64(1)}, 1},
		{"x-death takes the highest count", amqp.Table{
			"x-death": []interface{}{amqp.Table{"count": int64(1)}, amqp.Table{"count": int64(3)}},
		}, 3},
		{"retry header wins over x-death", amqp.Table{
			HeaderRetryCount: int32(1),
			"x-death":        []interface{}{amqp.Table{"count": int64(4)}},
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getRetryCount(amqp.Delivery{Headers: tt.headers}))
		})
	}
}

func TestRetryPublishing(t *testing.T) {
	msg := amqp.Delivery{
		Headers:       amqp.Table{"trace": "abc"},
		ContentType:   "application/json",
		CorrelationId: "corr-1",
		MessageId:     "evt-1",
		Body:          []byte(`{"type":"detection.completed"}`),
	}

	pub := retryPublishing(msg, 2)

	assert.Equal(t, int32(2), pub.Headers[HeaderRetryCount])
	assert.Equal(t, "abc", pub.Headers["trace"])
	assert.Nil(t, msg.Headers[HeaderRetryCount], "original headers untouched")
	assert.Equal(t, uint8(amqp.Persistent), pub.DeliveryMode)
	assert.Equal(t, msg.Body, pub.Body)
	assert.Equal(t, "evt-1", pub.MessageId)

	redelivered := amqp.Delivery{Headers: pub.Headers}
	assert.Equal(t, 2, getRetryCount(redelivered))
}

// A message whose handler keeps failing is retried with a growing attempt
// count until it is dead lettered.
func TestDispatch_RepeatedTransientFailures(t *testing.T) {
	c := newConsumer(nil, "test-queue", logger.Nop())

	calls := 0
	c.RegisterHandler(EventDetectionCompleted, func(context.Context, *Event) error {
		calls++
		return stderrors.New("store timeout")
	})

	body := encodeEvent(t, EventDetectionCompleted, map[string]string{})
	msg := amqp.Delivery{Body: body}

	var dispositions []Disposition
	for i := 0; i < 10; i++ {
		d := c.Dispatch(context.Background(), msg.Body, getRetryCount(msg))
		dispositions = append(dispositions, d)
		if d != Requeue {
			break
		}
		msg = amqp.Delivery{Headers: retryPublishing(msg, getRetryCount(msg)+1).Headers, Body: body}
	}

	assert.Equal(t, []Disposition{Requeue, Requeue, Requeue, DeadLetter}, dispositions)
	assert.Equal(t, maxDeliveryAttempts+1, calls)
}

func TestEvent_UnmarshalData(t *testing.T) {
	event, err := NewEvent(EventVideoIngested, "track360-api", "", VideoIngestedEvent{
		UnprocessedID: "65a1b2c3d4e5f6a7b8c9d0e1",
		Latitude:      28.5,
		Longitude:     77.3,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)

	var data VideoIngestedEvent
	require.NoError(t, event.UnmarshalData(&data))
	assert.Equal(t, 28.5, data.Latitude)
	assert.Equal(t, 77.3, data.Longitude)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	base := stderrors.New("bad payload")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}
