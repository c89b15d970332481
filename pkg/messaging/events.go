package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Video lifecycle events published by the API
	EventVideoIngested  = "video.ingested"
	EventVideoProcessed = "video.processed"

	// Published by the external detection worker
	EventDetectionCompleted = "detection.completed"
)

// Exchange names
const (
	ExchangeVideoEvents     = "video.events"
	ExchangeDetectionEvents = "detection.events"
	ExchangeDeadLetter      = "dlx.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// VideoIngestedEvent is published after a capture is stored. Detection
// workers use it to pick up new footage.
type VideoIngestedEvent struct {
	UnprocessedID string    `json:"unprocessed_id"`
	VideoURL      string    `json:"video_url"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Address       string    `json:"address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// VideoProcessedEvent is published after a capture has been promoted.
type VideoProcessedEvent struct {
	ProcessedID       string         `json:"processed_id"`
	UnprocessedID     string         `json:"unprocessed_id"`
	ProcessedVideoURL string         `json:"processed_video_url"`
	DetectionSummary  map[string]int `json:"detection_summary,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}
