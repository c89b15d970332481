package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SummaryTotal is the synthetic key holding the sum of all categories.
const SummaryTotal = "total"

// DetectionSummary maps a category to its count.
type DetectionSummary map[string]int

// Total sums every category, ignoring any stored total.
func (s DetectionSummary) Total() int {
	n := 0
	for k, v := range s {
		if k == SummaryTotal || v < 0 {
			continue
		}
		n += v
	}
	return n
}

// Normalize returns a copy that always has pothole, broken_road and a
// recomputed total. Negative counts are clamped to zero.
func (s DetectionSummary) Normalize() DetectionSummary {
	out := DetectionSummary{CategoryPothole: 0, CategoryBrokenRoad: 0}
	for k, v := range s {
		if k == SummaryTotal {
			continue
		}
		if v < 0 {
			v = 0
		}
		out[k] = v
	}
	out[SummaryTotal] = out.Total()
	return out
}

// Add merges other into s.
func (s DetectionSummary) Add(other DetectionSummary) {
	for k, v := range other {
		if k == SummaryTotal {
			continue
		}
		s[k] += v
	}
}

// Detection is a single bounding box in a frame.
type Detection struct {
	Category    string     `json:"category"`
	Class       string     `json:"class,omitempty"`
	Confidence  float64    `json:"confidence"`
	BoundingBox [4]float64 `json:"bounding_box"`
}

// DetectionFrame groups the detections found at one timestamp.
type DetectionFrame struct {
	TimestampSeconds float64     `json:"timestamp_seconds"`
	Timestamp        string      `json:"timestamp,omitempty"`
	Detections       []Detection `json:"detections"`
}

// DetectionResult is the detector's output for one video.
type DetectionResult struct {
	ID               string           `json:"id,omitempty"`
	VideoID          string           `json:"video_id,omitempty"`
	UnprocessedID    string           `json:"unprocessed_id,omitempty"`
	VideoFile        string           `json:"video_file,omitempty"`
	DurationSeconds  float64          `json:"duration_seconds"`
	Duration         string           `json:"duration,omitempty"`
	DetectionSummary DetectionSummary `json:"detection_summary"`
	Detections       []DetectionFrame `json:"detections"`
	CreatedAt        time.Time        `json:"created_at"`
}

// CountByCategory counts detections across all frames. Stored summaries
// can drift from the frames so readers use this instead.
func (r *DetectionResult) CountByCategory() DetectionSummary {
	out := DetectionSummary{}
	for _, frame := range r.Detections {
		for _, d := range frame.Detections {
			if d.Category == "" {
				continue
			}
			out[d.Category]++
		}
	}
	return out.Normalize()
}

// Validate checks a result received from the detector.
func (r *DetectionResult) Validate() error {
	if r.VideoID == "" && r.UnprocessedID == "" {
		return errors.New("video_id or unprocessed_id is required")
	}
	if r.DurationSeconds < 0 {
		return errors.New("duration_seconds must not be negative")
	}
	for i, frame := range r.Detections {
		for j, d := range frame.Detections {
			if d.Category == "" {
				return fmt.Errorf("detections[%d].detections[%d]: category is required", i, j)
			}
			if d.Confidence < 0 || d.Confidence > 1 {
				return fmt.Errorf("detections[%d].detections[%d]: confidence must be within [0, 1]", i, j)
			}
		}
	}
	return nil
}

// EmptyDetectionResult returns a placeholder result for a video with no detector output.
func EmptyDetectionResult(videoID, unprocessedID string) DetectionResult {
	return DetectionResult{
		VideoID:          videoID,
		UnprocessedID:    unprocessedID,
		DetectionSummary: DetectionSummary{}.Normalize(),
		Detections:       []DetectionFrame{},
	}
}

// DecodeDetectionFrames converts loosely typed frames (as found inside
// ExtraData) into DetectionFrames.
func DecodeDetectionFrames(raw interface{}) ([]DetectionFrame, error) {
	if raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var frames []DetectionFrame
	if err := json.Unmarshal(b, &frames); err != nil {
		return nil, err
	}
	return frames, nil
}
