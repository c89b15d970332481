package domain

import (
	"encoding/json"
	"math"
	"strconv"
)

// ExtraData is the free-form object the detector attaches on promotion.
// Known keys: duration, duration_seconds, detection_summary, detections.
type ExtraData map[string]interface{}

// ParseExtraData decodes a JSON object. An empty input yields nil.
func ParseExtraData(raw []byte) (ExtraData, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out ExtraData
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// String returns the string value at key.
func (e ExtraData) String(key string) string {
	if s, ok := e[key].(string); ok {
		return s
	}
	return ""
}

// Number returns the numeric value at key, accepting numeric strings.
func (e ExtraData) Number(key string) (float64, bool) {
	return toFloat(e[key])
}

// DetectionSummary reads detection_summary, ignoring non numeric entries.
func (e ExtraData) DetectionSummary() DetectionSummary {
	out := DetectionSummary{}
	raw, ok := e["detection_summary"].(map[string]interface{})
	if !ok {
		return out
	}
	for k, v := range raw {
		if f, ok := toFloat(v); ok {
			out[k] = int(f)
		}
	}
	return out
}

// Detections decodes the detections array, nil when absent or malformed.
func (e ExtraData) Detections() []DetectionFrame {
	frames, err := DecodeDetectionFrames(e["detections"])
	if err != nil {
		return nil
	}
	return frames
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
