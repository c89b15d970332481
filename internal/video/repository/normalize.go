package repository

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/track360/track360-backend/internal/video/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// normalizeBSON turns driver specific containers into plain Go maps and
// slices so the rest of the code only sees JSON-like values.
func normalizeBSON(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.D:
		m := make(map[string]interface{}, len(t))
		for _, e := range t {
			m[e.Key] = normalizeBSON(e.Value)
		}
		return m
	case primitive.M:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = normalizeBSON(val)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = normalizeBSON(val)
		}
		return m
	case primitive.A:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeBSON(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeBSON(val)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return t.String()
		}
		return f
	default:
		return v
	}
}

// ParseLocation accepts the shapes a location has been stored in:
//   - an object with latitude/longitude (and optional address)
//   - a JSON string holding such an object
//   - either of the above nested under a "location" key
//
// Coordinates given as numeric strings are accepted.
func ParseLocation(raw interface{}) (domain.Location, error) {
	raw = normalizeBSON(raw)

	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return domain.Location{}, fmt.Errorf("location is empty")
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return domain.Location{}, fmt.Errorf("location is not valid JSON: %w", err)
		}
		raw = decoded
	}

	m, ok := raw.(map[string]interface{})
	if !ok {
		return domain.Location{}, fmt.Errorf("location must be an object")
	}

	if _, hasLat := m["latitude"]; !hasLat {
		if nested, ok := m["location"]; ok {
			return ParseLocation(nested)
		}
	}

	lat, ok := number(m["latitude"])
	if !ok {
		return domain.Location{}, fmt.Errorf("latitude must be a number")
	}
	lng, ok := number(m["longitude"])
	if !ok {
		return domain.Location{}, fmt.Errorf("longitude must be a number")
	}

	loc := domain.Location{Latitude: lat, Longitude: lng}
	if addr, ok := m["address"].(string); ok {
		loc.Address = strings.TrimSpace(addr)
	}
	return loc, nil
}

// decodeLocation is ParseLocation for read paths: absent or bad legacy data
// yields a location marked Missing instead of failing the whole query.
func decodeLocation(raw interface{}) domain.Location {
	if raw == nil {
		return domain.Location{Missing: true}
	}
	loc, err := ParseLocation(raw)
	if err != nil {
		return domain.Location{Missing: true}
	}
	return loc
}

func decodeExtraData(raw interface{}) domain.ExtraData {
	switch m := normalizeBSON(raw).(type) {
	case map[string]interface{}:
		return domain.ExtraData(m)
	case string:
		extra, err := domain.ParseExtraData([]byte(m))
		if err != nil {
			return nil
		}
		return extra
	default:
		return nil
	}
}

func decodeSummary(raw interface{}) domain.DetectionSummary {
	m, ok := normalizeBSON(raw).(map[string]interface{})
	if !ok || len(m) == 0 {
		return nil
	}
	out := domain.DetectionSummary{}
	for k, v := range m {
		if n, ok := number(v); ok {
			out[k] = int(n)
		}
	}
	return out
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
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
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// idFilter matches a field stored either as an ObjectID or as its hex string.
func idFilter(hex string) interface{} {
	oid, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return hex
	}
	return bson.M{"$in": bson.A{oid, hex}}
}
