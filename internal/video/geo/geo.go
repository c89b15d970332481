// Package geo places processed videos on the map: bounding box filtering,
// S2 cell hotspots and GeoJSON export.
package geo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	geojson "github.com/paulmach/go.geojson"
	"github.com/track360/track360-backend/internal/video/domain"
)

const (
	// DefaultHotspotLevel groups points into cells roughly 1km across.
	DefaultHotspotLevel = 13
	MinHotspotLevel     = 2
	MaxHotspotLevel     = 20
)

// BBox is a lat/lng rectangle. Longitudes may wrap the antimeridian
// (MinLng > MaxLng).
type BBox struct {
	MinLng, MinLat, MaxLng, MaxLat float64
}

// ParseBBox parses "minLng,minLat,maxLng,maxLat".
func ParseBBox(raw string) (BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("bbox must have 4 comma separated values, got %d", len(parts))
	}

	var vals [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("bbox value %q is not a number", p)
		}
		vals[i] = f
	}

	b := BBox{MinLng: vals[0], MinLat: vals[1], MaxLng: vals[2], MaxLat: vals[3]}
	if b.MinLat > b.MaxLat {
		return BBox{}, fmt.Errorf("bbox minLat %v is greater than maxLat %v", b.MinLat, b.MaxLat)
	}
	if !(domain.Location{Latitude: b.MinLat, Longitude: b.MinLng}).Valid() ||
		!(domain.Location{Latitude: b.MaxLat, Longitude: b.MaxLng}).Valid() {
		return BBox{}, fmt.Errorf("bbox is outside WGS84 bounds")
	}
	return b, nil
}

func (b BBox) rect() s2.Rect {
	lo := s2.LatLngFromDegrees(b.MinLat, b.MinLng)
	hi := s2.LatLngFromDegrees(b.MaxLat, b.MaxLng)
	return s2.Rect{
		Lat: r1.Interval{Lo: lo.Lat.Radians(), Hi: hi.Lat.Radians()},
		Lng: s1.IntervalFromEndpoints(lo.Lng.Radians(), hi.Lng.Radians()),
	}
}

// Contains reports whether loc falls inside the box, edges included.
func (b BBox) Contains(loc domain.Location) bool {
	return b.rect().ContainsLatLng(s2.LatLngFromDegrees(loc.Latitude, loc.Longitude))
}

// Filter keeps the points inside the box, preserving order.
func (b BBox) Filter(points []domain.MapPoint) []domain.MapPoint {
	rect := b.rect()
	out := make([]domain.MapPoint, 0, len(points))
	for _, p := range points {
		if rect.ContainsLatLng(s2.LatLngFromDegrees(p.Location.Latitude, p.Location.Longitude)) {
			out = append(out, p)
		}
	}
	return out
}

// ClampLevel keeps an S2 level within the supported hotspot range.
func ClampLevel(level int) int {
	switch {
	case level < MinHotspotLevel:
		return MinHotspotLevel
	case level > MaxHotspotLevel:
		return MaxHotspotLevel
	default:
		return level
	}
}

// Hotspots groups points by their S2 cell at level. Clusters are ordered
// by point count, then detection count, then cell token.
func Hotspots(points []domain.MapPoint, level int) []domain.Hotspot {
	level = ClampLevel(level)
	byCell := make(map[s2.CellID]*domain.Hotspot)

	for _, p := range points {
		cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(p.Location.Latitude, p.Location.Longitude)).Parent(level)
		h, ok := byCell[cell]
		if !ok {
			center := cell.LatLng()
			h = &domain.Hotspot{
				Cell:  cell.ToToken(),
				Level: level,
				Center: domain.Location{
					Latitude:  center.Lat.Degrees(),
					Longitude: center.Lng.Degrees(),
				},
			}
			byCell[cell] = h
		}
		h.Count++
		h.DetectionCount += p.DetectionCount
		h.VideoIDs = append(h.VideoIDs, p.ID)
	}

	out := make([]domain.Hotspot, 0, len(byCell))
	for _, h := range byCell {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].DetectionCount != out[j].DetectionCount {
			return out[i].DetectionCount > out[j].DetectionCount
		}
		return out[i].Cell < out[j].Cell
	})
	return out
}

// FeatureCollection renders points as GeoJSON Point features with
// [lng, lat] coordinates.
func FeatureCollection(points []domain.MapPoint) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range points {
		f := geojson.NewPointFeature([]float64{p.Location.Longitude, p.Location.Latitude})
		f.ID = p.ID
		f.SetProperty("title", p.Title)
		f.SetProperty("detection_count", p.DetectionCount)
		f.SetProperty("created_at", p.CreatedAt)
		if p.Location.Address != "" {
			f.SetProperty("address", p.Location.Address)
		}
		if p.Thumbnail != "" {
			f.SetProperty("thumbnail", p.Thumbnail)
		}
		fc.AddFeature(f)
	}
	return fc
}
