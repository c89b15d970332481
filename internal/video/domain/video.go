package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Detection categories reported by the detector.
const (
	CategoryPothole    = "pothole"
	CategoryBrokenRoad = "broken_road"
)

// Status of a processed video as shown on the dashboard.
const (
	StatusCompleted = "completed"
)

// Location is a GPS fix captured with a clip.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	// Missing marks a record stored without a usable fix. (0, 0) is a fix.
	Missing bool `json:"-"`
}

// Valid reports whether the coordinates are finite and within WGS84 bounds.
func (l Location) Valid() bool {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// HasFix reports whether coordinates were recorded.
func (l Location) HasFix() bool {
	return !l.Missing
}

// Label returns the address, or "lat, lng" when the address is unknown.
func (l Location) Label() string {
	if l.Address != "" || l.Missing {
		return l.Address
	}
	return strconv.FormatFloat(l.Latitude, 'f', -1, 64) + ", " + strconv.FormatFloat(l.Longitude, 'f', -1, 64)
}

// UnprocessedVideo is a raw capture waiting for detection.
// Processed is true exactly when ProcessedID is set.
type UnprocessedVideo struct {
	ID          string    `json:"id"`
	VideoURL    string    `json:"videoUrl"`
	Location    Location  `json:"location"`
	CreatedAt   time.Time `json:"createdAt"`
	Processed   bool      `json:"processed"`
	ProcessedID string    `json:"processedId,omitempty"`
}

// ProcessedVideo is the annotated result of a capture. At most one exists
// per UnprocessedVideo and it is never modified after creation.
type ProcessedVideo struct {
	ID                string    `json:"id"`
	UnprocessedID     string    `json:"unprocessedId"`
	OriginalVideoURL  string    `json:"originalVideoUrl"`
	ProcessedVideoURL string    `json:"processedVideoUrl"`
	Location          Location  `json:"location"`
	CreatedAt         time.Time `json:"createdAt"`
	ExtraData         ExtraData `json:"extraData,omitempty"`

	// Optional presentational fields, filled by seeding or legacy data.
	Title            string           `json:"title,omitempty"`
	Thumbnail        string           `json:"thumbnail,omitempty"`
	RiderName        string           `json:"riderName,omitempty"`
	Status           string           `json:"status,omitempty"`
	DetectionSummary DetectionSummary `json:"detectionSummary,omitempty"`
}

// DisplayTitle returns Title or a name derived from the id.
func (v *ProcessedVideo) DisplayTitle() string {
	if v.Title != "" {
		return v.Title
	}
	id := v.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Video " + id
}

// Summary returns the stored detection summary, falling back to the one
// carried in ExtraData. The result always has the well known categories and a total.
func (v *ProcessedVideo) Summary() DetectionSummary {
	if len(v.DetectionSummary) > 0 {
		return v.DetectionSummary.Normalize()
	}
	return v.ExtraData.DetectionSummary().Normalize()
}

// DetectionCount is the sum of all category counts.
func (v *ProcessedVideo) DetectionCount() int {
	return v.Summary()[SummaryTotal]
}

// Duration returns the display duration from ExtraData, "" when unknown.
func (v *ProcessedVideo) Duration() string {
	if d := v.ExtraData.String("duration"); d != "" {
		return d
	}
	if secs, ok := v.ExtraData.Number("duration_seconds"); ok {
		return FormatDuration(secs)
	}
	return ""
}

// ToSummary builds the list/search projection.
func (v *ProcessedVideo) ToSummary() VideoSummary {
	status := v.Status
	if status == "" {
		status = StatusCompleted
	}
	summary := v.Summary()
	return VideoSummary{
		ID:               v.ID,
		Title:            v.DisplayTitle(),
		Address:          v.Location.Label(),
		Location:         v.Location,
		VideoURL:         v.ProcessedVideoURL,
		OriginalVideoURL: v.OriginalVideoURL,
		Thumbnail:        v.Thumbnail,
		Duration:         v.Duration(),
		Status:           status,
		RiderName:        v.RiderName,
		DetectionSummary: summary,
		DetectionCount:   summary[SummaryTotal],
		CreatedAt:        v.CreatedAt,
	}
}

// ToMapPoint builds the map projection.
func (v *ProcessedVideo) ToMapPoint() MapPoint {
	return MapPoint{
		ID:             v.ID,
		Title:          v.DisplayTitle(),
		Location:       v.Location,
		DetectionCount: v.DetectionCount(),
		Thumbnail:      v.Thumbnail,
		CreatedAt:      v.CreatedAt,
	}
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(math.Round(seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
