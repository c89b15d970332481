package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/track360/track360-backend/internal/video/domain"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FixtureFactory builds domain objects with unique ids and strictly
// increasing timestamps so ordering assertions are deterministic.
type FixtureFactory struct {
	seq  atomic.Int64
	base time.Time
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{
		base: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

// NextTime returns a timestamp one minute after the previous one.
func (f *FixtureFactory) NextTime() time.Time {
	n := f.seq.Add(1)
	return f.base.Add(time.Duration(n) * time.Minute)
}

// NewID returns a fresh document id.
func (f *FixtureFactory) NewID() string {
	return primitive.NewObjectID().Hex()
}

// Location returns a fix around Noida with a numbered address.
func (f *FixtureFactory) Location(n int) domain.Location {
	return domain.Location{
		Latitude:  28.5355 + float64(n)*0.001,
		Longitude: 77.3910 + float64(n)*0.001,
		Address:   fmt.Sprintf("Sector %d, Noida", 18+n),
	}
}

// UnprocessedVideo returns a pending capture.
func (f *FixtureFactory) UnprocessedVideo() *domain.UnprocessedVideo {
	n := int(f.seq.Load())
	return &domain.UnprocessedVideo{
		ID:        f.NewID(),
		VideoURL:  fmt.Sprintf("https://res.cloudinary.com/demo/video/upload/unprocessed-videos/clip-%d.mp4", n),
		Location:  f.Location(n),
		CreatedAt: f.NextTime(),
	}
}

// ProcessedVideo returns a processed video promoted from u. When u is nil
// the video is not linked to a capture.
func (f *FixtureFactory) ProcessedVideo(u *domain.UnprocessedVideo, potholes, brokenRoads int) *domain.ProcessedVideo {
	v := &domain.ProcessedVideo{
		ID:                f.NewID(),
		ProcessedVideoURL: fmt.Sprintf("https://res.cloudinary.com/demo/video/upload/processed-videos/out-%d.mp4", f.seq.Load()),
		Location:          f.Location(int(f.seq.Load())),
		CreatedAt:         f.NextTime(),
		ExtraData: domain.ExtraData{
			"duration": "1:05",
			"detection_summary": map[string]interface{}{
				domain.CategoryPothole:    float64(potholes),
				domain.CategoryBrokenRoad: float64(brokenRoads),
			},
		},
	}
	if u != nil {
		v.UnprocessedID = u.ID
		v.OriginalVideoURL = u.VideoURL
		v.Location = u.Location
	}
	return v
}

// DetectionResult returns a result with one frame per detection.
func (f *FixtureFactory) DetectionResult(videoID string, categories ...string) *domain.DetectionResult {
	frames := make([]domain.DetectionFrame, 0, len(categories))
	for i, c := range categories {
		frames = append(frames, domain.DetectionFrame{
			TimestampSeconds: float64(i),
			Timestamp:        domain.FormatDuration(float64(i)),
			Detections: []domain.Detection{{
				Category:    c,
				Class:       c,
				Confidence:  0.9,
				BoundingBox: [4]float64{10, 20, 110, 120},
			}},
		})
	}
	r := &domain.DetectionResult{
		ID:              f.NewID(),
		VideoID:         videoID,
		VideoFile:       "clip.mp4",
		DurationSeconds: 65,
		Detections:      frames,
		CreatedAt:       f.NextTime(),
	}
	r.DetectionSummary = r.CountByCategory()
	return r
}

// Rider returns an active rider.
func (f *FixtureFactory) Rider(name string) *domain.Rider {
	return &domain.Rider{
		ID:        f.NewID(),
		Name:      name,
		Role:      domain.RoleRider,
		Status:    domain.RiderActive,
		CreatedAt: f.NextTime(),
	}
}
