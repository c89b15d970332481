package service

import (
	"context"
	"fmt"
	"time"

	"github.com/track360/track360-backend/internal/video/domain"
	"github.com/track360/track360-backend/internal/video/repository"
	"github.com/track360/track360-backend/pkg/logger"
)

const sampleVideoBase = "https://sahil-track.b-cdn.net/videos"

type sampleVideo struct {
	title       string
	location    domain.Location
	age         time.Duration
	durationSec float64
	brokenRoads int
	potholes    int
}

var sampleVideos = []sampleVideo{
	{
		title:       "Road condition in Sector 12",
		location:    domain.Location{Latitude: 28.5355, Longitude: 77.3910, Address: "Sector 12, Noida, UP"},
		age:         26 * time.Hour,
		durationSec: 9.57,
		brokenRoads: 103,
		potholes:    72,
	},
	{
		title:       "Road inspection in Sector 18",
		location:    domain.Location{Latitude: 28.5702, Longitude: 77.3219, Address: "Sector 18, Noida, UP"},
		age:         3 * 24 * time.Hour,
		durationSec: 12.34,
		brokenRoads: 87,
		potholes:    65,
	},
	{
		title:       "Street condition in Sector 62",
		location:    domain.Location{Latitude: 28.6280, Longitude: 77.3649, Address: "Sector 62, Noida, UP"},
		age:         5 * 24 * time.Hour,
		durationSec: 8.21,
		brokenRoads: 56,
		potholes:    43,
	},
}

var sampleRiders = []struct {
	name    string
	status  string
	rewards []float64
}{
	{name: "Aarav Sharma", status: domain.RiderActive, rewards: []float64{250, 120.5}},
	{name: "Priya Verma", status: domain.RiderActive, rewards: []float64{180}},
	{name: "Rohit Gupta", status: domain.RiderSuspended, rewards: nil},
}

// SeedReport describes what Seed wrote.
type SeedReport struct {
	Skipped          bool   `json:"skipped"`
	Message          string `json:"message"`
	Videos           int    `json:"videos"`
	DetectionResults int    `json:"detection_results"`
	Riders           int    `json:"riders"`
	Rewards          int    `json:"rewards"`
}

// Seeder fills an empty store with sample data for demos and local development.
type Seeder struct {
	store  repository.Store
	logger *logger.Logger
	now    func() time.Time
}

// NewSeeder creates a new seeder
func NewSeeder(store repository.Store, log *logger.Logger) *Seeder {
	return &Seeder{store: store, logger: log.WithComponent("seed"), now: time.Now}
}

// Seed inserts sample captures, their processed videos, one detection
// result, riders and rewards. It does nothing when processed videos exist.
func (s *Seeder) Seed(ctx context.Context) (*SeedReport, error) {
	existing, err := s.store.CountVideos(ctx)
	if err != nil {
		return nil, err
	}
	if existing.Processed > 0 {
		return &SeedReport{
			Skipped: true,
			Message: fmt.Sprintf("Database already contains %d videos. No seeding needed.", existing.Processed),
		}, nil
	}

	report := &SeedReport{}
	now := s.now().UTC()

	for i, sample := range sampleVideos {
		created := now.Add(-sample.age)
		capture := &domain.UnprocessedVideo{
			VideoURL:  sampleVideoBase + "/sample_original.mp4",
			Location:  sample.location,
			CreatedAt: created.Add(-10 * time.Minute),
		}
		if err := s.store.InsertUnprocessed(ctx, capture); err != nil {
			return nil, err
		}

		p := &domain.ProcessedVideo{
			UnprocessedID:     capture.ID,
			OriginalVideoURL:  capture.VideoURL,
			ProcessedVideoURL: sampleVideoBase + "/sample_processed.mp4",
			Location:          sample.location,
			CreatedAt:         created,
			Title:             sample.title,
			Thumbnail:         "/images/thumbnails/default.jpg",
			RiderName:         sampleRiders[i%len(sampleRiders)].name,
			Status:            domain.StatusCompleted,
			ExtraData: domain.ExtraData{
				"duration_seconds": sample.durationSec,
				"detection_summary": map[string]interface{}{
					domain.CategoryBrokenRoad: float64(sample.brokenRoads),
					domain.CategoryPothole:    float64(sample.potholes),
				},
			},
		}
		if err := s.store.InsertProcessed(ctx, p); err != nil {
			return nil, err
		}
		if err := s.store.MarkProcessed(ctx, capture.ID, p.ID); err != nil {
			return nil, err
		}
		report.Videos++

		if i == 0 {
			r := sampleDetectionResult(p, created)
			if err := s.store.InsertDetectionResult(ctx, r); err != nil {
				return nil, err
			}
			report.DetectionResults++
		}
	}

	for _, sr := range sampleRiders {
		rider := &domain.Rider{
			Name:      sr.name,
			Role:      domain.RoleRider,
			Status:    sr.status,
			CreatedAt: now.AddDate(0, -1, 0),
		}
		if err := s.store.InsertRider(ctx, rider); err != nil {
			return nil, err
		}
		report.Riders++

		for j, amount := range sr.rewards {
			reward := &domain.Reward{
				RiderID:   rider.ID,
				Amount:    amount,
				CreatedAt: now.AddDate(0, 0, -(j + 1)),
			}
			if err := s.store.InsertReward(ctx, reward); err != nil {
				return nil, err
			}
			report.Rewards++
		}
	}

	report.Message = fmt.Sprintf("Successfully seeded database with %d videos", report.Videos)
	s.logger.Info().
		Int("videos", report.Videos).
		Int("riders", report.Riders).
		Int("rewards", report.Rewards).
		Msg("sample data seeded")
	return report, nil
}

func sampleDetectionResult(p *domain.ProcessedVideo, created time.Time) *domain.DetectionResult {
	frame := func(ts float64, dets ...domain.Detection) domain.DetectionFrame {
		return domain.DetectionFrame{
			TimestampSeconds: ts,
			Timestamp:        domain.FormatDuration(ts),
			Detections:       dets,
		}
	}
	det := func(category string, confidence float64, box [4]float64) domain.Detection {
		return domain.Detection{Category: category, Class: category, Confidence: confidence, BoundingBox: box}
	}

	r := &domain.DetectionResult{
		VideoID:         p.ID,
		UnprocessedID:   p.UnprocessedID,
		VideoFile:       "sample_video_20250417_001349.mkv",
		DurationSeconds: 9.57,
		Duration:        "0:00:09.570000",
		Detections: []domain.DetectionFrame{
			frame(0, det(domain.CategoryBrokenRoad, 0.95, [4]float64{1489, 866, 1620, 959})),
			frame(2.5,
				det(domain.CategoryPothole, 0.92, [4]float64{1493, 867, 1620, 944}),
				det(domain.CategoryBrokenRoad, 0.88, [4]float64{1200, 800, 1400, 900}),
			),
			frame(5, det(domain.CategoryPothole, 0.95, [4]float64{800, 600, 950, 750})),
			frame(8, det(domain.CategoryBrokenRoad, 0.91, [4]float64{400, 300, 600, 450})),
		},
		CreatedAt: created,
	}
	r.DetectionSummary = r.CountByCategory()
	return r
}
