package service

import (
	"context"
	"sort"
	"strings"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/track360/track360-backend/internal/video/domain"
	"github.com/track360/track360-backend/internal/video/geo"
	"github.com/track360/track360-backend/internal/video/repository"
	"github.com/track360/track360-backend/pkg/errors"
	"github.com/track360/track360-backend/pkg/logger"
)

const (
	DefaultSearchLimit = 10
	DefaultListLimit   = 20
	MaxPageSize        = 100

	recentActivityLimit = 3
	trendDays           = 16
	trendDateLayout     = "2006-01-02"
	unknownRider        = "Unknown Rider"
)

// MsgVideoNotFound is returned for an unknown processed video id.
const MsgVideoNotFound = "Video not found"

// AggregationStore is the read side used by the dashboard.
type AggregationStore interface {
	repository.ProcessedStore
	repository.DetectionStore
	repository.StatsStore
}

// AggregationService computes dashboard projections. Nothing it returns is stored.
type AggregationService struct {
	store  AggregationStore
	logger *logger.Logger
	now    func() time.Time
}

// NewAggregationService creates a new aggregation service
func NewAggregationService(store AggregationStore, log *logger.Logger) *AggregationService {
	return &AggregationService{
		store:  store,
		logger: log.WithComponent("aggregation"),
		now:    time.Now,
	}
}

// DashboardStats computes the dashboard snapshot. An empty store yields zeros.
func (s *AggregationService) DashboardStats(ctx context.Context) (*domain.DashboardSnapshot, error) {
	counts, err := s.store.CountVideos(ctx)
	if err != nil {
		return nil, err
	}
	riders, err := s.store.CountActiveRiders(ctx)
	if err != nil {
		return nil, err
	}
	rewards, err := s.store.SumRewards(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := s.store.DetectionCategoryCounts(ctx)
	if err != nil {
		return nil, err
	}
	summary = summary.Normalize()

	recent, err := s.store.ListProcessed(ctx, repository.ProcessedQuery{Limit: recentActivityLimit})
	if err != nil {
		return nil, err
	}

	trend, err := s.trendingIssues(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.DashboardSnapshot{
		TotalVideos:        counts.Total,
		ProcessedVideos:    counts.Processed,
		UnprocessedVideos:  counts.Unprocessed,
		ActiveRiders:       riders,
		RewardsDistributed: rewards,
		DetectionSummary:   summary,
		RecentActivity:     recentActivity(recent),
		IssueCategories:    issueCategories(summary),
		TrendingIssues:     trend,
	}, nil
}

func recentActivity(videos []domain.ProcessedVideo) []domain.RecentActivity {
	out := make([]domain.RecentActivity, 0, len(videos))
	for i := range videos {
		v := &videos[i]
		rider := v.RiderName
		if rider == "" {
			rider = unknownRider
		}
		out = append(out, domain.RecentActivity{
			ID:             v.ID,
			Title:          v.DisplayTitle(),
			ProcessedAt:    v.CreatedAt,
			Rider:          rider,
			DetectionCount: v.DetectionCount(),
		})
	}
	return out
}

// issueCategories orders categories by count, then name.
func issueCategories(summary domain.DetectionSummary) []domain.CategoryCount {
	out := make([]domain.CategoryCount, 0, len(summary))
	for category, n := range summary {
		if category == domain.SummaryTotal {
			continue
		}
		out = append(out, domain.CategoryCount{Category: category, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// trendingIssues counts detections per UTC day over the last trendDays
// days, oldest first, today included.
func (s *AggregationService) trendingIssues(ctx context.Context) ([]domain.TrendPoint, error) {
	today := s.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(trendDays - 1))

	results, err := s.store.ListDetectionResults(ctx, start)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]int, trendDays)
	for i := range results {
		day := results[i].CreatedAt.UTC().Format(trendDateLayout)
		byDay[day] += results[i].CountByCategory()[domain.SummaryTotal]
	}

	out := make([]domain.TrendPoint, 0, trendDays)
	for d := 0; d < trendDays; d++ {
		day := start.AddDate(0, 0, d).Format(trendDateLayout)
		out = append(out, domain.TrendPoint{Date: day, Count: byDay[day]})
	}
	return out, nil
}

// MapPoints returns every processed video with a usable location,
// optionally limited to bbox.
func (s *AggregationService) MapPoints(ctx context.Context, bbox *geo.BBox) ([]domain.MapPoint, error) {
	videos, err := s.store.ListProcessed(ctx, repository.ProcessedQuery{WithLocation: true})
	if err != nil {
		return nil, err
	}

	points := make([]domain.MapPoint, 0, len(videos))
	for i := range videos {
		points = append(points, videos[i].ToMapPoint())
	}
	if bbox != nil {
		points = bbox.Filter(points)
	}
	return points, nil
}

// MapFeatures is MapPoints as a GeoJSON FeatureCollection.
func (s *AggregationService) MapFeatures(ctx context.Context, bbox *geo.BBox) (*geojson.FeatureCollection, error) {
	points, err := s.MapPoints(ctx, bbox)
	if err != nil {
		return nil, err
	}
	return geo.FeatureCollection(points), nil
}

// Hotspots clusters map points into S2 cells at level.
func (s *AggregationService) Hotspots(ctx context.Context, level int, bbox *geo.BBox) ([]domain.Hotspot, error) {
	points, err := s.MapPoints(ctx, bbox)
	if err != nil {
		return nil, err
	}
	return geo.Hotspots(points, level), nil
}

// VideoDetail returns a processed video with its detection result. The
// result is looked up by processed id, then by capture id, then taken from
// the frames in ExtraData. A video with none of these gets an empty result.
func (s *AggregationService) VideoDetail(ctx context.Context, id string) (*domain.VideoDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NotFoundMessage(MsgVideoNotFound)
	}

	v, err := s.store.GetProcessed(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NotFoundMessage(MsgVideoNotFound)
		}
		return nil, err
	}

	return &domain.VideoDetail{
		VideoSummary:     v.ToSummary(),
		UnprocessedID:    v.UnprocessedID,
		ExtraData:        v.ExtraData,
		DetectionResults: s.detectionResult(ctx, v),
	}, nil
}

func (s *AggregationService) detectionResult(ctx context.Context, v *domain.ProcessedVideo) domain.DetectionResult {
	r, err := s.store.FindDetectionResult(ctx, v.ID, v.UnprocessedID)
	switch {
	case err == nil:
		if len(r.Detections) > 0 {
			r.DetectionSummary = r.CountByCategory()
		} else {
			r.DetectionSummary = r.DetectionSummary.Normalize()
		}
		if r.Detections == nil {
			r.Detections = []domain.DetectionFrame{}
		}
		return *r
	case !errors.Is(err, errors.ErrNotFound):
		s.logger.WithVideoID(v.ID).WithError(err).Warn().Msg("detection result lookup failed")
	}

	if frames := v.ExtraData.Detections(); len(frames) > 0 {
		r := domain.DetectionResult{
			VideoID:       v.ID,
			UnprocessedID: v.UnprocessedID,
			Duration:      v.Duration(),
			Detections:    frames,
			CreatedAt:     v.CreatedAt,
		}
		if secs, ok := v.ExtraData.Number("duration_seconds"); ok {
			r.DurationSeconds = secs
		}
		r.DetectionSummary = r.CountByCategory()
		return r
	}

	return domain.EmptyDetectionResult(v.ID, v.UnprocessedID)
}

// SearchVideos matches q against title and address, newest first. An empty
// query returns the newest videos. limit defaults to 10 and is capped at 100.
func (s *AggregationService) SearchVideos(ctx context.Context, q string, limit int) ([]domain.VideoSummary, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return s.list(ctx, repository.ProcessedQuery{Search: strings.TrimSpace(q), Limit: limit})
}

// ListVideos pages through processed videos, newest first.
func (s *AggregationService) ListVideos(ctx context.Context, limit, offset int) ([]domain.VideoSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.list(ctx, repository.ProcessedQuery{Limit: limit, Offset: offset})
}

func (s *AggregationService) list(ctx context.Context, q repository.ProcessedQuery) ([]domain.VideoSummary, error) {
	videos, err := s.store.ListProcessed(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]domain.VideoSummary, 0, len(videos))
	for i := range videos {
		out = append(out, videos[i].ToSummary())
	}
	return out, nil
}
