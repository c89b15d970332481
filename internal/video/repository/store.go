package repository

import (
	"context"
	"time"

	"github.com/track360/track360-backend/internal/video/domain"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Collection (and table) names. There is exactly one name per entity.
const (
	CollectionUnprocessed = "unprocessed_videos"
	CollectionProcessed   = "processed_videos"
	CollectionDetections  = "detection_results"
	CollectionUsers       = "users"
	CollectionRewards     = "rewards"
)

// AlreadyProcessedMessage is the conflict message for a second promotion
// of the same capture.
const AlreadyProcessedMessage = "video has already been processed"

// LegacyCollection is a collection name used by older deployments and the
// current collection its documents belong in.
type LegacyCollection struct {
	From string
	To   string
}

// LegacyCollections are migrated in this order.
var LegacyCollections = []LegacyCollection{
	{From: "unprocessed", To: CollectionUnprocessed},
	{From: "processed", To: CollectionProcessed},
	{From: "detectionresults", To: CollectionDetections},
	{From: "detection_result", To: CollectionDetections},
}

// ProcessedQuery filters ListProcessed. Zero values mean "no filter".
type ProcessedQuery struct {
	// Search matches title or address, case-insensitive substring.
	Search string
	Limit  int
	Offset int
	// WithLocation drops videos whose location is missing or invalid.
	WithLocation bool
}

// UnprocessedStore persists raw captures.
type UnprocessedStore interface {
	InsertUnprocessed(ctx context.Context, v *domain.UnprocessedVideo) error
	GetUnprocessed(ctx context.Context, id string) (*domain.UnprocessedVideo, error)
	LatestUnprocessed(ctx context.Context) (*domain.UnprocessedVideo, error)
	// MarkProcessed links a capture to its processed video. It fails with a
	// conflict when the capture is already processed.
	MarkProcessed(ctx context.Context, unprocessedID, processedID string) error
}

// ProcessedStore persists promoted videos.
type ProcessedStore interface {
	// InsertProcessed fails with a conflict when a processed video already
	// exists for v.UnprocessedID.
	InsertProcessed(ctx context.Context, v *domain.ProcessedVideo) error
	GetProcessed(ctx context.Context, id string) (*domain.ProcessedVideo, error)
	GetProcessedByUnprocessedID(ctx context.Context, unprocessedID string) (*domain.ProcessedVideo, error)
	ListProcessed(ctx context.Context, q ProcessedQuery) ([]domain.ProcessedVideo, error)
}

// DetectionStore persists detector output.
type DetectionStore interface {
	InsertDetectionResult(ctx context.Context, r *domain.DetectionResult) error
	// FindDetectionResult returns the newest result linked to processedID,
	// falling back to one linked to unprocessedID.
	FindDetectionResult(ctx context.Context, processedID, unprocessedID string) (*domain.DetectionResult, error)
	ListDetectionResults(ctx context.Context, since time.Time) ([]domain.DetectionResult, error)
	// DetectionCategoryCounts counts every detection in every frame by category.
	DetectionCategoryCounts(ctx context.Context) (domain.DetectionSummary, error)
}

// StatsStore answers the dashboard counters.
type StatsStore interface {
	CountVideos(ctx context.Context) (domain.VideoCounts, error)
	CountActiveRiders(ctx context.Context) (int64, error)
	SumRewards(ctx context.Context) (float64, error)
}

// RiderStore persists riders and rewards. Only seeding writes here.
type RiderStore interface {
	InsertRider(ctx context.Context, r *domain.Rider) error
	InsertReward(ctx context.Context, r *domain.Reward) error
}

// Store is the full document store used by the API.
type Store interface {
	UnprocessedStore
	ProcessedStore
	DetectionStore
	StatsStore
	RiderStore
	// EnsureSchema creates indexes or tables. Safe to call on every start.
	EnsureSchema(ctx context.Context) error
	Health(ctx context.Context) map[string]string
}

// NewID returns a new 24 character hex document id.
func NewID() string {
	return primitive.NewObjectID().Hex()
}
