package repository

import (
	"context"
	stderrors "errors"
	"regexp"
	"time"

	"github.com/track360/track360-backend/internal/video/domain"
	"github.com/track360/track360-backend/pkg/errors"
	"github.com/track360/track360-backend/pkg/logger"
	"github.com/track360/track360-backend/pkg/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on MongoDB.
type MongoStore struct {
	client  *mongodb.Client
	db      *mongo.Database
	timeout time.Duration
	logger  *logger.Logger
}

// NewMongoStore creates a store on the client's database. timeout bounds
// every single operation; zero disables it.
func NewMongoStore(client *mongodb.Client, timeout time.Duration, log *logger.Logger) *MongoStore {
	return &MongoStore{
		client:  client,
		db:      client.DB,
		timeout: timeout,
		logger:  log,
	}
}

var _ Store = (*MongoStore)(nil)

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MongoStore) coll(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// newestFirst orders by creation time, ties in insertion order.
var newestFirst = bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}

// EnsureSchema creates the indexes the queries rely on.
func (s *MongoStore) EnsureSchema(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		CollectionUnprocessed: {
			{Keys: bson.D{{Key: "processed", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		CollectionProcessed: {
			{
				Keys: bson.D{{Key: "unprocessedId", Value: 1}},
				Options: options.Index().
					SetName("unprocessedId_unique").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"unprocessedId": bson.M{"$exists": true}}),
			},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
		CollectionDetections: {
			{Keys: bson.D{{Key: "video_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "unprocessed_id", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		CollectionUsers: {
			{Keys: bson.D{{Key: "role", Value: 1}, {Key: "status", Value: 1}}},
		},
	}

	for name, models := range indexes {
		if _, err := s.coll(name).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Storage("failed to create indexes on "+name, err)
		}
	}

	s.logger.Info().Msg("mongo indexes ensured")
	return nil
}

// Health reports MongoDB connectivity.
func (s *MongoStore) Health(ctx context.Context) map[string]string {
	return s.client.Health(ctx)
}

// InsertUnprocessed stores a new capture and fills in its id and timestamp.
func (s *MongoStore) InsertUnprocessed(ctx context.Context, v *domain.UnprocessedVideo) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if v.ID == "" {
		v.ID = NewID()
	}
	oid, err := primitive.ObjectIDFromHex(v.ID)
	if err != nil {
		return errors.Invalid("invalid video id")
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	v.Processed = false
	v.ProcessedID = ""

	doc := unprocessedDoc{
		ID:        oid,
		VideoURL:  v.VideoURL,
		Location:  newLocationDoc(v.Location),
		CreatedAt: v.CreatedAt,
	}
	if _, err := s.coll(CollectionUnprocessed).InsertOne(ctx, doc); err != nil {
		return errors.Storage("failed to save unprocessed video", err)
	}
	return nil
}

// GetUnprocessed returns a capture by id.
func (s *MongoStore) GetUnprocessed(ctx context.Context, id string) (*domain.UnprocessedVideo, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, errors.NotFound("unprocessed video")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc unprocessedDoc
	err = s.coll(CollectionUnprocessed).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if stderrors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.NotFound("unprocessed video")
		}
		return nil, errors.Storage("failed to load unprocessed video", err)
	}
	return doc.toDomain(), nil
}

// LatestUnprocessed returns the newest capture that has not been processed.
func (s *MongoStore) LatestUnprocessed(ctx context.Context) (*domain.UnprocessedVideo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := options.FindOne().SetSort(newestFirst)
	var doc unprocessedDoc
	err := s.coll(CollectionUnprocessed).
		FindOne(ctx, bson.M{"processed": bson.M{"$ne": true}}, opts).
		Decode(&doc)
	if err != nil {
		if stderrors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.NotFound("unprocessed video")
		}
		return nil, errors.Storage("failed to load latest unprocessed video", err)
	}
	return doc.toDomain(), nil
}

// MarkProcessed flips the processed flag only when it is not set yet, so two
// concurrent promotions cannot both succeed.
func (s *MongoStore) MarkProcessed(ctx context.Context, unprocessedID, processedID string) error {
	oid, err := primitive.ObjectIDFromHex(unprocessedID)
	if err != nil {
		return errors.NotFound("unprocessed video")
	}
	pid, err := primitive.ObjectIDFromHex(processedID)
	if err != nil {
		return errors.Invalid("invalid processed video id")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	coll := s.coll(CollectionUnprocessed)
	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": oid, "processed": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"processed": true, "processedId": pid}},
	)
	if err != nil {
		return errors.Storage("failed to update unprocessed video", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := coll.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return errors.Storage("failed to load unprocessed video", err)
	}
	if n == 0 {
		return errors.NotFound("unprocessed video")
	}
	return errors.Conflict(AlreadyProcessedMessage)
}

// InsertProcessed stores a processed video and fills in its id and timestamp.
func (s *MongoStore) InsertProcessed(ctx context.Context, v *domain.ProcessedVideo) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if v.ID == "" {
		v.ID = NewID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	doc, err := newProcessedDoc(v)
	if err != nil {
		return errors.Invalid("invalid video id")
	}

	if _, err := s.coll(CollectionProcessed).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.Conflict(AlreadyProcessedMessage)
		}
		return errors.Storage("failed to save processed video", err)
	}
	return nil
}

// GetProcessed returns a processed video by id.
func (s *MongoStore) GetProcessed(ctx context.Context, id string) (*domain.ProcessedVideo, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, errors.NotFound("video")
	}
	return s.findProcessed(ctx, bson.M{"_id": oid})
}

// GetProcessedByUnprocessedID returns the processed video promoted from a capture.
func (s *MongoStore) GetProcessedByUnprocessedID(ctx context.Context, unprocessedID string) (*domain.ProcessedVideo, error) {
	return s.findProcessed(ctx, bson.M{"unprocessedId": idFilter(unprocessedID)})
}

func (s *MongoStore) findProcessed(ctx context.Context, filter bson.M) (*domain.ProcessedVideo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc processedDoc
	if err := s.coll(CollectionProcessed).FindOne(ctx, filter).Decode(&doc); err != nil {
		if stderrors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.NotFound("video")
		}
		return nil, errors.Storage("failed to load processed video", err)
	}
	v := doc.toDomain()
	return &v, nil
}

// ListProcessed returns processed videos, newest first.
func (s *MongoStore) ListProcessed(ctx context.Context, q ProcessedQuery) ([]domain.ProcessedVideo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{}
	if q.Search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(q.Search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"title": pattern},
			bson.M{"location.address": pattern},
		}
	}

	opts := options.Find().SetSort(newestFirst)
	// Location validity is checked after decoding, so paging happens in Go then.
	if !q.WithLocation {
		if q.Offset > 0 {
			opts.SetSkip(int64(q.Offset))
		}
		if q.Limit > 0 {
			opts.SetLimit(int64(q.Limit))
		}
	}

	cursor, err := s.coll(CollectionProcessed).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Storage("failed to list processed videos", err)
	}
	var docs []processedDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Storage("failed to decode processed videos", err)
	}

	videos := make([]domain.ProcessedVideo, 0, len(docs))
	for i := range docs {
		videos = append(videos, docs[i].toDomain())
	}
	if q.WithLocation {
		videos = page(withLocation(videos), q.Offset, q.Limit)
	}
	return videos, nil
}

// InsertDetectionResult stores detector output.
func (s *MongoStore) InsertDetectionResult(ctx context.Context, r *domain.DetectionResult) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	doc, err := newDetectionDoc(r)
	if err != nil {
		return errors.Invalid("invalid detection result id")
	}
	if _, err := s.coll(CollectionDetections).InsertOne(ctx, doc); err != nil {
		return errors.Storage("failed to save detection result", err)
	}
	return nil
}

// FindDetectionResult looks the result up by processed id first, then by
// the capture id under either link field.
func (s *MongoStore) FindDetectionResult(ctx context.Context, processedID, unprocessedID string) (*domain.DetectionResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var filters []bson.M
	if processedID != "" {
		filters = append(filters, bson.M{"video_id": idFilter(processedID)})
	}
	if unprocessedID != "" {
		filters = append(filters,
			bson.M{"unprocessed_id": idFilter(unprocessedID)},
			bson.M{"video_id": idFilter(unprocessedID)},
		)
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	for _, filter := range filters {
		var doc detectionDoc
		err := s.coll(CollectionDetections).FindOne(ctx, filter, opts).Decode(&doc)
		if err == nil {
			r := doc.toDomain()
			return &r, nil
		}
		if !stderrors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.Storage("failed to load detection result", err)
		}
	}
	return nil, errors.NotFound("detection result")
}

// ListDetectionResults returns results created at or after since, oldest first.
func (s *MongoStore) ListDetectionResults(ctx context.Context, since time.Time) ([]domain.DetectionResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.coll(CollectionDetections).Find(ctx, bson.M{"created_at": bson.M{"$gte": since}}, opts)
	if err != nil {
		return nil, errors.Storage("failed to list detection results", err)
	}
	var docs []detectionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Storage("failed to decode detection results", err)
	}

	out := make([]domain.DetectionResult, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toDomain())
	}
	return out, nil
}

// DetectionCategoryCounts unwinds every frame and counts detections by category.
func (s *MongoStore) DetectionCategoryCounts(ctx context.Context) (domain.DetectionSummary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$unwind", Value: "$detections"}},
		{{Key: "$unwind", Value: "$detections.detections"}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$detections.detections.category"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.coll(CollectionDetections).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Storage("failed to count detections", err)
	}

	var rows []struct {
		Category string `bson:"_id"`
		Count    int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, errors.Storage("failed to decode detection counts", err)
	}

	out := domain.DetectionSummary{}
	for _, row := range rows {
		if row.Category == "" {
			continue
		}
		out[row.Category] += int(row.Count)
	}
	return out.Normalize(), nil
}

// CountVideos reads the lifecycle counters. Total counts every capture,
// processed counts the processed collection.
func (s *MongoStore) CountVideos(ctx context.Context) (domain.VideoCounts, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var counts domain.VideoCounts
	var err error

	if counts.Total, err = s.coll(CollectionUnprocessed).CountDocuments(ctx, bson.M{}); err != nil {
		return counts, errors.Storage("failed to count videos", err)
	}
	if counts.Unprocessed, err = s.coll(CollectionUnprocessed).CountDocuments(ctx, bson.M{"processed": bson.M{"$ne": true}}); err != nil {
		return counts, errors.Storage("failed to count unprocessed videos", err)
	}
	if counts.Processed, err = s.coll(CollectionProcessed).CountDocuments(ctx, bson.M{}); err != nil {
		return counts, errors.Storage("failed to count processed videos", err)
	}
	return counts, nil
}

// CountActiveRiders counts users with the rider role and active status.
func (s *MongoStore) CountActiveRiders(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.coll(CollectionUsers).CountDocuments(ctx, bson.M{
		"role":   domain.RoleRider,
		"status": domain.RiderActive,
	})
	if err != nil {
		return 0, errors.Storage("failed to count riders", err)
	}
	return n, nil
}

// SumRewards adds up every reward amount. No rewards yields 0.
func (s *MongoStore) SumRewards(ctx context.Context) (float64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
		}}},
	}
	cursor, err := s.coll(CollectionRewards).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, errors.Storage("failed to sum rewards", err)
	}

	var rows []struct {
		Total float64 `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, errors.Storage("failed to decode reward total", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

// InsertRider stores a rider.
func (s *MongoStore) InsertRider(ctx context.Context, r *domain.Rider) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if r.ID == "" {
		r.ID = NewID()
	}
	oid, err := primitive.ObjectIDFromHex(r.ID)
	if err != nil {
		return errors.Invalid("invalid rider id")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	doc := riderDoc{ID: oid, Name: r.Name, Role: r.Role, Status: r.Status, CreatedAt: r.CreatedAt}
	if _, err := s.coll(CollectionUsers).InsertOne(ctx, doc); err != nil {
		return errors.Storage("failed to save rider", err)
	}
	return nil
}

// InsertReward stores a reward payout.
func (s *MongoStore) InsertReward(ctx context.Context, r *domain.Reward) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if r.ID == "" {
		r.ID = NewID()
	}
	oid, err := primitive.ObjectIDFromHex(r.ID)
	if err != nil {
		return errors.Invalid("invalid reward id")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	doc := rewardDoc{ID: oid, RiderID: objectIDOrString(r.RiderID), Amount: r.Amount, CreatedAt: r.CreatedAt}
	if _, err := s.coll(CollectionRewards).InsertOne(ctx, doc); err != nil {
		return errors.Storage("failed to save reward", err)
	}
	return nil
}

// MigrateLegacyCollections moves documents from collections left over from
// older deployments into the current ones, merging when both exist.
// Documents that conflict with one already in the target stay in the legacy
// collection and are logged.
func (s *MongoStore) MigrateLegacyCollections(ctx context.Context) ([]mongodb.MoveResult, error) {
	var results []mongodb.MoveResult
	for _, lc := range LegacyCollections {
		res, err := s.client.MoveCollection(ctx, lc.From, lc.To)
		if err != nil {
			return results, errors.Storage("failed to migrate legacy collections", err)
		}
		if len(res.Skipped) > 0 {
			s.logger.Warn().
				Str("from", lc.From).
				Str("to", lc.To).
				Int("skipped", len(res.Skipped)).
				Strs("ids", res.Skipped).
				Msg("legacy documents conflict with existing ones and were left in place")
		}
		if res.Renamed || res.Moved > 0 || len(res.Skipped) > 0 {
			results = append(results, *res)
		}
	}
	return results, nil
}

func withLocation(videos []domain.ProcessedVideo) []domain.ProcessedVideo {
	out := videos[:0]
	for _, v := range videos {
		if !v.Location.HasFix() || !v.Location.Valid() {
			continue
		}
		out = append(out, v)
	}
	return out
}

func page(videos []domain.ProcessedVideo, offset, limit int) []domain.ProcessedVideo {
	if offset > 0 {
		if offset >= len(videos) {
			return []domain.ProcessedVideo{}
		}
		videos = videos[offset:]
	}
	if limit > 0 && limit < len(videos) {
		videos = videos[:limit]
	}
	return videos
}
