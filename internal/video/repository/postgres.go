package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/track360/track360-backend/internal/video/domain"
	"github.com/track360/track360-backend/pkg/database"
	"github.com/track360/track360-backend/pkg/errors"
	"github.com/track360/track360-backend/pkg/logger"
)

// PostgresStore implements Store on PostgreSQL with JSONB for the free-form
// parts of a document.
type PostgresStore struct {
	db      *database.DB
	timeout time.Duration
	logger  *logger.Logger
}

// NewPostgresStore creates a store on db.
func NewPostgresStore(db *database.DB, timeout time.Duration, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout, logger: log}
}

var _ Store = (*PostgresStore)(nil)

type unprocessedRow struct {
	ID          string         `db:"id"`
	VideoURL    string         `db:"video_url"`
	Latitude    float64        `db:"latitude"`
	Longitude   float64        `db:"longitude"`
	Address     string         `db:"address"`
	Processed   bool           `db:"processed"`
	ProcessedID sql.NullString `db:"processed_id"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r *unprocessedRow) toDomain() *domain.UnprocessedVideo {
	return &domain.UnprocessedVideo{
		ID:          r.ID,
		VideoURL:    r.VideoURL,
		Location:    domain.Location{Latitude: r.Latitude, Longitude: r.Longitude, Address: r.Address},
		CreatedAt:   r.CreatedAt.UTC(),
		Processed:   r.Processed,
		ProcessedID: r.ProcessedID.String,
	}
}

type processedRow struct {
	ID                string          `db:"id"`
	UnprocessedID     sql.NullString  `db:"unprocessed_id"`
	OriginalVideoURL  string          `db:"original_video_url"`
	ProcessedVideoURL string          `db:"processed_video_url"`
	Latitude          sql.NullFloat64 `db:"latitude"`
	Longitude         sql.NullFloat64 `db:"longitude"`
	Address           string          `db:"address"`
	ExtraData         []byte          `db:"extra_data"`
	Title             string          `db:"title"`
	Thumbnail         string          `db:"thumbnail"`
	RiderName         string          `db:"rider_name"`
	Status            string          `db:"status"`
	DetectionSummary  []byte          `db:"detection_summary"`
	CreatedAt         time.Time       `db:"created_at"`
}

// toDomain keeps rows with unreadable JSONB columns readable and logs them.
func (r *processedRow) toDomain(log *logger.Logger) domain.ProcessedVideo {
	v := domain.ProcessedVideo{
		ID:                r.ID,
		UnprocessedID:     r.UnprocessedID.String,
		OriginalVideoURL:  r.OriginalVideoURL,
		ProcessedVideoURL: r.ProcessedVideoURL,
		Location: domain.Location{
			Latitude:  r.Latitude.Float64,
			Longitude: r.Longitude.Float64,
			Address:   r.Address,
			Missing:   !r.Latitude.Valid || !r.Longitude.Valid,
		},
		CreatedAt: r.CreatedAt.UTC(),
		Title:     r.Title,
		Thumbnail: r.Thumbnail,
		RiderName: r.RiderName,
		Status:    r.Status,
	}
	extra, err := domain.ParseExtraData(r.ExtraData)
	if err != nil {
		log.Warn().Err(err).Str("video_id", r.ID).Msg("processed video has unreadable extra_data")
	} else {
		v.ExtraData = extra
	}
	if len(r.DetectionSummary) > 0 {
		var summary domain.DetectionSummary
		if err := json.Unmarshal(r.DetectionSummary, &summary); err != nil {
			log.Warn().Err(err).Str("video_id", r.ID).Msg("processed video has unreadable detection_summary")
		} else if len(summary) > 0 {
			v.DetectionSummary = summary
		}
	}
	return v
}

type detectionRow struct {
	ID               string         `db:"id"`
	VideoID          sql.NullString `db:"video_id"`
	UnprocessedID    sql.NullString `db:"unprocessed_id"`
	VideoFile        string         `db:"video_file"`
	DurationSeconds  float64        `db:"duration_seconds"`
	Duration         string         `db:"duration"`
	DetectionSummary []byte         `db:"detection_summary"`
	Detections       []byte         `db:"detections"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r *detectionRow) toDomain(log *logger.Logger) domain.DetectionResult {
	res := domain.DetectionResult{
		ID:              r.ID,
		VideoID:         r.VideoID.String,
		UnprocessedID:   r.UnprocessedID.String,
		VideoFile:       r.VideoFile,
		DurationSeconds: r.DurationSeconds,
		Duration:        r.Duration,
		Detections:      []domain.DetectionFrame{},
		CreatedAt:       r.CreatedAt.UTC(),
	}
	var summary domain.DetectionSummary
	if len(r.DetectionSummary) > 0 {
		if err := json.Unmarshal(r.DetectionSummary, &summary); err != nil {
			log.Warn().Err(err).Str("detection_id", r.ID).Msg("detection result has unreadable detection_summary")
			summary = nil
		}
	}
	res.DetectionSummary = summary.Normalize()
	if len(r.Detections) > 0 {
		if err := json.Unmarshal(r.Detections, &res.Detections); err != nil {
			log.Warn().Err(err).Str("detection_id", r.ID).Msg("detection result has unreadable detections")
			res.Detections = []domain.DetectionFrame{}
		}
	}
	if res.Duration == "" && res.DurationSeconds > 0 {
		res.Duration = domain.FormatDuration(res.DurationSeconds)
	}
	return res
}

const (
	unprocessedColumns = `id, video_url, latitude, longitude, address, processed, processed_id, created_at`
	processedColumns   = `id, unprocessed_id, original_video_url, processed_video_url, latitude, longitude, address,
		extra_data, title, thumbnail, rider_name, status, detection_summary, created_at`
	detectionColumns = `id, video_id, unprocessed_id, video_file, duration_seconds, duration,
		detection_summary, detections, created_at`
)

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// storageError maps constraint violations to client errors and wraps everything else.
func storageError(message string, err error) error {
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return errors.Storage(message, err)
}

// EnsureSchema creates the tables and indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if err := s.db.Migrate(ctx, migrationStatements); err != nil {
		return errors.Storage("failed to migrate database", err)
	}
	return nil
}

// Health reports database connectivity.
func (s *PostgresStore) Health(ctx context.Context) map[string]string {
	return s.db.Health(ctx)
}

// InsertUnprocessed stores a new capture and fills in its id and timestamp.
func (s *PostgresStore) InsertUnprocessed(ctx context.Context, v *domain.UnprocessedVideo) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if v.ID == "" {
		v.ID = NewID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	v.Processed = false
	v.ProcessedID = ""

	query := `
		INSERT INTO unprocessed_videos (id, video_url, latitude, longitude, address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		v.ID, v.VideoURL, v.Location.Latitude, v.Location.Longitude, v.Location.Address, v.CreatedAt,
	)
	if err != nil {
		return storageError("failed to save unprocessed video", err)
	}
	return nil
}

// GetUnprocessed returns a capture by id.
func (s *PostgresStore) GetUnprocessed(ctx context.Context, id string) (*domain.UnprocessedVideo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row unprocessedRow
	query := `SELECT ` + unprocessedColumns + ` FROM unprocessed_videos WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("unprocessed video")
		}
		return nil, errors.Storage("failed to load unprocessed video", err)
	}
	return row.toDomain(), nil
}

// LatestUnprocessed returns the newest capture that has not been processed.
func (s *PostgresStore) LatestUnprocessed(ctx context.Context) (*domain.UnprocessedVideo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row unprocessedRow
	query := `SELECT ` + unprocessedColumns + ` FROM unprocessed_videos
		WHERE processed = FALSE
		ORDER BY created_at DESC, seq ASC
		LIMIT 1`
	if err := s.db.GetContext(ctx, &row, query); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("unprocessed video")
		}
		return nil, errors.Storage("failed to load latest unprocessed video", err)
	}
	return row.toDomain(), nil
}

// MarkProcessed links a capture to its processed video, only if it is still pending.
func (s *PostgresStore) MarkProcessed(ctx context.Context, unprocessedID, processedID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE unprocessed_videos SET processed = TRUE, processed_id = $2 WHERE id = $1 AND processed = FALSE`,
		unprocessedID, processedID,
	)
	if err != nil {
		return storageError("failed to update unprocessed video", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Storage("failed to update unprocessed video", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM unprocessed_videos WHERE id = $1)`, unprocessedID); err != nil {
		return errors.Storage("failed to load unprocessed video", err)
	}
	if !exists {
		return errors.NotFound("unprocessed video")
	}
	return errors.Conflict(AlreadyProcessedMessage)
}

// InsertProcessed stores a processed video and fills in its id and timestamp.
func (s *PostgresStore) InsertProcessed(ctx context.Context, v *domain.ProcessedVideo) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if v.ID == "" {
		v.ID = NewID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	extra, err := jsonOrNull(v.ExtraData, len(v.ExtraData) == 0)
	if err != nil {
		return errors.Invalid("extraData could not be encoded")
	}
	summary, err := jsonOrNull(v.DetectionSummary, len(v.DetectionSummary) == 0)
	if err != nil {
		return errors.Invalid("detection summary could not be encoded")
	}

	query := `
		INSERT INTO processed_videos (
			id, unprocessed_id, original_video_url, processed_video_url, latitude, longitude, address,
			extra_data, title, thumbnail, rider_name, status, detection_summary, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.db.ExecContext(ctx, query,
		v.ID, nullString(v.UnprocessedID), v.OriginalVideoURL, v.ProcessedVideoURL,
		nullCoordinate(v.Location, v.Location.Latitude), nullCoordinate(v.Location, v.Location.Longitude), v.Location.Address,
		extra, v.Title, v.Thumbnail, v.RiderName, v.Status, summary, v.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err, "unprocessed_id") {
			return errors.Conflict(AlreadyProcessedMessage)
		}
		return storageError("failed to save processed video", err)
	}
	return nil
}

// GetProcessed returns a processed video by id.
func (s *PostgresStore) GetProcessed(ctx context.Context, id string) (*domain.ProcessedVideo, error) {
	return s.findProcessed(ctx, `id = $1`, id)
}

// GetProcessedByUnprocessedID returns the processed video promoted from a capture.
func (s *PostgresStore) GetProcessedByUnprocessedID(ctx context.Context, unprocessedID string) (*domain.ProcessedVideo, error) {
	return s.findProcessed(ctx, `unprocessed_id = $1`, unprocessedID)
}

func (s *PostgresStore) findProcessed(ctx context.Context, where string, arg interface{}) (*domain.ProcessedVideo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row processedRow
	query := `SELECT ` + processedColumns + ` FROM processed_videos WHERE ` + where
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("video")
		}
		return nil, errors.Storage("failed to load processed video", err)
	}
	v := row.toDomain(s.logger)
	return &v, nil
}

// ListProcessed returns processed videos, newest first.
func (s *PostgresStore) ListProcessed(ctx context.Context, q ProcessedQuery) ([]domain.ProcessedVideo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	args := []interface{}{}
	query := `SELECT ` + processedColumns + ` FROM processed_videos WHERE 1=1`

	if q.Search != "" {
		args = append(args, "%"+escapeLike(q.Search)+"%")
		n := strconv.Itoa(len(args))
		query += ` AND (title ILIKE $` + n + ` OR address ILIKE $` + n + `)`
	}

	query += ` ORDER BY created_at DESC, seq ASC`

	if !q.WithLocation {
		if q.Limit > 0 {
			args = append(args, q.Limit)
			query += ` LIMIT $` + strconv.Itoa(len(args))
		}
		if q.Offset > 0 {
			args = append(args, q.Offset)
			query += ` OFFSET $` + strconv.Itoa(len(args))
		}
	}

	var rows []processedRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Storage("failed to list processed videos", err)
	}

	videos := make([]domain.ProcessedVideo, 0, len(rows))
	for i := range rows {
		videos = append(videos, rows[i].toDomain(s.logger))
	}
	if q.WithLocation {
		videos = page(withLocation(videos), q.Offset, q.Limit)
	}
	return videos, nil
}

// InsertDetectionResult stores detector output.
func (s *PostgresStore) InsertDetectionResult(ctx context.Context, r *domain.DetectionResult) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	summary, err := json.Marshal(r.DetectionSummary.Normalize())
	if err != nil {
		return errors.Invalid("detection summary could not be encoded")
	}
	frames := r.Detections
	if frames == nil {
		frames = []domain.DetectionFrame{}
	}
	detections, err := json.Marshal(frames)
	if err != nil {
		return errors.Invalid("detections could not be encoded")
	}

	query := `
		INSERT INTO detection_results (
			id, video_id, unprocessed_id, video_file, duration_seconds, duration,
			detection_summary, detections, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, nullString(r.VideoID), nullString(r.UnprocessedID), r.VideoFile, r.DurationSeconds,
		r.Duration, string(summary), string(detections), r.CreatedAt,
	)
	if err != nil {
		return storageError("failed to save detection result", err)
	}
	return nil
}

// FindDetectionResult looks the result up by processed id first, then by
// the capture id under either link column.
func (s *PostgresStore) FindDetectionResult(ctx context.Context, processedID, unprocessedID string) (*domain.DetectionResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	type lookup struct {
		column string
		id     string
	}
	lookups := []lookup{
		{"video_id", processedID},
		{"unprocessed_id", unprocessedID},
		{"video_id", unprocessedID},
	}

	for _, l := range lookups {
		if l.id == "" {
			continue
		}
		var row detectionRow
		query := `SELECT ` + detectionColumns + ` FROM detection_results WHERE ` + l.column + ` = $1
			ORDER BY created_at DESC, seq ASC LIMIT 1`
		err := s.db.GetContext(ctx, &row, query, l.id)
		if err == nil {
			r := row.toDomain(s.logger)
			return &r, nil
		}
		if !stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Storage("failed to load detection result", err)
		}
	}
	return nil, errors.NotFound("detection result")
}

// ListDetectionResults returns results created at or after since, oldest first.
func (s *PostgresStore) ListDetectionResults(ctx context.Context, since time.Time) ([]domain.DetectionResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []detectionRow
	query := `SELECT ` + detectionColumns + ` FROM detection_results WHERE created_at >= $1 ORDER BY created_at, seq`
	if err := s.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, errors.Storage("failed to list detection results", err)
	}

	out := make([]domain.DetectionResult, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain(s.logger))
	}
	return out, nil
}

// DetectionCategoryCounts expands every frame and counts detections by category.
func (s *PostgresStore) DetectionCategoryCounts(ctx context.Context) (domain.DetectionSummary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT d->>'category' AS category, COUNT(*) AS count
		FROM detection_results r,
			jsonb_array_elements(r.detections) AS f,
			jsonb_array_elements(f->'detections') AS d
		WHERE COALESCE(d->>'category', '') <> ''
		GROUP BY 1
	`
	var rows []struct {
		Category string `db:"category"`
		Count    int64  `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Storage("failed to count detections", err)
	}

	out := domain.DetectionSummary{}
	for _, row := range rows {
		out[row.Category] += int(row.Count)
	}
	return out.Normalize(), nil
}

// CountVideos reads the lifecycle counters in a single round trip.
func (s *PostgresStore) CountVideos(ctx context.Context) (domain.VideoCounts, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row struct {
		Total       int64 `db:"total"`
		Unprocessed int64 `db:"unprocessed"`
		Processed   int64 `db:"processed"`
	}
	query := `
		SELECT
			(SELECT COUNT(*) FROM unprocessed_videos) AS total,
			(SELECT COUNT(*) FROM unprocessed_videos WHERE processed = FALSE) AS unprocessed,
			(SELECT COUNT(*) FROM processed_videos) AS processed
	`
	if err := s.db.GetContext(ctx, &row, query); err != nil {
		return domain.VideoCounts{}, errors.Storage("failed to count videos", err)
	}
	return domain.VideoCounts{Total: row.Total, Processed: row.Processed, Unprocessed: row.Unprocessed}, nil
}

// CountActiveRiders counts users with the rider role and active status.
func (s *PostgresStore) CountActiveRiders(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users WHERE role = $1 AND status = $2`,
		domain.RoleRider, domain.RiderActive)
	if err != nil {
		return 0, errors.Storage("failed to count riders", err)
	}
	return n, nil
}

// SumRewards adds up every reward amount. No rewards yields 0.
func (s *PostgresStore) SumRewards(ctx context.Context) (float64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var total float64
	if err := s.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(amount), 0)::float8 FROM rewards`); err != nil {
		return 0, errors.Storage("failed to sum rewards", err)
	}
	return total, nil
}

// InsertRider stores a rider.
func (s *PostgresStore) InsertRider(ctx context.Context, r *domain.Rider) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, role, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.Name, r.Role, r.Status, r.CreatedAt,
	)
	if err != nil {
		return storageError("failed to save rider", err)
	}
	return nil
}

// InsertReward stores a reward payout.
func (s *PostgresStore) InsertReward(ctx context.Context, r *domain.Reward) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rewards (id, rider_id, amount, created_at) VALUES ($1, $2, $3, $4)`,
		r.ID, r.RiderID, r.Amount, r.CreatedAt,
	)
	if err != nil {
		return storageError("failed to save reward", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullCoordinate(l domain.Location, c float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: c, Valid: l.HasFix()}
}

// jsonOrNull encodes v as a JSONB parameter. lib/pq sends []byte as bytea,
// so the document travels as a string.
func jsonOrNull(v interface{}, empty bool) (interface{}, error) {
	if empty {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
