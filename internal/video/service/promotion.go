package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/track360/track360-backend/internal/media"
	"github.com/track360/track360-backend/internal/video/domain"
	"github.com/track360/track360-backend/internal/video/events"
	"github.com/track360/track360-backend/internal/video/repository"
	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/errors"
	"github.com/track360/track360-backend/pkg/httputil"
	"github.com/track360/track360-backend/pkg/logger"
	"github.com/track360/track360-backend/pkg/metrics"
)

// Messages returned by the promotion endpoint.
const (
	MsgPromoteFieldsRequired = "Video URL and unprocessed ID are required"
	MsgInvalidID             = "Invalid ID format. Must be a 24 character hex string."
	MsgInvalidData           = "Invalid JSON in 'data'"
	MsgUnprocessedNotFound   = "Unprocessed record not found"
)

// PromoteRequest carries the detector's output for one capture. Either
// ProcessedURL or Video must be set. ExtraData is an object or a JSON string.
type PromoteRequest struct {
	UnprocessedID string
	ProcessedURL  string
	Video         io.Reader
	Filename      string
	ExtraData     interface{}
}

// PromoteResult identifies the new processed video.
type PromoteResult struct {
	ID                string `json:"id"`
	ProcessedVideoURL string `json:"processedVideoUrl"`
}

// PromotionStore is what promotion reads and writes.
type PromotionStore interface {
	repository.UnprocessedStore
	repository.ProcessedStore
	InsertDetectionResult(ctx context.Context, r *domain.DetectionResult) error
}

// PromotionService turns an unprocessed capture into a processed video.
type PromotionService struct {
	store     PromotionStore
	media     media.Store
	publisher *events.VideoEventPublisher
	folder    string
	timeout   time.Duration
	logger    *logger.Logger
}

// NewPromotionService creates a new promotion service
func NewPromotionService(
	store PromotionStore,
	mediaStore media.Store,
	publisher *events.VideoEventPublisher,
	cfg *config.MediaConfig,
	log *logger.Logger,
) *PromotionService {
	return &PromotionService{
		store:     store,
		media:     mediaStore,
		publisher: publisher,
		folder:    cfg.ProcessedFolder,
		timeout:   cfg.Timeout,
		logger:    log.WithComponent("promotion"),
	}
}

// Promote validates the request, creates the processed video and flips the
// source capture to processed. A capture can be promoted once; later
// attempts fail with a conflict naming the existing processed video.
func (s *PromotionService) Promote(ctx context.Context, req PromoteRequest) (*PromoteResult, error) {
	id := strings.TrimSpace(req.UnprocessedID)
	processedURL := strings.TrimSpace(req.ProcessedURL)
	if id == "" || (processedURL == "" && req.Video == nil) {
		return nil, errors.Invalid(MsgPromoteFieldsRequired)
	}
	if !httputil.IsObjectID(id) {
		return nil, errors.Invalid(MsgInvalidID)
	}
	extra, err := ParseExtraData(req.ExtraData)
	if err != nil {
		return nil, err
	}

	src, err := s.store.GetUnprocessed(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			s.observe("not_found")
			return nil, errors.NotFoundMessage(MsgUnprocessedNotFound)
		}
		return nil, err
	}
	if src.Processed {
		s.observe("conflict")
		return nil, alreadyProcessed(src.ProcessedID)
	}

	if processedURL == "" {
		processedURL, err = s.upload(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	p := &domain.ProcessedVideo{
		UnprocessedID:     src.ID,
		OriginalVideoURL:  src.VideoURL,
		ProcessedVideoURL: processedURL,
		Location:          src.Location,
		ExtraData:         extra,
	}
	if err := s.store.InsertProcessed(ctx, p); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			s.observe("conflict")
			return nil, s.repair(ctx, src)
		}
		return nil, err
	}

	if err := s.store.MarkProcessed(ctx, src.ID, p.ID); err != nil && !s.linkedTo(ctx, src.ID, p.ID, err) {
		s.logger.WithVideoID(src.ID).WithError(err).Error().
			Str("processed_id", p.ID).
			Msg("processed video stored but capture was not marked")
		return nil, err
	}

	s.storeDetections(ctx, p)

	s.observe("created")
	s.logger.WithVideoID(p.ID).Info().
		Str("unprocessed_id", src.ID).
		Int("detection_count", p.DetectionCount()).
		Msg("video promoted")

	s.publisher.PublishVideoProcessed(ctx, p)

	return &PromoteResult{ID: p.ID, ProcessedVideoURL: p.ProcessedVideoURL}, nil
}

// repair links a capture to the processed video that already exists for it.
// This covers a promotion that stopped between its two writes.
func (s *PromotionService) repair(ctx context.Context, src *domain.UnprocessedVideo) error {
	existing, err := s.store.GetProcessedByUnprocessedID(ctx, src.ID)
	if err != nil {
		return errors.Conflict(repository.AlreadyProcessedMessage)
	}

	if err := s.store.MarkProcessed(ctx, src.ID, existing.ID); err != nil && !errors.Is(err, errors.ErrConflict) {
		s.logger.WithVideoID(src.ID).WithError(err).Warn().Msg("failed to repair capture link")
	} else if err == nil {
		s.logger.WithVideoID(src.ID).Warn().
			Str("processed_id", existing.ID).
			Msg("repaired capture link to existing processed video")
	}
	return alreadyProcessed(existing.ID)
}

// linkedTo reports whether a conflicting MarkProcessed left the capture
// linked to processedID, as happens when a concurrent promotion repaired the
// link first.
func (s *PromotionService) linkedTo(ctx context.Context, unprocessedID, processedID string, markErr error) bool {
	if !errors.Is(markErr, errors.ErrConflict) {
		return false
	}
	current, err := s.store.GetUnprocessed(ctx, unprocessedID)
	if err != nil {
		return false
	}
	return current.Processed && current.ProcessedID == processedID
}

// storeDetections saves the frames carried in ExtraData as a detection
// result. Failures are logged; the promotion itself has already succeeded.
func (s *PromotionService) storeDetections(ctx context.Context, p *domain.ProcessedVideo) {
	frames := p.ExtraData.Detections()
	if len(frames) == 0 {
		return
	}

	r := &domain.DetectionResult{
		VideoID:       p.ID,
		UnprocessedID: p.UnprocessedID,
		VideoFile:     p.ExtraData.String("video_file"),
		Duration:      p.Duration(),
		Detections:    frames,
	}
	if secs, ok := p.ExtraData.Number("duration_seconds"); ok {
		r.DurationSeconds = secs
	}
	r.DetectionSummary = r.CountByCategory()

	log := s.logger.WithVideoID(p.ID)
	if err := r.Validate(); err != nil {
		log.Warn().Err(err).Msg("skipping invalid detections in extra data")
		return
	}
	if err := s.store.InsertDetectionResult(ctx, r); err != nil {
		log.WithError(err).Error().Msg("failed to store detection result")
		return
	}
	log.Debug().Int("frames", len(frames)).Msg("detection result stored")
}

func (s *PromotionService) upload(ctx context.Context, req PromoteRequest) (string, error) {
	if s.media == nil {
		return "", errors.Upstream("Failed to upload video", fmt.Errorf("media store is not configured"))
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.media.Upload(ctx, s.folder, req.Filename, req.Video)
}

func (s *PromotionService) observe(result string) {
	metrics.VideosPromotedTotal.WithLabelValues(result).Inc()
}

func alreadyProcessed(processedID string) error {
	err := errors.Conflict(repository.AlreadyProcessedMessage)
	if processedID != "" {
		err = err.WithDetails(map[string]string{"processedId": processedID})
	}
	return err
}

// ParseExtraData accepts the detector's data field as an object or as a
// JSON string. Empty input yields nil.
func ParseExtraData(raw interface{}) (domain.ExtraData, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case domain.ExtraData:
		return v, nil
	case map[string]interface{}:
		return domain.ExtraData(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		extra, err := domain.ParseExtraData([]byte(v))
		if err != nil {
			return nil, errors.Invalid(MsgInvalidData)
		}
		return extra, nil
	default:
		return nil, errors.Invalid(MsgInvalidData)
	}
}
