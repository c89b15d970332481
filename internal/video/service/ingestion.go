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
	"github.com/track360/track360-backend/pkg/logger"
	"github.com/track360/track360-backend/pkg/metrics"
)

// Validation messages returned to the capture client.
const (
	MsgLocationRequired = "Location data is required"
	MsgLocationInvalid  = "Invalid location data format"
	MsgVideoRequired    = "Either video file or videoURL is required"
	MsgNoUnprocessed    = "No unprocessed videos found"
)

// IngestRequest is one raw capture. Location is the value as received: an
// object, or a JSON string holding one.
type IngestRequest struct {
	VideoURL string
	Video    io.Reader
	Filename string
	Location interface{}
}

// IngestResult identifies the stored capture.
type IngestResult struct {
	ID       string `json:"id"`
	VideoURL string `json:"videoUrl"`
}

// IngestionService stores raw captures.
type IngestionService struct {
	store     repository.UnprocessedStore
	media     media.Store
	publisher *events.VideoEventPublisher
	folder    string
	timeout   time.Duration
	logger    *logger.Logger
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(
	store repository.UnprocessedStore,
	mediaStore media.Store,
	publisher *events.VideoEventPublisher,
	cfg *config.MediaConfig,
	log *logger.Logger,
) *IngestionService {
	return &IngestionService{
		store:     store,
		media:     mediaStore,
		publisher: publisher,
		folder:    cfg.UnprocessedFolder,
		timeout:   cfg.Timeout,
		logger:    log.WithComponent("ingestion"),
	}
}

// Ingest validates the capture, uploads the payload when no URL was given
// and stores an unprocessed video.
func (s *IngestionService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	loc, err := ParseCaptureLocation(req.Location)
	if err != nil {
		return nil, err
	}

	source := "url"
	videoURL := strings.TrimSpace(req.VideoURL)
	if videoURL == "" {
		if req.Video == nil {
			return nil, errors.Invalid(MsgVideoRequired)
		}
		source = "file"
		videoURL, err = s.upload(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	v := &domain.UnprocessedVideo{
		VideoURL: videoURL,
		Location: loc,
	}
	if err := s.store.InsertUnprocessed(ctx, v); err != nil {
		return nil, err
	}

	metrics.VideosIngestedTotal.WithLabelValues(source).Inc()
	s.logger.WithVideoID(v.ID).Info().
		Str("source", source).
		Float64("latitude", loc.Latitude).
		Float64("longitude", loc.Longitude).
		Msg("capture ingested")

	s.publisher.PublishVideoIngested(ctx, v)

	return &IngestResult{ID: v.ID, VideoURL: v.VideoURL}, nil
}

// Latest returns the newest capture still waiting for detection.
func (s *IngestionService) Latest(ctx context.Context) (*domain.UnprocessedVideo, error) {
	v, err := s.store.LatestUnprocessed(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NotFoundMessage(MsgNoUnprocessed)
		}
		return nil, err
	}
	return v, nil
}

func (s *IngestionService) upload(ctx context.Context, req IngestRequest) (string, error) {
	if s.media == nil {
		return "", errors.Upstream("Failed to upload video", fmt.Errorf("media store is not configured"))
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	url, err := s.media.Upload(ctx, s.folder, req.Filename, req.Video)
	if err != nil {
		s.logger.WithError(err).Error().Str("filename", req.Filename).Msg("capture upload failed")
		return "", err
	}
	return url, nil
}

// ParseCaptureLocation validates a location as sent by the capture client.
func ParseCaptureLocation(raw interface{}) (domain.Location, error) {
	if raw == nil {
		return domain.Location{}, errors.Invalid(MsgLocationRequired)
	}
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		return domain.Location{}, errors.Invalid(MsgLocationRequired)
	}

	loc, err := repository.ParseLocation(raw)
	if err != nil {
		return domain.Location{}, errors.Invalid(MsgLocationInvalid)
	}
	if !loc.Valid() {
		return domain.Location{}, errors.Validation(map[string]string{
			"location": "latitude must be within [-90, 90] and longitude within [-180, 180]",
		})
	}
	return loc, nil
}
