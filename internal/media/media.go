// Package media uploads videos to the hosted media store and signs direct
// uploads from the capture client.
package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/logger"
	"github.com/track360/track360-backend/pkg/metrics"
)

// ResourceVideo is the resource type signed for processed uploads.
const ResourceVideo = "video"

// Store is a hosted video store.
type Store interface {
	// Upload stores the content under folder and returns its public URL.
	Upload(ctx context.Context, folder, filename string, r io.Reader) (string, error)
	// SignUpload authorises one direct upload from a client.
	SignUpload(ctx context.Context, req SignRequest) (*UploadSignature, error)
}

// SignRequest describes the upload a client is about to make.
type SignRequest struct {
	Folder       string
	ResourceType string
}

// UploadSignature is returned to clients. Cloudinary fills the signature
// fields; S3 fills the presigned URL fields.
type UploadSignature struct {
	Timestamp    int64      `json:"timestamp"`
	Signature    string     `json:"signature,omitempty"`
	APIKey       string     `json:"apiKey,omitempty"`
	CloudName    string     `json:"cloudName,omitempty"`
	Folder       string     `json:"folder"`
	ResourceType string     `json:"resourceType,omitempty"`
	UploadURL    string     `json:"url,omitempty"`
	Method       string     `json:"method,omitempty"`
	Key          string     `json:"key,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// NewStore builds the store selected by cfg.Provider.
func NewStore(ctx context.Context, cfg *config.MediaConfig, log *logger.Logger) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Provider {
	case config.MediaCloudinary:
		store, err = NewCloudinaryStore(cfg.Cloudinary)
	case config.MediaS3:
		store, err = NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown media provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("provider", cfg.Provider).Msg("media store configured")
	return Instrument(store, cfg.Provider), nil
}

// Instrument records upload latency for store.
func Instrument(store Store, provider string) Store {
	return &instrumented{Store: store, provider: provider}
}

type instrumented struct {
	Store
	provider string
}

func (s *instrumented) Upload(ctx context.Context, folder, filename string, r io.Reader) (string, error) {
	start := time.Now()
	url, err := s.Store.Upload(ctx, folder, filename, r)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ObserveSince(metrics.MediaUploadDuration.WithLabelValues(s.provider, result), start)
	return url, err
}

// objectKey returns a collision free key under folder keeping the file extension.
func objectKey(folder, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".mp4"
	}
	return path.Join(folder, uuid.New().String()+ext)
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	default:
		return "video/mp4"
	}
}
