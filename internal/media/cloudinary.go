package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/errors"
)

const cloudinaryAPI = "https://api.cloudinary.com"

// CloudinaryStore uploads to a Cloudinary account and signs direct uploads
// against its API secret.
type CloudinaryStore struct {
	cld       *cloudinary.Cloudinary
	cloudName string
	apiKey    string
	apiSecret string
	apiPrefix string
	now       func() time.Time
}

// CloudinaryOption customises a CloudinaryStore.
type CloudinaryOption func(*CloudinaryStore)

// WithUploadPrefix points the store at another API host.
func WithUploadPrefix(prefix string) CloudinaryOption {
	return func(s *CloudinaryStore) {
		s.apiPrefix = strings.TrimRight(prefix, "/")
		s.cld.Upload.Config.API.UploadPrefix = s.apiPrefix
	}
}

// WithClock overrides the signature timestamp source.
func WithClock(now func() time.Time) CloudinaryOption {
	return func(s *CloudinaryStore) { s.now = now }
}

// NewCloudinaryStore creates a store from account credentials.
func NewCloudinaryStore(cfg config.CloudinaryConfig, opts ...CloudinaryOption) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudinary client: %w", err)
	}
	cld.Config.URL.Secure = true

	s := &CloudinaryStore{
		cld:       cld,
		cloudName: cfg.CloudName,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		apiPrefix: cloudinaryAPI,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Upload sends the video to folder and returns its secure URL.
func (s *CloudinaryStore) Upload(ctx context.Context, folder, _ string, r io.Reader) (string, error) {
	res, err := s.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		Folder:       folder,
		PublicID:     uuid.New().String(),
		ResourceType: ResourceVideo,
	})
	if err != nil {
		return "", errors.Upstream("Failed to upload video", err)
	}
	if res.Error.Message != "" {
		return "", errors.Upstream("Failed to upload video", fmt.Errorf("cloudinary: %s", res.Error.Message))
	}
	if res.SecureURL == "" {
		return "", errors.Upstream("Failed to upload video", fmt.Errorf("cloudinary: empty secure_url"))
	}
	return res.SecureURL, nil
}

// SignUpload returns the parameters the client posts alongside its file.
func (s *CloudinaryStore) SignUpload(_ context.Context, req SignRequest) (*UploadSignature, error) {
	ts := s.now().Unix()
	params := map[string]string{
		"folder":        req.Folder,
		"timestamp":     strconv.FormatInt(ts, 10),
		"resource_type": req.ResourceType,
	}

	signature, err := SignParams(params, s.apiSecret)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "Failed to sign upload", http.StatusInternalServerError)
	}

	resource := req.ResourceType
	if resource == "" {
		resource = "auto"
	}

	return &UploadSignature{
		Timestamp:    ts,
		Signature:    signature,
		APIKey:       s.apiKey,
		CloudName:    s.cloudName,
		Folder:       req.Folder,
		ResourceType: req.ResourceType,
		UploadURL:    fmt.Sprintf("%s/v1_1/%s/%s/upload", s.apiPrefix, s.cloudName, resource),
		Method:       "POST",
	}, nil
}
