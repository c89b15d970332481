package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/errors"
)

const defaultPresignExpiry = 15 * time.Minute

// S3Store keeps videos in an S3 (or S3 compatible) bucket. Direct uploads
// use presigned PUT URLs.
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	region    string
	publicURL string
	expiry    time.Duration
	now       func() time.Time
}

// NewS3Store loads AWS credentials from the environment and creates a store.
func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}
	return NewS3StoreWithClient(client, cfg), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client *s3.Client, cfg config.S3Config) *S3Store {
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		publicURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		expiry:    expiry,
		now:       time.Now,
	}
}

// Upload writes the object and returns its public URL.
func (s *S3Store) Upload(ctx context.Context, folder, filename string, r io.Reader) (string, error) {
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", errors.BadRequest("Failed to read uploaded file")
		}
		body = bytes.NewReader(data)
	}

	key := objectKey(folder, filename)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return "", errors.Upstream("Failed to upload video", fmt.Errorf("failed to upload to S3: %w", err))
	}
	return s.objectURL(key), nil
}

// SignUpload presigns a PUT for a fresh key under the requested folder.
func (s *S3Store) SignUpload(ctx context.Context, req SignRequest) (*UploadSignature, error) {
	key := objectKey(req.Folder, "")
	now := s.now()

	presigned, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType(key)),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return nil, errors.Internal("failed to create presigned url")
	}

	expiresAt := now.Add(s.expiry).UTC()
	return &UploadSignature{
		Timestamp:    now.Unix(),
		Folder:       req.Folder,
		ResourceType: req.ResourceType,
		UploadURL:    presigned.URL,
		Method:       http.MethodPut,
		Key:          key,
		ExpiresAt:    &expiresAt,
	}, nil
}

func (s *S3Store) objectURL(key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
