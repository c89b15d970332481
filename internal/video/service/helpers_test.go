package service_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/track360/track360-backend/internal/media"
	"github.com/track360/track360-backend/pkg/config"
)

// fakeMedia records uploads and returns predictable URLs.
type fakeMedia struct {
	mu      sync.Mutex
	uploads []fakeUpload
	err     error
}

type fakeUpload struct {
	folder   string
	filename string
	body     string
}

func (f *fakeMedia) Upload(_ context.Context, folder, filename string, r io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, fakeUpload{folder: folder, filename: filename, body: string(b)})
	return "https://cdn.example.com/" + folder + "/" + filename, nil
}

func (f *fakeMedia) SignUpload(_ context.Context, req media.SignRequest) (*media.UploadSignature, error) {
	return &media.UploadSignature{Timestamp: 1700000000, Signature: "sig", Folder: req.Folder, ResourceType: req.ResourceType}, nil
}

func testMediaConfig() *config.MediaConfig {
	return &config.MediaConfig{
		Provider:          config.MediaCloudinary,
		Timeout:           5 * time.Second,
		UnprocessedFolder: "unprocessed-videos",
		ProcessedFolder:   "processed-videos",
	}
}
