package media

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/errors"
)

var testCloudinary = config.CloudinaryConfig{CloudName: "demo", APIKey: "123456", APISecret: "abcd1234"}

func TestCloudinaryStore_Upload(t *testing.T) {
	var gotPath, gotFolder string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotFolder = r.FormValue("folder")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"public_id":"processed-videos/abc","secure_url":"https://res.cloudinary.com/demo/video/upload/v1/processed-videos/abc.mp4"}`)
	}))
	defer srv.Close()

	store, err := NewCloudinaryStore(testCloudinary, WithUploadPrefix(srv.URL))
	require.NoError(t, err)

	url, err := store.Upload(context.Background(), "processed-videos", "clip.mp4", strings.NewReader("video-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "https://res.cloudinary.com/demo/video/upload/v1/processed-videos/abc.mp4", url)
	assert.Equal(t, "/v1_1/demo/video/upload", gotPath)
	assert.Equal(t, "processed-videos", gotFolder)
}

func TestCloudinaryStore_UploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Invalid Signature"}}`)
	}))
	defer srv.Close()

	store, err := NewCloudinaryStore(testCloudinary, WithUploadPrefix(srv.URL))
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), "unprocessed-videos", "clip.mp4", strings.NewReader("x"))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, errors.StatusCode(err))
	assert.True(t, errors.Is(err, errors.ErrUpstream))
}

func TestCloudinaryStore_SignUpload(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	store, err := NewCloudinaryStore(testCloudinary, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	t.Run("unprocessed", func(t *testing.T) {
		sig, err := store.SignUpload(context.Background(), SignRequest{Folder: "unprocessed-videos"})
		require.NoError(t, err)

		assert.Equal(t, int64(1700000000), sig.Timestamp)
		assert.Equal(t, "24d9c2c08166087f961494b771669015f4f8d353", sig.Signature)
		assert.Equal(t, "123456", sig.APIKey)
		assert.Equal(t, "demo", sig.CloudName)
		assert.Equal(t, "unprocessed-videos", sig.Folder)
		assert.Equal(t, "https://api.cloudinary.com/v1_1/demo/auto/upload", sig.UploadURL)
	})

	t.Run("processed", func(t *testing.T) {
		sig, err := store.SignUpload(context.Background(), SignRequest{Folder: "processed-videos", ResourceType: ResourceVideo})
		require.NoError(t, err)

		assert.Equal(t, "7ac7b4617b8cf75d4e120287f5dd8a1de6010bbf", sig.Signature)
		assert.Equal(t, ResourceVideo, sig.ResourceType)
		assert.Equal(t, "https://api.cloudinary.com/v1_1/demo/video/upload", sig.UploadURL)
	})
}
