package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/track360/track360-backend/internal/media"
	"github.com/track360/track360-backend/internal/video/domain"
	"github.com/track360/track360-backend/internal/video/handler"
	"github.com/track360/track360-backend/internal/video/service"
	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/httputil"
	"github.com/track360/track360-backend/pkg/logger"
	"github.com/track360/track360-backend/pkg/testutil"
)

type recordingMedia struct {
	*media.CloudinaryStore
	uploads []string
}

func (m *recordingMedia) Upload(_ context.Context, folder, filename string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.uploads = append(m.uploads, string(b))
	return "https://cdn.example.com/" + folder + "/" + filename, nil
}

type testServer struct {
	router http.Handler
	store  *testutil.MemoryStore
	media  *recordingMedia
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.MediaConfig{
		Provider:          config.MediaCloudinary,
		Timeout:           5 * time.Second,
		MaxUploadSize:     1 << 20,
		UnprocessedFolder: "unprocessed-videos",
		ProcessedFolder:   "processed-videos",
	}
	cld, err := media.NewCloudinaryStore(
		config.CloudinaryConfig{CloudName: "demo", APIKey: "key", APISecret: "abcd1234"},
		media.WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
	require.NoError(t, err)

	store := testutil.NewMemoryStore()
	m := &recordingMedia{CloudinaryStore: cld}
	log := logger.Nop()

	ingestion := service.NewIngestionService(store, m, nil, cfg, log)
	promotion := service.NewPromotionService(store, m, nil, cfg, log)
	aggregation := service.NewAggregationService(store, log)

	r := chi.NewRouter()
	r.Use(httputil.RequestID)
	r.Route("/api", func(r chi.Router) {
		handler.Register(r,
			handler.NewUploadHandler(ingestion, promotion, m, cfg, log),
			handler.NewDashboardHandler(aggregation, log),
		)
	})

	return &testServer{router: r, store: store, media: m}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	return testutil.ExecuteRequest(s.router, req)
}

// ============================================================================
// INGESTION
// ============================================================================

func TestIngest_JSON(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(testutil.NewHTTPRequest(http.MethodPost, "/api/unprocessed/upload", map[string]interface{}{
		"videoUrl": "https://cdn.example.com/raw.mp4",
		"location": map[string]interface{}{"latitude": 28.5, "longitude": 77.3},
	}))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var body struct {
		Success  bool   `json:"success"`
		ID       string `json:"id"`
		VideoURL string `json:"videoUrl"`
	}
	testutil.ParseJSONBody(t, rr, &body)
	assert.True(t, body.Success)
	assert.Len(t, body.ID, 24)
	assert.Equal(t, "https://cdn.example.com/raw.mp4", body.VideoURL)
}

func TestIngest_MultipartFile(t *testing.T) {
	s := newTestServer(t)

	req := testutil.NewMultipartRequest(t, http.MethodPost, "/api/unprocessed/upload",
		map[string]string{"location": `{"latitude":28.5,"longitude":77.3}`},
		testutil.MultipartFile{Field: "video", Filename: "clip.mp4", Content: []byte("frames")},
	)
	rr := s.do(req)
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertBodyContains(t, rr, "https://cdn.example.com/unprocessed-videos/clip.mp4")
	assert.Equal(t, []string{"frames"}, s.media.uploads)
}

func TestIngest_MultipartURL(t *testing.T) {
	s := newTestServer(t)

	req := testutil.NewMultipartRequest(t, http.MethodPost, "/api/unprocessed/upload", map[string]string{
		"videoURL": "https://cdn.example.com/direct.mp4",
		"location": `{"latitude":28.5,"longitude":77.3}`,
	})
	rr := s.do(req)
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertBodyContains(t, rr, "https://cdn.example.com/direct.mp4")
	assert.Empty(t, s.media.uploads)
}

func TestIngest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    interface{}
		message string
	}{
		{
			name:    "missing location",
			body:    map[string]interface{}{"videoUrl": "https://x/y.mp4"},
			message: service.MsgLocationRequired,
		},
		{
			name:    "bad location",
			body:    map[string]interface{}{"videoUrl": "https://x/y.mp4", "location": "nope"},
			message: service.MsgLocationInvalid,
		},
		{
			name:    "no video",
			body:    map[string]interface{}{"location": map[string]interface{}{"latitude": 1, "longitude": 2}},
			message: service.MsgVideoRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rr := s.do(testutil.NewHTTPRequest(http.MethodPost, "/api/unprocessed/upload", tt.body))
			testutil.AssertStatus(t, rr, http.StatusBadRequest)

			var body httputil.ErrorResponse
			testutil.ParseJSONBody(t, rr, &body)
			assert.False(t, body.Success)
			assert.Equal(t, tt.message, body.Error)
			assert.Equal(t, tt.message, body.Message)
		})
	}
}

// ============================================================================
// PROMOTION
// ============================================================================

func (s *testServer) ingest(t *testing.T) string {
	t.Helper()
	u := testutil.NewFixtureFactory().UnprocessedVideo()
	require.NoError(t, s.store.InsertUnprocessed(context.Background(), u))
	return u.ID
}

func TestPromote_JSON(t *testing.T) {
	s := newTestServer(t)
	id := s.ingest(t)

	rr := s.do(testutil.NewHTTPRequest(http.MethodPost, "/api/processed/upload", map[string]interface{}{
		"videoUrl": "https://cdn.example.com/out.mp4",
		"id":       id,
		"data":     map[string]interface{}{"detection_summary": map[string]interface{}{"pothole": 2}},
	}))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var body struct {
		Success           bool   `json:"success"`
		ID                string `json:"id"`
		ProcessedVideoURL string `json:"processedVideoUrl"`
	}
	testutil.ParseJSONBody(t, rr, &body)
	assert.True(t, body.Success)
	assert.Equal(t, "https://cdn.example.com/out.mp4", body.ProcessedVideoURL)

	rr = s.do(testutil.NewHTTPRequest(http.MethodGet, "/api/videos/processed/"+body.ID, nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertBodyContains(t, rr, `"unprocessed_id":"`+id+`"`)
}

func TestPromote_Multipart(t *testing.T) {
	s := newTestServer(t)
	id := s.ingest(t)

	req := testutil.NewMultipartRequest(t, http.MethodPost, "/api/processed/upload", map[string]string{
		"videoURL": "https://cdn.example.com/out.mp4",
		"id":       id,
		"data":     `{"duration":"0:09"}`,
	})
	rr := s.do(req)
	testutil.AssertStatus(t, rr, http.StatusOK)
}

func TestPromote_URLEncoded(t *testing.T) {
	s := newTestServer(t)
	id := s.ingest(t)

	form := url.Values{}
	form.Set("videoUrl", "https://cdn.example.com/out.mp4")
	form.Set("id", id)
	req := httptest.NewRequest(http.MethodPost, "/api/processed/upload", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := s.do(req)
	testutil.AssertStatus(t, rr, http.StatusOK)
}

func TestPromote_Errors(t *testing.T) {
	s := newTestServer(t)
	id := s.ingest(t)

	rr := s.do(testutil.NewHTTPRequest(http.MethodPost, "/api/processed/upload", map[string]interface{}{
		"videoUrl": "https://cdn.example.com/out.mp4", "id": "not-an-id",
	}))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertBodyContains(t, rr, service.MsgInvalidID)

	rr = s.do(testutil.NewHTTPRequest(http.MethodPost, "/api/processed/upload", map[string]interface{}{
		"videoUrl": "https://cdn.example.com/out.mp4", "id": "65f1a2b3c4d5e6f708192a3b",
	}))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
	testutil.AssertBodyContains(t, rr, service.MsgUnprocessedNotFound)

	rr = s.do(testutil.NewHTTPRequest(http.MethodPost, "/api/processed/upload", map[string]interface{}{
		"videoUrl": "https://cdn.example.com/out.mp4", "id": id, "data": "{broken",
	}))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertBodyContains(t, rr, service.MsgInvalidData)

	first := s.do(testutil.NewHTTPRequest(http.MethodPost, "/api/processed/upload", map[string]interface{}{
		"videoUrl": "https://cdn.example.com/out.mp4", "id": id,
	}))
	testutil.AssertStatus(t, first, http.StatusOK)

	again := s.do(testutil.NewHTTPRequest(http.MethodPost, "/api/processed/upload", map[string]interface{}{
		"videoUrl": "https://cdn.example.com/out2.mp4", "id": id,
	}))
	testutil.AssertStatus(t, again, http.StatusConflict)

	var body httputil.ErrorResponse
	testutil.ParseJSONBody(t, again, &body)
	assert.Equal(t, "CONFLICT", body.Code)
	assert.NotEmpty(t, body.Details["processedId"])
	assert.Equal(t, 1, s.store.ProcessedCount())
}

// ============================================================================
// SIGNING & POLLING
// ============================================================================

func TestSignUpload(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(httptest.NewRequest(http.MethodGet, "/api/unprocessed/sign-upload", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var sig media.UploadSignature
	testutil.ParseJSONBody(t, rr, &sig)
	assert.Equal(t, int64(1700000000), sig.Timestamp)
	assert.Equal(t, "24d9c2c08166087f961494b771669015f4f8d353", sig.Signature)
	assert.Equal(t, "key", sig.APIKey)
	assert.Equal(t, "demo", sig.CloudName)
	assert.Equal(t, "unprocessed-videos", sig.Folder)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/api/processed/sign-upload", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.ParseJSONBody(t, rr, &sig)
	assert.Equal(t, "7ac7b4617b8cf75d4e120287f5dd8a1de6010bbf", sig.Signature)
	assert.Equal(t, "video", sig.ResourceType)
	assert.Equal(t, "processed-videos", sig.Folder)
}

func TestLatestUnprocessed(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(httptest.NewRequest(http.MethodGet, "/api/latest/unprocessed/videourl", nil))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
	testutil.AssertBodyContains(t, rr, service.MsgNoUnprocessed)

	id := s.ingest(t)
	rr = s.do(httptest.NewRequest(http.MethodGet, "/api/latest/unprocessed/videourl", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var body struct {
		Success  bool            `json:"success"`
		ID       string          `json:"id"`
		VideoURL string          `json:"videoUrl"`
		Location domain.Location `json:"location"`
	}
	testutil.ParseJSONBody(t, rr, &body)
	assert.Equal(t, id, body.ID)
	assert.NotZero(t, body.Location.Latitude)
}

// ============================================================================
// DASHBOARD
// ============================================================================

func TestDashboardStats_Empty(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var body struct {
		Success bool                     `json:"success"`
		Data    domain.DashboardSnapshot `json:"data"`
	}
	testutil.ParseJSONBody(t, rr, &body)
	assert.True(t, body.Success)
	assert.Zero(t, body.Data.TotalVideos)
	assert.Equal(t, 0, body.Data.DetectionSummary["total"])
	assert.Len(t, body.Data.TrendingIssues, 16)
}

func TestMapData(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(testutil.NewHTTPRequest(http.MethodPost, "/api/unprocessed/upload", map[string]interface{}{
		"videoUrl": "https://cdn.example.com/raw.mp4",
		"location": map[string]interface{}{"latitude": 28.5, "longitude": 77.3},
	}))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var in struct {
		ID string `json:"id"`
	}
	testutil.ParseJSONBody(t, rr, &in)

	rr = s.do(testutil.NewHTTPRequest(http.MethodPost, "/api/processed/upload", map[string]interface{}{
		"videoUrl": "https://cdn.example.com/out.mp4", "id": in.ID,
	}))
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/api/videos/map-data", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var points struct {
		Data []domain.MapPoint `json:"data"`
	}
	testutil.ParseJSONBody(t, rr, &points)
	require.Len(t, points.Data, 1)
	assert.Equal(t, 28.5, points.Data[0].Location.Latitude)
	assert.Equal(t, 77.3, points.Data[0].Location.Longitude)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/api/videos/map-data?bbox=1,2,3", nil))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/api/videos/map-data.geojson", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Equal(t, "application/geo+json", rr.Header().Get("Content-Type"))
	testutil.AssertBodyContains(t, rr, `"FeatureCollection"`)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/api/videos/hotspots?level=10", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertBodyContains(t, rr, `"level":10`)
}

func TestSearchAndList(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	f := testutil.NewFixtureFactory()

	for _, addr := range []string{"Sector 12, Noida", "Sector 18, Noida"} {
		p := f.ProcessedVideo(nil, 1, 0)
		p.Location.Address = addr
		require.NoError(t, s.store.InsertProcessed(ctx, p))
	}

	rr := s.do(httptest.NewRequest(http.MethodGet, "/api/videos/search?q=Sector+12", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var found struct {
		Data []domain.VideoSummary `json:"data"`
	}
	testutil.ParseJSONBody(t, rr, &found)
	require.Len(t, found.Data, 1)
	assert.Equal(t, "Sector 12, Noida", found.Data[0].Address)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/api/videos/processed?limit=1&offset=1", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var page struct {
		Data []domain.VideoSummary `json:"data"`
		Meta httputil.Meta         `json:"meta"`
	}
	testutil.ParseJSONBody(t, rr, &page)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Sector 12, Noida", page.Data[0].Address)
	assert.Equal(t, 1, page.Meta.Offset)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/api/videos/processed/65f1a2b3c4d5e6f708192a3b", nil))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
	testutil.AssertBodyContains(t, rr, service.MsgVideoNotFound)
}
