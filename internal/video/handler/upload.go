package handler

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/track360/track360-backend/internal/media"
	"github.com/track360/track360-backend/internal/video/service"
	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/errors"
	"github.com/track360/track360-backend/pkg/httputil"
	"github.com/track360/track360-backend/pkg/logger"
)

const defaultMaxUploadSize = 200 << 20

// UploadHandler serves the capture client and the detection worker.
type UploadHandler struct {
	ingestion *service.IngestionService
	promotion *service.PromotionService
	media     media.Store
	cfg       *config.MediaConfig
	logger    *logger.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(
	ingestion *service.IngestionService,
	promotion *service.PromotionService,
	mediaStore media.Store,
	cfg *config.MediaConfig,
	log *logger.Logger,
) *UploadHandler {
	return &UploadHandler{
		ingestion: ingestion,
		promotion: promotion,
		media:     mediaStore,
		cfg:       cfg,
		logger:    log,
	}
}

type ingestBody struct {
	VideoURL    string      `json:"videoUrl"`
	VideoURLAlt string      `json:"videoURL"`
	Location    interface{} `json:"location"`
}

// Ingest stores a raw capture
// POST /api/unprocessed/upload
func (h *UploadHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req service.IngestRequest

	if isMultipart(r) {
		form, err := h.parseMultipart(w, r)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		req.VideoURL = firstValue(form, "videoURL", "videoUrl")
		if loc := firstValue(form, "location"); loc != "" {
			req.Location = loc
		}

		file, name, err := formFile(form, "video")
		if err != nil {
			httputil.Error(w, err)
			return
		}
		if file != nil {
			defer file.Close()
			req.Video = file
			req.Filename = name
		}
	} else {
		var body ingestBody
		if err := httputil.DecodeJSON(r, &body); err != nil {
			httputil.Error(w, err)
			return
		}
		req.VideoURL = body.VideoURL
		if req.VideoURL == "" {
			req.VideoURL = body.VideoURLAlt
		}
		req.Location = body.Location
	}

	res, err := h.ingestion.Ingest(r.Context(), req)
	if err != nil {
		h.logFailure(r, err, "ingest failed")
		httputil.Error(w, err)
		return
	}

	httputil.Raw(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"id":       res.ID,
		"videoUrl": res.VideoURL,
	})
}

type promoteBody struct {
	VideoURL    string      `json:"videoUrl"`
	VideoURLAlt string      `json:"videoURL"`
	ID          string      `json:"id"`
	Data        interface{} `json:"data"`
}

// Promote records the detector's output for a capture
// POST /api/processed/upload
func (h *UploadHandler) Promote(w http.ResponseWriter, r *http.Request) {
	var req service.PromoteRequest

	switch {
	case isJSON(r):
		var body promoteBody
		if err := httputil.DecodeJSON(r, &body); err != nil {
			httputil.Error(w, err)
			return
		}
		req.ProcessedURL = body.VideoURL
		if req.ProcessedURL == "" {
			req.ProcessedURL = body.VideoURLAlt
		}
		req.UnprocessedID = body.ID
		req.ExtraData = body.Data

	case isMultipart(r):
		form, err := h.parseMultipart(w, r)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		req.ProcessedURL = firstValue(form, "videoURL", "videoUrl")
		req.UnprocessedID = firstValue(form, "id")
		if data := firstValue(form, "data"); data != "" {
			req.ExtraData = data
		}

		file, name, err := formFile(form, "video")
		if err != nil {
			httputil.Error(w, err)
			return
		}
		if file != nil {
			defer file.Close()
			req.Video = file
			req.Filename = name
		}

	default:
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize())
		if err := r.ParseForm(); err != nil {
			httputil.Error(w, errors.BadRequest("invalid form body"))
			return
		}
		req.ProcessedURL = firstNonEmpty(r.PostForm.Get("videoURL"), r.PostForm.Get("videoUrl"))
		req.UnprocessedID = r.PostForm.Get("id")
		if data := r.PostForm.Get("data"); data != "" {
			req.ExtraData = data
		}
	}

	res, err := h.promotion.Promote(r.Context(), req)
	if err != nil {
		h.logFailure(r, err, "promotion failed")
		httputil.Error(w, err)
		return
	}

	httputil.Raw(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"id":                res.ID,
		"processedVideoUrl": res.ProcessedVideoURL,
	})
}

// SignUnprocessed signs a direct upload into the unprocessed folder
// GET /api/unprocessed/sign-upload
func (h *UploadHandler) SignUnprocessed(w http.ResponseWriter, r *http.Request) {
	h.sign(w, r, media.SignRequest{Folder: h.cfg.UnprocessedFolder})
}

// SignProcessed signs a direct video upload into the processed folder
// GET /api/processed/sign-upload
func (h *UploadHandler) SignProcessed(w http.ResponseWriter, r *http.Request) {
	h.sign(w, r, media.SignRequest{Folder: h.cfg.ProcessedFolder, ResourceType: media.ResourceVideo})
}

func (h *UploadHandler) sign(w http.ResponseWriter, r *http.Request, req media.SignRequest) {
	if h.media == nil {
		httputil.Error(w, errors.Internal("Failed to generate signature"))
		return
	}
	sig, err := h.media.SignUpload(r.Context(), req)
	if err != nil {
		h.logFailure(r, err, "signing failed")
		httputil.Error(w, err)
		return
	}
	httputil.Raw(w, http.StatusOK, sig)
}

// LatestUnprocessed returns the newest capture waiting for detection
// GET /api/latest/unprocessed/videourl
func (h *UploadHandler) LatestUnprocessed(w http.ResponseWriter, r *http.Request) {
	v, err := h.ingestion.Latest(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Raw(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"id":       v.ID,
		"videoUrl": v.VideoURL,
		"location": v.Location,
	})
}

func (h *UploadHandler) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	limit := h.maxUploadSize()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if strings.Contains(err.Error(), "too large") {
			return nil, errors.BadRequest("upload exceeds the maximum size")
		}
		return nil, errors.BadRequest("invalid multipart body")
	}
	return r.MultipartForm, nil
}

func (h *UploadHandler) maxUploadSize() int64 {
	if h.cfg != nil && h.cfg.MaxUploadSize > 0 {
		return h.cfg.MaxUploadSize
	}
	return defaultMaxUploadSize
}

func (h *UploadHandler) logFailure(r *http.Request, err error, msg string) {
	if errors.StatusCode(err) < http.StatusInternalServerError {
		return
	}
	h.logger.WithRequestID(httputil.GetRequestID(r.Context())).
		WithError(err).Error().
		Str("path", r.URL.Path).
		Msg(msg)
}

func isJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func firstValue(form *multipart.Form, keys ...string) string {
	for _, k := range keys {
		if vs := form.Value[k]; len(vs) > 0 && strings.TrimSpace(vs[0]) != "" {
			return vs[0]
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// formFile opens the first file under field. A missing file is not an error.
func formFile(form *multipart.Form, field string) (io.ReadCloser, string, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, "", nil
	}
	f, err := headers[0].Open()
	if err != nil {
		return nil, "", errors.BadRequest("could not read uploaded file")
	}
	return f, headers[0].Filename, nil
}
