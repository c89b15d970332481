package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/track360/track360-backend/internal/video/geo"
	"github.com/track360/track360-backend/internal/video/service"
	"github.com/track360/track360-backend/pkg/errors"
	"github.com/track360/track360-backend/pkg/httputil"
	"github.com/track360/track360-backend/pkg/logger"
)

// DashboardHandler serves the read-only dashboard endpoints.
type DashboardHandler struct {
	aggregation *service.AggregationService
	logger      *logger.Logger
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(svc *service.AggregationService, log *logger.Logger) *DashboardHandler {
	return &DashboardHandler{
		aggregation: svc,
		logger:      log,
	}
}

// GetStats returns the dashboard snapshot
// GET /api/dashboard/stats
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.aggregation.DashboardStats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, stats)
}

// MapData lists processed videos with a location
// GET /api/videos/map-data?bbox=minLng,minLat,maxLng,maxLat
func (h *DashboardHandler) MapData(w http.ResponseWriter, r *http.Request) {
	bbox, err := parseBBox(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	points, err := h.aggregation.MapPoints(r.Context(), bbox)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, points)
}

// MapGeoJSON returns the map points as a FeatureCollection
// GET /api/videos/map-data.geojson
func (h *DashboardHandler) MapGeoJSON(w http.ResponseWriter, r *http.Request) {
	bbox, err := parseBBox(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	fc, err := h.aggregation.MapFeatures(r.Context(), bbox)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := fc.MarshalJSON()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Hotspots clusters map points into S2 cells
// GET /api/videos/hotspots?level=13
func (h *DashboardHandler) Hotspots(w http.ResponseWriter, r *http.Request) {
	bbox, err := parseBBox(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	level := httputil.QueryInt(r, "level", geo.DefaultHotspotLevel, geo.MinHotspotLevel, geo.MaxHotspotLevel)

	spots, err := h.aggregation.Hotspots(r.Context(), level, bbox)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, spots)
}

// Search matches processed videos by title or address
// GET /api/videos/search?q=...&limit=10
func (h *DashboardHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := httputil.QueryInt(r, "limit", service.DefaultSearchLimit, 1, service.MaxPageSize)

	videos, err := h.aggregation.SearchVideos(r.Context(), q, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, videos)
}

// List pages through processed videos
// GET /api/videos/processed?limit=20&offset=0
func (h *DashboardHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := httputil.QueryInt(r, "limit", service.DefaultListLimit, 1, service.MaxPageSize)
	offset := httputil.QueryInt(r, "offset", 0, 0, int(^uint(0)>>1))

	videos, err := h.aggregation.ListVideos(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.JSONWithMeta(w, http.StatusOK, videos, &httputil.Meta{
		Limit:  limit,
		Offset: offset,
		Count:  len(videos),
	})
}

// Get returns one processed video with its detection result
// GET /api/videos/processed/{id}
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	detail, err := h.aggregation.VideoDetail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, detail)
}

func (h *DashboardHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.StatusCode(err) >= http.StatusInternalServerError {
		h.logger.WithRequestID(httputil.GetRequestID(r.Context())).
			WithError(err).Error().
			Str("path", r.URL.Path).
			Msg("dashboard query failed")
	}
	httputil.Error(w, err)
}

func parseBBox(r *http.Request) (*geo.BBox, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("bbox"))
	if raw == "" {
		return nil, nil
	}
	b, err := geo.ParseBBox(raw)
	if err != nil {
		return nil, errors.Validation(map[string]string{"bbox": err.Error()})
	}
	return &b, nil
}
