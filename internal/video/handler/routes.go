package handler

import "github.com/go-chi/chi/v5"

// Register mounts the video endpoints on r. Callers mount r under /api.
func Register(r chi.Router, upload *UploadHandler, dashboard *DashboardHandler) {
	// Capture client
	r.Post("/unprocessed/upload", upload.Ingest)
	r.Get("/unprocessed/sign-upload", upload.SignUnprocessed)

	// Detection worker
	r.Get("/latest/unprocessed/videourl", upload.LatestUnprocessed)
	r.Post("/processed/upload", upload.Promote)
	r.Get("/processed/sign-upload", upload.SignProcessed)

	// Dashboard
	r.Get("/dashboard/stats", dashboard.GetStats)
	r.Route("/videos", func(r chi.Router) {
		r.Get("/map-data", dashboard.MapData)
		r.Get("/map-data.geojson", dashboard.MapGeoJSON)
		r.Get("/hotspots", dashboard.Hotspots)
		r.Get("/search", dashboard.Search)
		r.Get("/processed", dashboard.List)
		r.Get("/processed/{id}", dashboard.Get)
	})
}
