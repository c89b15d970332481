package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/track360/track360-backend/pkg/httputil"
)

const namespace = "track360"

var (
	once sync.Once

	// HTTPRequestsTotal counts requests by route pattern, method and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests, labeled by route, method and status.",
	}, []string{"route", "method", "status"})

	// HTTPRequestDuration is the handler latency by route pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP handler latency, labeled by route and method.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"route", "method"})

	// VideosIngestedTotal counts captures stored by the ingestion service.
	VideosIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "videos",
		Name:      "ingested_total",
		Help:      "Total number of unprocessed videos ingested, labeled by source (url or file).",
	}, []string{"source"})

	// VideosPromotedTotal counts promotion attempts by outcome.
	VideosPromotedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "videos",
		Name:      "promoted_total",
		Help:      "Total number of promotion attempts, labeled by result.",
	}, []string{"result"})

	// MediaUploadDuration is the time spent uploading a file to the media store.
	MediaUploadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "media",
		Name:      "upload_duration_seconds",
		Help:      "Time to upload a video to the media store, labeled by provider and result.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 60, 120, 300},
	}, []string{"provider", "result"})

	// DetectionEventsTotal counts consumed detection events by disposition.
	DetectionEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "detection",
		Name:      "events_consumed_total",
		Help:      "Total number of detection events consumed, labeled by result.",
	}, []string{"result"})
)

// Register registers all metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			VideosIngestedTotal,
			VideosPromotedTotal,
			MediaUploadDuration,
			DetectionEventsTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency. Routes are labeled by
// their chi pattern so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := httputil.WrapResponseWriter(w)

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// ObserveSince records the elapsed time on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
