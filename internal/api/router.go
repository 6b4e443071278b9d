package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/newsletter-delivery/internal/api/handler"
	apimw "github.com/notifyhub/newsletter-delivery/internal/api/middleware"
	"github.com/notifyhub/newsletter-delivery/internal/auth"
	"github.com/notifyhub/newsletter-delivery/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.PublishService,
	authn *auth.Authenticator,
	counter handler.TaskCounter,
	db handler.Pinger,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)            // recover panics, return 500
	r.Use(chimw.RealIP)               // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)        // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	nh := handler.NewNewsletterHandler(svc, logger)
	sh := handler.NewStatsHandler(counter)
	hh := handler.NewHealthHandler(db)

	requireAuth := apimw.BasicAuth(authn, logger)
	newsletters := func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/", nh.Publish)
		r.Get("/{id}", nh.GetIssue)
	}

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/newsletters", newsletters)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/newsletters", newsletters)

		// JSON outbox snapshot
		r.Get("/deliveries/stats", sh.GetStats)
	})

	return r
}
