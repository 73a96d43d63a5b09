package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/api/handler"
	apimw "github.com/notifyhub/purchase-notify/internal/api/middleware"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// NotifierDeps are the collaborators of the notifier process's routes.
// Form may be nil, in which case GET /api/ is not registered.
type NotifierDeps struct {
	Notifier handler.Notifier
	Consumer *handler.ConsumerHandler
	Metrics  *handler.MetricsHandler
	Form     *handler.FormHandler
}

// NewNotifierRouter registers the channel endpoints, the consumer trigger
// and the inbound call responder.
func NewNotifierRouter(
	deps NotifierDeps,
	reg prometheus.Gatherer,
	allowedOrigins []string,
	logger *zap.Logger,
) http.Handler {
	r := newBaseRouter(reg, allowedOrigins, logger, "notifier")

	nh := handler.NewNotifierHandler(deps.Notifier, logger)

	r.Post("/email", nh.Email)
	r.Post("/consume_notification_queue", deps.Consumer.Start)
	r.Get("/consumer/status", deps.Consumer.Status)
	r.Get("/answer_call", nh.AnswerCall)

	r.Route("/api", func(r chi.Router) {
		if deps.Form != nil {
			r.Get("/", deps.Form.Form)
		}
		r.Post("/sms", nh.SMS)
		r.Post("/call_customer", nh.CallCustomer)

		// JSON consumer snapshot
		r.Get("/v1/metrics", deps.Metrics.GetMetrics)
	})

	return r
}

// NewPurchaseRouter registers the purchase service endpoints.
func NewPurchaseRouter(
	svc handler.PurchaseService,
	reg prometheus.Gatherer,
	allowedOrigins []string,
	logger *zap.Logger,
) http.Handler {
	r := newBaseRouter(reg, allowedOrigins, logger, "purchase")

	ph := handler.NewPurchaseHandler(svc, logger)

	r.Route("/api/purchase", func(r chi.Router) {
		r.Post("/save_purchase", ph.Save)
		r.Get("/products", ph.Products)
		r.Get("/get_purchases", ph.List)
		r.Get("/get_purchase/{id}", ph.Get)
		r.Delete("/delete_purchase/{id}", ph.Delete)
	})

	return r
}

// newBaseRouter attaches the middleware shared by both processes plus the
// health and Prometheus endpoints.
func newBaseRouter(reg prometheus.Gatherer, allowedOrigins []string, logger *zap.Logger, service string) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(maxBodyBytes))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", apimw.HeaderCorrelationID},
		ExposedHeaders: []string{apimw.HeaderCorrelationID, "X-Total-Count"},
		MaxAge:         300,
	}))
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger))

	hh := handler.NewHealthHandler(service)
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return r
}
