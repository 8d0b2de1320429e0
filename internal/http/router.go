package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const serviceName = "inventory-service"

// NewRouter mounts the inventory routes. gatherer may be nil, in which case
// /metrics is not served.
func NewRouter(h *Handler, logger *zap.Logger, gatherer prometheus.Gatherer, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders/{orderID}/inventory", func(r chi.Router) {
			r.Post("/reserve", h.Reserve)
			r.Post("/confirm", h.Confirm)
			r.Post("/release", h.Release)
			r.Post("/restore", h.Restore)
		})
		r.Post("/purchase-orders/{poID}/receive", h.ReceivePurchaseOrder)
		r.Get("/stock/{productID}", h.GetStock)
		r.Get("/audit", h.ListAudit)
	})

	return otelhttp.NewHandler(r, serviceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}
