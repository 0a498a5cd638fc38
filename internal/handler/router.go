package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	custommiddleware "github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/middleware"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/metrics"
)

// SetupRouter configures the HTTP routes and middleware of the order API.
// The webhook route is unauthenticated: it is called by the payment
// network, not by a logged-in user.
func (h *Handler) SetupRouter(gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/ping", h.Ping)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))

	r.Post("/api/payment/webhook", h.Webhook)

	r.Route("/api/orders", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/tool", h.CreateToolOrder)
		r.Post("/course", h.EnrollCourse)

		r.Get("/{kind}/{id}", h.OrderStatus)
		r.Get("/{kind}/{id}/payments", h.Payments)
		r.Post("/{kind}/{id}/cancel", h.CancelOrder)
		r.Post("/{kind}/{id}/payment-method", h.SetPaymentMethod)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Get("/api/events", h.Events)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
