// Package handler contains the HTTP handlers of the order API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/metrics"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/middleware"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/model"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/notify"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/repository"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/service"
)

// Service defines the business-logic contract used by the HTTP handlers.
type Service interface {
	CreateToolOrder(ctx context.Context, ownerID int64, items []service.ItemQuantity, shippingAddress string) (*model.Order, error)
	EnrollCourse(ctx context.Context, ownerID, courseID int64) (*model.Order, error)
	ProcessBankTransfer(ctx context.Context, content string, amount int64, transferType string) (*service.TransferResult, error)
	CancelOrder(ctx context.Context, ownerID int64, kind model.OrderKind, id int64) (model.OrderStatus, error)
	SetPaymentMethod(ctx context.Context, ownerID int64, kind model.OrderKind, id int64, method model.PaymentMethod) (model.OrderStatus, error)
	OrderStatus(ctx context.Context, ownerID int64, kind model.OrderKind, id int64) (model.OrderStatus, error)
	Payments(ctx context.Context, ownerID int64, kind model.OrderKind, id int64) ([]model.LedgerEntry, error)
}

// Sessions is the part of the notification registry the event stream needs.
type Sessions interface {
	Register(userID int64) *notify.Session
	Unregister(s *notify.Session)
}

// Handler implements the HTTP handlers of the order API.
type Handler struct {
	service        Service
	sessions       Sessions
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        *metrics.Metrics
}

// NewHandler creates a new HTTP handler instance.
func NewHandler(s Service, sessions Sessions, logger *zap.Logger, auth *middleware.AuthMiddleware, m *metrics.Metrics) *Handler {
	return &Handler{
		service:        s,
		sessions:       sessions,
		logger:         logger,
		authMiddleware: auth,
		metrics:        m,
	}
}

type itemRequest struct {
	ItemID   int64 `json:"item_id"`
	Quantity int32 `json:"quantity"`
}

type toolOrderRequest struct {
	Items           []itemRequest `json:"items"`
	ShippingAddress string        `json:"shipping_address"`
}

type courseOrderRequest struct {
	CourseID int64 `json:"course_id"`
}

type orderResponse struct {
	OrderID         int64  `json:"order_id"`
	ReferenceCode   string `json:"reference_code"`
	ExpectedAmount  int64  `json:"expected_amount"`
	Status          string `json:"status"`
	PaymentDeadline string `json:"payment_deadline"`
}

// CreateToolOrder creates a pending tool order from the caller's cart.
func (h *Handler) CreateToolOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req toolOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	items := make([]service.ItemQuantity, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, service.ItemQuantity{ItemID: it.ItemID, Quantity: it.Quantity})
	}

	order, err := h.service.CreateToolOrder(r.Context(), userID, items, req.ShippingAddress)
	if err != nil {
		h.writeCreateError(w, err, "tool")
		return
	}

	h.metrics.OrdersCreated.WithLabelValues(string(model.KindToolPurchase)).Inc()
	h.writeOrder(w, order)
}

// EnrollCourse creates a pending course-enrollment order.
func (h *Handler) EnrollCourse(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req courseOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CourseID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.EnrollCourse(r.Context(), userID, req.CourseID)
	if err != nil {
		h.writeCreateError(w, err, "course")
		return
	}

	h.metrics.OrdersCreated.WithLabelValues(string(model.KindCourseEnrollment)).Inc()
	h.writeOrder(w, order)
}

func (h *Handler) writeCreateError(w http.ResponseWriter, err error, kind string) {
	switch {
	case errors.Is(err, service.ErrNoItems),
		errors.Is(err, service.ErrMissingAddress),
		errors.Is(err, repository.ErrUnknownItem):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("create order error", zap.Error(err), zap.String("kind", kind))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeOrder(w http.ResponseWriter, order *model.Order) {
	w.Header().Set("Content-Type", "application/json")
	resp := orderResponse{
		OrderID:         order.ID,
		ReferenceCode:   order.ReferenceCode,
		ExpectedAmount:  order.ExpectedAmount,
		Status:          string(order.Status),
		PaymentDeadline: order.PaymentDeadline.Format(time.RFC3339),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type webhookRequest struct {
	Content        string  `json:"content"`
	TransferAmount float64 `json:"transferAmount"`
	TransferType   string  `json:"transferType"`
}

type webhookResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Webhook ingests an asynchronous bank-transfer notification. Delivery is
// at-least-once: duplicates return 200 without touching the order again.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		h.metrics.WebhookOutcomes.WithLabelValues(metrics.OutcomeRejected).Inc()
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	amount := int64(req.TransferAmount)
	if float64(amount) != req.TransferAmount || amount <= 0 {
		h.metrics.WebhookOutcomes.WithLabelValues(metrics.OutcomeRejected).Inc()
		http.Error(w, "transfer amount must be a positive integer", http.StatusBadRequest)
		return
	}

	res, err := h.service.ProcessBankTransfer(r.Context(), req.Content, amount, req.TransferType)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotIncoming):
			h.metrics.WebhookOutcomes.WithLabelValues(metrics.OutcomeRejected).Inc()
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrNoReference):
			h.metrics.WebhookOutcomes.WithLabelValues(metrics.OutcomeUnmatched).Inc()
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrAmountMismatch):
			h.metrics.WebhookOutcomes.WithLabelValues(metrics.OutcomeMismatch).Inc()
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrOrderNotFound), errors.Is(err, service.ErrNoPendingOrder):
			h.metrics.WebhookOutcomes.WithLabelValues(metrics.OutcomeUnmatched).Inc()
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			h.metrics.WebhookOutcomes.WithLabelValues(metrics.OutcomeError).Inc()
			h.logger.Error("webhook error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	if res.Duplicate {
		h.metrics.WebhookOutcomes.WithLabelValues(metrics.OutcomeDuplicate).Inc()
	} else {
		h.metrics.WebhookOutcomes.WithLabelValues(metrics.OutcomeConfirmed).Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(webhookResponse{
		Status:    string(res.Status),
		Duplicate: res.Duplicate,
	}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func orderFromURL(r *http.Request) (model.OrderKind, int64, error) {
	kind, ok := model.ParseOrderKind(chi.URLParam(r, "kind"))
	if !ok {
		return "", 0, fmt.Errorf("unknown order kind")
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("invalid order id")
	}
	return kind, id, nil
}

type statusResponse struct {
	Status string `json:"status"`
}

// OrderStatus returns the current status of the caller's order. The client
// polls this until it observes a terminal status.
func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	kind, id, err := orderFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	status, err := h.service.OrderStatus(r.Context(), userID, kind, id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("order status error", zap.Error(err), zap.Int64("orderID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statusResponse{Status: string(status)}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type paymentEntry struct {
	Amount     int64  `json:"amount"`
	Memo       string `json:"memo"`
	RecordedAt string `json:"recorded_at"`
}

// Payments lists the accepted transfers recorded for the caller's order.
func (h *Handler) Payments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	kind, id, err := orderFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	entries, err := h.service.Payments(r.Context(), userID, kind, id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("payments error", zap.Error(err), zap.Int64("orderID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]paymentEntry, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, paymentEntry{
			Amount:     e.Amount,
			Memo:       e.Memo,
			RecordedAt: e.RecordedAt.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// CancelOrder applies the conditional pending→cancelled transition. Clients
// call it when their payment countdown expires; it is safe to retry.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	kind, id, err := orderFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	status, err := h.service.CancelOrder(r.Context(), userID, kind, id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrNotCancellable):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("cancel order error", zap.Error(err), zap.Int64("orderID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statusResponse{Status: string(status)}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type paymentMethodRequest struct {
	Method string `json:"method"`
}

// SetPaymentMethod records the caller's payment method choice. Cash on
// delivery settles the order immediately.
func (h *Handler) SetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	kind, id, err := orderFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	var req paymentMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	method, ok := model.ParsePaymentMethod(req.Method)
	if !ok {
		http.Error(w, "unknown payment method", http.StatusBadRequest)
		return
	}

	status, err := h.service.SetPaymentMethod(r.Context(), userID, kind, id, method)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrNotPending), errors.Is(err, service.ErrBadPaymentMethod):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("set payment method error", zap.Error(err), zap.Int64("orderID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statusResponse{Status: string(status)}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// Events streams the caller's order events as server-sent events. A closed
// connection unregisters the session; missed events are covered by the
// status poll.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	session := h.sessions.Register(userID)
	defer h.sessions.Unregister(session)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-session.C:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// Ping reports service liveness.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
