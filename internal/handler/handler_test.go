package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/metrics"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/middleware"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/model"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/notify"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/service"
)

type stubService struct {
	toolOrder *model.Order
	toolErr   error

	courseOrder *model.Order
	courseErr   error

	transferRes *service.TransferResult
	transferErr error

	cancelStatus model.OrderStatus
	cancelErr    error

	methodStatus model.OrderStatus
	methodErr    error

	statusResp model.OrderStatus
	statusErr  error

	payments    []model.LedgerEntry
	paymentsErr error
}

func (s *stubService) CreateToolOrder(ctx context.Context, ownerID int64, items []service.ItemQuantity, shippingAddress string) (*model.Order, error) {
	return s.toolOrder, s.toolErr
}

func (s *stubService) EnrollCourse(ctx context.Context, ownerID, courseID int64) (*model.Order, error) {
	return s.courseOrder, s.courseErr
}

func (s *stubService) ProcessBankTransfer(ctx context.Context, content string, amount int64, transferType string) (*service.TransferResult, error) {
	return s.transferRes, s.transferErr
}

func (s *stubService) CancelOrder(ctx context.Context, ownerID int64, kind model.OrderKind, id int64) (model.OrderStatus, error) {
	return s.cancelStatus, s.cancelErr
}

func (s *stubService) SetPaymentMethod(ctx context.Context, ownerID int64, kind model.OrderKind, id int64, method model.PaymentMethod) (model.OrderStatus, error) {
	return s.methodStatus, s.methodErr
}

func (s *stubService) OrderStatus(ctx context.Context, ownerID int64, kind model.OrderKind, id int64) (model.OrderStatus, error) {
	return s.statusResp, s.statusErr
}

func (s *stubService) Payments(ctx context.Context, ownerID int64, kind model.OrderKind, id int64) ([]model.LedgerEntry, error) {
	return s.payments, s.paymentsErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger := zap.NewNop()
	auth := middleware.NewAuthMiddleware("test-secret")
	m := metrics.New(prometheus.NewRegistry())

	return NewHandler(svc, notify.NewRegistry(logger), logger, auth, m)
}

func authedRequest(t *testing.T, h *Handler, method, target string, body []byte) *http.Request {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, 1)
	req.AddCookie(rec.Result().Cookies()[0])

	return req
}

func TestWebhook_Confirmed(t *testing.T) {
	svc := &stubService{
		transferRes: &service.TransferResult{
			Kind:    model.KindToolPurchase,
			OrderID: 15,
			Status:  model.StatusConfirmed,
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter(prometheus.NewRegistry())

	body, _ := json.Marshal(map[string]any{
		"content":        "chuyen tien TOOL15AB3K",
		"transferAmount": 150000,
		"transferType":   "in",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestWebhook_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "not incoming", err: service.ErrNotIncoming, wantCode: http.StatusBadRequest},
		{name: "no reference", err: service.ErrNoReference, wantCode: http.StatusBadRequest},
		{name: "amount mismatch", err: service.ErrAmountMismatch, wantCode: http.StatusBadRequest},
		{name: "no pending order", err: service.ErrNoPendingOrder, wantCode: http.StatusNotFound},
		{name: "storage failure", err: context.DeadlineExceeded, wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{transferErr: tt.err})

			body, _ := json.Marshal(map[string]any{
				"content":        "TOOL15",
				"transferAmount": 150000,
				"transferType":   "in",
			})

			req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			h.Webhook(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestWebhook_MalformedPayload(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	for _, body := range []string{
		`not json`,
		`{"transferAmount": 1000, "transferType": "in"}`,
		`{"content": "TOOL15", "transferAmount": 1000.5, "transferType": "in"}`,
		`{"content": "TOOL15", "transferAmount": -5, "transferType": "in"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader([]byte(body)))
		rec := httptest.NewRecorder()
		h.Webhook(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestWebhook_DuplicateReturnsOK(t *testing.T) {
	svc := &stubService{
		transferRes: &service.TransferResult{
			Kind:      model.KindCourseEnrollment,
			OrderID:   8,
			Status:    model.StatusConfirmed,
			Duplicate: true,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(map[string]any{
		"content":        "COURSE8XQ2M",
		"transferAmount": 500000,
		"transferType":   "in",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Status    string `json:"status"`
		Duplicate bool   `json:"duplicate"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "confirmed" || !resp.Duplicate {
		t.Fatalf("response = %+v, want confirmed duplicate", resp)
	}
}

func TestCreateToolOrder_RequiresAuth(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter(prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodPost, "/api/orders/tool", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestCreateToolOrder_Success(t *testing.T) {
	svc := &stubService{
		toolOrder: &model.Order{
			ID:             15,
			Kind:           model.KindToolPurchase,
			Status:         model.StatusPending,
			ExpectedAmount: 150000,
			ReferenceCode:  "TOOL15AB3K",
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter(prometheus.NewRegistry())

	body, _ := json.Marshal(map[string]any{
		"items":            []map[string]any{{"item_id": 1, "quantity": 2}},
		"shipping_address": "12 Nguyen Trai, Ha Noi",
	})

	req := authedRequest(t, h, http.MethodPost, "/api/orders/tool", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		OrderID       int64  `json:"order_id"`
		ReferenceCode string `json:"reference_code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OrderID != 15 || resp.ReferenceCode != "TOOL15AB3K" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestCreateToolOrder_ValidationError(t *testing.T) {
	h := newTestHandler(t, &stubService{toolErr: service.ErrMissingAddress})
	router := h.SetupRouter(prometheus.NewRegistry())

	req := authedRequest(t, h, http.MethodPost, "/api/orders/tool", []byte(`{"items":[{"item_id":1,"quantity":1}]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestOrderStatus(t *testing.T) {
	h := newTestHandler(t, &stubService{statusResp: model.StatusPending})
	router := h.SetupRouter(prometheus.NewRegistry())

	req := authedRequest(t, h, http.MethodGet, "/api/orders/tool/15", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "pending" {
		t.Fatalf("status = %q, want pending", resp.Status)
	}
}

func TestOrderStatus_UnknownKind(t *testing.T) {
	h := newTestHandler(t, &stubService{statusResp: model.StatusPending})
	router := h.SetupRouter(prometheus.NewRegistry())

	req := authedRequest(t, h, http.MethodGet, "/api/orders/book/15", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestPayments(t *testing.T) {
	h := newTestHandler(t, &stubService{
		payments: []model.LedgerEntry{
			{OrderKind: model.KindToolPurchase, OrderID: 15, Amount: 150000, Memo: "chuyen tien TOOL15AB3K"},
		},
	})
	router := h.SetupRouter(prometheus.NewRegistry())

	req := authedRequest(t, h, http.MethodGet, "/api/orders/tool/15/payments", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp []struct {
		Amount int64  `json:"amount"`
		Memo   string `json:"memo"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Amount != 150000 {
		t.Fatalf("response = %+v, want one entry of 150000", resp)
	}
}

func TestCancelOrder_NotCancellable(t *testing.T) {
	h := newTestHandler(t, &stubService{cancelErr: service.ErrNotCancellable})
	router := h.SetupRouter(prometheus.NewRegistry())

	req := authedRequest(t, h, http.MethodPost, "/api/orders/tool/15/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCancelOrder_Success(t *testing.T) {
	h := newTestHandler(t, &stubService{cancelStatus: model.StatusCancelled})
	router := h.SetupRouter(prometheus.NewRegistry())

	req := authedRequest(t, h, http.MethodPost, "/api/orders/tool/15/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestSetPaymentMethod_UnknownMethod(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter(prometheus.NewRegistry())

	req := authedRequest(t, h, http.MethodPost, "/api/orders/tool/15/payment-method", []byte(`{"method":"gold bars"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSetPaymentMethod_CashOnDelivery(t *testing.T) {
	h := newTestHandler(t, &stubService{methodStatus: model.StatusConfirmed})
	router := h.SetupRouter(prometheus.NewRegistry())

	req := authedRequest(t, h, http.MethodPost, "/api/orders/tool/15/payment-method", []byte(`{"method":"cash_on_delivery"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "confirmed" {
		t.Fatalf("status = %q, want confirmed", resp.Status)
	}
}
