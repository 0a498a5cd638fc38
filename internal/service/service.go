// Package service implements the business logic of the order and payment
// reconciliation engine.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/model"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/refcode"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/repository"
)

var (
	// ErrNoItems is returned for a tool order with an empty cart.
	ErrNoItems = errors.New("order has no items")
	// ErrMissingAddress is returned for a tool order without a shipping address.
	ErrMissingAddress = errors.New("shipping address required")
	// ErrNotIncoming is returned for webhook payloads describing outgoing transfers.
	ErrNotIncoming = errors.New("transfer is not incoming")
	// ErrNoReference is returned when the memo contains no recognizable order reference.
	ErrNoReference = errors.New("no recognizable order reference")
	// ErrNoPendingOrder is returned when the referenced order exists but is
	// no longer pending (typically already cancelled).
	ErrNoPendingOrder = errors.New("no matching pending order")
	// ErrAmountMismatch is returned when the paid amount differs from the
	// expected amount. The order stays pending so a corrected transfer can
	// still succeed.
	ErrAmountMismatch = errors.New("amount mismatch")
	// ErrNotCancellable is returned when a cancel request finds the order
	// already settled.
	ErrNotCancellable = errors.New("order is not cancellable")
	// ErrNotPending is returned when a payment-method change finds the
	// order out of pending.
	ErrNotPending = errors.New("order is not pending")
	// ErrBadPaymentMethod is returned for a method the order kind does not support.
	ErrBadPaymentMethod = errors.New("payment method not allowed for this order")
)

// Repository is the order-store contract used by the service.
type Repository interface {
	Close() error
	CreateOrder(ctx context.Context, o repository.NewOrder, refFn func(id int64) string) (*model.Order, error)
	GetOrder(ctx context.Context, kind model.OrderKind, id int64) (*model.Order, error)
	GetOrderStatus(ctx context.Context, kind model.OrderKind, id, ownerID int64) (model.OrderStatus, error)
	TransitionOrder(ctx context.Context, kind model.OrderKind, id int64, from, to model.OrderStatus, method *model.PaymentMethod) error
	UpdatePaymentMethod(ctx context.Context, kind model.OrderKind, id int64, method model.PaymentMethod) error
	ConfirmPayment(ctx context.Context, kind model.OrderKind, id, amount int64, memo string, method *model.PaymentMethod) error
	LedgerEntries(ctx context.Context, kind model.OrderKind, id int64) ([]model.LedgerEntry, error)
	CourseByID(ctx context.Context, courseID int64) (*repository.CourseInfo, error)
	ToolsByIDs(ctx context.Context, ids []int64) (map[int64]repository.ToolInfo, error)
}

// Notifier fans a state-change event out to a user's connected sessions.
// Delivery is best-effort; implementations must not block.
type Notifier interface {
	Send(userID int64, event model.Event)
}

// Deadlines carries the configured payment deadlines per order kind.
type Deadlines struct {
	Tool   time.Duration
	Course time.Duration
}

// Service contains the business logic of the order subsystem.
type Service struct {
	repo      Repository
	notifier  Notifier
	logger    *zap.Logger
	deadlines Deadlines
}

// NewService creates a service over the given repository and notifier.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger, deadlines Deadlines) *Service {
	return &Service{
		repo:      repo,
		notifier:  notifier,
		logger:    logger,
		deadlines: deadlines,
	}
}

// Close releases service resources.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ItemQuantity is one cart position of a tool order request.
type ItemQuantity struct {
	ItemID   int64
	Quantity int32
}

// CreateToolOrder prices the cart against the catalog and creates a pending
// tool order. The expected amount is fixed here and never recomputed;
// webhook verification depends on that.
func (s *Service) CreateToolOrder(ctx context.Context, ownerID int64, items []ItemQuantity, shippingAddress string) (*model.Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if shippingAddress == "" {
		return nil, ErrMissingAddress
	}

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrNoItems
		}
		ids = append(ids, it.ItemID)
	}

	catalog, err := s.repo.ToolsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var total int64
	lineItems := make([]model.LineItem, 0, len(items))
	for _, it := range items {
		info := catalog[it.ItemID]
		lineItems = append(lineItems, model.LineItem{
			ItemID:    it.ItemID,
			Name:      info.Name,
			UnitPrice: info.Price,
			Quantity:  it.Quantity,
		})
		total += info.Price * int64(it.Quantity)
	}

	return s.repo.CreateOrder(ctx, repository.NewOrder{
		Kind:            model.KindToolPurchase,
		OwnerID:         ownerID,
		ExpectedAmount:  total,
		LineItems:       lineItems,
		ShippingAddress: shippingAddress,
		PaymentDeadline: time.Now().Add(s.deadlines.Tool),
	}, func(id int64) string {
		return refcode.Generate(model.KindToolPurchase, id)
	})
}

// EnrollCourse creates a pending course-enrollment order priced from the
// catalog. A free course confirms immediately, and its instructor is
// notified of the new student.
func (s *Service) EnrollCourse(ctx context.Context, ownerID, courseID int64) (*model.Order, error) {
	course, err := s.repo.CourseByID(ctx, courseID)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.CreateOrder(ctx, repository.NewOrder{
		Kind:           model.KindCourseEnrollment,
		OwnerID:        ownerID,
		ExpectedAmount: course.Price,
		LineItems: []model.LineItem{
			{ItemID: courseID, Name: course.Title, UnitPrice: course.Price, Quantity: 1},
		},
		PaymentDeadline: time.Now().Add(s.deadlines.Course),
	}, func(id int64) string {
		return refcode.Generate(model.KindCourseEnrollment, id)
	})
	if err != nil {
		return nil, err
	}

	if course.Price == 0 {
		err := s.repo.TransitionOrder(ctx, order.Kind, order.ID, model.StatusPending, model.StatusConfirmed, nil)
		if err != nil {
			return nil, err
		}
		order.Status = model.StatusConfirmed

		s.notify(ownerID, order)
		s.notify(course.InstructorID, order)
	}

	return order, nil
}

// TransferResult is the outcome of a successfully reconciled webhook.
type TransferResult struct {
	Kind      model.OrderKind
	OrderID   int64
	Status    model.OrderStatus
	Duplicate bool
}

// ProcessBankTransfer is the reconciliation engine. It matches the memo to
// an order, verifies direction and amount and applies the pending→confirmed
// transition together with the ledger entry in one transaction. Duplicate
// deliveries of the same transfer return a success no-op. Concurrent
// cancellation is resolved by the store's conditional update: whichever
// side wins is authoritative.
func (s *Service) ProcessBankTransfer(ctx context.Context, content string, amount int64, transferType string) (*TransferResult, error) {
	if transferType != "in" {
		return nil, ErrNotIncoming
	}

	kind, id, ok := refcode.Match(content)
	if !ok {
		return nil, ErrNoReference
	}

	order, err := s.repo.GetOrder(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	if order.Status.Settled() {
		return &TransferResult{Kind: kind, OrderID: id, Status: order.Status, Duplicate: true}, nil
	}
	if order.Status != model.StatusPending {
		return nil, ErrNoPendingOrder
	}

	// Strict integer equality, no tolerance. A mismatch leaves the order
	// pending so a corrected follow-up transfer can still succeed.
	if amount != order.ExpectedAmount {
		return nil, ErrAmountMismatch
	}

	var method *model.PaymentMethod
	if kind == model.KindToolPurchase {
		m := model.PaymentBankTransfer
		method = &m
	}

	err = s.repo.ConfirmPayment(ctx, kind, id, amount, content, method)
	if err != nil {
		if errors.Is(err, repository.ErrTransitionRejected) {
			// Lost the race. If another delivery already confirmed the
			// order this is a harmless duplicate; if cancellation won,
			// the transfer has no pending order to settle.
			current, gerr := s.repo.GetOrderStatus(ctx, kind, id, order.OwnerID)
			if gerr == nil && current.Settled() {
				return &TransferResult{Kind: kind, OrderID: id, Status: current, Duplicate: true}, nil
			}
			return nil, ErrNoPendingOrder
		}
		return nil, err
	}

	s.logger.Info("payment confirmed",
		zap.String("kind", string(kind)),
		zap.Int64("orderID", id),
		zap.Int64("amount", amount),
	)

	order.Status = model.StatusConfirmed
	s.notify(order.OwnerID, order)

	return &TransferResult{Kind: kind, OrderID: id, Status: model.StatusConfirmed}, nil
}

// CancelOrder applies the conditional pending→cancelled transition on
// behalf of the owner's expired countdown (or a manual cancel). It is
// idempotent: cancelling an already-cancelled order succeeds, while an
// already-settled order is rejected without side effects.
func (s *Service) CancelOrder(ctx context.Context, ownerID int64, kind model.OrderKind, id int64) (model.OrderStatus, error) {
	current, err := s.repo.GetOrderStatus(ctx, kind, id, ownerID)
	if err != nil {
		return "", err
	}

	switch {
	case current == model.StatusCancelled:
		return model.StatusCancelled, nil
	case current != model.StatusPending:
		return "", ErrNotCancellable
	}

	err = s.repo.TransitionOrder(ctx, kind, id, model.StatusPending, model.StatusCancelled, nil)
	if err != nil {
		if errors.Is(err, repository.ErrTransitionRejected) {
			// The reconciliation engine confirmed the order first, or a
			// concurrent cancel already applied.
			current, gerr := s.repo.GetOrderStatus(ctx, kind, id, ownerID)
			if gerr == nil && current == model.StatusCancelled {
				return model.StatusCancelled, nil
			}
			return "", ErrNotCancellable
		}
		return "", err
	}

	s.notify(ownerID, &model.Order{Kind: kind, ID: id, OwnerID: ownerID, Status: model.StatusCancelled})

	return model.StatusCancelled, nil
}

// SetPaymentMethod records the buyer's chosen payment method while the
// order is pending. Cash on delivery needs no external confirmation and
// settles the order immediately through the same conditional transition.
func (s *Service) SetPaymentMethod(ctx context.Context, ownerID int64, kind model.OrderKind, id int64, method model.PaymentMethod) (model.OrderStatus, error) {
	if kind == model.KindCourseEnrollment && method == model.PaymentCashOnDelivery {
		return "", ErrBadPaymentMethod
	}

	current, err := s.repo.GetOrderStatus(ctx, kind, id, ownerID)
	if err != nil {
		return "", err
	}
	if current != model.StatusPending {
		return "", ErrNotPending
	}

	if method == model.PaymentCashOnDelivery {
		m := method
		err := s.repo.TransitionOrder(ctx, kind, id, model.StatusPending, model.StatusConfirmed, &m)
		if err != nil {
			if errors.Is(err, repository.ErrTransitionRejected) {
				return "", ErrNotPending
			}
			return "", err
		}

		s.notify(ownerID, &model.Order{Kind: kind, ID: id, OwnerID: ownerID, Status: model.StatusConfirmed})

		return model.StatusConfirmed, nil
	}

	if err := s.repo.UpdatePaymentMethod(ctx, kind, id, method); err != nil {
		if errors.Is(err, repository.ErrTransitionRejected) {
			return "", ErrNotPending
		}
		return "", err
	}

	return model.StatusPending, nil
}

// OrderStatus returns the current status of the owner's order.
func (s *Service) OrderStatus(ctx context.Context, ownerID int64, kind model.OrderKind, id int64) (model.OrderStatus, error) {
	return s.repo.GetOrderStatus(ctx, kind, id, ownerID)
}

// Payments returns the accepted transfers recorded for the owner's order,
// oldest first. An unpaid order has an empty history.
func (s *Service) Payments(ctx context.Context, ownerID int64, kind model.OrderKind, id int64) ([]model.LedgerEntry, error) {
	// The ownership check rides on the status lookup.
	if _, err := s.repo.GetOrderStatus(ctx, kind, id, ownerID); err != nil {
		return nil, err
	}
	return s.repo.LedgerEntries(ctx, kind, id)
}

// notify dispatches a state-change event. Failures here are advisory only
// and never reach the caller; the financial transition already committed.
func (s *Service) notify(userID int64, order *model.Order) {
	if s.notifier == nil {
		return
	}

	s.notifier.Send(userID, model.Event{
		OrderKind: order.Kind,
		OrderID:   order.ID,
		Status:    order.Status,
		At:        time.Now(),
	})
}
