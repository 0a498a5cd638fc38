// Package model contains the domain entities of the order subsystem.
package model

import (
	"time"

	"github.com/google/uuid"
)

// OrderKind distinguishes the two kinds of purchase order.
type OrderKind string

const (
	KindCourseEnrollment OrderKind = "course_enrollment"
	KindToolPurchase     OrderKind = "tool_purchase"
)

// ParseOrderKind converts a URL/API token into an OrderKind.
func ParseOrderKind(s string) (OrderKind, bool) {
	switch s {
	case "course", string(KindCourseEnrollment):
		return KindCourseEnrollment, true
	case "tool", string(KindToolPurchase):
		return KindToolPurchase, true
	}
	return "", false
}

// OrderStatus describes the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusShipped   OrderStatus = "shipped"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further automatic transitions occur from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusShipped, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Settled reports whether the order has been paid (or moved past payment) —
// the success-side terminal states.
func (s OrderStatus) Settled() bool {
	switch s {
	case StatusConfirmed, StatusShipped, StatusCompleted:
		return true
	}
	return false
}

// CanTransition reports whether from→to is a legal edge. Status moves one
// way along pending→confirmed→shipped→completed; pending→cancelled is the
// only other edge.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusShipped
	case StatusShipped:
		return to == StatusCompleted
	}
	return false
}

// legacyStatuses maps status strings written by the previous version of the
// platform to canonical values. Applied at the storage boundary on read only.
var legacyStatuses = map[string]OrderStatus{
	"cho xac nhan": StatusPending,
	"da xac nhan":  StatusConfirmed,
	"dang giao":    StatusShipped,
	"da giao":      StatusCompleted,
	"da huy":       StatusCancelled,
}

// NormalizeStatus converts a stored status string, canonical or legacy, into
// an OrderStatus.
func NormalizeStatus(raw string) (OrderStatus, bool) {
	switch OrderStatus(raw) {
	case StatusPending, StatusConfirmed, StatusShipped, StatusCompleted, StatusCancelled:
		return OrderStatus(raw), true
	}
	s, ok := legacyStatuses[raw]
	return s, ok
}

// PaymentMethod describes how the buyer intends to pay.
type PaymentMethod string

const (
	PaymentUnspecified    PaymentMethod = "unspecified"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
)

// ParsePaymentMethod converts an API token into a PaymentMethod.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch PaymentMethod(s) {
	case PaymentCashOnDelivery, PaymentBankTransfer:
		return PaymentMethod(s), true
	}
	return "", false
}

// LineItem is one priced position of a tool order. A course enrollment has
// exactly one implicit line item, the course itself.
type LineItem struct {
	ItemID    int64
	Name      string
	UnitPrice int64
	Quantity  int32
}

// Order is a purchase intent record. ExpectedAmount is fixed at creation and
// never recomputed; webhook verification depends on that.
type Order struct {
	ID              int64
	Kind            OrderKind
	OwnerID         int64
	ExpectedAmount  int64
	Status          OrderStatus
	LineItems       []LineItem
	PaymentMethod   PaymentMethod
	ShippingAddress string
	ReferenceCode   string
	PaymentDeadline time.Time
	CreatedAt       time.Time
}

// LedgerEntry records one accepted incoming transfer. Duplicate webhook
// deliveries add no entries.
type LedgerEntry struct {
	ID         uuid.UUID
	OrderKind  OrderKind
	OrderID    int64
	Amount     int64
	Memo       string
	RecordedAt time.Time
}

// Event is a state-change notification fanned out to the order owner (and,
// for free course enrollments, the instructor). Delivery is best-effort.
type Event struct {
	OrderKind OrderKind   `json:"order_kind"`
	OrderID   int64       `json:"order_id"`
	Status    OrderStatus `json:"status"`
	At        time.Time   `json:"at"`
}
