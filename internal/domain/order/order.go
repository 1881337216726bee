package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the fulfillment state of an order. Statuses are ordered and an
// order only ever moves forward through them.
type Status string

const (
	StatusNew       Status = "new"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
)

var statusRank = map[Status]int{
	StatusNew:       0,
	StatusPaid:      1,
	StatusShipped:   2,
	StatusDelivered: 3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvanceTo reports whether moving from s to next keeps the status
// monotonic. Staying in place is allowed.
func (s Status) CanAdvanceTo(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	return ok && to >= from
}

// Label returns a human-readable name for s.
func (s Status) Label() string {
	switch s {
	case StatusNew:
		return "New"
	case StatusPaid:
		return "Paid"
	case StatusShipped:
		return "Shipped"
	case StatusDelivered:
		return "Delivered"
	default:
		return string(s)
	}
}

// DeliveryMethod selects the carrier handling the shipment.
type DeliveryMethod string

const (
	DeliveryNovaPoshta DeliveryMethod = "nova_poshta"
	DeliveryUkrPoshta  DeliveryMethod = "ukr_poshta"
	DeliveryCourier    DeliveryMethod = "courier"
)

// Label returns a human-readable name for m.
func (m DeliveryMethod) Label() string {
	switch m {
	case DeliveryNovaPoshta:
		return "Nova Poshta"
	case DeliveryUkrPoshta:
		return "Ukrposhta"
	case DeliveryCourier:
		return "Courier"
	default:
		return string(m)
	}
}

// PaymentMethod selects how the buyer pays.
type PaymentMethod string

const (
	PaymentCard           PaymentMethod = "card"
	PaymentCashOnDelivery PaymentMethod = "cod"
	PaymentBankTransfer   PaymentMethod = "bank"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentCashOnDelivery, PaymentBankTransfer:
		return true
	}
	return false
}

// Label returns a human-readable name for m.
func (m PaymentMethod) Label() string {
	switch m {
	case PaymentCard:
		return "Card payment"
	case PaymentCashOnDelivery:
		return "Cash on delivery"
	case PaymentBankTransfer:
		return "Bank transfer"
	default:
		return string(m)
	}
}

// InitialStatus is the status an order receives at checkout: card payments
// are captured up front, everything else waits.
func (m PaymentMethod) InitialStatus() Status {
	if m == PaymentCard {
		return StatusPaid
	}
	return StatusNew
}

// Delivery holds recipient and shipping details submitted at checkout.
type Delivery struct {
	FullName   string
	Phone      string
	Address    string
	City       string
	PostalCode string
	Method     DeliveryMethod
	Department string
	Comment    string
}

// Order is a persisted checkout transaction.
type Order struct {
	ID             int64
	BuyerID        int64
	BuyerUsername  string
	CreatedAt      time.Time
	Status         Status
	Delivery       Delivery
	PaymentMethod  PaymentMethod
	Total          decimal.Decimal
	Items          []Item
	IdempotencyKey string
}

// Item is one product line of an order. UnitPrice is the catalog price at
// checkout time.
type Item struct {
	ProductID string
	Title     string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Subtotal returns UnitPrice × Quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores o and its items atomically, filling in ID and CreatedAt.
	// It returns ErrDuplicateKey when o.IdempotencyKey was already used by
	// the same buyer.
	Create(ctx context.Context, o *Order) error
	FindByIdempotencyKey(ctx context.Context, buyerID int64, key string) (*Order, error)
	ListByBuyer(ctx context.Context, buyerID int64) ([]Order, error)
	GetForBuyer(ctx context.Context, buyerID, id int64) (*Order, error)
	// AdvanceStatus moves order id to status unless that would regress it.
	AdvanceStatus(ctx context.Context, id int64, status Status) (*Order, error)
}

// Notifier is told about every newly placed order. Implementations must not
// block the caller on delivery and must swallow their own failures.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *Order)
}
