package ticketing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
)

// TierType classifies a ticket tier's pricing. External data carrying a
// tier type must pass through ParseTierType exactly once at the boundary;
// no other representation of these tags exists inside the engine.
type TierType string

const (
	TierStandard TierType = "standard"
	TierFree     TierType = "free"
	TierDonation TierType = "donation"
)

// ParseTierType validates a raw tier type tag.
func ParseTierType(raw string) (TierType, error) {
	switch TierType(strings.TrimSpace(raw)) {
	case TierStandard:
		return TierStandard, nil
	case TierFree:
		return TierFree, nil
	case TierDonation:
		return TierDonation, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTierType, raw)
	}
}

// String returns the tier type tag.
func (tierType TierType) String() string {
	return string(tierType)
}

// OrderStatus defines the ticket order lifecycle.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

// ParseOrderStatus validates a raw status tag from storage.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	switch OrderStatus(strings.TrimSpace(raw)) {
	case OrderPending:
		return OrderPending, nil
	case OrderCompleted:
		return OrderCompleted, nil
	case OrderCancelled:
		return OrderCancelled, nil
	case OrderExpired:
		return OrderExpired, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderStatus, raw)
	}
}

// String returns the status tag.
func (status OrderStatus) String() string {
	return string(status)
}

// IsTerminal reports whether the status admits no further transitions.
func (status OrderStatus) IsTerminal() bool {
	return status != OrderPending
}

// TicketTier is one price class of an event, with a finite capacity that
// pending orders hold against.
type TicketTier struct {
	TierID   string
	EventID  string
	Name     string
	Type     TierType
	Price    money.Money
	Capacity int
}

// Ticket is a single admission tied to a tier.
type Ticket struct {
	TicketID string
	OrderID  string
	TierID   string
	Price    money.Money
}

// TicketOrder is a purchase of one or more tickets with a time-limited
// pending hold. ExpiresAt is meaningful only while pending.
type TicketOrder struct {
	OrderID     string
	ReferenceID string
	UserID      string
	EventID     string
	Status      OrderStatus
	TotalAmount money.Money
	ExpiresAt   time.Time
	CreatedAt   time.Time
	Tickets     []Ticket
}

// EffectiveStatus layers lazy expiration over the persisted status: a
// pending order whose deadline has passed reads as expired even before
// any sweep updates the row. Pure function; writes still go against the
// persisted status.
func EffectiveStatus(order TicketOrder, now time.Time) OrderStatus {
	if order.Status == OrderPending && !order.ExpiresAt.IsZero() && !now.Before(order.ExpiresAt) {
		return OrderExpired
	}
	return order.Status
}

// OrderLine requests quantity tickets from one tier. Donation carries the
// total donated amount for donation tiers and is ignored otherwise.
type OrderLine struct {
	TierID   string
	Quantity int
	Donation money.Money
}

// CreateOrderInput describes a new ticket order.
type CreateOrderInput struct {
	UserID   string
	EventID  string
	Currency string
	Lines    []OrderLine
}

// Store is the persistence contract used by Service. Inventory holds live
// behind the same contract so that releasing a hold shares the
// transaction that cancels the order; there is no window where inventory
// is freed while the order still reads pending.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrder(ctx context.Context, orderID string) (TicketOrder, error)
	GetOrderForUpdate(ctx context.Context, orderID string) (TicketOrder, error)
	InsertOrder(ctx context.Context, order TicketOrder) error
	UpdateOrderStatus(ctx context.Context, orderID string, from, to OrderStatus) error
	GetTier(ctx context.Context, tierID string) (TicketTier, error)
	ReserveHold(ctx context.Context, tierID string, quantity int) error
	ReleaseHold(ctx context.Context, orderID string) error
	ExpirePending(ctx context.Context, cutoff time.Time) (int64, error)
}
