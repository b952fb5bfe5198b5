package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
)

// Property identifies a club property.
type Property string

const (
	PropertyTahoe     Property = "tahoe"
	PropertyClearLake Property = "clear_lake"
)

// Both properties sit in the Pacific time zone; eligibility cutoffs are
// evaluated in property-local time.
const pacificZone = "America/Los_Angeles"

// ParseProperty validates a raw property tag from storage or transport.
func ParseProperty(raw string) (Property, error) {
	switch Property(strings.TrimSpace(raw)) {
	case PropertyTahoe:
		return PropertyTahoe, nil
	case PropertyClearLake:
		return PropertyClearLake, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidProperty, raw)
	}
}

// String returns the property tag.
func (property Property) String() string {
	return string(property)
}

// Location resolves the property's IANA time zone.
func (property Property) Location() (*time.Location, error) {
	switch property {
	case PropertyTahoe, PropertyClearLake:
		return time.LoadLocation(pacificZone)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidProperty, string(property))
	}
}

// BookingMode identifies how a property is reserved.
type BookingMode string

const (
	ModeRoom     BookingMode = "room"
	ModeBuyout   BookingMode = "buyout"
	ModePerGuest BookingMode = "per_guest"
)

// ParseBookingMode validates a raw mode tag from storage or transport.
func ParseBookingMode(raw string) (BookingMode, error) {
	switch BookingMode(strings.TrimSpace(raw)) {
	case ModeRoom:
		return ModeRoom, nil
	case ModeBuyout:
		return ModeBuyout, nil
	case ModePerGuest:
		return ModePerGuest, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBookingMode, raw)
	}
}

// String returns the mode tag.
func (mode BookingMode) String() string {
	return string(mode)
}

// BookingStatus defines the booking lifecycle.
type BookingStatus string

const (
	StatusHold     BookingStatus = "hold"
	StatusComplete BookingStatus = "complete"
	StatusCanceled BookingStatus = "canceled"
	StatusRefunded BookingStatus = "refunded"
)

// ParseBookingStatus validates a raw status tag from storage.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	switch BookingStatus(strings.TrimSpace(raw)) {
	case StatusHold:
		return StatusHold, nil
	case StatusComplete:
		return StatusComplete, nil
	case StatusCanceled:
		return StatusCanceled, nil
	case StatusRefunded:
		return StatusRefunded, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBookingStatus, raw)
	}
}

// String returns the status tag.
func (status BookingStatus) String() string {
	return string(status)
}

// IsTerminal reports whether the status admits no further transitions.
func (status BookingStatus) IsTerminal() bool {
	return status == StatusCanceled || status == StatusRefunded
}

// PricingItem is one line of a booking's price breakdown.
type PricingItem struct {
	Label    string      `json:"label"`
	Amount   money.Money `json:"-"`
	Quantity int         `json:"quantity"`
}

// Booking is a reservation of cabin or room inventory over a date range.
// Check-in and check-out dates are date-only values stored at UTC midnight.
type Booking struct {
	BookingID     string
	ReferenceID   string
	UserID        string
	Property      Property
	Mode          BookingMode
	Status        BookingStatus
	CheckinDate   time.Time
	CheckoutDate  time.Time
	GuestsCount   int
	ChildrenCount int
	TotalPrice    money.Money
	PricingItems  []PricingItem
}

// Validate checks the structural invariants of a booking record.
func (bookingValue Booking) Validate() error {
	if strings.TrimSpace(bookingValue.BookingID) == "" {
		return fmt.Errorf("%w: empty booking id", ErrInvalidBooking)
	}
	if _, err := ParseProperty(string(bookingValue.Property)); err != nil {
		return err
	}
	if _, err := ParseBookingMode(string(bookingValue.Mode)); err != nil {
		return err
	}
	if _, err := ParseBookingStatus(string(bookingValue.Status)); err != nil {
		return err
	}
	if !bookingValue.CheckoutDate.After(bookingValue.CheckinDate) {
		return fmt.Errorf("%w: checkout must follow checkin", ErrInvalidBooking)
	}
	if bookingValue.GuestsCount < 0 || bookingValue.ChildrenCount < 0 {
		return fmt.Errorf("%w: negative guest count", ErrInvalidBooking)
	}
	return nil
}

// RefundRule maps a days-before-checkin threshold to a refund percentage.
type RefundRule struct {
	DaysBeforeCheckin int
	Percent           int
}

// Validate checks rule bounds.
func (rule RefundRule) Validate() error {
	if rule.DaysBeforeCheckin < 0 {
		return fmt.Errorf("%w: negative threshold %d", ErrInvalidRefundRule, rule.DaysBeforeCheckin)
	}
	if rule.Percent < 0 || rule.Percent > 100 {
		return fmt.Errorf("%w: percent %d out of range", ErrInvalidRefundRule, rule.Percent)
	}
	return nil
}

// RefundPolicy is the tiered cancellation schedule for one
// (property, booking mode) pair. Configured administratively; read-only
// from the engine's perspective.
type RefundPolicy struct {
	PolicyID string
	Property Property
	Mode     BookingMode
	Rules    []RefundRule
}

// TransactionDirection marks which way money moved.
type TransactionDirection string

const (
	DirectionOutbound TransactionDirection = "outbound"
	DirectionInbound  TransactionDirection = "inbound"
)

// LedgerTransaction is an executed, immediately-settled refund.
type LedgerTransaction struct {
	TransactionID string
	BookingID     string
	Direction     TransactionDirection
	Amount        money.Money
	CreatedAt     time.Time
}

// ApprovalStatus defines the pending-refund review lifecycle.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ParseApprovalStatus validates a raw approval tag from storage.
func ParseApprovalStatus(raw string) (ApprovalStatus, error) {
	switch ApprovalStatus(strings.TrimSpace(raw)) {
	case ApprovalPending:
		return ApprovalPending, nil
	case ApprovalApproved:
		return ApprovalApproved, nil
	case ApprovalRejected:
		return ApprovalRejected, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBookingStatus, raw)
	}
}

// String returns the approval tag.
func (status ApprovalStatus) String() string {
	return string(status)
}

// PendingRefund is a refund computed but deferred for manual review.
type PendingRefund struct {
	PendingRefundID string
	BookingID       string
	Amount          money.Money
	Reason          string
	Approval        ApprovalStatus
	CreatedAt       time.Time
}

// SettlementKind tags the settlement variant produced by a cancellation.
type SettlementKind string

const (
	SettlementLedger  SettlementKind = "ledger"
	SettlementPending SettlementKind = "pending"
	SettlementNone    SettlementKind = "none"
)

// Settlement is the financial artifact of a cancellation: exactly one of
// an executed ledger transaction or a deferred pending refund, or neither
// when no refund was due.
type Settlement struct {
	Kind        SettlementKind
	Transaction *LedgerTransaction
	Pending     *PendingRefund
}

// CancelResult is the success payload of a cancellation.
type CancelResult struct {
	Booking      Booking
	RefundAmount money.Money
	Settlement   Settlement
}

// Payment is a captured payment located by the payment collaborator.
type Payment struct {
	PaymentID string
	BookingID string
	Amount    money.Money
	Method    string
}

// ReverseOutcome reports whether the gateway executed an immediate reversal.
type ReverseOutcome string

const (
	ReverseExecuted    ReverseOutcome = "executed"
	ReverseUnsupported ReverseOutcome = "unsupported"
)

// PaymentGateway is the opaque payment collaborator. Reverse returning
// ReverseUnsupported is not an error: the refund falls back to manual
// review.
type PaymentGateway interface {
	FindCapturedPayment(ctx context.Context, bookingID string) (Payment, error)
	Reverse(ctx context.Context, payment Payment, amount money.Money) (ReverseOutcome, error)
}

// Notifier receives fire-and-forget lifecycle events. Failures are logged,
// never propagated.
type Notifier interface {
	BookingCanceled(ctx context.Context, bookingValue Booking, reason string)
	RefundIssued(ctx context.Context, bookingValue Booking, amount money.Money)
}

// Store is the persistence contract used by Service. GetBookingForUpdate
// and GetPendingRefundForUpdate take a row lock inside WithTx; the
// compare-and-set updates return ErrConflict when the expected current
// state no longer holds.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetBooking(ctx context.Context, bookingID string) (Booking, error)
	GetBookingForUpdate(ctx context.Context, bookingID string) (Booking, error)
	UpdateBookingStatus(ctx context.Context, bookingID string, from, to BookingStatus) error
	GetRefundPolicy(ctx context.Context, property Property, mode BookingMode) (*RefundPolicy, error)
	InsertLedgerTransaction(ctx context.Context, transaction LedgerTransaction) error
	SumRefunded(ctx context.Context, bookingID string, currency string) (money.Money, error)
	InsertPendingRefund(ctx context.Context, pending PendingRefund) error
	GetPendingRefundForUpdate(ctx context.Context, pendingRefundID string) (PendingRefund, error)
	UpdatePendingRefundStatus(ctx context.Context, pendingRefundID string, from, to ApprovalStatus) error
	ListPendingRefunds(ctx context.Context, approval ApprovalStatus, limit int) ([]PendingRefund, error)
}
