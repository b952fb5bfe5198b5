package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BookingRecord mirrors the bookings table. Amounts are integer minor
// units with an explicit currency column.
type BookingRecord struct {
	BookingID       string         `gorm:"type:uuid;primaryKey"`
	ReferenceID     string         `gorm:"not null;index:uniq_booking_reference,unique"`
	UserID          string         `gorm:"not null;index:idx_bookings_user"`
	Property        string         `gorm:"not null"`
	Mode            string         `gorm:"not null"`
	Status          string         `gorm:"not null;index:idx_bookings_status"`
	CheckinDate     time.Time      `gorm:"not null"`
	CheckoutDate    time.Time      `gorm:"not null"`
	GuestsCount     int            `gorm:"not null"`
	ChildrenCount   int            `gorm:"not null"`
	TotalPriceMinor int64          `gorm:"not null"`
	Currency        string         `gorm:"not null"`
	PricingItems    datatypes.JSON `gorm:"not null"`
	CreatedAt       time.Time      `gorm:"not null"`
	UpdatedAt       time.Time      `gorm:"not null"`
}

func (BookingRecord) TableName() string { return "bookings" }

func (record *BookingRecord) BeforeCreate(tx *gorm.DB) error {
	if record.BookingID == "" {
		record.BookingID = uuid.NewString()
	}
	return nil
}

// RefundPolicyRecord mirrors the refund_policies table. One policy per
// (property, mode) pair.
type RefundPolicyRecord struct {
	PolicyID  string    `gorm:"type:uuid;primaryKey"`
	Property  string    `gorm:"not null;index:uniq_policy_property_mode,unique,priority:1"`
	Mode      string    `gorm:"not null;index:uniq_policy_property_mode,unique,priority:2"`
	CreatedAt time.Time `gorm:"not null"`

	Rules []RefundRuleRecord `gorm:"foreignKey:PolicyID;references:PolicyID"`
}

func (RefundPolicyRecord) TableName() string { return "refund_policies" }

func (record *RefundPolicyRecord) BeforeCreate(tx *gorm.DB) error {
	if record.PolicyID == "" {
		record.PolicyID = uuid.NewString()
	}
	return nil
}

// RefundRuleRecord mirrors the refund_rules table.
type RefundRuleRecord struct {
	RuleID            string `gorm:"type:uuid;primaryKey"`
	PolicyID          string `gorm:"type:uuid;not null;index:idx_refund_rules_policy"`
	DaysBeforeCheckin int    `gorm:"not null"`
	Percent           int    `gorm:"not null"`
}

func (RefundRuleRecord) TableName() string { return "refund_rules" }

func (record *RefundRuleRecord) BeforeCreate(tx *gorm.DB) error {
	if record.RuleID == "" {
		record.RuleID = uuid.NewString()
	}
	return nil
}

// LedgerTransactionRecord mirrors the ledger_transactions table. Rows are
// immutable once written.
type LedgerTransactionRecord struct {
	TransactionID string    `gorm:"type:uuid;primaryKey"`
	BookingID     string    `gorm:"type:uuid;not null;index:idx_ledger_booking"`
	Direction     string    `gorm:"not null"`
	AmountMinor   int64     `gorm:"not null"`
	Currency      string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (LedgerTransactionRecord) TableName() string { return "ledger_transactions" }

func (record *LedgerTransactionRecord) BeforeCreate(tx *gorm.DB) error {
	if record.TransactionID == "" {
		record.TransactionID = uuid.NewString()
	}
	return nil
}

// PendingRefundRecord mirrors the pending_refunds table.
type PendingRefundRecord struct {
	PendingRefundID string    `gorm:"type:uuid;primaryKey"`
	BookingID       string    `gorm:"type:uuid;not null;index:idx_pending_refunds_booking"`
	AmountMinor     int64     `gorm:"not null"`
	Currency        string    `gorm:"not null"`
	Reason          string    `gorm:"not null"`
	Approval        string    `gorm:"not null;index:idx_pending_refunds_approval"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (PendingRefundRecord) TableName() string { return "pending_refunds" }

func (record *PendingRefundRecord) BeforeCreate(tx *gorm.DB) error {
	if record.PendingRefundID == "" {
		record.PendingRefundID = uuid.NewString()
	}
	return nil
}

// TicketTierRecord mirrors the ticket_tiers table. HeldCount tracks seats
// currently held by pending or completed orders.
type TicketTierRecord struct {
	TierID     string    `gorm:"type:uuid;primaryKey"`
	EventID    string    `gorm:"not null;index:idx_ticket_tiers_event"`
	Name       string    `gorm:"not null"`
	Type       string    `gorm:"not null"`
	PriceMinor int64     `gorm:"not null"`
	Currency   string    `gorm:"not null"`
	Capacity   int       `gorm:"not null"`
	HeldCount  int       `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (TicketTierRecord) TableName() string { return "ticket_tiers" }

func (record *TicketTierRecord) BeforeCreate(tx *gorm.DB) error {
	if record.TierID == "" {
		record.TierID = uuid.NewString()
	}
	return nil
}

// TicketOrderRecord mirrors the ticket_orders table.
type TicketOrderRecord struct {
	OrderID     string     `gorm:"type:uuid;primaryKey"`
	ReferenceID string     `gorm:"not null;index:uniq_order_reference,unique"`
	UserID      string     `gorm:"not null;index:idx_ticket_orders_user"`
	EventID     string     `gorm:"not null;index:idx_ticket_orders_event"`
	Status      string     `gorm:"not null;index:idx_ticket_orders_status"`
	TotalMinor  int64      `gorm:"not null"`
	Currency    string     `gorm:"not null"`
	ExpiresAt   *time.Time `gorm:""`
	CreatedAt   time.Time  `gorm:"not null"`
	UpdatedAt   time.Time  `gorm:"not null"`
}

func (TicketOrderRecord) TableName() string { return "ticket_orders" }

func (record *TicketOrderRecord) BeforeCreate(tx *gorm.DB) error {
	if record.OrderID == "" {
		record.OrderID = uuid.NewString()
	}
	return nil
}

// TicketRecord mirrors the tickets table.
type TicketRecord struct {
	TicketID   string `gorm:"type:uuid;primaryKey"`
	OrderID    string `gorm:"type:uuid;not null;index:idx_tickets_order"`
	TierID     string `gorm:"type:uuid;not null;index:idx_tickets_tier"`
	PriceMinor int64  `gorm:"not null"`
	Currency   string `gorm:"not null"`
}

func (TicketRecord) TableName() string { return "tickets" }

func (record *TicketRecord) BeforeCreate(tx *gorm.DB) error {
	if record.TicketID == "" {
		record.TicketID = uuid.NewString()
	}
	return nil
}

// Models lists every record type for schema migration.
func Models() []interface{} {
	return []interface{}{
		&BookingRecord{},
		&RefundPolicyRecord{},
		&RefundRuleRecord{},
		&LedgerTransactionRecord{},
		&PendingRefundRecord{},
		&TicketTierRecord{},
		&TicketOrderRecord{},
		&TicketRecord{},
	}
}
