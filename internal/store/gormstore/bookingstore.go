package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/booking"
	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
)

// BookingStore implements booking.Store using GORM.
type BookingStore struct {
	db *gorm.DB
}

// NewBookingStore returns a BookingStore backed by gorm.DB.
func NewBookingStore(db *gorm.DB) *BookingStore {
	return &BookingStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *BookingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &BookingStore{db: transaction})
	})
}

func (store *BookingStore) GetBooking(ctx context.Context, bookingID string) (booking.Booking, error) {
	return store.getBooking(ctx, bookingID, false)
}

func (store *BookingStore) GetBookingForUpdate(ctx context.Context, bookingID string) (booking.Booking, error) {
	return store.getBooking(ctx, bookingID, true)
}

func (store *BookingStore) getBooking(ctx context.Context, bookingID string, forUpdate bool) (booking.Booking, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row BookingRecord
	err := query.Where("booking_id = ?", bookingID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Booking{}, wrapBookingStoreError(errorSubjectBooking, errorCodeGet, booking.ErrUnknownBooking)
		}
		return booking.Booking{}, wrapBookingStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	bookingValue, err := mapBooking(row)
	if err != nil {
		return booking.Booking{}, wrapBookingStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return bookingValue, nil
}

func (store *BookingStore) UpdateBookingStatus(ctx context.Context, bookingID string, from, to booking.BookingStatus) error {
	result := store.db.WithContext(ctx).
		Model(&BookingRecord{}).
		Where("booking_id = ? AND status = ?", bookingID, from.String()).
		Updates(map[string]interface{}{"status": to.String(), "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapBookingStoreError(errorSubjectBooking, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapBookingStoreError(errorSubjectBooking, errorCodeUpdateStatus, booking.ErrConflict)
	}
	return nil
}

// GetRefundPolicy returns nil without error when no policy is configured
// for the pair; the engine treats a missing policy as fully refundable.
func (store *BookingStore) GetRefundPolicy(ctx context.Context, property booking.Property, mode booking.BookingMode) (*booking.RefundPolicy, error) {
	var row RefundPolicyRecord
	err := store.db.WithContext(ctx).
		Preload("Rules").
		Where("property = ? AND mode = ?", property.String(), mode.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapBookingStoreError(errorSubjectPolicy, errorCodeGet, err)
	}
	policy, err := mapRefundPolicy(row)
	if err != nil {
		return nil, wrapBookingStoreError(errorSubjectPolicy, errorCodeInvalid, err)
	}
	return policy, nil
}

func (store *BookingStore) InsertLedgerTransaction(ctx context.Context, transaction booking.LedgerTransaction) error {
	row := LedgerTransactionRecord{
		TransactionID: transaction.TransactionID,
		BookingID:     transaction.BookingID,
		Direction:     string(transaction.Direction),
		AmountMinor:   transaction.Amount.AmountMinor(),
		Currency:      transaction.Amount.Currency(),
		CreatedAt:     transaction.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapBookingStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *BookingStore) SumRefunded(ctx context.Context, bookingID string, currency string) (money.Money, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerTransactionRecord{}).
		Select("coalesce(sum(amount_minor),0) as total").
		Where("booking_id = ? AND direction = ? AND currency = ?", bookingID, string(booking.DirectionOutbound), currency).
		Scan(&sum).Error
	if err != nil {
		return money.Money{}, wrapBookingStoreError(errorSubjectTransaction, errorCodeSumRefunded, err)
	}
	refunded, err := money.New(sum.Total, currency)
	if err != nil {
		return money.Money{}, wrapBookingStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return refunded, nil
}

func (store *BookingStore) InsertPendingRefund(ctx context.Context, pending booking.PendingRefund) error {
	row := PendingRefundRecord{
		PendingRefundID: pending.PendingRefundID,
		BookingID:       pending.BookingID,
		AmountMinor:     pending.Amount.AmountMinor(),
		Currency:        pending.Amount.Currency(),
		Reason:          pending.Reason,
		Approval:        pending.Approval.String(),
		CreatedAt:       pending.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	row.UpdatedAt = row.CreatedAt
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapBookingStoreError(errorSubjectPending, errorCodeInsert, err)
	}
	return nil
}

func (store *BookingStore) GetPendingRefundForUpdate(ctx context.Context, pendingRefundID string) (booking.PendingRefund, error) {
	var row PendingRefundRecord
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("pending_refund_id = ?", pendingRefundID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.PendingRefund{}, wrapBookingStoreError(errorSubjectPending, errorCodeGet, booking.ErrUnknownPendingRefund)
		}
		return booking.PendingRefund{}, wrapBookingStoreError(errorSubjectPending, errorCodeGet, err)
	}
	pending, err := mapPendingRefund(row)
	if err != nil {
		return booking.PendingRefund{}, wrapBookingStoreError(errorSubjectPending, errorCodeInvalid, err)
	}
	return pending, nil
}

func (store *BookingStore) UpdatePendingRefundStatus(ctx context.Context, pendingRefundID string, from, to booking.ApprovalStatus) error {
	result := store.db.WithContext(ctx).
		Model(&PendingRefundRecord{}).
		Where("pending_refund_id = ? AND approval = ?", pendingRefundID, from.String()).
		Updates(map[string]interface{}{"approval": to.String(), "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapBookingStoreError(errorSubjectPending, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapBookingStoreError(errorSubjectPending, errorCodeUpdateStatus, booking.ErrPendingRefundClosed)
	}
	return nil
}

func (store *BookingStore) ListPendingRefunds(ctx context.Context, approval booking.ApprovalStatus, limit int) ([]booking.PendingRefund, error) {
	var rows []PendingRefundRecord
	err := store.db.WithContext(ctx).
		Where("approval = ?", approval.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapBookingStoreError(errorSubjectPending, errorCodeList, err)
	}
	pendings := make([]booking.PendingRefund, 0, len(rows))
	for _, row := range rows {
		pending, err := mapPendingRefund(row)
		if err != nil {
			return nil, wrapBookingStoreError(errorSubjectPending, errorCodeInvalid, err)
		}
		pendings = append(pendings, pending)
	}
	return pendings, nil
}

// InsertBooking writes a new booking row. Used by admin tooling and tests;
// the cancellation engine itself never creates bookings.
func (store *BookingStore) InsertBooking(ctx context.Context, bookingValue booking.Booking) error {
	if err := bookingValue.Validate(); err != nil {
		return wrapBookingStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	items, err := marshalPricingItems(bookingValue.PricingItems)
	if err != nil {
		return wrapBookingStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	now := time.Now().UTC()
	row := BookingRecord{
		BookingID:       bookingValue.BookingID,
		ReferenceID:     bookingValue.ReferenceID,
		UserID:          bookingValue.UserID,
		Property:        bookingValue.Property.String(),
		Mode:            bookingValue.Mode.String(),
		Status:          bookingValue.Status.String(),
		CheckinDate:     bookingValue.CheckinDate,
		CheckoutDate:    bookingValue.CheckoutDate,
		GuestsCount:     bookingValue.GuestsCount,
		ChildrenCount:   bookingValue.ChildrenCount,
		TotalPriceMinor: bookingValue.TotalPrice.AmountMinor(),
		Currency:        bookingValue.TotalPrice.Currency(),
		PricingItems:    items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err, "") {
			return wrapBookingStoreError(errorSubjectBooking, errorCodeDuplicate, err)
		}
		return wrapBookingStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	return nil
}

// InsertRefundPolicy writes a policy with its rules. Used by admin tooling
// and tests.
func (store *BookingStore) InsertRefundPolicy(ctx context.Context, policy booking.RefundPolicy) error {
	row := RefundPolicyRecord{
		PolicyID: policy.PolicyID,
		Property: policy.Property.String(),
		Mode:     policy.Mode.String(),
	}
	for _, rule := range policy.Rules {
		if err := rule.Validate(); err != nil {
			return wrapBookingStoreError(errorSubjectPolicy, errorCodeInvalid, err)
		}
		row.Rules = append(row.Rules, RefundRuleRecord{
			DaysBeforeCheckin: rule.DaysBeforeCheckin,
			Percent:           rule.Percent,
		})
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapBookingStoreError(errorSubjectPolicy, errorCodeInsert, err)
	}
	return nil
}

func wrapBookingStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

// pricingItemRow is the JSON shape of one pricing line inside the
// bookings.pricing_items column.
type pricingItemRow struct {
	Label       string `json:"label"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Quantity    int    `json:"quantity"`
}

func marshalPricingItems(items []booking.PricingItem) (datatypes.JSON, error) {
	rows := make([]pricingItemRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, pricingItemRow{
			Label:       item.Label,
			AmountMinor: item.Amount.AmountMinor(),
			Currency:    item.Amount.Currency(),
			Quantity:    item.Quantity,
		})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func unmarshalPricingItems(raw datatypes.JSON) ([]booking.PricingItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []pricingItemRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	items := make([]booking.PricingItem, 0, len(rows))
	for _, row := range rows {
		amount, err := money.New(row.AmountMinor, row.Currency)
		if err != nil {
			return nil, err
		}
		items = append(items, booking.PricingItem{
			Label:    row.Label,
			Amount:   amount,
			Quantity: row.Quantity,
		})
	}
	return items, nil
}

func mapBooking(row BookingRecord) (booking.Booking, error) {
	property, err := booking.ParseProperty(row.Property)
	if err != nil {
		return booking.Booking{}, err
	}
	mode, err := booking.ParseBookingMode(row.Mode)
	if err != nil {
		return booking.Booking{}, err
	}
	status, err := booking.ParseBookingStatus(row.Status)
	if err != nil {
		return booking.Booking{}, err
	}
	totalPrice, err := money.New(row.TotalPriceMinor, row.Currency)
	if err != nil {
		return booking.Booking{}, err
	}
	items, err := unmarshalPricingItems(row.PricingItems)
	if err != nil {
		return booking.Booking{}, err
	}
	return booking.Booking{
		BookingID:     row.BookingID,
		ReferenceID:   row.ReferenceID,
		UserID:        row.UserID,
		Property:      property,
		Mode:          mode,
		Status:        status,
		CheckinDate:   row.CheckinDate.UTC(),
		CheckoutDate:  row.CheckoutDate.UTC(),
		GuestsCount:   row.GuestsCount,
		ChildrenCount: row.ChildrenCount,
		TotalPrice:    totalPrice,
		PricingItems:  items,
	}, nil
}

func mapRefundPolicy(row RefundPolicyRecord) (*booking.RefundPolicy, error) {
	property, err := booking.ParseProperty(row.Property)
	if err != nil {
		return nil, err
	}
	mode, err := booking.ParseBookingMode(row.Mode)
	if err != nil {
		return nil, err
	}
	rules := make([]booking.RefundRule, 0, len(row.Rules))
	for _, ruleRow := range row.Rules {
		rule := booking.RefundRule{
			DaysBeforeCheckin: ruleRow.DaysBeforeCheckin,
			Percent:           ruleRow.Percent,
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return &booking.RefundPolicy{
		PolicyID: row.PolicyID,
		Property: property,
		Mode:     mode,
		Rules:    rules,
	}, nil
}

func mapPendingRefund(row PendingRefundRecord) (booking.PendingRefund, error) {
	amount, err := money.New(row.AmountMinor, row.Currency)
	if err != nil {
		return booking.PendingRefund{}, err
	}
	approval, err := booking.ParseApprovalStatus(row.Approval)
	if err != nil {
		return booking.PendingRefund{}, err
	}
	return booking.PendingRefund{
		PendingRefundID: row.PendingRefundID,
		BookingID:       row.BookingID,
		Amount:          amount,
		Reason:          row.Reason,
		Approval:        approval,
		CreatedAt:       row.CreatedAt.UTC(),
	}, nil
}
