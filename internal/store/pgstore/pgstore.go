// Package pgstore persists bookings and refund artifacts through raw pgx
// against PostgreSQL. It is the production alternative to gormstore when
// the deployment wants hand-written SQL and pool-level control.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/booking"
	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
)

const (
	errorOperationStore     = "store"
	errorSubjectBooking     = "booking"
	errorSubjectPolicy      = "policy"
	errorSubjectTransaction = "transaction"
	errorSubjectPending     = "pending_refund"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeSumRefunded    = "sum_refunded"
	errorCodeUpdateStatus   = "update_status"

	sqlSelectBooking = `
		select
			booking_id::text, reference_id, user_id, property, mode, status,
			checkin_date, checkout_date, guests_count, children_count,
			total_price_minor, currency, coalesce(pricing_items::text,'[]')
		from bookings
		where booking_id = $1
	`

	sqlSelectBookingForUpdate = sqlSelectBooking + `
		for update
	`

	sqlUpdateBookingStatus = `
		update bookings
		set status = $3, updated_at = now()
		where booking_id = $1 and status = $2
	`

	sqlSelectPolicy = `
		select policy_id::text
		from refund_policies
		where property = $1 and mode = $2
	`

	sqlSelectPolicyRules = `
		select days_before_checkin, percent
		from refund_rules
		where policy_id = $1
		order by days_before_checkin
	`

	sqlInsertLedgerTransaction = `
		insert into ledger_transactions(transaction_id, booking_id, direction, amount_minor, currency, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`

	sqlSumRefunded = `
		select coalesce(sum(amount_minor),0) from ledger_transactions
		where booking_id = $1 and direction = 'outbound' and currency = $2
	`

	sqlInsertPendingRefund = `
		insert into pending_refunds(pending_refund_id, booking_id, amount_minor, currency, reason, approval, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $7)
	`

	sqlSelectPendingRefundForUpdate = `
		select pending_refund_id::text, booking_id::text, amount_minor, currency, reason, approval, created_at
		from pending_refunds
		where pending_refund_id = $1
		for update
	`

	sqlUpdatePendingRefundStatus = `
		update pending_refunds
		set approval = $3, updated_at = now()
		where pending_refund_id = $1 and approval = $2
	`

	sqlListPendingRefunds = `
		select pending_refund_id::text, booking_id::text, amount_minor, currency, reason, approval, created_at
		from pending_refunds
		where approval = $1
		order by created_at desc
		limit $2
	`
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements booking.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements booking.Store for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{q: pool}, pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{q: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// WithTx on a TxStore joins the transaction already in flight.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return fn(ctx, store)
}

// queries carries the data methods shared by Store and TxStore.
type queries struct {
	q querier
}

func (queriesValue queries) GetBooking(ctx context.Context, bookingID string) (booking.Booking, error) {
	return queriesValue.getBooking(ctx, sqlSelectBooking, bookingID)
}

func (queriesValue queries) GetBookingForUpdate(ctx context.Context, bookingID string) (booking.Booking, error) {
	return queriesValue.getBooking(ctx, sqlSelectBookingForUpdate, bookingID)
}

func (queriesValue queries) getBooking(ctx context.Context, query string, bookingID string) (booking.Booking, error) {
	var (
		bookingIDValue  string
		referenceValue  string
		userIDValue     string
		propertyValue   string
		modeValue       string
		statusValue     string
		checkinValue    time.Time
		checkoutValue   time.Time
		guestsValue     int
		childrenValue   int
		totalMinorValue int64
		currencyValue   string
		pricingValue    string
	)
	err := queriesValue.q.QueryRow(ctx, query, bookingID).Scan(
		&bookingIDValue,
		&referenceValue,
		&userIDValue,
		&propertyValue,
		&modeValue,
		&statusValue,
		&checkinValue,
		&checkoutValue,
		&guestsValue,
		&childrenValue,
		&totalMinorValue,
		&currencyValue,
		&pricingValue,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, booking.ErrUnknownBooking)
		}
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	property, err := booking.ParseProperty(propertyValue)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	mode, err := booking.ParseBookingMode(modeValue)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	status, err := booking.ParseBookingStatus(statusValue)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	totalPrice, err := money.New(totalMinorValue, currencyValue)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	items, err := unmarshalPricingItems(pricingValue)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return booking.Booking{
		BookingID:     bookingIDValue,
		ReferenceID:   referenceValue,
		UserID:        userIDValue,
		Property:      property,
		Mode:          mode,
		Status:        status,
		CheckinDate:   checkinValue.UTC(),
		CheckoutDate:  checkoutValue.UTC(),
		GuestsCount:   guestsValue,
		ChildrenCount: childrenValue,
		TotalPrice:    totalPrice,
		PricingItems:  items,
	}, nil
}

func (queriesValue queries) UpdateBookingStatus(ctx context.Context, bookingID string, from, to booking.BookingStatus) error {
	tag, err := queriesValue.q.Exec(ctx, sqlUpdateBookingStatus, bookingID, from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, booking.ErrConflict)
	}
	return nil
}

// GetRefundPolicy returns nil without error when no policy is configured
// for the pair.
func (queriesValue queries) GetRefundPolicy(ctx context.Context, property booking.Property, mode booking.BookingMode) (*booking.RefundPolicy, error) {
	var policyIDValue string
	err := queriesValue.q.QueryRow(ctx, sqlSelectPolicy, property.String(), mode.String()).Scan(&policyIDValue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapStoreError(errorSubjectPolicy, errorCodeGet, err)
	}
	rows, err := queriesValue.q.Query(ctx, sqlSelectPolicyRules, policyIDValue)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPolicy, errorCodeGet, err)
	}
	defer rows.Close()
	rules := make([]booking.RefundRule, 0, 4)
	for rows.Next() {
		var rule booking.RefundRule
		if err := rows.Scan(&rule.DaysBeforeCheckin, &rule.Percent); err != nil {
			return nil, wrapStoreError(errorSubjectPolicy, errorCodeInvalid, err)
		}
		if err := rule.Validate(); err != nil {
			return nil, wrapStoreError(errorSubjectPolicy, errorCodeInvalid, err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectPolicy, errorCodeList, err)
	}
	return &booking.RefundPolicy{
		PolicyID: policyIDValue,
		Property: property,
		Mode:     mode,
		Rules:    rules,
	}, nil
}

func (queriesValue queries) InsertLedgerTransaction(ctx context.Context, transaction booking.LedgerTransaction) error {
	_, err := queriesValue.q.Exec(ctx, sqlInsertLedgerTransaction,
		transaction.TransactionID,
		transaction.BookingID,
		string(transaction.Direction),
		transaction.Amount.AmountMinor(),
		transaction.Amount.Currency(),
		transaction.CreatedAt.UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (queriesValue queries) SumRefunded(ctx context.Context, bookingID string, currency string) (money.Money, error) {
	var sum int64
	err := queriesValue.q.QueryRow(ctx, sqlSumRefunded, bookingID, currency).Scan(&sum)
	if err != nil {
		return money.Money{}, wrapStoreError(errorSubjectTransaction, errorCodeSumRefunded, err)
	}
	refunded, err := money.New(sum, currency)
	if err != nil {
		return money.Money{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return refunded, nil
}

func (queriesValue queries) InsertPendingRefund(ctx context.Context, pending booking.PendingRefund) error {
	_, err := queriesValue.q.Exec(ctx, sqlInsertPendingRefund,
		pending.PendingRefundID,
		pending.BookingID,
		pending.Amount.AmountMinor(),
		pending.Amount.Currency(),
		pending.Reason,
		pending.Approval.String(),
		pending.CreatedAt.UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectPending, errorCodeInsert, err)
	}
	return nil
}

func (queriesValue queries) GetPendingRefundForUpdate(ctx context.Context, pendingRefundID string) (booking.PendingRefund, error) {
	pending, err := scanPendingRefund(queriesValue.q.QueryRow(ctx, sqlSelectPendingRefundForUpdate, pendingRefundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.PendingRefund{}, wrapStoreError(errorSubjectPending, errorCodeGet, booking.ErrUnknownPendingRefund)
		}
		return booking.PendingRefund{}, wrapStoreError(errorSubjectPending, errorCodeGet, err)
	}
	return pending, nil
}

func (queriesValue queries) UpdatePendingRefundStatus(ctx context.Context, pendingRefundID string, from, to booking.ApprovalStatus) error {
	tag, err := queriesValue.q.Exec(ctx, sqlUpdatePendingRefundStatus, pendingRefundID, from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectPending, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectPending, errorCodeUpdateStatus, booking.ErrPendingRefundClosed)
	}
	return nil
}

func (queriesValue queries) ListPendingRefunds(ctx context.Context, approval booking.ApprovalStatus, limit int) ([]booking.PendingRefund, error) {
	rows, err := queriesValue.q.Query(ctx, sqlListPendingRefunds, approval.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPending, errorCodeList, err)
	}
	defer rows.Close()
	pendings := make([]booking.PendingRefund, 0, 16)
	for rows.Next() {
		pending, err := scanPendingRefund(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPending, errorCodeInvalid, err)
		}
		pendings = append(pendings, pending)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectPending, errorCodeList, err)
	}
	return pendings, nil
}

func scanPendingRefund(row pgx.Row) (booking.PendingRefund, error) {
	var (
		pendingIDValue string
		bookingIDValue string
		amountValue    int64
		currencyValue  string
		reasonValue    string
		approvalValue  string
		createdValue   time.Time
	)
	if err := row.Scan(
		&pendingIDValue,
		&bookingIDValue,
		&amountValue,
		&currencyValue,
		&reasonValue,
		&approvalValue,
		&createdValue,
	); err != nil {
		return booking.PendingRefund{}, err
	}
	amount, err := money.New(amountValue, currencyValue)
	if err != nil {
		return booking.PendingRefund{}, err
	}
	approval, err := booking.ParseApprovalStatus(approvalValue)
	if err != nil {
		return booking.PendingRefund{}, err
	}
	return booking.PendingRefund{
		PendingRefundID: pendingIDValue,
		BookingID:       bookingIDValue,
		Amount:          amount,
		Reason:          reasonValue,
		Approval:        approval,
		CreatedAt:       createdValue.UTC(),
	}, nil
}

// pricingItemRow is the JSON shape of one pricing line inside the
// bookings.pricing_items column.
type pricingItemRow struct {
	Label       string `json:"label"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Quantity    int    `json:"quantity"`
}

func unmarshalPricingItems(raw string) ([]booking.PricingItem, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var rows []pricingItemRow
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
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

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}
