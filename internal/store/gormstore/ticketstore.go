package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
	"github.com/MarkoPoloResearchLab/clubstay/pkg/ticketing"
)

// TicketStore implements ticketing.Store using GORM. Inventory holds live
// in the held_count column of ticket_tiers; reserve and release run as
// conditional updates inside the caller's transaction.
type TicketStore struct {
	db *gorm.DB
}

// NewTicketStore returns a TicketStore backed by gorm.DB.
func NewTicketStore(db *gorm.DB) *TicketStore {
	return &TicketStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *TicketStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ticketing.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &TicketStore{db: transaction})
	})
}

func (store *TicketStore) GetOrder(ctx context.Context, orderID string) (ticketing.TicketOrder, error) {
	return store.getOrder(ctx, orderID, false)
}

func (store *TicketStore) GetOrderForUpdate(ctx context.Context, orderID string) (ticketing.TicketOrder, error) {
	return store.getOrder(ctx, orderID, true)
}

func (store *TicketStore) getOrder(ctx context.Context, orderID string, forUpdate bool) (ticketing.TicketOrder, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row TicketOrderRecord
	err := query.Where("order_id = ?", orderID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ticketing.TicketOrder{}, wrapTicketStoreError(errorSubjectOrder, errorCodeGet, ticketing.ErrUnknownOrder)
		}
		return ticketing.TicketOrder{}, wrapTicketStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	var ticketRows []TicketRecord
	if err := store.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&ticketRows).Error; err != nil {
		return ticketing.TicketOrder{}, wrapTicketStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	order, err := mapTicketOrder(row, ticketRows)
	if err != nil {
		return ticketing.TicketOrder{}, wrapTicketStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

func (store *TicketStore) InsertOrder(ctx context.Context, order ticketing.TicketOrder) error {
	row := TicketOrderRecord{
		OrderID:     order.OrderID,
		ReferenceID: order.ReferenceID,
		UserID:      order.UserID,
		EventID:     order.EventID,
		Status:      order.Status.String(),
		TotalMinor:  order.TotalAmount.AmountMinor(),
		Currency:    order.TotalAmount.Currency(),
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.CreatedAt,
	}
	if !order.ExpiresAt.IsZero() {
		expiresAt := order.ExpiresAt.UTC()
		row.ExpiresAt = &expiresAt
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
		row.UpdatedAt = row.CreatedAt
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err, constraintOrderReference) {
			return wrapTicketStoreError(errorSubjectOrder, errorCodeDuplicate, err)
		}
		return wrapTicketStoreError(errorSubjectOrder, errorCodeInsert, err)
	}
	for _, ticket := range order.Tickets {
		ticketRow := TicketRecord{
			TicketID:   ticket.TicketID,
			OrderID:    order.OrderID,
			TierID:     ticket.TierID,
			PriceMinor: ticket.Price.AmountMinor(),
			Currency:   ticket.Price.Currency(),
		}
		if err := store.db.WithContext(ctx).Create(&ticketRow).Error; err != nil {
			return wrapTicketStoreError(errorSubjectOrder, errorCodeInsert, err)
		}
	}
	return nil
}

func (store *TicketStore) UpdateOrderStatus(ctx context.Context, orderID string, from, to ticketing.OrderStatus) error {
	result := store.db.WithContext(ctx).
		Model(&TicketOrderRecord{}).
		Where("order_id = ? AND status = ?", orderID, from.String()).
		Updates(map[string]interface{}{"status": to.String(), "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapTicketStoreError(errorSubjectOrder, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapTicketStoreError(errorSubjectOrder, errorCodeUpdateStatus, ticketing.ErrConflict)
	}
	return nil
}

func (store *TicketStore) GetTier(ctx context.Context, tierID string) (ticketing.TicketTier, error) {
	var row TicketTierRecord
	err := store.db.WithContext(ctx).Where("tier_id = ?", tierID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ticketing.TicketTier{}, wrapTicketStoreError(errorSubjectTier, errorCodeGet, ticketing.ErrUnknownTier)
		}
		return ticketing.TicketTier{}, wrapTicketStoreError(errorSubjectTier, errorCodeGet, err)
	}
	tier, err := mapTicketTier(row)
	if err != nil {
		return ticketing.TicketTier{}, wrapTicketStoreError(errorSubjectTier, errorCodeInvalid, err)
	}
	return tier, nil
}

// ReserveHold increments a tier's held count only when capacity remains
// for the full quantity. The conditional update makes concurrent reserves
// serialize on the row; the loser sees no rows affected.
func (store *TicketStore) ReserveHold(ctx context.Context, tierID string, quantity int) error {
	if quantity <= 0 {
		return wrapTicketStoreError(errorSubjectHold, errorCodeReserve, fmt.Errorf("%w: quantity %d", ticketing.ErrInvalidOrder, quantity))
	}
	result := store.db.WithContext(ctx).
		Model(&TicketTierRecord{}).
		Where("tier_id = ? AND held_count + ? <= capacity", tierID, quantity).
		Updates(map[string]interface{}{
			"held_count": gorm.Expr("held_count + ?", quantity),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapTicketStoreError(errorSubjectHold, errorCodeReserve, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapTicketStoreError(errorSubjectHold, errorCodeReserve, ticketing.ErrInsufficientInventory)
	}
	return nil
}

// ReleaseHold returns the order's seats to their tiers, grouped per tier.
func (store *TicketStore) ReleaseHold(ctx context.Context, orderID string) error {
	var counts []tierSeatCount
	err := store.db.WithContext(ctx).
		Model(&TicketRecord{}).
		Select("tier_id, count(*) as seats").
		Where("order_id = ?", orderID).
		Group("tier_id").
		Scan(&counts).Error
	if err != nil {
		return wrapTicketStoreError(errorSubjectHold, errorCodeRelease, err)
	}
	for _, count := range counts {
		result := store.db.WithContext(ctx).
			Model(&TicketTierRecord{}).
			Where("tier_id = ? AND held_count >= ?", count.TierID, count.Seats).
			Updates(map[string]interface{}{
				"held_count": gorm.Expr("held_count - ?", count.Seats),
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return wrapTicketStoreError(errorSubjectHold, errorCodeRelease, result.Error)
		}
	}
	return nil
}

// ExpirePending flips pending orders past their deadline to expired and
// releases their holds. Each order moves through the same compare-and-set
// as a live transition, so a completion racing the sweep wins at most one
// of them. The flip and the release share a transaction per order: a
// failed release rolls the order back to pending, where the next sweep
// picks it up again.
func (store *TicketStore) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	var orderIDs []string
	err := store.db.WithContext(ctx).
		Model(&TicketOrderRecord{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", ticketing.OrderPending.String(), cutoff.UTC()).
		Pluck("order_id", &orderIDs).Error
	if err != nil {
		return 0, wrapTicketStoreError(errorSubjectOrder, errorCodeExpire, err)
	}
	var swept int64
	for _, orderID := range orderIDs {
		flipped := false
		err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
			result := transaction.
				Model(&TicketOrderRecord{}).
				Where("order_id = ? AND status = ?", orderID, ticketing.OrderPending.String()).
				Updates(map[string]interface{}{"status": ticketing.OrderExpired.String(), "updated_at": time.Now().UTC()})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return nil
			}
			flipped = true
			return (&TicketStore{db: transaction}).ReleaseHold(ctx, orderID)
		})
		if err != nil {
			return swept, wrapTicketStoreError(errorSubjectOrder, errorCodeExpire, err)
		}
		if flipped {
			swept++
		}
	}
	return swept, nil
}

// InsertTier writes a tier row. Used by admin tooling and tests.
func (store *TicketStore) InsertTier(ctx context.Context, tier ticketing.TicketTier) error {
	now := time.Now().UTC()
	row := TicketTierRecord{
		TierID:     tier.TierID,
		EventID:    tier.EventID,
		Name:       tier.Name,
		Type:       tier.Type.String(),
		PriceMinor: tier.Price.AmountMinor(),
		Currency:   tier.Price.Currency(),
		Capacity:   tier.Capacity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapTicketStoreError(errorSubjectTier, errorCodeInsert, err)
	}
	return nil
}

func wrapTicketStoreError(subject string, code string, err error) error {
	return ticketing.WrapError(errorOperationStore, subject, code, err)
}

type tierSeatCount struct {
	TierID string
	Seats  int
}

func mapTicketOrder(row TicketOrderRecord, ticketRows []TicketRecord) (ticketing.TicketOrder, error) {
	status, err := ticketing.ParseOrderStatus(row.Status)
	if err != nil {
		return ticketing.TicketOrder{}, err
	}
	total, err := money.New(row.TotalMinor, row.Currency)
	if err != nil {
		return ticketing.TicketOrder{}, err
	}
	tickets := make([]ticketing.Ticket, 0, len(ticketRows))
	for _, ticketRow := range ticketRows {
		price, err := money.New(ticketRow.PriceMinor, ticketRow.Currency)
		if err != nil {
			return ticketing.TicketOrder{}, err
		}
		tickets = append(tickets, ticketing.Ticket{
			TicketID: ticketRow.TicketID,
			OrderID:  ticketRow.OrderID,
			TierID:   ticketRow.TierID,
			Price:    price,
		})
	}
	var expiresAt time.Time
	if row.ExpiresAt != nil {
		expiresAt = row.ExpiresAt.UTC()
	}
	return ticketing.TicketOrder{
		OrderID:     row.OrderID,
		ReferenceID: row.ReferenceID,
		UserID:      row.UserID,
		EventID:     row.EventID,
		Status:      status,
		TotalAmount: total,
		ExpiresAt:   expiresAt,
		CreatedAt:   row.CreatedAt.UTC(),
		Tickets:     tickets,
	}, nil
}

func mapTicketTier(row TicketTierRecord) (ticketing.TicketTier, error) {
	tierType, err := ticketing.ParseTierType(row.Type)
	if err != nil {
		return ticketing.TicketTier{}, err
	}
	price, err := money.New(row.PriceMinor, row.Currency)
	if err != nil {
		return ticketing.TicketTier{}, err
	}
	return ticketing.TicketTier{
		TierID:   row.TierID,
		EventID:  row.EventID,
		Name:     row.Name,
		Type:     tierType,
		Price:    price,
		Capacity: row.Capacity,
	}, nil
}
