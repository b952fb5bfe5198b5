package ticketing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
)

// Service contains the ticket order lifecycle over a Store. Expiration is
// computed on read; the only process that flips persisted rows to expired
// is the explicit sweep, and it competes for the same compare-and-set as
// a live completion, so the two can never both win.
type Service struct {
	store   Store
	nowFn   func() time.Time
	logger  OperationLogger
	holdTTL time.Duration
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, holdTTL: DefaultHoldTTL}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.holdTTL <= 0 {
		return nil, fmt.Errorf("%w: hold ttl must be positive", ErrInvalidServiceConfig)
	}
	return service, nil
}

// CreateOrder reserves inventory for every requested line and persists a
// pending order with a hold deadline, all in one transaction. Donation
// tiers split the donated amount across their tickets; the split rounds
// per ticket, so the re-summed total may drift from the donation by a few
// minor units.
func (service *Service) CreateOrder(requestContext context.Context, input CreateOrderInput) (TicketOrder, error) {
	var created TicketOrder
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		if len(input.Lines) == 0 {
			return fmt.Errorf("%w: no order lines", ErrInvalidOrder)
		}
		now := service.nowFn()
		orderID := uuid.NewString()
		total, err := money.Zero(input.Currency)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
		tickets := make([]Ticket, 0)
		for _, line := range input.Lines {
			if line.Quantity <= 0 {
				return fmt.Errorf("%w: quantity %d for tier %s", ErrInvalidOrder, line.Quantity, line.TierID)
			}
			tier, err := transactionStore.GetTier(ctx, line.TierID)
			if err != nil {
				return err
			}
			if tier.EventID != input.EventID {
				return fmt.Errorf("%w: tier %s belongs to event %s", ErrInvalidOrder, tier.TierID, tier.EventID)
			}
			if err := transactionStore.ReserveHold(ctx, tier.TierID, line.Quantity); err != nil {
				return err
			}
			ticketPrice, err := perTicketPrice(tier, line)
			if err != nil {
				return err
			}
			for seat := 0; seat < line.Quantity; seat++ {
				tickets = append(tickets, Ticket{
					TicketID: uuid.NewString(),
					OrderID:  orderID,
					TierID:   tier.TierID,
					Price:    ticketPrice,
				})
				total, err = total.Add(ticketPrice)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
				}
			}
		}
		created = TicketOrder{
			OrderID:     orderID,
			ReferenceID: uuid.NewString(),
			UserID:      input.UserID,
			EventID:     input.EventID,
			Status:      OrderPending,
			TotalAmount: total,
			ExpiresAt:   now.Add(service.holdTTL).UTC(),
			CreatedAt:   now.UTC(),
			Tickets:     tickets,
		}
		return transactionStore.InsertOrder(ctx, created)
	})
	service.logOperation(requestContext, OperationLog{
		Operation: operationCreate,
		OrderID:   created.OrderID,
		EventID:   input.EventID,
		Amount:    created.TotalAmount,
		Error:     operationError,
	})
	if operationError != nil {
		return TicketOrder{}, operationError
	}
	return created, nil
}

// CompleteOrder finalizes payment capture on a still-pending order. A
// deadline that has already passed fails with ErrOrderExpired even when
// the persisted row still says pending.
func (service *Service) CompleteOrder(requestContext context.Context, orderID string) (TicketOrder, error) {
	var completed TicketOrder
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		order, err := transactionStore.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := requirePending(order, service.nowFn()); err != nil {
			return err
		}
		if err := transactionStore.UpdateOrderStatus(ctx, orderID, OrderPending, OrderCompleted); err != nil {
			return err
		}
		order.Status = OrderCompleted
		completed = order
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation: operationComplete,
		OrderID:   orderID,
		Amount:    completed.TotalAmount,
		Error:     operationError,
	})
	return completed, operationError
}

// CancelOrder cancels a pending order and releases its inventory holds in
// the same transaction, so inventory can never read freed while the order
// still reads pending.
func (service *Service) CancelOrder(requestContext context.Context, orderID string) (TicketOrder, error) {
	var cancelled TicketOrder
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		order, err := transactionStore.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := requirePending(order, service.nowFn()); err != nil {
			return err
		}
		if err := transactionStore.UpdateOrderStatus(ctx, orderID, OrderPending, OrderCancelled); err != nil {
			return err
		}
		if err := transactionStore.ReleaseHold(ctx, orderID); err != nil {
			return err
		}
		order.Status = OrderCancelled
		cancelled = order
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation: operationCancel,
		OrderID:   orderID,
		Amount:    cancelled.TotalAmount,
		Error:     operationError,
	})
	return cancelled, operationError
}

// ResumeOrder re-validates a pending order so the caller can re-issue its
// payment flow. Read-only: no state is mutated.
func (service *Service) ResumeOrder(requestContext context.Context, orderID string) (TicketOrder, error) {
	order, err := service.store.GetOrder(requestContext, orderID)
	if err != nil {
		return TicketOrder{}, err
	}
	if err := requirePending(order, service.nowFn()); err != nil {
		return TicketOrder{}, err
	}
	service.logOperation(requestContext, OperationLog{
		Operation: operationResume,
		OrderID:   orderID,
		Amount:    order.TotalAmount,
	})
	return order, nil
}

// GetOrder reads an order, reporting its effective status at the current
// instant.
func (service *Service) GetOrder(requestContext context.Context, orderID string) (TicketOrder, error) {
	order, err := service.store.GetOrder(requestContext, orderID)
	if err != nil {
		return TicketOrder{}, err
	}
	order.Status = EffectiveStatus(order, service.nowFn())
	return order, nil
}

// SweepExpired flips persisted pending rows whose deadline has passed to
// expired, for reporting. The per-row compare-and-set means the sweep
// loses cleanly to an in-flight completion.
func (service *Service) SweepExpired(requestContext context.Context) (int64, error) {
	swept, operationError := service.store.ExpirePending(requestContext, service.nowFn())
	service.logOperation(requestContext, OperationLog{
		Operation: operationSweep,
		Error:     operationError,
	})
	return swept, operationError
}

// requirePending gates the write paths on the effective status.
func requirePending(order TicketOrder, now time.Time) error {
	switch EffectiveStatus(order, now) {
	case OrderPending:
		return nil
	case OrderExpired:
		return ErrOrderExpired
	default:
		return ErrOrderClosed
	}
}

func perTicketPrice(tier TicketTier, line OrderLine) (money.Money, error) {
	switch tier.Type {
	case TierStandard:
		return tier.Price, nil
	case TierFree:
		return money.Zero(tier.Price.Currency())
	case TierDonation:
		share, err := line.Donation.DivideBy(int64(line.Quantity))
		if err != nil {
			return money.Money{}, fmt.Errorf("%w: donation split: %v", ErrInvalidOrder, err)
		}
		return share, nil
	default:
		return money.Money{}, fmt.Errorf("%w: %q", ErrInvalidTierType, tier.Type)
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
