package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
)

// Service orchestrates booking cancellations over a Store and a payment
// gateway. It holds no mutable state between calls; every durable fact
// lives behind the Store.
type Service struct {
	store          Store
	payments       PaymentGateway
	nowFn          func() time.Time
	logger         OperationLogger
	notifier       Notifier
	cutoffHour     int
	manualApproval bool
}

// NewService wires a Service.
func NewService(store Store, payments PaymentGateway, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if payments == nil {
		return nil, fmt.Errorf("%w: payment dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, payments: payments, nowFn: now, cutoffHour: DefaultCancelCutoffHour}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.cutoffHour < 0 || service.cutoffHour > 23 {
		return nil, fmt.Errorf("%w: cutoff hour %d out of range", ErrInvalidServiceConfig, service.cutoffHour)
	}
	return service, nil
}

// Cancel runs the full cancellation sequence as one logically atomic
// operation: eligibility, refund calculation, settlement artifact, status
// transition. On any failure the transaction rolls back and the booking
// keeps its prior status. A zero asOf defaults to the service clock.
func (service *Service) Cancel(requestContext context.Context, bookingID string, asOf time.Time, reason string) (CancelResult, error) {
	if asOf.IsZero() {
		asOf = service.nowFn()
	}
	var result CancelResult
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		bookingValue, err := transactionStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		eligible, err := CancelEligible(bookingValue, asOf, service.cutoffHour)
		if err != nil {
			return WrapError(operationCancel, "eligibility", "evaluate", err)
		}
		if !eligible {
			return ErrNotEligible
		}

		payment, err := service.payments.FindCapturedPayment(ctx, bookingValue.BookingID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		}

		refundAmount, err := service.computeRefund(ctx, transactionStore, bookingValue, asOf)
		if err != nil {
			return err
		}

		settlement, toStatus, err := service.settle(ctx, transactionStore, bookingValue, payment, refundAmount, reason, asOf)
		if err != nil {
			return err
		}

		if err := transactionStore.UpdateBookingStatus(ctx, bookingValue.BookingID, bookingValue.Status, toStatus); err != nil {
			// With no settlement artifact the status write is the whole
			// cancellation; a lost race still surfaces as the conflict.
			if settlement.Kind == SettlementNone && !errors.Is(err, ErrConflict) {
				return fmt.Errorf("%w: %v", ErrCancellationFailed, err)
			}
			return err
		}
		bookingValue.Status = toStatus
		result = CancelResult{Booking: bookingValue, RefundAmount: refundAmount, Settlement: settlement}
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation:    operationCancel,
		BookingID:    bookingID,
		RefundAmount: result.RefundAmount,
		Settlement:   result.Settlement.Kind,
		Reason:       reason,
		Error:        operationError,
	})
	if operationError == nil && service.notifier != nil {
		service.notifier.BookingCanceled(requestContext, result.Booking, reason)
		if result.RefundAmount.IsPositive() {
			service.notifier.RefundIssued(requestContext, result.Booking, result.RefundAmount)
		}
	}
	return result, operationError
}

func (service *Service) computeRefund(ctx context.Context, transactionStore Store, bookingValue Booking, asOf time.Time) (money.Money, error) {
	days, err := DaysUntilCheckin(bookingValue, asOf)
	if err != nil {
		return money.Money{}, fmt.Errorf("%w: %v", ErrCalculationFailed, err)
	}
	policy, err := transactionStore.GetRefundPolicy(ctx, bookingValue.Property, bookingValue.Mode)
	if err != nil {
		return money.Money{}, fmt.Errorf("%w: policy lookup: %v", ErrCalculationFailed, err)
	}
	percent, _ := EvaluateRefund(policy, days)
	refundAmount, err := bookingValue.TotalPrice.Percent(percent)
	if err != nil {
		return money.Money{}, fmt.Errorf("%w: %v", ErrCalculationFailed, err)
	}
	return refundAmount, nil
}

// settle produces the settlement artifact for the computed refund and
// picks the terminal status. Zero refund settles nothing and the booking
// is canceled outright.
func (service *Service) settle(ctx context.Context, transactionStore Store, bookingValue Booking, payment Payment, refundAmount money.Money, reason string, asOf time.Time) (Settlement, BookingStatus, error) {
	if !refundAmount.IsPositive() {
		return Settlement{Kind: SettlementNone}, StatusCanceled, nil
	}

	immediate := !service.manualApproval
	if immediate {
		outcome, err := service.payments.Reverse(ctx, payment, refundAmount)
		if err != nil {
			return Settlement{}, "", fmt.Errorf("%w: gateway reversal: %v", ErrRefundFailed, err)
		}
		immediate = outcome == ReverseExecuted
	}

	if immediate {
		if err := service.checkConservation(ctx, transactionStore, bookingValue, refundAmount); err != nil {
			return Settlement{}, "", err
		}
		transaction := LedgerTransaction{
			TransactionID: uuid.NewString(),
			BookingID:     bookingValue.BookingID,
			Direction:     DirectionOutbound,
			Amount:        refundAmount,
			CreatedAt:     asOf.UTC(),
		}
		if err := transactionStore.InsertLedgerTransaction(ctx, transaction); err != nil {
			return Settlement{}, "", fmt.Errorf("%w: %v", ErrRefundFailed, err)
		}
		return Settlement{Kind: SettlementLedger, Transaction: &transaction}, StatusRefunded, nil
	}

	pendingReason := reason
	if pendingReason == "" {
		pendingReason = cancellationReasonPendingApproval
	}
	pending := PendingRefund{
		PendingRefundID: uuid.NewString(),
		BookingID:       bookingValue.BookingID,
		Amount:          refundAmount,
		Reason:          pendingReason,
		Approval:        ApprovalPending,
		CreatedAt:       asOf.UTC(),
	}
	if err := transactionStore.InsertPendingRefund(ctx, pending); err != nil {
		return Settlement{}, "", fmt.Errorf("%w: %v", ErrPendingRefundFailed, err)
	}
	return Settlement{Kind: SettlementPending, Pending: &pending}, StatusRefunded, nil
}

// checkConservation rejects a ledger write that would let cumulative
// refunds exceed the original total price.
func (service *Service) checkConservation(ctx context.Context, transactionStore Store, bookingValue Booking, refundAmount money.Money) error {
	refunded, err := transactionStore.SumRefunded(ctx, bookingValue.BookingID, bookingValue.TotalPrice.Currency())
	if err != nil {
		return fmt.Errorf("%w: refund sum: %v", ErrRefundFailed, err)
	}
	cumulative, err := refunded.Add(refundAmount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	comparison, err := cumulative.Compare(bookingValue.TotalPrice)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	if comparison > 0 {
		return fmt.Errorf("%w: %s over %s", ErrRefundOverflow, cumulative, bookingValue.TotalPrice)
	}
	return nil
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
