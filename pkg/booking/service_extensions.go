package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GetBooking reads a booking without locking it.
func (service *Service) GetBooking(requestContext context.Context, bookingID string) (Booking, error) {
	return service.store.GetBooking(requestContext, bookingID)
}

// CompleteBooking transitions a hold to complete on payment capture
// confirmation. The compare-and-set makes the loser of a concurrent
// transition observe ErrConflict.
func (service *Service) CompleteBooking(requestContext context.Context, bookingID string) (Booking, error) {
	var completed Booking
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		bookingValue, err := transactionStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !CanTransition(bookingValue.Status, StatusComplete) {
			return ErrConflict
		}
		if err := transactionStore.UpdateBookingStatus(ctx, bookingID, bookingValue.Status, StatusComplete); err != nil {
			return err
		}
		bookingValue.Status = StatusComplete
		completed = bookingValue
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation: operationComplete,
		BookingID: bookingID,
		Error:     operationError,
	})
	return completed, operationError
}

// ReviewPendingRefund resolves a deferred refund. Approval executes the
// refund as a ledger transaction under the same conservation check the
// immediate path uses; rejection only closes the record. Either way the
// approval status moves exactly once.
func (service *Service) ReviewPendingRefund(requestContext context.Context, pendingRefundID string, approve bool) (PendingRefund, error) {
	var reviewed PendingRefund
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		pending, err := transactionStore.GetPendingRefundForUpdate(ctx, pendingRefundID)
		if err != nil {
			return err
		}
		if pending.Approval != ApprovalPending {
			return ErrPendingRefundClosed
		}

		target := ApprovalRejected
		if approve {
			target = ApprovalApproved
			bookingValue, err := transactionStore.GetBooking(ctx, pending.BookingID)
			if err != nil {
				return err
			}
			if err := service.checkConservation(ctx, transactionStore, bookingValue, pending.Amount); err != nil {
				return err
			}
			transaction := LedgerTransaction{
				TransactionID: uuid.NewString(),
				BookingID:     pending.BookingID,
				Direction:     DirectionOutbound,
				Amount:        pending.Amount,
				CreatedAt:     service.nowFn().UTC(),
			}
			if err := transactionStore.InsertLedgerTransaction(ctx, transaction); err != nil {
				return fmt.Errorf("%w: %v", ErrRefundFailed, err)
			}
		}

		if err := transactionStore.UpdatePendingRefundStatus(ctx, pendingRefundID, ApprovalPending, target); err != nil {
			return err
		}
		pending.Approval = target
		reviewed = pending
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation:    operationReviewRefund,
		BookingID:    reviewed.BookingID,
		RefundAmount: reviewed.Amount,
		Error:        operationError,
	})
	return reviewed, operationError
}

// ListPendingRefunds returns refunds awaiting review, newest first.
func (service *Service) ListPendingRefunds(requestContext context.Context, limit int) ([]PendingRefund, error) {
	return service.store.ListPendingRefunds(requestContext, ApprovalPending, limit)
}
