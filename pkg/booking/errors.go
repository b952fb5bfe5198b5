package booking

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the booking engine.
var (
	ErrNotEligible          = errors.New("booking not eligible for cancellation")
	ErrPaymentNotFound      = errors.New("captured payment not found")
	ErrCalculationFailed    = errors.New("refund calculation failed")
	ErrRefundFailed         = errors.New("refund transaction failed")
	ErrPendingRefundFailed  = errors.New("pending refund creation failed")
	ErrCancellationFailed   = errors.New("cancellation failed")
	ErrConflict             = errors.New("concurrent modification conflict")
	ErrUnknownBooking       = errors.New("unknown booking")
	ErrUnknownPendingRefund = errors.New("unknown pending refund")
	ErrPendingRefundClosed  = errors.New("pending refund already reviewed")
	ErrRefundOverflow       = errors.New("refund exceeds booking total")
	ErrInvalidProperty      = errors.New("invalid property")
	ErrInvalidBookingMode   = errors.New("invalid booking mode")
	ErrInvalidBookingStatus = errors.New("invalid booking status")
	ErrInvalidBooking       = errors.New("invalid booking")
	ErrInvalidRefundRule    = errors.New("invalid refund rule")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
