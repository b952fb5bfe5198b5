// Package notify carries booking lifecycle events outward. LogNotifier
// writes them to the process log; a mail or webhook channel would
// implement booking.Notifier the same way.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/booking"
	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
)

// LogNotifier implements booking.Notifier over zap.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a LogNotifier writing to the given logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// BookingCanceled records a completed cancellation.
func (notifier *LogNotifier) BookingCanceled(_ context.Context, bookingValue booking.Booking, reason string) {
	notifier.logger.Info("booking canceled",
		zap.String("booking_id", bookingValue.BookingID),
		zap.String("reference_id", bookingValue.ReferenceID),
		zap.String("user_id", bookingValue.UserID),
		zap.String("property", bookingValue.Property.String()),
		zap.String("reason", reason),
	)
}

// RefundIssued records a refund produced by a cancellation.
func (notifier *LogNotifier) RefundIssued(_ context.Context, bookingValue booking.Booking, amount money.Money) {
	notifier.logger.Info("refund issued",
		zap.String("booking_id", bookingValue.BookingID),
		zap.String("user_id", bookingValue.UserID),
		zap.Int64("amount_minor", amount.AmountMinor()),
		zap.String("currency", amount.Currency()),
	)
}
