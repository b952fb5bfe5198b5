// Package oplog adapts the domain services' operation callbacks to zap.
package oplog

import (
	"context"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/booking"
	"github.com/MarkoPoloResearchLab/clubstay/pkg/ticketing"
)

// BookingLogger implements booking.OperationLogger over zap.
type BookingLogger struct {
	logger *zap.Logger
}

// NewBookingLogger returns a BookingLogger writing to the given logger.
func NewBookingLogger(logger *zap.Logger) *BookingLogger {
	return &BookingLogger{logger: logger}
}

// LogOperation writes one booking operation entry.
func (bookingLogger *BookingLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("booking_id", entry.BookingID),
		zap.String("status", entry.Status),
		zap.String("settlement", string(entry.Settlement)),
		zap.Int64("refund_minor", entry.RefundAmount.AmountMinor()),
		zap.String("currency", entry.RefundAmount.Currency()),
	}
	if entry.Reason != "" {
		fields = append(fields, zap.String("reason", entry.Reason))
	}
	if entry.Error != nil {
		bookingLogger.logger.Error("booking operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	bookingLogger.logger.Info("booking operation", fields...)
}

// TicketLogger implements ticketing.OperationLogger over zap.
type TicketLogger struct {
	logger *zap.Logger
}

// NewTicketLogger returns a TicketLogger writing to the given logger.
func NewTicketLogger(logger *zap.Logger) *TicketLogger {
	return &TicketLogger{logger: logger}
}

// LogOperation writes one ticket order operation entry.
func (ticketLogger *TicketLogger) LogOperation(_ context.Context, entry ticketing.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("order_id", entry.OrderID),
		zap.String("status", entry.Status),
		zap.Int64("amount_minor", entry.Amount.AmountMinor()),
		zap.String("currency", entry.Amount.Currency()),
	}
	if entry.EventID != "" {
		fields = append(fields, zap.String("event_id", entry.EventID))
	}
	if entry.Error != nil {
		ticketLogger.logger.Error("ticket operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	ticketLogger.logger.Info("ticket operation", fields...)
}
