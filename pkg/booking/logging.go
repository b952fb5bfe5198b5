package booking

import (
	"context"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing booking operation.
type OperationLog struct {
	Operation    string
	BookingID    string
	RefundAmount money.Money
	Settlement   SettlementKind
	Reason       string
	Status       string
	Error        error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithCancelCutoffHour overrides the property-local same-day cutoff hour.
func WithCancelCutoffHour(hour int) ServiceOption {
	return func(service *Service) {
		service.cutoffHour = hour
	}
}

// WithManualRefundApproval routes every positive refund to a pending
// refund regardless of gateway capability. The immediate-vs-deferred
// criterion is operator policy, not a hardcoded rule.
func WithManualRefundApproval() ServiceOption {
	return func(service *Service) {
		service.manualApproval = true
	}
}

// WithNotifier wires the outbound notification collaborator.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}
