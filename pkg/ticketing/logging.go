package ticketing

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ticket order operation.
type OperationLog struct {
	Operation string
	OrderID   string
	EventID   string
	Amount    money.Money
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithHoldTTL overrides how long a new order holds inventory before it
// expires.
func WithHoldTTL(ttl time.Duration) ServiceOption {
	return func(service *Service) {
		service.holdTTL = ttl
	}
}
