// Package payments holds PaymentGateway implementations. The club bills
// through an external processor, so the default gateway never executes
// reversals itself; refunds route to manual review.
package payments

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/booking"
	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
)

const methodOffline = "offline"

// Offline treats the booking's total price as the captured payment and
// reports every reversal as unsupported.
type Offline struct {
	store booking.Store
}

// NewOffline returns a gateway reading captured payments from bookings.
func NewOffline(store booking.Store) *Offline {
	return &Offline{store: store}
}

func (gateway *Offline) FindCapturedPayment(ctx context.Context, bookingID string) (booking.Payment, error) {
	bookingValue, err := gateway.store.GetBooking(ctx, bookingID)
	if err != nil {
		return booking.Payment{}, err
	}
	return booking.Payment{
		PaymentID: fmt.Sprintf("%s:%s", methodOffline, bookingID),
		BookingID: bookingID,
		Amount:    bookingValue.TotalPrice,
		Method:    methodOffline,
	}, nil
}

func (gateway *Offline) Reverse(_ context.Context, _ booking.Payment, _ money.Money) (booking.ReverseOutcome, error) {
	return booking.ReverseUnsupported, nil
}
