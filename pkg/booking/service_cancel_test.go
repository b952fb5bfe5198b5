package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
)

type stubStore struct {
	bookings         map[string]Booking
	policies         map[string]*RefundPolicy
	transactions     []LedgerTransaction
	pendings         map[string]PendingRefund
	policyErr        error
	insertLedgerErr  error
	insertPendingErr error
	updateStatusErr  error
	forceConflict    bool
}

func newStubStore() *stubStore {
	return &stubStore{
		bookings: map[string]Booking{},
		policies: map[string]*RefundPolicy{},
		pendings: map[string]PendingRefund{},
	}
}

func policyKey(property Property, mode BookingMode) string {
	return property.String() + "|" + mode.String()
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetBooking(_ context.Context, bookingID string) (Booking, error) {
	bookingValue, found := store.bookings[bookingID]
	if !found {
		return Booking{}, ErrUnknownBooking
	}
	return bookingValue, nil
}

func (store *stubStore) GetBookingForUpdate(ctx context.Context, bookingID string) (Booking, error) {
	return store.GetBooking(ctx, bookingID)
}

func (store *stubStore) UpdateBookingStatus(_ context.Context, bookingID string, from, to BookingStatus) error {
	if store.updateStatusErr != nil {
		return store.updateStatusErr
	}
	bookingValue, found := store.bookings[bookingID]
	if !found {
		return ErrUnknownBooking
	}
	if store.forceConflict || bookingValue.Status != from {
		return ErrConflict
	}
	bookingValue.Status = to
	store.bookings[bookingID] = bookingValue
	return nil
}

func (store *stubStore) GetRefundPolicy(_ context.Context, property Property, mode BookingMode) (*RefundPolicy, error) {
	if store.policyErr != nil {
		return nil, store.policyErr
	}
	return store.policies[policyKey(property, mode)], nil
}

func (store *stubStore) InsertLedgerTransaction(_ context.Context, transaction LedgerTransaction) error {
	if store.insertLedgerErr != nil {
		return store.insertLedgerErr
	}
	store.transactions = append(store.transactions, transaction)
	return nil
}

func (store *stubStore) SumRefunded(_ context.Context, bookingID string, currency string) (money.Money, error) {
	total, err := money.Zero(currency)
	if err != nil {
		return money.Money{}, err
	}
	for _, transaction := range store.transactions {
		if transaction.BookingID != bookingID {
			continue
		}
		total, err = total.Add(transaction.Amount)
		if err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

func (store *stubStore) InsertPendingRefund(_ context.Context, pending PendingRefund) error {
	if store.insertPendingErr != nil {
		return store.insertPendingErr
	}
	store.pendings[pending.PendingRefundID] = pending
	return nil
}

func (store *stubStore) GetPendingRefundForUpdate(_ context.Context, pendingRefundID string) (PendingRefund, error) {
	pending, found := store.pendings[pendingRefundID]
	if !found {
		return PendingRefund{}, ErrUnknownPendingRefund
	}
	return pending, nil
}

func (store *stubStore) UpdatePendingRefundStatus(_ context.Context, pendingRefundID string, from, to ApprovalStatus) error {
	pending, found := store.pendings[pendingRefundID]
	if !found {
		return ErrUnknownPendingRefund
	}
	if pending.Approval != from {
		return ErrConflict
	}
	pending.Approval = to
	store.pendings[pendingRefundID] = pending
	return nil
}

func (store *stubStore) ListPendingRefunds(_ context.Context, approval ApprovalStatus, limit int) ([]PendingRefund, error) {
	listed := make([]PendingRefund, 0, len(store.pendings))
	for _, pending := range store.pendings {
		if pending.Approval == approval {
			listed = append(listed, pending)
		}
		if limit > 0 && len(listed) == limit {
			break
		}
	}
	return listed, nil
}

type stubGateway struct {
	payment      Payment
	findErr      error
	outcome      ReverseOutcome
	reverseErr   error
	reverseCalls int
}

func (gateway *stubGateway) FindCapturedPayment(_ context.Context, bookingID string) (Payment, error) {
	if gateway.findErr != nil {
		return Payment{}, gateway.findErr
	}
	payment := gateway.payment
	payment.BookingID = bookingID
	return payment, nil
}

func (gateway *stubGateway) Reverse(_ context.Context, _ Payment, _ money.Money) (ReverseOutcome, error) {
	gateway.reverseCalls++
	if gateway.reverseErr != nil {
		return "", gateway.reverseErr
	}
	return gateway.outcome, nil
}

func mustUSD(test *testing.T, amountMinor int64) money.Money {
	test.Helper()
	value, err := money.New(amountMinor, "USD")
	if err != nil {
		test.Fatalf("money: %v", err)
	}
	return value
}

const fixtureBookingID = "bkg-1"

// asOf is 10 calendar days before the fixture check-in in Pacific time.
var fixtureAsOf = time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)

func newCancelFixture(test *testing.T) (*stubStore, *stubGateway) {
	test.Helper()
	store := newStubStore()
	store.bookings[fixtureBookingID] = Booking{
		BookingID:    fixtureBookingID,
		ReferenceID:  "REF-0001",
		UserID:       "user-1",
		Property:     PropertyTahoe,
		Mode:         ModeRoom,
		Status:       StatusComplete,
		CheckinDate:  dateOnly(2026, time.June, 11),
		CheckoutDate: dateOnly(2026, time.June, 13),
		GuestsCount:  2,
		TotalPrice:   mustUSD(test, 20000),
	}
	store.policies[policyKey(PropertyTahoe, ModeRoom)] = tieredPolicy()
	gateway := &stubGateway{
		payment: Payment{PaymentID: "pay-1", Amount: mustUSD(test, 20000), Method: "card"},
		outcome: ReverseExecuted,
	}
	return store, gateway
}

func mustService(test *testing.T, store Store, gateway PaymentGateway, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, gateway, func() time.Time { return fixtureAsOf }, options...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}

func TestCancelMidTierRefundCreatesLedgerTransaction(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	service := mustService(test, store, gateway)

	result, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, "plans changed")
	if err != nil {
		test.Fatalf("cancel: %v", err)
	}
	// 10 days out lands in the 50% tier: half of $200.
	if result.RefundAmount.AmountMinor() != 10000 {
		test.Fatalf("expected 10000 minor units refunded, got %d", result.RefundAmount.AmountMinor())
	}
	if result.Booking.Status != StatusRefunded {
		test.Fatalf("expected refunded status, got %s", result.Booking.Status)
	}
	if result.Settlement.Kind != SettlementLedger || result.Settlement.Transaction == nil {
		test.Fatalf("expected ledger settlement, got %+v", result.Settlement)
	}
	if len(store.transactions) != 1 || len(store.pendings) != 0 {
		test.Fatalf("expected exactly one ledger transaction and no pending refund, got %d/%d", len(store.transactions), len(store.pendings))
	}
	if store.transactions[0].Direction != DirectionOutbound {
		test.Fatalf("expected outbound transaction, got %s", store.transactions[0].Direction)
	}
}

func TestCancelZeroRefundCancelsWithoutSettlement(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	service := mustService(test, store, gateway)

	// 3 days out lands in the 0% tier.
	asOf := time.Date(2026, time.June, 8, 10, 0, 0, 0, time.UTC)
	result, err := service.Cancel(context.Background(), fixtureBookingID, asOf, "late cancel")
	if err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if !result.RefundAmount.IsZero() {
		test.Fatalf("expected zero refund, got %s", result.RefundAmount)
	}
	if result.Booking.Status != StatusCanceled {
		test.Fatalf("expected canceled status, got %s", result.Booking.Status)
	}
	if result.Settlement.Kind != SettlementNone {
		test.Fatalf("expected no settlement, got %s", result.Settlement.Kind)
	}
	if len(store.transactions) != 0 || len(store.pendings) != 0 {
		test.Fatalf("expected no settlement artifacts, got %d/%d", len(store.transactions), len(store.pendings))
	}
	if gateway.reverseCalls != 0 {
		test.Fatalf("expected no gateway reversal for zero refund")
	}
}

func TestCancelWithoutPolicyRefundsFullTotal(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	delete(store.policies, policyKey(PropertyTahoe, ModeRoom))
	service := mustService(test, store, gateway)

	result, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, "")
	if err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if result.RefundAmount.AmountMinor() != 20000 {
		test.Fatalf("expected full 20000 refund, got %d", result.RefundAmount.AmountMinor())
	}
}

func TestCancelUnsupportedReversalCreatesPendingRefund(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	gateway.outcome = ReverseUnsupported
	service := mustService(test, store, gateway)

	result, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, "check payment")
	if err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if result.Settlement.Kind != SettlementPending || result.Settlement.Pending == nil {
		test.Fatalf("expected pending settlement, got %+v", result.Settlement)
	}
	if result.Booking.Status != StatusRefunded {
		test.Fatalf("expected refunded status, got %s", result.Booking.Status)
	}
	if len(store.transactions) != 0 || len(store.pendings) != 1 {
		test.Fatalf("expected exactly one pending refund and no ledger transaction, got %d/%d", len(store.transactions), len(store.pendings))
	}
	pending := result.Settlement.Pending
	if pending.Approval != ApprovalPending {
		test.Fatalf("expected pending approval, got %s", pending.Approval)
	}
}

func TestCancelManualApprovalPolicySkipsGateway(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	service := mustService(test, store, gateway, WithManualRefundApproval())

	result, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, "")
	if err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if result.Settlement.Kind != SettlementPending {
		test.Fatalf("expected pending settlement under manual approval, got %s", result.Settlement.Kind)
	}
	if gateway.reverseCalls != 0 {
		test.Fatalf("expected no gateway call under manual approval, got %d", gateway.reverseCalls)
	}
}

func TestCancelIsIdempotentOnTerminalBooking(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	service := mustService(test, store, gateway)

	if _, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, ""); err != nil {
		test.Fatalf("first cancel: %v", err)
	}
	_, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, "")
	if !errors.Is(err, ErrNotEligible) {
		test.Fatalf("expected ErrNotEligible on repeat cancel, got %v", err)
	}
	if len(store.transactions) != 1 {
		test.Fatalf("repeat cancel must not re-execute settlement, got %d transactions", len(store.transactions))
	}
}

func TestCancelPaymentMissing(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	gateway.findErr = errors.New("no capture on file")
	service := mustService(test, store, gateway)

	_, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, "")
	if !errors.Is(err, ErrPaymentNotFound) {
		test.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
	if store.bookings[fixtureBookingID].Status != StatusComplete {
		test.Fatalf("expected booking untouched, got %s", store.bookings[fixtureBookingID].Status)
	}
}

func TestCancelLosingRaceReturnsConflict(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	store.forceConflict = true
	service := mustService(test, store, gateway)

	_, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, "")
	if !errors.Is(err, ErrConflict) {
		test.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCancelLedgerWriteFailure(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	store.insertLedgerErr = errors.New("disk full")
	service := mustService(test, store, gateway)

	_, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, "")
	if !errors.Is(err, ErrRefundFailed) {
		test.Fatalf("expected ErrRefundFailed, got %v", err)
	}
	if store.bookings[fixtureBookingID].Status != StatusComplete {
		test.Fatalf("expected no transition on settlement failure, got %s", store.bookings[fixtureBookingID].Status)
	}
}

func TestCancelPendingWriteFailure(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	gateway.outcome = ReverseUnsupported
	store.insertPendingErr = errors.New("disk full")
	service := mustService(test, store, gateway)

	_, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, "")
	if !errors.Is(err, ErrPendingRefundFailed) {
		test.Fatalf("expected ErrPendingRefundFailed, got %v", err)
	}
	if store.bookings[fixtureBookingID].Status != StatusComplete {
		test.Fatalf("expected no transition on settlement failure, got %s", store.bookings[fixtureBookingID].Status)
	}
}

type recordingNotifier struct {
	canceled []string
	refunds  []money.Money
}

func (notifier *recordingNotifier) BookingCanceled(_ context.Context, bookingValue Booking, _ string) {
	notifier.canceled = append(notifier.canceled, bookingValue.BookingID)
}

func (notifier *recordingNotifier) RefundIssued(_ context.Context, _ Booking, amount money.Money) {
	notifier.refunds = append(notifier.refunds, amount)
}

func TestCancelNotifiesCancellationAndRefund(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	notifier := &recordingNotifier{}
	service := mustService(test, store, gateway, WithNotifier(notifier))

	if _, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, "plans changed"); err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if len(notifier.canceled) != 1 || notifier.canceled[0] != fixtureBookingID {
		test.Fatalf("expected one cancellation event, got %v", notifier.canceled)
	}
	if len(notifier.refunds) != 1 || notifier.refunds[0].AmountMinor() != 10000 {
		test.Fatalf("expected one 10000 refund event, got %v", notifier.refunds)
	}
}

func TestCancelZeroRefundNotifiesCancellationOnly(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	notifier := &recordingNotifier{}
	service := mustService(test, store, gateway, WithNotifier(notifier))

	asOf := time.Date(2026, time.June, 8, 10, 0, 0, 0, time.UTC)
	if _, err := service.Cancel(context.Background(), fixtureBookingID, asOf, "late cancel"); err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if len(notifier.canceled) != 1 {
		test.Fatalf("expected one cancellation event, got %v", notifier.canceled)
	}
	if len(notifier.refunds) != 0 {
		test.Fatalf("expected no refund event for zero refund, got %v", notifier.refunds)
	}
}

func TestCancelFailureEmitsNoNotifications(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	gateway.findErr = errors.New("no capture on file")
	notifier := &recordingNotifier{}
	service := mustService(test, store, gateway, WithNotifier(notifier))

	if _, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, ""); err == nil {
		test.Fatalf("expected cancel to fail")
	}
	if len(notifier.canceled) != 0 || len(notifier.refunds) != 0 {
		test.Fatalf("expected no events on failure, got %v / %v", notifier.canceled, notifier.refunds)
	}
}

func TestCancelZeroRefundPersistFailure(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	store.updateStatusErr = errors.New("disk full")
	service := mustService(test, store, gateway)

	// 3 days out lands in the 0% tier, so the status write is the whole
	// cancellation.
	asOf := time.Date(2026, time.June, 8, 10, 0, 0, 0, time.UTC)
	_, err := service.Cancel(context.Background(), fixtureBookingID, asOf, "late cancel")
	if !errors.Is(err, ErrCancellationFailed) {
		test.Fatalf("expected ErrCancellationFailed, got %v", err)
	}
	if store.bookings[fixtureBookingID].Status != StatusComplete {
		test.Fatalf("expected booking untouched, got %s", store.bookings[fixtureBookingID].Status)
	}
}

func TestCancelPolicyLookupErrorFailsCalculation(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	store.policyErr = errors.New("policy table gone")
	service := mustService(test, store, gateway)

	_, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, "")
	if !errors.Is(err, ErrCalculationFailed) {
		test.Fatalf("expected ErrCalculationFailed, got %v", err)
	}
}

func TestCancelConservationGuard(test *testing.T) {
	test.Parallel()
	store, gateway := newCancelFixture(test)
	// A prior refund already returned 75% of the total; another 50% would
	// push cumulative refunds past the original price.
	store.transactions = append(store.transactions, LedgerTransaction{
		TransactionID: "tx-prior",
		BookingID:     fixtureBookingID,
		Direction:     DirectionOutbound,
		Amount:        mustUSD(test, 15000),
	})
	service := mustService(test, store, gateway)

	_, err := service.Cancel(context.Background(), fixtureBookingID, fixtureAsOf, "")
	if !errors.Is(err, ErrRefundOverflow) {
		test.Fatalf("expected ErrRefundOverflow, got %v", err)
	}
	if len(store.transactions) != 1 {
		test.Fatalf("expected no new transaction, got %d", len(store.transactions))
	}
}
