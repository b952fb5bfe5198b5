package ticketing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
)

type stubStore struct {
	orders        map[string]TicketOrder
	tiers         map[string]TicketTier
	held          map[string]int
	releasedFor   []string
	forceConflict bool
	insertErr     error
}

func newStubStore() *stubStore {
	return &stubStore{
		orders: map[string]TicketOrder{},
		tiers:  map[string]TicketTier{},
		held:   map[string]int{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetOrder(_ context.Context, orderID string) (TicketOrder, error) {
	order, found := store.orders[orderID]
	if !found {
		return TicketOrder{}, ErrUnknownOrder
	}
	return order, nil
}

func (store *stubStore) GetOrderForUpdate(ctx context.Context, orderID string) (TicketOrder, error) {
	return store.GetOrder(ctx, orderID)
}

func (store *stubStore) InsertOrder(_ context.Context, order TicketOrder) error {
	if store.insertErr != nil {
		return store.insertErr
	}
	store.orders[order.OrderID] = order
	return nil
}

func (store *stubStore) UpdateOrderStatus(_ context.Context, orderID string, from, to OrderStatus) error {
	order, found := store.orders[orderID]
	if !found {
		return ErrUnknownOrder
	}
	if store.forceConflict || order.Status != from {
		return ErrConflict
	}
	order.Status = to
	store.orders[orderID] = order
	return nil
}

func (store *stubStore) GetTier(_ context.Context, tierID string) (TicketTier, error) {
	tier, found := store.tiers[tierID]
	if !found {
		return TicketTier{}, ErrUnknownTier
	}
	return tier, nil
}

func (store *stubStore) ReserveHold(_ context.Context, tierID string, quantity int) error {
	tier, found := store.tiers[tierID]
	if !found {
		return ErrUnknownTier
	}
	if store.held[tierID]+quantity > tier.Capacity {
		return ErrInsufficientInventory
	}
	store.held[tierID] += quantity
	return nil
}

func (store *stubStore) ReleaseHold(_ context.Context, orderID string) error {
	store.releasedFor = append(store.releasedFor, orderID)
	order, found := store.orders[orderID]
	if !found {
		return nil
	}
	for _, ticket := range order.Tickets {
		if store.held[ticket.TierID] > 0 {
			store.held[ticket.TierID]--
		}
	}
	return nil
}

func (store *stubStore) ExpirePending(_ context.Context, cutoff time.Time) (int64, error) {
	var swept int64
	for orderID, order := range store.orders {
		if order.Status == OrderPending && !order.ExpiresAt.After(cutoff) {
			order.Status = OrderExpired
			store.orders[orderID] = order
			swept++
		}
	}
	return swept, nil
}

var testNow = time.Date(2026, time.July, 4, 12, 0, 0, 0, time.UTC)

func mustUSD(test *testing.T, amountMinor int64) money.Money {
	test.Helper()
	value, err := money.New(amountMinor, "USD")
	if err != nil {
		test.Fatalf("money: %v", err)
	}
	return value
}

func newTicketFixture(test *testing.T) *stubStore {
	test.Helper()
	store := newStubStore()
	store.tiers["tier-standard"] = TicketTier{
		TierID:   "tier-standard",
		EventID:  "evt-gala",
		Name:     "General",
		Type:     TierStandard,
		Price:    mustUSD(test, 2500),
		Capacity: 10,
	}
	store.tiers["tier-free"] = TicketTier{
		TierID:   "tier-free",
		EventID:  "evt-gala",
		Name:     "Member",
		Type:     TierFree,
		Price:    mustUSD(test, 0),
		Capacity: 5,
	}
	store.tiers["tier-donation"] = TicketTier{
		TierID:   "tier-donation",
		EventID:  "evt-gala",
		Name:     "Supporter",
		Type:     TierDonation,
		Price:    mustUSD(test, 0),
		Capacity: 5,
	}
	return store
}

func mustTicketService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return testNow }, options...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}

func TestCreateOrderReservesInventoryAndSetsDeadline(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)

	order, err := service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:   "user-1",
		EventID:  "evt-gala",
		Currency: "USD",
		Lines:    []OrderLine{{TierID: "tier-standard", Quantity: 2}},
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	if order.Status != OrderPending {
		test.Fatalf("expected pending, got %s", order.Status)
	}
	if order.TotalAmount.AmountMinor() != 5000 {
		test.Fatalf("expected 5000 total, got %d", order.TotalAmount.AmountMinor())
	}
	if len(order.Tickets) != 2 {
		test.Fatalf("expected 2 tickets, got %d", len(order.Tickets))
	}
	if !order.ExpiresAt.Equal(testNow.Add(DefaultHoldTTL)) {
		test.Fatalf("expected deadline %s, got %s", testNow.Add(DefaultHoldTTL), order.ExpiresAt)
	}
	if store.held["tier-standard"] != 2 {
		test.Fatalf("expected 2 held seats, got %d", store.held["tier-standard"])
	}
}

func TestCreateOrderDonationSplitsAcrossTickets(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)

	order, err := service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:   "user-1",
		EventID:  "evt-gala",
		Currency: "USD",
		Lines:    []OrderLine{{TierID: "tier-donation", Quantity: 3, Donation: mustUSD(test, 1000)}},
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	// 1000/3 rounds half-to-even to 333 per ticket; the re-summed total
	// drifts below the donation by design.
	for _, ticket := range order.Tickets {
		if ticket.Price.AmountMinor() != 333 {
			test.Fatalf("expected 333 per ticket, got %d", ticket.Price.AmountMinor())
		}
	}
	if order.TotalAmount.AmountMinor() != 999 {
		test.Fatalf("expected 999 total, got %d", order.TotalAmount.AmountMinor())
	}
}

func TestCreateOrderFreeTierIsZeroPriced(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)

	order, err := service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:   "user-1",
		EventID:  "evt-gala",
		Currency: "USD",
		Lines:    []OrderLine{{TierID: "tier-free", Quantity: 2}},
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	if !order.TotalAmount.IsZero() {
		test.Fatalf("expected zero total, got %s", order.TotalAmount)
	}
}

func TestCreateOrderInsufficientInventory(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)

	_, err := service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:   "user-1",
		EventID:  "evt-gala",
		Currency: "USD",
		Lines:    []OrderLine{{TierID: "tier-standard", Quantity: 11}},
	})
	if !errors.Is(err, ErrInsufficientInventory) {
		test.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}
}

func TestCreateOrderRejectsForeignTier(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)

	_, err := service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:   "user-1",
		EventID:  "evt-other",
		Currency: "USD",
		Lines:    []OrderLine{{TierID: "tier-standard", Quantity: 1}},
	})
	if !errors.Is(err, ErrInvalidOrder) {
		test.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
}

func createPendingOrder(test *testing.T, store *stubStore, service *Service) TicketOrder {
	test.Helper()
	order, err := service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:   "user-1",
		EventID:  "evt-gala",
		Currency: "USD",
		Lines:    []OrderLine{{TierID: "tier-standard", Quantity: 2}},
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	return order
}

func TestCompleteOrderBeforeDeadline(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)
	order := createPendingOrder(test, store, service)

	completed, err := service.CompleteOrder(context.Background(), order.OrderID)
	if err != nil {
		test.Fatalf("complete: %v", err)
	}
	if completed.Status != OrderCompleted {
		test.Fatalf("expected completed, got %s", completed.Status)
	}
}

func TestCompleteOrderPastDeadlineFailsExpired(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)
	order := createPendingOrder(test, store, service)

	stale := store.orders[order.OrderID]
	stale.ExpiresAt = testNow.Add(-time.Second)
	store.orders[order.OrderID] = stale

	_, err := service.CompleteOrder(context.Background(), order.OrderID)
	if !errors.Is(err, ErrOrderExpired) {
		test.Fatalf("expected ErrOrderExpired, got %v", err)
	}
	if store.orders[order.OrderID].Status != OrderPending {
		test.Fatalf("persisted status must stay pending for the sweep, got %s", store.orders[order.OrderID].Status)
	}
}

func TestCancelOrderReleasesHoldInSameTransaction(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)
	order := createPendingOrder(test, store, service)

	cancelled, err := service.CancelOrder(context.Background(), order.OrderID)
	if err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != OrderCancelled {
		test.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if store.held["tier-standard"] != 0 {
		test.Fatalf("expected holds released, got %d", store.held["tier-standard"])
	}
	if len(store.releasedFor) != 1 || store.releasedFor[0] != order.OrderID {
		test.Fatalf("expected release for %s, got %v", order.OrderID, store.releasedFor)
	}
}

func TestCancelOrderAfterDeadlineFailsExpired(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)
	order := createPendingOrder(test, store, service)

	stale := store.orders[order.OrderID]
	stale.ExpiresAt = testNow.Add(-time.Minute)
	store.orders[order.OrderID] = stale

	_, err := service.CancelOrder(context.Background(), order.OrderID)
	if !errors.Is(err, ErrOrderExpired) {
		test.Fatalf("expected ErrOrderExpired, got %v", err)
	}
}

func TestCancelOrderLosingRaceReturnsConflict(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)
	order := createPendingOrder(test, store, service)
	store.forceConflict = true

	_, err := service.CancelOrder(context.Background(), order.OrderID)
	if !errors.Is(err, ErrConflict) {
		test.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCancelThenCompleteResolvesToOneTerminalState(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)
	order := createPendingOrder(test, store, service)

	if _, err := service.CancelOrder(context.Background(), order.OrderID); err != nil {
		test.Fatalf("cancel: %v", err)
	}
	_, err := service.CompleteOrder(context.Background(), order.OrderID)
	if !errors.Is(err, ErrOrderClosed) {
		test.Fatalf("expected ErrOrderClosed for the losing side, got %v", err)
	}
	if store.orders[order.OrderID].Status != OrderCancelled {
		test.Fatalf("expected single terminal state cancelled, got %s", store.orders[order.OrderID].Status)
	}
}

func TestResumeOrderNeverMutates(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)
	order := createPendingOrder(test, store, service)

	resumed, err := service.ResumeOrder(context.Background(), order.OrderID)
	if err != nil {
		test.Fatalf("resume: %v", err)
	}
	if resumed.Status != OrderPending {
		test.Fatalf("expected pending, got %s", resumed.Status)
	}
	if store.orders[order.OrderID].Status != OrderPending {
		test.Fatalf("resume must not mutate, got %s", store.orders[order.OrderID].Status)
	}
}

func TestResumeOrderPastDeadline(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)
	order := createPendingOrder(test, store, service)

	stale := store.orders[order.OrderID]
	stale.ExpiresAt = testNow.Add(-time.Second)
	store.orders[order.OrderID] = stale

	_, err := service.ResumeOrder(context.Background(), order.OrderID)
	if !errors.Is(err, ErrOrderExpired) {
		test.Fatalf("expected ErrOrderExpired, got %v", err)
	}
}

func TestGetOrderReportsEffectiveStatus(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)
	order := createPendingOrder(test, store, service)

	stale := store.orders[order.OrderID]
	stale.ExpiresAt = testNow.Add(-time.Second)
	store.orders[order.OrderID] = stale

	read, err := service.GetOrder(context.Background(), order.OrderID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if read.Status != OrderExpired {
		test.Fatalf("expected expired read, got %s", read.Status)
	}
	if store.orders[order.OrderID].Status != OrderPending {
		test.Fatalf("read must not mutate persisted status, got %s", store.orders[order.OrderID].Status)
	}
}

func TestSweepExpiredFlipsStalePendingRows(test *testing.T) {
	test.Parallel()
	store := newTicketFixture(test)
	service := mustTicketService(test, store)
	order := createPendingOrder(test, store, service)

	stale := store.orders[order.OrderID]
	stale.ExpiresAt = testNow.Add(-time.Hour)
	store.orders[order.OrderID] = stale

	swept, err := service.SweepExpired(context.Background())
	if err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		test.Fatalf("expected one swept order, got %d", swept)
	}
	if store.orders[order.OrderID].Status != OrderExpired {
		test.Fatalf("expected expired persisted status, got %s", store.orders[order.OrderID].Status)
	}
}
