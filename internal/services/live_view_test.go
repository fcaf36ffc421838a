package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"table-order-service/internal/domain"
	"table-order-service/internal/store/memory"
)

func newTestLiveView(st *memory.Store) *LiveOrderView {
	v := NewLiveOrderView(st, discardLogger())
	v.SetReconnectDelay(time.Millisecond)
	return v
}

// waitForSnapshot reads snapshots until one satisfies cond, failing the test
// if any snapshot seen along the way is rejected by forbid.
func waitForSnapshot(t *testing.T, sub *OrderSubscription, cond func([]domain.Order) bool, forbid func([]domain.Order) bool) []domain.Order {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snapshot, ok := <-sub.Updates():
			if !ok {
				t.Fatal("updates channel closed while waiting")
			}
			if forbid != nil && forbid(snapshot) {
				t.Fatalf("observed forbidden snapshot: %+v", snapshot)
			}
			if cond(snapshot) {
				return snapshot
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func hasOrders(n int) func([]domain.Order) bool {
	return func(orders []domain.Order) bool { return len(orders) == n }
}

func TestLiveView_EmitsSnapshotsOnChange(t *testing.T) {
	st := memory.New()
	service := newMemoryLifecycle(st)
	view := newTestLiveView(st)
	ctx := context.Background()

	sub := view.Subscribe(ctx, LiveFilter{})
	defer sub.Cancel()

	waitForSnapshot(t, sub, hasOrders(0), nil)

	_, err := service.PlaceOrUpdateOrder(ctx,
		cartWith(domain.LineItem{CatalogItemID: "A", UnitPrice: 100, Quantity: 1}), 1, "user-1")
	assert.NoError(t, err)
	snapshot := waitForSnapshot(t, sub, hasOrders(1), nil)
	assert.Equal(t, 1, snapshot[0].TableNumber)

	_, err = service.PlaceOrUpdateOrder(ctx,
		cartWith(domain.LineItem{CatalogItemID: "B", UnitPrice: 200, Quantity: 1}), 2, "user-2")
	assert.NoError(t, err)
	waitForSnapshot(t, sub, hasOrders(2), nil)
}

func TestLiveView_OwnerFilter(t *testing.T) {
	st := memory.New()
	service := newMemoryLifecycle(st)
	view := newTestLiveView(st)
	ctx := context.Background()

	_, err := service.PlaceOrUpdateOrder(ctx,
		cartWith(domain.LineItem{CatalogItemID: "A", UnitPrice: 100, Quantity: 1}), 1, "alice")
	assert.NoError(t, err)
	_, err = service.PlaceOrUpdateOrder(ctx,
		cartWith(domain.LineItem{CatalogItemID: "B", UnitPrice: 200, Quantity: 1}), 2, "bob")
	assert.NoError(t, err)

	sub := view.Subscribe(ctx, LiveFilter{OwnerUserID: "alice"})
	defer sub.Cancel()

	snapshot := waitForSnapshot(t, sub, hasOrders(1), hasOrders(2))
	assert.Equal(t, "alice", snapshot[0].OwnerUserID)
}

func TestLiveView_ResilientToFeedLoss(t *testing.T) {
	st := memory.New()
	service := newMemoryLifecycle(st)
	view := newTestLiveView(st)
	ctx := context.Background()

	_, err := service.PlaceOrUpdateOrder(ctx,
		cartWith(domain.LineItem{CatalogItemID: "A", UnitPrice: 100, Quantity: 1}), 1, "user-1")
	assert.NoError(t, err)

	sub := view.Subscribe(ctx, LiveFilter{})
	defer sub.Cancel()
	waitForSnapshot(t, sub, hasOrders(1), nil)

	// Sever the change feed. The view must resubscribe on its own and the
	// consumer must never see the store's state "disappear".
	st.DropFeeds()

	_, err = service.PlaceOrUpdateOrder(ctx,
		cartWith(domain.LineItem{CatalogItemID: "B", UnitPrice: 200, Quantity: 1}), 2, "user-2")
	assert.NoError(t, err)

	waitForSnapshot(t, sub, hasOrders(2), hasOrders(0))
}

func TestLiveView_RepeatedFeedLoss(t *testing.T) {
	st := memory.New()
	service := newMemoryLifecycle(st)
	view := newTestLiveView(st)
	ctx := context.Background()

	sub := view.Subscribe(ctx, LiveFilter{})
	defer sub.Cancel()

	for i := 0; i < 3; i++ {
		st.DropFeeds()
		time.Sleep(5 * time.Millisecond)
	}

	_, err := service.PlaceOrUpdateOrder(ctx,
		cartWith(domain.LineItem{CatalogItemID: "A", UnitPrice: 100, Quantity: 1}), 3, "user-1")
	assert.NoError(t, err)

	waitForSnapshot(t, sub, hasOrders(1), nil)
}

func TestLiveView_CancelClosesUpdates(t *testing.T) {
	st := memory.New()
	view := newTestLiveView(st)

	sub := view.Subscribe(context.Background(), LiveFilter{})
	sub.Cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("updates channel not closed after cancel")
		}
	}
}

func TestLiveView_StatusChangesFlowThrough(t *testing.T) {
	st := memory.New()
	service := newMemoryLifecycle(st)
	view := newTestLiveView(st)
	ctx := context.Background()

	orderID, err := service.PlaceOrUpdateOrder(ctx,
		cartWith(domain.LineItem{CatalogItemID: "A", UnitPrice: 100, Quantity: 1}), 1, "user-1")
	assert.NoError(t, err)

	sub := view.Subscribe(ctx, LiveFilter{})
	defer sub.Cancel()
	waitForSnapshot(t, sub, hasOrders(1), nil)

	assert.NoError(t, service.AdvanceStatus(ctx, orderID, domain.StatusPreparing))

	waitForSnapshot(t, sub, func(orders []domain.Order) bool {
		return len(orders) == 1 && orders[0].Status == domain.StatusPreparing
	}, nil)
}
