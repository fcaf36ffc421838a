package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"table-order-service/internal/domain"
	rabbit "table-order-service/internal/infra/rabbitmq"
	"table-order-service/internal/store"
)

const (
	// maxConflictRetries bounds the internal read-decide-write retry loop for
	// lost conditional writes. Anything beyond it surfaces as
	// ErrConcurrentModification.
	maxConflictRetries = 3

	defaultRetryBackoff = 25 * time.Millisecond

	// defaultClaimGrace is how long a table-slot claim that has not yet been
	// backed by an order document is honored before another writer may
	// reclaim the slot. Covers the window between the slot claim and the
	// order insert; a claim older than this belongs to an abandoned call.
	defaultClaimGrace = 10 * time.Second
)

// OrderLifecycle is the sole writer of order documents. It converts carts
// into orders, enforces the one-open-order-per-table invariant and drives
// orders through the status state machine, all through conditional writes
// against the store port.
type OrderLifecycle struct {
	store        store.Store
	publisher    rabbit.PublisherInterface
	log          *slog.Logger
	serviceFee   int64
	retryBackoff time.Duration
	claimGrace   time.Duration
	now          func() time.Time
}

func NewOrderLifecycle(st store.Store, pub rabbit.PublisherInterface, log *slog.Logger, serviceFee int64) *OrderLifecycle {
	return &OrderLifecycle{
		store:        st,
		publisher:    pub,
		log:          log,
		serviceFee:   serviceFee,
		retryBackoff: defaultRetryBackoff,
		claimGrace:   defaultClaimGrace,
		now:          time.Now,
	}
}

func (s *OrderLifecycle) SetRetryBackoff(d time.Duration) {
	s.retryBackoff = d
}

func (s *OrderLifecycle) SetClaimGrace(d time.Duration) {
	s.claimGrace = d
}

// PlaceOrUpdateOrder commits the cart against the table: it merges into the
// table's open order when one exists and creates a new order otherwise. The
// decision is re-derived inside every attempt; a conditional write losing a
// race triggers a bounded retry of the whole read-decide-write sequence.
func (s *OrderLifecycle) PlaceOrUpdateOrder(ctx context.Context, cart domain.Cart, tableNumber int, actorUserID string) (string, error) {
	if cart.IsEmpty() {
		return "", domain.ErrEmptyCart
	}
	if tableNumber <= 0 {
		return "", domain.ErrInvalidTable
	}

	for attempt := 1; ; attempt++ {
		orderID, err := s.placeAttempt(ctx, cart, tableNumber, actorUserID)
		if err == nil {
			return orderID, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return "", err
		}
		s.log.Warn("conditional write lost a race",
			"table", tableNumber, "attempt", attempt, "error", err)
		if attempt >= maxConflictRetries {
			return "", fmt.Errorf("%w: table %d after %d attempts", domain.ErrConcurrentModification, tableNumber, attempt)
		}
		if err := sleepCtx(ctx, s.retryBackoff*time.Duration(attempt)); err != nil {
			return "", err
		}
	}
}

// placeAttempt runs one read-decide-write pass. It returns store.ErrConflict
// (possibly wrapped) whenever the state moved underneath it, which the outer
// loop converts into a retry.
func (s *OrderLifecycle) placeAttempt(ctx context.Context, cart domain.Cart, tableNumber int, actorUserID string) (string, error) {
	open, err := s.openOrdersForTable(ctx, tableNumber)
	if err != nil {
		return "", err
	}

	switch len(open) {
	case 0:
		return s.createOrder(ctx, cart, tableNumber, actorUserID)
	case 1:
		return s.mergeIntoOrder(ctx, cart, open[0])
	default:
		violation := &domain.InvariantViolationError{TableNumber: tableNumber, Count: len(open)}
		s.log.Error("open-order invariant already broken", "table", tableNumber, "open_orders", len(open))
		return "", violation
	}
}

type openOrder struct {
	order    *domain.Order
	revision store.Revision
}

func (s *OrderLifecycle) openOrdersForTable(ctx context.Context, tableNumber int) ([]openOrder, error) {
	docs, err := s.store.Query(ctx, store.CollectionOrders, store.Filter{Field: store.FieldTableNumber, Value: tableNumber})
	if err != nil {
		return nil, storeFailure("query orders", err)
	}
	var open []openOrder
	for _, doc := range docs {
		order, err := store.DecodeOrder(doc)
		if err != nil {
			return nil, storeFailure("decode order", err)
		}
		if order.IsOpen() {
			open = append(open, openOrder{order: order, revision: doc.Revision})
		}
	}
	return open, nil
}

func (s *OrderLifecycle) mergeIntoOrder(ctx context.Context, cart domain.Cart, existing openOrder) (string, error) {
	order := existing.order
	order.MergeCart(cart, s.serviceFee)

	fields, err := store.EncodeOrder(order)
	if err != nil {
		return "", err
	}
	err = s.store.ConditionalUpdate(ctx, store.CollectionOrders, order.ID, existing.revision, fields)
	switch {
	case err == nil:
		s.publishAsync(domain.EventOrderUpdated, order)
		return order.ID, nil
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		// Treat a vanished document like a lost race; the retry re-reads.
		return "", fmt.Errorf("merge into order %s: %w", order.ID, store.ErrConflict)
	default:
		return "", storeFailure("update order", err)
	}
}

// createOrder claims the table slot before materializing the order document.
// The slot compare-and-swap is the arbiter between concurrent creators: the
// order id is reserved first, the slot is claimed with it, and only the claim
// winner inserts the order. An abandoned claim leaves a pointer to a document
// that never appears, which reads treat as "no open order" once the claim
// grace has passed.
func (s *OrderLifecycle) createOrder(ctx context.Context, cart domain.Cart, tableNumber int, actorUserID string) (string, error) {
	slotID := strconv.Itoa(tableNumber)
	slot, err := s.store.Get(ctx, store.CollectionTables, slotID)
	if err != nil {
		return "", storeFailure("get table slot", err)
	}

	slotRevision := store.NoRevision
	if slot != nil {
		slotRevision = slot.Revision
		if err := s.checkSlotFree(ctx, slot, tableNumber); err != nil {
			return "", err
		}
	}

	order := domain.NewOrder(cart, tableNumber, actorUserID, s.serviceFee, s.now().UTC())
	order.ID = newOrderID()

	claim := map[string]any{
		store.FieldOpenOrderID: order.ID,
		store.FieldClaimedAt:   s.now().UTC().Format(time.RFC3339Nano),
	}
	err = s.store.ConditionalUpdate(ctx, store.CollectionTables, slotID, slotRevision, claim)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrConflict):
		return "", fmt.Errorf("claim table %d: %w", tableNumber, store.ErrConflict)
	default:
		return "", storeFailure("claim table slot", err)
	}

	fields, err := store.EncodeOrder(order)
	if err != nil {
		return "", err
	}
	if err := s.store.ConditionalUpdate(ctx, store.CollectionOrders, order.ID, store.NoRevision, fields); err != nil {
		return "", storeFailure("insert order", err)
	}

	// A writer stalled past the claim grace can have its claim reclaimed
	// between the slot write and the order insert. Fence the insert: the slot
	// must still name this order, or the order is compensated away.
	if err := s.confirmClaim(ctx, slotID, order); err != nil {
		return "", err
	}

	s.publishAsync(domain.EventOrderCreated, order)
	return order.ID, nil
}

// confirmClaim re-reads the table slot after the order insert and verifies it
// still points at the freshly inserted order. When another writer reclaimed
// the slot in the meantime, the insert is undone by cancelling the order and
// the conflict is surfaced so the retry merges into the order that kept the
// slot.
func (s *OrderLifecycle) confirmClaim(ctx context.Context, slotID string, order *domain.Order) error {
	slot, err := s.store.Get(ctx, store.CollectionTables, slotID)
	if err != nil {
		return storeFailure("confirm table claim", err)
	}
	if slot != nil {
		if openID, _ := slot.Fields[store.FieldOpenOrderID].(string); openID == order.ID {
			return nil
		}
	}

	doc, err := s.store.Get(ctx, store.CollectionOrders, order.ID)
	if err != nil {
		return storeFailure("get order", err)
	}
	if doc != nil {
		superseded, err := store.DecodeOrder(*doc)
		if err != nil {
			return storeFailure("decode order", err)
		}
		superseded.Status = domain.StatusCancelled
		fields, err := store.EncodeOrder(superseded)
		if err != nil {
			return err
		}
		if err := s.store.ConditionalUpdate(ctx, store.CollectionOrders, order.ID, doc.Revision, fields); err != nil {
			return storeFailure("cancel superseded order", err)
		}
	}

	s.log.Warn("table claim lost before order insert landed",
		"table", order.TableNumber, "order_id", order.ID)
	return fmt.Errorf("claim for table %d superseded: %w", order.TableNumber, store.ErrConflict)
}

// checkSlotFree reports store.ErrConflict when the slot is still bound to a
// live order or to a claim within its grace window, and nil when the slot may
// be reclaimed (closed order, dangling claim past grace, or empty pointer).
func (s *OrderLifecycle) checkSlotFree(ctx context.Context, slot *store.Document, tableNumber int) error {
	openID, _ := slot.Fields[store.FieldOpenOrderID].(string)
	if openID == "" {
		return nil
	}

	doc, err := s.store.Get(ctx, store.CollectionOrders, openID)
	if err != nil {
		return storeFailure("get order", err)
	}
	if doc == nil {
		// Claim not yet backed by an order document. Honor it while fresh;
		// past the grace window it belongs to a call that never finished. A
		// claim with a missing or mangled timestamp is honored too: reclaiming
		// on undecidable age risks the invariant, waiting does not.
		raw, _ := slot.Fields[store.FieldClaimedAt].(string)
		claimedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil || s.now().Sub(claimedAt) < s.claimGrace {
			return fmt.Errorf("table %d claim in progress: %w", tableNumber, store.ErrConflict)
		}
		return nil
	}

	order, err := store.DecodeOrder(*doc)
	if err != nil {
		return storeFailure("decode order", err)
	}
	if order.IsOpen() {
		// Created since our query; the retry will observe and merge into it.
		return fmt.Errorf("table %d already has open order %s: %w", tableNumber, openID, store.ErrConflict)
	}
	return nil
}

// AdvanceStatus moves the order along the status graph via a conditional
// write. A lost race surfaces as ErrConcurrentModification; the caller must
// re-check the current status before retrying, so no internal retry applies.
func (s *OrderLifecycle) AdvanceStatus(ctx context.Context, orderID string, target domain.OrderStatus) error {
	doc, err := s.store.Get(ctx, store.CollectionOrders, orderID)
	if err != nil {
		return storeFailure("get order", err)
	}
	if doc == nil {
		return domain.ErrOrderNotFound
	}
	order, err := store.DecodeOrder(*doc)
	if err != nil {
		return storeFailure("decode order", err)
	}

	if !domain.CanTransition(order.Status, target) {
		return &domain.InvalidTransitionError{From: order.Status, To: target}
	}

	order.Status = target
	fields, err := store.EncodeOrder(order)
	if err != nil {
		return err
	}
	err = s.store.ConditionalUpdate(ctx, store.CollectionOrders, orderID, doc.Revision, fields)
	switch {
	case err == nil:
		s.publishAsync(domain.EventOrderStatusChanged, order)
		return nil
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("order %s: %w", orderID, domain.ErrConcurrentModification)
	case errors.Is(err, store.ErrNotFound):
		return domain.ErrOrderNotFound
	default:
		return storeFailure("update order", err)
	}
}

// GetOpenOrderForTable is the advisory lookup behind the UI's create-vs-add
// decision. PlaceOrUpdateOrder re-derives the answer itself; the table's
// state can change between this read and the commit.
func (s *OrderLifecycle) GetOpenOrderForTable(ctx context.Context, tableNumber int) (*domain.Order, error) {
	if tableNumber <= 0 {
		return nil, domain.ErrInvalidTable
	}
	open, err := s.openOrdersForTable(ctx, tableNumber)
	if err != nil {
		return nil, err
	}
	switch len(open) {
	case 0:
		return nil, nil
	case 1:
		return open[0].order, nil
	default:
		violation := &domain.InvariantViolationError{TableNumber: tableNumber, Count: len(open)}
		s.log.Error("open-order invariant already broken", "table", tableNumber, "open_orders", len(open))
		return nil, violation
	}
}

func (s *OrderLifecycle) publishAsync(event string, order *domain.Order) {
	if s.publisher == nil {
		return
	}
	evt := domain.OrderEvent{
		OrderID:     order.ID,
		TableNumber: order.TableNumber,
		Total:       order.Total,
		Status:      order.Status,
		OccurredAt:  s.now().UTC(),
	}
	go func() {
		if err := s.publisher.Publish(context.Background(), event, evt); err != nil {
			s.log.Error("publish order event failed", "event", event, "order_id", order.ID, "error", err)
		}
	}()
}

func newOrderID() string {
	return uuid.NewString()
}

// storeFailure classifies a store error for the caller: context cancellation
// passes through, conflicts keep their identity for the retry loop, anything
// else is a transient store failure.
func storeFailure(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
