package services

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"table-order-service/internal/domain"
	"table-order-service/internal/store"
)

const defaultReconnectDelay = 250 * time.Millisecond

// LiveFilter selects which orders a subscription observes. The zero value is
// the admin view: every order.
type LiveFilter struct {
	OwnerUserID string
}

func (f LiveFilter) storeFilter() store.Filter {
	if f.OwnerUserID == "" {
		return store.Filter{}
	}
	return store.Filter{Field: store.FieldOwnerUserID, Value: f.OwnerUserID}
}

// LiveOrderView maintains continuously-updated order snapshots off the
// store's change feed. It is strictly read-only.
type LiveOrderView struct {
	store          store.Store
	log            *slog.Logger
	reconnectDelay time.Duration
}

func NewLiveOrderView(st store.Store, log *slog.Logger) *LiveOrderView {
	return &LiveOrderView{
		store:          st,
		log:            log,
		reconnectDelay: defaultReconnectDelay,
	}
}

func (v *LiveOrderView) SetReconnectDelay(d time.Duration) {
	v.reconnectDelay = d
}

// OrderSubscription delivers full order-set snapshots. Each snapshot replaces
// the previous one; slow consumers only ever skip stale intermediates.
type OrderSubscription struct {
	updates chan []domain.Order
	cancel  context.CancelFunc
}

// Updates is closed only after Cancel (or the parent context ending). A lost
// store feed is not visible here: the view resubscribes and the next snapshot
// reflects the true current state.
func (s *OrderSubscription) Updates() <-chan []domain.Order {
	return s.updates
}

func (s *OrderSubscription) Cancel() {
	s.cancel()
}

// Subscribe starts a long-lived watcher goroutine. It emits the current order
// set immediately and again after every matching change, resubscribing behind
// the scenes whenever the store's change feed drops.
func (v *LiveOrderView) Subscribe(ctx context.Context, filter LiveFilter) *OrderSubscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &OrderSubscription{
		updates: make(chan []domain.Order, 1),
		cancel:  cancel,
	}
	go v.run(ctx, filter.storeFilter(), sub.updates)
	return sub
}

func (v *LiveOrderView) run(ctx context.Context, filter store.Filter, out chan []domain.Order) {
	defer close(out)

	for {
		feed, cancelFeed, err := v.store.Subscribe(ctx, store.CollectionOrders, filter)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			v.log.Warn("order feed subscribe failed", "error", err)
			if sleepCtx(ctx, v.reconnectDelay) != nil {
				return
			}
			continue
		}

		lost := v.consume(ctx, feed, out)
		cancelFeed()
		if !lost || ctx.Err() != nil {
			return
		}
		v.log.Warn("order feed lost, resubscribing")
		if sleepCtx(ctx, v.reconnectDelay) != nil {
			return
		}
	}
}

// consume forwards snapshots until the feed closes (returns true) or the
// context ends (returns false).
func (v *LiveOrderView) consume(ctx context.Context, feed <-chan []store.Document, out chan []domain.Order) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case docs, ok := <-feed:
			if !ok {
				return true
			}
			v.emit(out, v.decodeSnapshot(docs))
		}
	}
}

func (v *LiveOrderView) decodeSnapshot(docs []store.Document) []domain.Order {
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := store.DecodeOrder(doc)
		if err != nil {
			v.log.Error("skipping undecodable order document", "doc_id", doc.ID, "error", err)
			continue
		}
		orders = append(orders, *order)
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders
}

// emit conflates: if the consumer has not taken the previous snapshot it is
// replaced by the newer one.
func (v *LiveOrderView) emit(out chan []domain.Order, snapshot []domain.Order) {
	for {
		select {
		case out <- snapshot:
			return
		default:
			select {
			case <-out:
			default:
			}
		}
	}
}
