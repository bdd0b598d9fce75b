package storage

import (
	"context"
	"sync"

	"tasklist/internal/todo"
)

// Subscription streams query snapshots. The first snapshot is sent right
// away; later writes only mark the subscription dirty, so a burst of writes
// arriving while a snapshot is in flight collapses into one refresh.
type Subscription struct {
	store  *Store
	where  string
	out    chan []todo.Item
	dirty  chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *Store) observe(where string) (*Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		store:  s,
		where:  where,
		out:    make(chan []todo.Item),
		dirty:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	s.watchers[sub] = struct{}{}
	s.mu.Unlock()

	sub.markDirty()
	go sub.run()
	return sub, nil
}

func (sub *Subscription) Snapshots() <-chan []todo.Item {
	return sub.out
}

// Err reports why the subscription ended. It is nil while the subscription
// is live and after a plain Close.
func (sub *Subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

func (sub *Subscription) Close() {
	sub.stop(nil)
}

func (sub *Subscription) stop(err error) {
	sub.once.Do(func() {
		sub.mu.Lock()
		sub.err = err
		sub.mu.Unlock()
		sub.cancel()
		close(sub.done)
		sub.store.forget(sub)
	})
}

func (sub *Subscription) markDirty() {
	select {
	case sub.dirty <- struct{}{}:
	default:
	}
}

func (sub *Subscription) run() {
	defer close(sub.out)
	for {
		select {
		case <-sub.done:
			return
		case <-sub.dirty:
		}

		items, err := sub.store.fetch(sub.ctx, sub.where)
		if err != nil {
			select {
			case <-sub.done:
			default:
				sub.store.log.Warn("snapshot query failed", "err", err)
				sub.stop(err)
			}
			return
		}

		select {
		case sub.out <- items:
		case <-sub.done:
			return
		}
	}
}

var _ todo.Stream = (*Subscription)(nil)
