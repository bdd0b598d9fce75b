package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tasklist/internal/todo"
)

// Repository is the slice of the item repository the controller drives.
type Repository interface {
	AllItems() (todo.Stream, error)
	ItemByID(ctx context.Context, id string) (todo.Item, bool, error)
	InsertItem(ctx context.Context, it todo.Item) error
	UpdateItem(ctx context.Context, it todo.Item) error
	DeleteItemByID(ctx context.Context, id string) error
	DeleteAllItems(ctx context.Context) error
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithClock sets the time source for new item timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.stamp = todo.NewStamper(now)
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// Controller is the single writer of ViewState. Intents run one at a time
// in dispatch order on a worker goroutine; store snapshots arrive on a
// second goroutine. Both apply per-field updates under mu, so a snapshot
// never clobbers the filter or error and an intent never clobbers items.
type Controller struct {
	repo  Repository
	log   *slog.Logger
	stamp *todo.Stamper
	newID func() string

	ctx    context.Context
	cancel context.CancelFunc
	stream todo.Stream

	current   atomic.Pointer[ViewState]
	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	state    ViewState
	disposed bool
	subs     map[uint64]*subscriber
	nextSub  uint64
	queue    []Intent
	pending  int
	idle     chan struct{}
	wake     chan struct{}
}

// New subscribes to the repository's item stream and starts processing
// intents. Close releases both.
func New(repo Repository, opts ...Option) (*Controller, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		repo:   repo,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		stamp:  todo.NewStamper(nil),
		newID:  todo.NewID,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		state:  Initial(),
		subs:   map[uint64]*subscriber{},
		idle:   closedChan(),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	initial := c.state
	c.current.Store(&initial)

	stream, err := repo.AllItems()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("observe items: %w", err)
	}
	c.stream = stream

	go c.watch()
	go c.work()
	return c, nil
}

// CurrentState returns the latest published state without blocking.
func (c *Controller) CurrentState() ViewState {
	return *c.current.Load()
}

// Ready is closed once the first store snapshot has been merged, or the
// item stream has failed.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Subscribe registers fn for every published state, starting with the
// current one. Calls for one subscriber are sequential and in publish order.
// The returned func unsubscribes; it is safe to call more than once.
func (c *Controller) Subscribe(fn func(ViewState)) func() {
	sub := newSubscriber(fn)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = sub
	sub.push(c.state)
	c.mu.Unlock()

	go sub.run()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		sub.stop()
	}
}

// Dispatch queues an intent and returns immediately. Intents dispatched
// after Close are dropped.
func (c *Controller) Dispatch(in Intent) {
	if in == nil {
		return
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		c.log.Debug("intent dropped after close", "intent", in.intentName())
		return
	}
	if c.pending == 0 {
		c.idle = make(chan struct{})
	}
	c.pending++
	c.queue = append(c.queue, in)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until every intent dispatched before the call has finished.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return errors.New("controller closed")
	}
}

// Close cancels the item stream and any in-flight repository call. Results
// that arrive afterwards are discarded. Close does not wait for them.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	subs := c.subs
	c.subs = map[uint64]*subscriber{}
	c.queue = nil
	c.mu.Unlock()

	c.cancel()
	c.stream.Close()
	for _, sub := range subs {
		sub.stop()
	}
}

func (c *Controller) watch() {
	for items := range c.stream.Snapshots() {
		c.update(func(s ViewState) ViewState { return Merge(s, items) })
		c.markReady()
	}
	if err := c.stream.Err(); err != nil && c.ctx.Err() == nil {
		c.log.Error("item stream failed", "err", err)
		c.update(func(s ViewState) ViewState {
			s.Error = fmt.Sprintf("item stream failed: %v", err)
			return s
		})
	}
	c.markReady()
}

func (c *Controller) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *Controller) work() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}
		for {
			in, ok := c.pop()
			if !ok {
				break
			}
			c.run(in)
		}
	}
}

func (c *Controller) pop() (Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || len(c.queue) == 0 {
		return nil, false
	}
	in := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return in, true
}

func (c *Controller) run(in Intent) {
	name := in.intentName()
	c.update(func(s ViewState) ViewState {
		s.Loading = true
		return s
	})
	c.log.Debug("intent started", "intent", name)

	err := c.handle(in)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.pending--
	s := c.state
	s.Loading = c.pending > 0
	if err != nil {
		c.log.Warn("intent failed", "intent", name, "err", err)
		s.Error = fmt.Sprintf("%s failed: %v", name, err)
	} else {
		c.log.Debug("intent finished", "intent", name)
	}
	c.publishLocked(s)
	if c.pending == 0 {
		close(c.idle)
	}
}

func (c *Controller) handle(in Intent) error {
	ctx := c.ctx
	switch in := in.(type) {
	case AddItem:
		title, ok := todo.CleanTitle(in.Title)
		if !ok {
			return nil
		}
		it := todo.Item{
			ID:        c.newID(),
			Title:     title,
			Timestamp: c.stamp.Next(),
		}
		return c.repo.InsertItem(ctx, it)
	case ToggleItem:
		it, found, err := c.repo.ItemByID(ctx, in.ID)
		if err != nil || !found {
			return err
		}
		it.Completed = !it.Completed
		return c.repo.UpdateItem(ctx, it)
	case DeleteItem:
		return c.repo.DeleteItemByID(ctx, in.ID)
	case SetFilter:
		c.update(func(s ViewState) ViewState {
			s.Filter = in.Filter
			return s
		})
		return nil
	case RenameItem:
		title, ok := todo.CleanTitle(in.Title)
		if !ok {
			return nil
		}
		it, found, err := c.repo.ItemByID(ctx, in.ID)
		if err != nil || !found {
			return err
		}
		it.Title = title
		return c.repo.UpdateItem(ctx, it)
	case DeleteAllItems:
		return c.repo.DeleteAllItems(ctx)
	case ClearError:
		c.update(func(s ViewState) ViewState {
			s.Error = ""
			return s
		})
		return nil
	default:
		return fmt.Errorf("unknown intent %T", in)
	}
}

// update applies fn to the current state and publishes the result. It is a
// no-op once the controller is closed.
func (c *Controller) update(fn func(ViewState) ViewState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.publishLocked(fn(c.state))
}

func (c *Controller) publishLocked(s ViewState) {
	c.state = s
	c.current.Store(&s)
	for _, sub := range c.subs {
		sub.push(s)
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
