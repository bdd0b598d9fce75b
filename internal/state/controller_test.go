package state

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasklist/internal/repository"
	"tasklist/internal/storage"
	"tasklist/internal/todo"
)

const waitFor = 5 * time.Second

func newStoreController(t *testing.T, opts ...Option) (*Controller, *storage.Store) {
	t.Helper()
	st, err := storage.Open(filepath.Join(t.TempDir(), "todo.db"))
	require.NoError(t, err)
	c, err := New(repository.New(st), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		_ = st.Close()
	})
	select {
	case <-c.Ready():
	case <-time.After(waitFor):
		t.Fatal("controller never received the first snapshot")
	}
	return c, st
}

func eventually(t *testing.T, c *Controller, cond func(ViewState) bool) ViewState {
	t.Helper()
	require.Eventually(t, func() bool { return cond(c.CurrentState()) }, waitFor, 5*time.Millisecond)
	return c.CurrentState()
}

func settle(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func titles(items []todo.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Title)
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	states []ViewState
}

func (r *recorder) record(s ViewState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []ViewState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ViewState(nil), r.states...)
}

func TestAddItem(t *testing.T) {
	c, _ := newStoreController(t)
	rec := &recorder{}
	unsubscribe := c.Subscribe(rec.record)
	defer unsubscribe()

	c.Dispatch(AddItem{Title: "  Buy milk "})
	s := eventually(t, c, func(s ViewState) bool { return len(s.Items) == 1 && !s.Loading })

	it := s.Items[0]
	assert.Equal(t, "Buy milk", it.Title)
	assert.False(t, it.Completed)
	assert.NotEmpty(t, it.ID)
	assert.False(t, it.Timestamp.IsZero())
	assert.Empty(t, s.Error)

	require.Eventually(t, func() bool {
		states := rec.snapshot()
		return len(states) > 0 && !states[len(states)-1].Loading && len(states[len(states)-1].Items) == 1
	}, waitFor, 5*time.Millisecond)
	states := rec.snapshot()
	sawLoading := -1
	for i, st := range states {
		if st.Loading {
			sawLoading = i
			break
		}
	}
	require.GreaterOrEqual(t, sawLoading, 0, "loading was never published")
	assert.False(t, states[len(states)-1].Loading)
	for _, st := range states {
		assert.Empty(t, st.Error)
	}
}

func TestAddItemUsesInjectedIDAndClock(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	c, _ := newStoreController(t,
		WithIDGenerator(func() string { return "fixed-id" }),
		WithClock(func() time.Time { return now }),
	)

	c.Dispatch(AddItem{Title: "A"})
	s := eventually(t, c, func(s ViewState) bool { return len(s.Items) == 1 })
	assert.Equal(t, "fixed-id", s.Items[0].ID)
	assert.Equal(t, now, s.Items[0].Timestamp)
}

func TestToggleItem(t *testing.T) {
	c, _ := newStoreController(t)

	c.Dispatch(AddItem{Title: "X"})
	c.Dispatch(AddItem{Title: "Y"})
	before := eventually(t, c, func(s ViewState) bool { return len(s.Items) == 2 })
	x, ok := findTitle(before.Items, "X")
	require.True(t, ok)
	y, _ := findTitle(before.Items, "Y")

	c.Dispatch(ToggleItem{ID: x.ID})
	after := eventually(t, c, func(s ViewState) bool {
		it, ok := s.Item(x.ID)
		return ok && it.Completed
	})

	got, _ := after.Item(x.ID)
	assert.Equal(t, x.Title, got.Title)
	assert.Equal(t, x.Timestamp, got.Timestamp)
	other, _ := after.Item(y.ID)
	assert.Equal(t, y, other)

	c.Dispatch(ToggleItem{ID: x.ID})
	eventually(t, c, func(s ViewState) bool {
		it, ok := s.Item(x.ID)
		return ok && !it.Completed
	})
}

func TestToggleMissingItemIsSilent(t *testing.T) {
	c, _ := newStoreController(t)

	c.Dispatch(AddItem{Title: "keep"})
	before := eventually(t, c, func(s ViewState) bool { return len(s.Items) == 1 && !s.Loading })

	c.Dispatch(ToggleItem{ID: "missing"})
	settle(t, c)

	after := c.CurrentState()
	assert.Equal(t, before.Items, after.Items)
	assert.Empty(t, after.Error)
	assert.False(t, after.Loading)
}

func TestSetFilterSurvivesSnapshots(t *testing.T) {
	c, _ := newStoreController(t)

	c.Dispatch(SetFilter{Filter: todo.FilterCompleted})
	c.Dispatch(AddItem{Title: "A"})
	s := eventually(t, c, func(s ViewState) bool { return len(s.Items) == 1 && !s.Loading })

	assert.Equal(t, todo.FilterCompleted, s.Filter)
	assert.Empty(t, s.FilteredItems())
	assert.Equal(t, 1, s.ActiveCount())
	assert.Equal(t, 0, s.CompletedCount())
}

func TestConcurrentAdds(t *testing.T) {
	c, _ := newStoreController(t)

	c.Dispatch(AddItem{Title: "A"})
	c.Dispatch(AddItem{Title: "B"})
	s := eventually(t, c, func(s ViewState) bool { return len(s.Items) == 2 })

	got := titles(s.Items)
	sort.Strings(got)
	assert.Equal(t, []string{"A", "B"}, got)
}

func TestAddsFromManyGoroutines(t *testing.T) {
	c, _ := newStoreController(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Dispatch(AddItem{Title: fmt.Sprintf("task %d", i)})
		}(i)
	}
	wg.Wait()

	s := eventually(t, c, func(s ViewState) bool { return len(s.Items) == 10 && !s.Loading })
	assert.Empty(t, s.Error)
}

func TestItemsOrderedNewestFirst(t *testing.T) {
	c, _ := newStoreController(t)

	for _, title := range []string{"first", "second", "third"} {
		c.Dispatch(AddItem{Title: title})
	}
	s := eventually(t, c, func(s ViewState) bool { return len(s.Items) == 3 })

	assert.Equal(t, []string{"third", "second", "first"}, titles(s.Items))
	for i := 1; i < len(s.Items); i++ {
		assert.True(t, s.Items[i-1].Timestamp.After(s.Items[i].Timestamp))
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	c, _ := newStoreController(t)

	c.Dispatch(AddItem{Title: "gone"})
	s := eventually(t, c, func(s ViewState) bool { return len(s.Items) == 1 })
	id := s.Items[0].ID

	c.Dispatch(DeleteItem{ID: id})
	c.Dispatch(DeleteItem{ID: id})
	eventually(t, c, func(s ViewState) bool { return len(s.Items) == 0 && !s.Loading })
	settle(t, c)

	_, ok := c.CurrentState().Item(id)
	assert.False(t, ok)
	assert.Empty(t, c.CurrentState().Error)
}

func TestBlankTitlesAreNoOps(t *testing.T) {
	c, st := newStoreController(t)

	c.Dispatch(AddItem{Title: "original"})
	before := eventually(t, c, func(s ViewState) bool { return len(s.Items) == 1 && !s.Loading })
	id := before.Items[0].ID

	c.Dispatch(AddItem{Title: "   "})
	c.Dispatch(AddItem{Title: ""})
	c.Dispatch(RenameItem{ID: id, Title: " \t "})
	settle(t, c)

	after := c.CurrentState()
	assert.Equal(t, before.Items, after.Items)
	assert.Empty(t, after.Error)

	stored, found, err := st.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "original", stored.Title)
}

func TestRenameItem(t *testing.T) {
	c, _ := newStoreController(t)

	c.Dispatch(AddItem{Title: "draft"})
	s := eventually(t, c, func(s ViewState) bool { return len(s.Items) == 1 })
	orig := s.Items[0]
	c.Dispatch(ToggleItem{ID: orig.ID})
	eventually(t, c, func(s ViewState) bool { return len(s.Items) == 1 && s.Items[0].Completed })

	c.Dispatch(RenameItem{ID: orig.ID, Title: "  final  "})
	s = eventually(t, c, func(s ViewState) bool { return len(s.Items) == 1 && s.Items[0].Title == "final" })

	assert.True(t, s.Items[0].Completed)
	assert.Equal(t, orig.Timestamp, s.Items[0].Timestamp)
	assert.Equal(t, orig.ID, s.Items[0].ID)

	c.Dispatch(RenameItem{ID: "missing", Title: "nobody"})
	settle(t, c)
	assert.Empty(t, c.CurrentState().Error)
}

func TestDeleteAllItems(t *testing.T) {
	c, _ := newStoreController(t)

	c.Dispatch(AddItem{Title: "a"})
	c.Dispatch(AddItem{Title: "b"})
	eventually(t, c, func(s ViewState) bool { return len(s.Items) == 2 })

	c.Dispatch(DeleteAllItems{})
	s := eventually(t, c, func(s ViewState) bool { return len(s.Items) == 0 && !s.Loading })
	assert.Empty(t, s.Error)
}

func TestSubscribeReceivesCurrentStateFirst(t *testing.T) {
	c, _ := newStoreController(t)

	c.Dispatch(SetFilter{Filter: todo.FilterActive})
	eventually(t, c, func(s ViewState) bool { return s.Filter == todo.FilterActive && !s.Loading })

	got := make(chan ViewState, 16)
	unsubscribe := c.Subscribe(func(s ViewState) { got <- s })

	select {
	case s := <-got:
		assert.Equal(t, todo.FilterActive, s.Filter)
	case <-time.After(waitFor):
		t.Fatal("no initial state delivered")
	}

	unsubscribe()
	unsubscribe()
	c.Dispatch(SetFilter{Filter: todo.FilterAll})
	eventually(t, c, func(s ViewState) bool { return s.Filter == todo.FilterAll && !s.Loading })
	assert.Never(t, func() bool { return len(got) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestMultipleSubscribersSeeSameSequence(t *testing.T) {
	c, _ := newStoreController(t)
	a, b := &recorder{}, &recorder{}
	defer c.Subscribe(a.record)()
	defer c.Subscribe(b.record)()

	c.Dispatch(AddItem{Title: "one"})
	c.Dispatch(SetFilter{Filter: todo.FilterCompleted})
	c.Dispatch(AddItem{Title: "two"})
	eventually(t, c, func(s ViewState) bool { return len(s.Items) == 2 && !s.Loading })

	final := func(r *recorder) func() bool {
		return func() bool {
			states := r.snapshot()
			if len(states) == 0 {
				return false
			}
			last := states[len(states)-1]
			return len(last.Items) == 2 && !last.Loading && last.Filter == todo.FilterCompleted
		}
	}
	require.Eventually(t, final(a), waitFor, 5*time.Millisecond)
	require.Eventually(t, final(b), waitFor, 5*time.Millisecond)
}

// fakeStream is a hand-driven item stream.
type fakeStream struct {
	ch   chan []todo.Item
	once sync.Once
	mu   sync.Mutex
	err  error
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan []todo.Item)}
}

func (s *fakeStream) Snapshots() <-chan []todo.Item { return s.ch }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() { s.fail(nil) }

func (s *fakeStream) fail(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}

type fakeRepo struct {
	stream    *fakeStream
	streamErr error

	mu        sync.Mutex
	items     map[string]todo.Item
	insertErr error
	getErr    error
	block     bool
	blocked   chan struct{}
	released  chan struct{}
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		stream:   newFakeStream(),
		items:    map[string]todo.Item{},
		blocked:  make(chan struct{}, 1),
		released: make(chan struct{}, 1),
	}
}

func (r *fakeRepo) AllItems() (todo.Stream, error) {
	if r.streamErr != nil {
		return nil, r.streamErr
	}
	return r.stream, nil
}

func (r *fakeRepo) ItemByID(_ context.Context, id string) (todo.Item, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return todo.Item{}, false, r.getErr
	}
	it, ok := r.items[id]
	return it, ok, nil
}

func (r *fakeRepo) InsertItem(ctx context.Context, it todo.Item) error {
	r.mu.Lock()
	block, err := r.block, r.insertErr
	r.mu.Unlock()
	if block {
		r.blocked <- struct{}{}
		<-ctx.Done()
		r.released <- struct{}{}
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.items[it.ID] = it
	r.mu.Unlock()
	return nil
}

func (r *fakeRepo) UpdateItem(_ context.Context, it todo.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[it.ID] = it
	return nil
}

func (r *fakeRepo) DeleteItemByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *fakeRepo) DeleteAllItems(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = map[string]todo.Item{}
	return nil
}

func newFakeController(t *testing.T, repo *fakeRepo) *Controller {
	t.Helper()
	c, err := New(repo)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNewFailsWhenStreamCannotOpen(t *testing.T) {
	repo := newFakeRepo()
	repo.streamErr = errors.New("no database")

	c, err := New(repo)
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "no database")
}

func TestRepositoryFailureIsRecorded(t *testing.T) {
	repo := newFakeRepo()
	repo.insertErr = errors.New("disk full")
	c := newFakeController(t, repo)

	c.Dispatch(SetFilter{Filter: todo.FilterActive})
	c.Dispatch(AddItem{Title: "A"})
	settle(t, c)

	s := c.CurrentState()
	assert.Equal(t, "add failed: disk full", s.Error)
	assert.False(t, s.Loading)
	assert.Equal(t, todo.FilterActive, s.Filter)

	repo.mu.Lock()
	repo.insertErr = nil
	repo.mu.Unlock()
	c.Dispatch(AddItem{Title: "B"})
	c.Dispatch(SetFilter{Filter: todo.FilterCompleted})
	settle(t, c)

	s = c.CurrentState()
	assert.Equal(t, todo.FilterCompleted, s.Filter, "controller keeps working after a failure")
	assert.Equal(t, "add failed: disk full", s.Error, "error stays until dismissed")
	repo.mu.Lock()
	assert.Len(t, repo.items, 1)
	repo.mu.Unlock()

	c.Dispatch(ClearError{})
	settle(t, c)
	assert.Empty(t, c.CurrentState().Error)
}

func TestLookupFailureIsRecorded(t *testing.T) {
	repo := newFakeRepo()
	repo.getErr = errors.New("io error")
	c := newFakeController(t, repo)

	c.Dispatch(ToggleItem{ID: "x"})
	settle(t, c)
	assert.Equal(t, "toggle failed: io error", c.CurrentState().Error)
	assert.False(t, c.CurrentState().Loading)

	c.Dispatch(RenameItem{ID: "x", Title: "y"})
	settle(t, c)
	assert.Equal(t, "rename failed: io error", c.CurrentState().Error)
}

func TestSnapshotsKeepErrorAndFilter(t *testing.T) {
	repo := newFakeRepo()
	repo.insertErr = errors.New("constraint violation")
	c := newFakeController(t, repo)

	c.Dispatch(SetFilter{Filter: todo.FilterCompleted})
	c.Dispatch(AddItem{Title: "A"})
	settle(t, c)

	snapshot := []todo.Item{{ID: "z", Title: "from store", Completed: true, Timestamp: time.UnixMilli(5).UTC()}}
	repo.stream.ch <- snapshot
	s := eventually(t, c, func(s ViewState) bool { return len(s.Items) == 1 })

	assert.Equal(t, snapshot, s.Items)
	assert.Equal(t, todo.FilterCompleted, s.Filter)
	assert.Equal(t, "add failed: constraint violation", s.Error)
	assert.Equal(t, snapshot, s.FilteredItems())
}

func TestStreamFailureIsSurfaced(t *testing.T) {
	repo := newFakeRepo()
	c := newFakeController(t, repo)

	repo.stream.ch <- []todo.Item{{ID: "a", Title: "a"}}
	<-c.Ready()
	repo.stream.fail(errors.New("database is locked"))

	s := eventually(t, c, func(s ViewState) bool { return s.Error != "" })
	assert.Equal(t, "item stream failed: database is locked", s.Error)
	assert.Len(t, s.Items, 1, "last snapshot is kept")

	c.Dispatch(SetFilter{Filter: todo.FilterActive})
	eventually(t, c, func(s ViewState) bool { return s.Filter == todo.FilterActive && !s.Loading })
}

func TestCloseAbandonsInFlightWork(t *testing.T) {
	repo := newFakeRepo()
	repo.block = true
	c, err := New(repo)
	require.NoError(t, err)

	rec := &recorder{}
	c.Subscribe(rec.record)

	c.Dispatch(AddItem{Title: "slow"})
	select {
	case <-repo.blocked:
	case <-time.After(waitFor):
		t.Fatal("insert never started")
	}
	eventually(t, c, func(s ViewState) bool { return s.Loading })
	require.Eventually(t, func() bool {
		states := rec.snapshot()
		return len(states) > 0 && states[len(states)-1].Loading
	}, waitFor, 5*time.Millisecond)

	before := c.CurrentState()
	c.Close()
	c.Close()

	select {
	case <-repo.released:
	case <-time.After(waitFor):
		t.Fatal("in-flight insert was not cancelled")
	}
	seen := len(rec.snapshot())

	c.Dispatch(AddItem{Title: "late"})
	c.Subscribe(func(ViewState) { t.Error("subscriber called after close") })
	assert.Never(t, func() bool {
		after := c.CurrentState()
		return after.Error != before.Error || after.Loading != before.Loading || len(rec.snapshot()) != seen
	}, 150*time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, c.Wait(ctx))
}

func TestWaitHonoursContext(t *testing.T) {
	repo := newFakeRepo()
	repo.block = true
	c := newFakeController(t, repo)

	c.Dispatch(AddItem{Title: "slow"})
	<-repo.blocked

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
}

func TestWaitWithNothingQueued(t *testing.T) {
	c := newFakeController(t, newFakeRepo())
	settle(t, c)
}

func findTitle(items []todo.Item, title string) (todo.Item, bool) {
	for _, it := range items {
		if it.Title == title {
			return it, true
		}
	}
	return todo.Item{}, false
}
