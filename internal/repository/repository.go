// Package repository maps the item store onto the names the state
// controller works with. It adds no behaviour of its own.
package repository

import (
	"context"

	"tasklist/internal/storage"
	"tasklist/internal/todo"
)

type Store interface {
	CreateOrReplace(ctx context.Context, it todo.Item) error
	Update(ctx context.Context, it todo.Item) error
	Delete(ctx context.Context, it todo.Item) error
	DeleteByID(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	GetByID(ctx context.Context, id string) (todo.Item, bool, error)
	ObserveAll() (*storage.Subscription, error)
	ObserveActive() (*storage.Subscription, error)
	ObserveCompleted() (*storage.Subscription, error)
}

type Repository struct {
	store Store
}

func New(store Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) AllItems() (todo.Stream, error) {
	return stream(r.store.ObserveAll())
}

func (r *Repository) ActiveItems() (todo.Stream, error) {
	return stream(r.store.ObserveActive())
}

func (r *Repository) CompletedItems() (todo.Stream, error) {
	return stream(r.store.ObserveCompleted())
}

func (r *Repository) ItemByID(ctx context.Context, id string) (todo.Item, bool, error) {
	return r.store.GetByID(ctx, id)
}

func (r *Repository) InsertItem(ctx context.Context, it todo.Item) error {
	return r.store.CreateOrReplace(ctx, it)
}

func (r *Repository) UpdateItem(ctx context.Context, it todo.Item) error {
	return r.store.Update(ctx, it)
}

func (r *Repository) DeleteItem(ctx context.Context, it todo.Item) error {
	return r.store.Delete(ctx, it)
}

func (r *Repository) DeleteItemByID(ctx context.Context, id string) error {
	return r.store.DeleteByID(ctx, id)
}

func (r *Repository) DeleteAllItems(ctx context.Context) error {
	return r.store.DeleteAll(ctx)
}

// stream keeps a failed observe from turning into a non-nil interface
// holding a nil subscription.
func stream(sub *storage.Subscription, err error) (todo.Stream, error) {
	if err != nil {
		return nil, err
	}
	return sub, nil
}
