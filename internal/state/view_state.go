// Package state owns the task list's view state. A Controller merges the
// store's snapshot stream with user intents and publishes immutable
// ViewState values to subscribers.
package state

import (
	"slices"

	"tasklist/internal/todo"
)

// ViewState is what the presentation layer renders. Values are replaced
// wholesale on every change; holders must treat Items as read-only.
type ViewState struct {
	Items   []todo.Item
	Filter  todo.Filter
	Loading bool
	// Error is the last failure message, empty when there is none.
	Error string
}

func Initial() ViewState {
	return ViewState{Items: []todo.Item{}, Filter: todo.FilterAll}
}

// Merge installs a store snapshot as the authoritative item list and keeps
// every other field of s.
func Merge(s ViewState, snapshot []todo.Item) ViewState {
	s.Items = slices.Clone(snapshot)
	if s.Items == nil {
		s.Items = []todo.Item{}
	}
	return s
}

func (s ViewState) FilteredItems() []todo.Item {
	out := make([]todo.Item, 0, len(s.Items))
	for _, it := range s.Items {
		if s.Filter.Matches(it) {
			out = append(out, it)
		}
	}
	return out
}

func (s ViewState) ActiveCount() int {
	n := 0
	for _, it := range s.Items {
		if !it.Completed {
			n++
		}
	}
	return n
}

func (s ViewState) CompletedCount() int {
	return len(s.Items) - s.ActiveCount()
}

func (s ViewState) Item(id string) (todo.Item, bool) {
	for _, it := range s.Items {
		if it.ID == id {
			return it, true
		}
	}
	return todo.Item{}, false
}
