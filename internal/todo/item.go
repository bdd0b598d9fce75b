package todo

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrBlankTitle = errors.New("title is blank")

type Item struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Completed bool      `json:"completed" yaml:"completed"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// CleanTitle trims surrounding whitespace and reports whether anything is left.
func CleanTitle(title string) (string, bool) {
	title = strings.TrimSpace(title)
	return title, title != ""
}

func NewID() string {
	return uuid.NewString()
}

// Stamper hands out creation timestamps at millisecond precision that never
// repeat or go backwards, even when the wall clock does.
type Stamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewStamper(now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}
	return &Stamper{now: now}
}

func (s *Stamper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC().Truncate(time.Millisecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Millisecond)
	}
	s.last = t
	return t
}

// Stream delivers full item snapshots until it is closed or fails. Each value
// replaces the previous one entirely.
type Stream interface {
	Snapshots() <-chan []Item
	Err() error
	Close()
}
