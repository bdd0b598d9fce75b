package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"tasklist/internal/todo"
)

var ErrClosed = errors.New("store is closed")

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.log = logger
		}
	}
}

// Store keeps items in a single SQLite table and notifies open subscriptions
// after every committed write.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	mu       sync.Mutex
	closed   bool
	watchers map[*Subscription]struct{}
}

func Open(dbPath string, opts ...Option) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}
	if !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:       db,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		watchers: map[*Subscription]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	s.log.Debug("store opened", "path", dbPath)
	return s, nil
}

// Close ends every open subscription with ErrClosed and releases the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*Subscription, 0, len(s.watchers))
	for sub := range s.watchers {
		subs = append(subs, sub)
	}
	s.watchers = map[*Subscription]struct{}{}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop(ErrClosed)
	}
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL CHECK (length(trim(title)) > 0),
	completed INTEGER NOT NULL DEFAULT 0,
	timestamp INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS items_timestamp ON items (timestamp DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateOrReplace(ctx context.Context, it todo.Item) error {
	if _, ok := todo.CleanTitle(it.Title); !ok {
		return todo.ErrBlankTitle
	}
	return s.exec(ctx, `INSERT OR REPLACE INTO items (id, title, completed, timestamp) VALUES (?, ?, ?, ?);`,
		it.ID, it.Title, boolToInt(it.Completed), it.Timestamp.UnixMilli())
}

// Update rewrites an existing row. Updating an id that is not stored is not
// an error and changes nothing.
func (s *Store) Update(ctx context.Context, it todo.Item) error {
	if _, ok := todo.CleanTitle(it.Title); !ok {
		return todo.ErrBlankTitle
	}
	return s.exec(ctx, `UPDATE items SET title = ?, completed = ?, timestamp = ? WHERE id = ?;`,
		it.Title, boolToInt(it.Completed), it.Timestamp.UnixMilli(), it.ID)
}

func (s *Store) Delete(ctx context.Context, it todo.Item) error {
	return s.DeleteByID(ctx, it.ID)
}

func (s *Store) DeleteByID(ctx context.Context, id string) error {
	return s.exec(ctx, `DELETE FROM items WHERE id = ?;`, id)
}

func (s *Store) DeleteAll(ctx context.Context) error {
	return s.exec(ctx, `DELETE FROM items;`)
}

func (s *Store) GetByID(ctx context.Context, id string) (todo.Item, bool, error) {
	if s.isClosed() {
		return todo.Item{}, false, ErrClosed
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, title, completed, timestamp FROM items WHERE id = ?;`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return todo.Item{}, false, nil
	}
	if err != nil {
		return todo.Item{}, false, err
	}
	return it, true, nil
}

func (s *Store) ObserveAll() (*Subscription, error) {
	return s.observe("")
}

func (s *Store) ObserveActive() (*Subscription, error) {
	return s.observe("WHERE completed = 0")
}

func (s *Store) ObserveCompleted() (*Subscription, error) {
	return s.observe("WHERE completed = 1")
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	if s.isClosed() {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	s.changed()
	return nil
}

func (s *Store) fetch(ctx context.Context, where string) ([]todo.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, completed, timestamp FROM items `+where+` ORDER BY timestamp DESC, id DESC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []todo.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (todo.Item, error) {
	var it todo.Item
	var completed int
	var stamp int64
	if err := sc.Scan(&it.ID, &it.Title, &completed, &stamp); err != nil {
		return todo.Item{}, err
	}
	it.Completed = completed == 1
	it.Timestamp = time.UnixMilli(stamp).UTC()
	return it, nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) changed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.watchers {
		sub.markDirty()
	}
}

func (s *Store) forget(sub *Subscription) {
	s.mu.Lock()
	delete(s.watchers, sub)
	s.mu.Unlock()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	u.RawQuery = q.Encode()
	return u.String()
}
