package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Option customizes a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces the wall clock used to stamp and window messages.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SQLiteStore is the default Store, backed by a single SQLite file.
type SQLiteStore struct {
	db    *sql.DB
	mu    sync.Mutex // serializes appends so timestamps follow commit order
	clock *clock
}

// OpenSQLite opens (or creates) the database at path. Call Init before use.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storageErr("open", fmt.Errorf("create db directory %s: %w", dir, err))
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, storageErr("open", err)
	}
	// One connection: appends are serialized by SQLite itself and an
	// in-memory database stays a single database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageErr("open", fmt.Errorf("ping %s: %w", path, err))
	}
	return &SQLiteStore{db: db, clock: newClock(o.now)}, nil
}

// Init creates the messages table and index if they don't exist.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			author TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_author_created ON messages(author, created_at);
	`); err != nil {
		return storageErr("init", err)
	}

	var newest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM messages`).Scan(&newest); err != nil {
		return storageErr("init", err)
	}
	s.mu.Lock()
	s.clock.observe(newest.Int64)
	s.mu.Unlock()
	return nil
}

// Append inserts one message in a single statement.
func (s *SQLiteStore) Append(ctx context.Context, author string, role Role, content string) (int64, error) {
	if err := validate(author, role); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.clock.next()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (author, role, content, created_at) VALUES (?, ?, ?, ?)`,
		author, string(role), content, ts,
	)
	if err != nil {
		return 0, storageErr("append", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("append", err)
	}
	return id, nil
}

// Window returns the author's messages inside the trailing window, oldest first.
func (s *SQLiteStore) Window(ctx context.Context, author string, timeframeHours float64) ([]Message, error) {
	cutoff, ok := s.clock.cutoff(timeframeHours)
	if !ok {
		return []Message{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author, role, content, created_at
		FROM messages
		WHERE author = ? AND created_at >= ?
		ORDER BY created_at ASC, id ASC`,
		author, cutoff,
	)
	if err != nil {
		return nil, storageErr("window", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m    Message
			role string
			ts   int64
		)
		if err := rows.Scan(&m.ID, &m.Author, &role, &m.Content, &ts); err != nil {
			return nil, storageErr("window", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.UnixMicro(ts)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("window", err)
	}
	return out, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
