// Package history persists chat messages per author and answers trailing
// time-window queries used to rebuild conversational context.
package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/comigor/notarobot/internal/config"
	"github.com/comigor/notarobot/internal/logger"
)

var (
	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("history: storage fault")

	ErrEmptyAuthor = errors.New("history: empty author")
	ErrInvalidRole = errors.New("history: invalid role")
)

// StorageError wraps a disk, connection or query failure of the backend.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("history %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Store is an append-only message log queryable by author and time window.
type Store interface {
	// Init ensures the underlying structure exists. Safe to call repeatedly.
	Init(ctx context.Context) error
	// Append stores a message stamped with the store's own clock and returns its id.
	Append(ctx context.Context, author string, role Role, content string) (int64, error)
	// Window returns the author's messages not older than timeframeHours,
	// oldest first.
	Window(ctx context.Context, author string, timeframeHours float64) ([]Message, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open creates the backend selected by cfg and initializes it.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case config.DriverSQLite, "":
		s, err = OpenSQLite(cfg.Path)
	case config.DriverPebble:
		s, err = OpenPebble(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	logger.L.Info("history store ready", "driver", cfg.Driver, "path", cfg.Path)
	return s, nil
}

// History runs a window query and fails open: a storage fault is logged and
// an empty history is returned so a single conversation never takes the bot
// down.
func History(ctx context.Context, s Store, author string, timeframeHours float64) []Message {
	msgs, err := s.Window(ctx, author, timeframeHours)
	if err != nil {
		logger.L.Error("chat history not retrieved", "author", author, "error", err)
		return []Message{}
	}
	logger.L.Info("chat history retrieved", "author", author, "messages", len(msgs))
	return msgs
}

func validate(author string, role Role) error {
	if author == "" {
		return ErrEmptyAuthor
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return nil
}

// clock hands out strictly increasing unix-microsecond timestamps. It is not
// safe for concurrent use; stores guard it with their write lock so that
// timestamp order matches commit order.
type clock struct {
	now  func() time.Time
	last int64
}

func newClock(now func() time.Time) *clock {
	if now == nil {
		now = time.Now
	}
	return &clock{now: now}
}

// next returns a timestamp greater than every previous one.
func (c *clock) next() int64 {
	ts := c.now().UnixMicro()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// observe raises the high-water mark, e.g. with the newest persisted row.
func (c *clock) observe(ts int64) {
	if ts > c.last {
		c.last = ts
	}
}

// cutoff returns the oldest timestamp included in a window of timeframeHours
// ending now, and false when the window is empty.
func (c *clock) cutoff(timeframeHours float64) (int64, bool) {
	if !(timeframeHours > 0) {
		return 0, false
	}
	now := c.now().UnixMicro()
	span := timeframeHours * float64(time.Hour/time.Microsecond)
	if span >= float64(now) || math.IsInf(span, 1) {
		return math.MinInt64, true
	}
	return now - int64(span), true
}
