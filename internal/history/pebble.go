package history

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// Key layout:
//
//	m/<u32 len(author)><author><u64 created_at><u64 id>  -> record
//	meta/last_id                                         -> u64
//	meta/last_ts                                         -> u64
//
// A record is <u64 created_at><role byte><raw content>, so content comes back
// byte for byte. The length prefix keeps one author's key range from ever
// containing another author's keys.
var (
	msgPrefix  = []byte("m/")
	lastIDKey  = []byte("meta/last_id")
	lastTSKey  = []byte("meta/last_ts")
	errClosed  = errors.New("pebble store closed")
	suffixSize = 16
)

const (
	roleByteUser      byte = 'u'
	roleByteAssistant byte = 'a'
	recordHeaderSize       = 9
)

func encodeRecord(role Role, content string, createdAt int64) []byte {
	v := make([]byte, 0, recordHeaderSize+len(content))
	v = binary.BigEndian.AppendUint64(v, uint64(createdAt))
	switch role {
	case RoleAssistant:
		v = append(v, roleByteAssistant)
	default:
		v = append(v, roleByteUser)
	}
	return append(v, content...)
}

func decodeRecord(v []byte) (Role, string, int64, error) {
	if len(v) < recordHeaderSize {
		return "", "", 0, fmt.Errorf("record too short: %d bytes", len(v))
	}
	var role Role
	switch v[8] {
	case roleByteUser:
		role = RoleUser
	case roleByteAssistant:
		role = RoleAssistant
	default:
		return "", "", 0, fmt.Errorf("unknown role byte %#x", v[8])
	}
	return role, string(v[recordHeaderSize:]), int64(binary.BigEndian.Uint64(v[:8])), nil
}

// PebbleStore is a Store on top of a Pebble LSM directory.
type PebbleStore struct {
	db     *pebble.DB
	mu     sync.Mutex
	clock  *clock
	lastID uint64
	closed bool
}

// OpenPebble opens (or creates) a Pebble database in dir. Call Init before use.
func OpenPebble(dir string, opts ...Option) (*PebbleStore, error) {
	o := buildOptions(opts)
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, storageErr("open", err)
	}
	return &PebbleStore{db: db, clock: newClock(o.now)}, nil
}

// Init restores the id and clock high-water marks. Pebble needs no schema.
func (s *PebbleStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("init", errClosed)
	}

	id, err := s.readUint(lastIDKey)
	if err != nil {
		return storageErr("init", err)
	}
	ts, err := s.readUint(lastTSKey)
	if err != nil {
		return storageErr("init", err)
	}
	if id > s.lastID {
		s.lastID = id
	}
	s.clock.observe(int64(ts))
	return nil
}

func (s *PebbleStore) readUint(key []byte) (uint64, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, fmt.Errorf("corrupt counter %s", key)
	}
	return binary.BigEndian.Uint64(v), nil
}

// Append writes the record and both counters in one synced batch.
func (s *PebbleStore) Append(ctx context.Context, author string, role Role, content string) (int64, error) {
	if err := validate(author, role); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storageErr("append", errClosed)
	}

	ts := s.clock.next()
	id := s.lastID + 1
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(messageKey(author, uint64(ts), id), encodeRecord(role, content, ts), nil); err != nil {
		return 0, storageErr("append", err)
	}
	if err := b.Set(lastIDKey, u64(id), nil); err != nil {
		return 0, storageErr("append", err)
	}
	if err := b.Set(lastTSKey, u64(uint64(ts)), nil); err != nil {
		return 0, storageErr("append", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, storageErr("append", err)
	}
	s.lastID = id
	return int64(id), nil
}

// Window scans the author's key range starting at the window cutoff.
func (s *PebbleStore) Window(ctx context.Context, author string, timeframeHours float64) ([]Message, error) {
	cutoff, ok := s.clock.cutoff(timeframeHours)
	if !ok {
		return []Message{}, nil
	}
	if cutoff < 0 {
		cutoff = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storageErr("window", errClosed)
	}

	prefix := authorPrefix(author)
	lower := append(append([]byte{}, prefix...), u64(uint64(cutoff))...)
	upper := append(append([]byte{}, prefix...), bytes.Repeat([]byte{0xff}, suffixSize+1)...)

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, storageErr("window", err)
	}
	defer iter.Close()

	out := []Message{}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := iter.Key()
		if len(key) != len(prefix)+suffixSize {
			return nil, storageErr("window", fmt.Errorf("malformed key %q", key))
		}
		role, content, ts, err := decodeRecord(iter.Value())
		if err != nil {
			return nil, storageErr("window", err)
		}
		out = append(out, Message{
			ID:        int64(binary.BigEndian.Uint64(key[len(key)-8:])),
			Author:    author,
			Role:      role,
			Content:   content,
			CreatedAt: time.UnixMicro(ts),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, storageErr("window", err)
	}
	return out, nil
}

// Ping reports whether the store is still open.
func (s *PebbleStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("ping", errClosed)
	}
	return nil
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func authorPrefix(author string) []byte {
	k := make([]byte, 0, len(msgPrefix)+4+len(author)+suffixSize)
	k = append(k, msgPrefix...)
	k = binary.BigEndian.AppendUint32(k, uint32(len(author)))
	return append(k, author...)
}

func messageKey(author string, ts, id uint64) []byte {
	k := authorPrefix(author)
	k = binary.BigEndian.AppendUint64(k, ts)
	return binary.BigEndian.AppendUint64(k, id)
}

func u64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}
