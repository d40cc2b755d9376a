// Package state is a small SQLite key-value store with per-entry expiry,
// organized in named buckets.
//
// The daemon keeps persistent firewall rules here so they can be replayed
// after a reboot flushes the kernel ruleset. An entry written with a TTL
// disappears from reads once the TTL passes; Cleanup deletes it for good.
//
// Timestamps are stored as Unix nanoseconds. The driver is
// modernc.org/sqlite, so no CGO is needed.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"grimm.is/warden/internal/clock"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrBucketMissing = errors.New("bucket does not exist")
	ErrStoreClosed   = errors.New("store is closed")
)

const memoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS buckets (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	bucket     TEXT NOT NULL REFERENCES buckets(name) ON DELETE CASCADE,
	key        TEXT NOT NULL,
	value      BLOB,
	updated_at INTEGER NOT NULL,
	expires_at INTEGER,
	PRIMARY KEY (bucket, key)
);
CREATE INDEX IF NOT EXISTS idx_entries_expires ON entries(expires_at) WHERE expires_at IS NOT NULL;
`

// live restricts a query on entries to unexpired rows; it takes "now".
const live = `(expires_at IS NULL OR expires_at > ?)`

// Entry is a stored value and its bookkeeping.
type Entry struct {
	Value     []byte
	UpdatedAt time.Time
	ExpiresAt time.Time // zero when the entry never expires
}

type Options struct {
	Path    string      // ":memory:" for a throwaway database
	WALMode bool        // ignored for in-memory databases
	Clock   clock.Clock // defaults to the system clock
}

func DefaultOptions(path string) Options {
	return Options{Path: path, WALMode: true}
}

// SQLiteStore is safe for concurrent use.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
	clock  clock.Clock
}

// NewSQLiteStore opens the database at opts.Path, creating file and schema
// as needed.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	if opts.WALMode && opts.Path != memoryPath {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}
	if opts.Path == memoryPath {
		// Each pooled connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize %s: %w", opts.Path, err)
	}
	return &SQLiteStore{db: db, clock: clock.OrReal(opts.Clock)}, nil
}

// read and write run fn under the store lock, failing once closed.
func (s *SQLiteStore) read(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return fn()
}

func (s *SQLiteStore) write(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return fn()
}

func (s *SQLiteStore) now() int64 {
	return s.clock.Now().UnixNano()
}

// EnsureBucket creates a bucket unless it already exists.
func (s *SQLiteStore) EnsureBucket(name string) error {
	return s.write(func() error {
		_, err := s.db.Exec(`INSERT INTO buckets (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`, name, s.now())
		return err
	})
}

// ListBuckets returns the bucket names in order.
func (s *SQLiteStore) ListBuckets() ([]string, error) {
	var names []string
	err := s.read(func() error {
		rows, err := s.db.Query(`SELECT name FROM buckets ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	return names, err
}

// Get returns a live value.
func (s *SQLiteStore) Get(bucket, key string) ([]byte, error) {
	e, err := s.GetWithMeta(bucket, key)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// GetWithMeta returns a live value with its timestamps.
func (s *SQLiteStore) GetWithMeta(bucket, key string) (*Entry, error) {
	var (
		e       Entry
		updated int64
		expires sql.NullInt64
	)
	err := s.read(func() error {
		return s.db.QueryRow(`SELECT value, updated_at, expires_at FROM entries WHERE bucket = ? AND key = ? AND `+live,
			bucket, key, s.now()).Scan(&e.Value, &updated, &expires)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.UpdatedAt = time.Unix(0, updated)
	if expires.Valid {
		e.ExpiresAt = time.Unix(0, expires.Int64)
	}
	return &e, nil
}

// Set stores a value that never expires.
func (s *SQLiteStore) Set(bucket, key string, value []byte) error {
	return s.put(bucket, key, value, nil)
}

// SetWithTTL stores a value that expires after ttl. Zero means never; a
// negative ttl writes an entry that is already expired.
func (s *SQLiteStore) SetWithTTL(bucket, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		return s.put(bucket, key, value, nil)
	}
	return s.put(bucket, key, value, s.clock.Now().Add(ttl).UnixNano())
}

func (s *SQLiteStore) put(bucket, key string, value []byte, expires any) error {
	return s.write(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var one int
		switch err := tx.QueryRow(`SELECT 1 FROM buckets WHERE name = ?`, bucket).Scan(&one); {
		case errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("%w: %s", ErrBucketMissing, bucket)
		case err != nil:
			return err
		}

		if _, err := tx.Exec(`INSERT INTO entries (bucket, key, value, updated_at, expires_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(bucket, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at, expires_at = excluded.expires_at`,
			bucket, key, value, s.now(), expires); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Delete removes a key, live or expired. A missing key is ErrNotFound.
func (s *SQLiteStore) Delete(bucket, key string) error {
	return s.write(func() error {
		res, err := s.db.Exec(`DELETE FROM entries WHERE bucket = ? AND key = ?`, bucket, key)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// List returns every live entry in a bucket by key.
func (s *SQLiteStore) List(bucket string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.read(func() error {
		rows, err := s.db.Query(`SELECT key, value FROM entries WHERE bucket = ? AND `+live, bucket, s.now())
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			var value []byte
			if err := rows.Scan(&key, &value); err != nil {
				return err
			}
			out[key] = value
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cleanup deletes expired entries and reports how many.
func (s *SQLiteStore) Cleanup() (int64, error) {
	var n int64
	err := s.write(func() error {
		res, err := s.db.Exec(`DELETE FROM entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.now())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Close is idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
