package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/warden/internal/clock"
)

// Journal actions.
const (
	ActionAdd     = "add"
	ActionRemove  = "remove"
	ActionExpire  = "expire"
	ActionRefresh = "refresh"
	ActionReplace = "replace"
)

// Event represents a single rule lifecycle entry.
type Event struct {
	ID         int64          `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	RequestID  string         `json:"request_id,omitempty"`
	Action     string         `json:"action"`
	RuleID     uint64         `json:"rule_id,omitempty"`
	Family     string         `json:"family,omitempty"`
	Hash       string         `json:"hash,omitempty"`
	Expiration time.Time      `json:"expiration,omitempty"`
	Outcome    string         `json:"outcome,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Query selects journal events. Zero fields do not filter.
type Query struct {
	Start  time.Time
	End    time.Time
	Action string
	RuleID uint64
	Limit  int
}

type requestIDKey struct{}

// WithRequestID tags a context with a control plane request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID carried by ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Store provides persistent storage for journal events.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	retentionDays int
	clock         clock.Clock
}

// NewStore creates a new journal store at the given path.
func NewStore(dbPath string, retentionDays int) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS rule_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			request_id TEXT,
			action TEXT NOT NULL,
			rule_id INTEGER DEFAULT 0,
			family TEXT,
			hash TEXT,
			expiration DATETIME,
			outcome TEXT,
			error TEXT,
			details TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_rule_events_timestamp ON rule_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_rule_events_action ON rule_events(action);
		CREATE INDEX IF NOT EXISTS idx_rule_events_rule ON rule_events(rule_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = 30
	}

	return &Store{
		db:            db,
		retentionDays: retentionDays,
		clock:         clock.Real,
	}, nil
}

// SetClock overrides the clock used for timestamps and pruning.
func (s *Store) SetClock(c clock.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock.OrReal(c)
}

// Write persists an event. A zero timestamp is filled in.
func (s *Store) Write(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clock.Now()
	}

	var detailsJSON []byte
	if evt.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(evt.Details)
		if err != nil {
			detailsJSON = []byte("{}")
		}
	}

	var expiration any
	if !evt.Expiration.IsZero() {
		expiration = evt.Expiration.UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO rule_events (timestamp, request_id, action, rule_id, family, hash, expiration, outcome, error, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, evt.Timestamp.UTC(), evt.RequestID, evt.Action, int64(evt.RuleID), evt.Family, evt.Hash,
		expiration, evt.Outcome, evt.Error, string(detailsJSON))
	if err != nil {
		return fmt.Errorf("insert journal event: %w", err)
	}
	return nil
}

// Query returns events matching q, newest first.
func (s *Store) Query(q Query) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, timestamp, request_id, action, rule_id, family, hash, expiration, outcome, error, details
		FROM rule_events WHERE 1=1`
	var args []any

	if !q.Start.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, q.Start.UTC())
	}
	if !q.End.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, q.End.UTC())
	}
	if q.Action != "" {
		query += " AND action = ?"
		args = append(args, q.Action)
	}
	if q.RuleID != 0 {
		query += " AND rule_id = ?"
		args = append(args, int64(q.RuleID))
	}

	query += " ORDER BY timestamp DESC, id DESC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var ruleID int64
		var requestID, family, hash, outcome, errText, detailsJSON sql.NullString
		var expiration sql.NullTime

		err := rows.Scan(&evt.ID, &evt.Timestamp, &requestID, &evt.Action, &ruleID, &family, &hash,
			&expiration, &outcome, &errText, &detailsJSON)
		if err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}

		evt.RuleID = uint64(ruleID)
		evt.RequestID = requestID.String
		evt.Family = family.String
		evt.Hash = hash.String
		evt.Outcome = outcome.String
		evt.Error = errText.String
		if expiration.Valid {
			evt.Expiration = expiration.Time
		}
		if detailsJSON.Valid && detailsJSON.String != "" {
			// Numbers stay json.Number so rule IDs keep full precision.
			dec := json.NewDecoder(strings.NewReader(detailsJSON.String))
			dec.UseNumber()
			_ = dec.Decode(&evt.Details)
		}

		events = append(events, evt)
	}

	return events, rows.Err()
}

// Prune removes events older than the retention period.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().AddDate(0, 0, -s.retentionDays).UTC()
	result, err := s.db.Exec("DELETE FROM rule_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune journal events: %w", err)
	}

	return result.RowsAffected()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Count returns the total number of events in the store.
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM rule_events").Scan(&count)
	return count, err
}
