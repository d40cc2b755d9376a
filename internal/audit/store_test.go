package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/clock"
)

func newTestStore(t *testing.T) (*Store, *clock.MockClock) {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "journal", "audit.db"), 7)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	mc := clock.NewMockClock(time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC))
	s.SetClock(mc)
	return s, mc
}

func TestStore_WriteQuery(t *testing.T) {
	s, mc := newTestStore(t)
	exp := mc.Now().Add(time.Hour)

	require.NoError(t, s.Write(Event{
		RequestID:  "req-1",
		Action:     ActionAdd,
		RuleID:     42,
		Family:     "ipv4",
		Hash:       "abcd",
		Expiration: exp,
		Outcome:    "created",
		Details:    map[string]any{"weight": 3},
	}))
	mc.Advance(time.Minute)
	require.NoError(t, s.Write(Event{Action: ActionExpire, RuleID: 42}))
	mc.Advance(time.Minute)
	require.NoError(t, s.Write(Event{Action: ActionAdd, RuleID: 43, Error: "backend down"}))

	all, err := s.Query(Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(43), all[0].RuleID, "newest first")
	assert.Equal(t, "backend down", all[0].Error)

	adds, err := s.Query(Query{Action: ActionAdd, RuleID: 42})
	require.NoError(t, err)
	require.Len(t, adds, 1)
	got := adds[0]
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "ipv4", got.Family)
	assert.Equal(t, "created", got.Outcome)
	assert.True(t, exp.Equal(got.Expiration))
	assert.Equal(t, json.Number("3"), got.Details["weight"])

	limited, err := s.Query(Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestStore_Prune(t *testing.T) {
	s, mc := newTestStore(t)

	require.NoError(t, s.Write(Event{Action: ActionAdd}))
	mc.Advance(10 * 24 * time.Hour)
	require.NoError(t, s.Write(Event{Action: ActionRemove}))

	n, err := s.Prune()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.Query(Query{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, ActionRemove, left[0].Action)
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Equal(t, "abc", RequestID(WithRequestID(ctx, "abc")))
}
