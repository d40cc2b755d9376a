package rules

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/audit"
	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/fwdata"
	"grimm.is/warden/internal/logging"
)

var start = time.Date(2030, 5, 1, 8, 0, 0, 0, time.UTC)

type fakeJournal struct {
	mu     sync.Mutex
	events []audit.Event
}

func (j *fakeJournal) Write(evt audit.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, evt)
	return nil
}

func (j *fakeJournal) actions() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, e := range j.events {
		out = append(out, e.Action)
	}
	return out
}

type harness struct {
	m       *Manager
	backend *firewall.MemoryBackend
	clock   *clock.MockClock
	journal *fakeJournal
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		backend: firewall.NewMemoryBackend(),
		clock:   clock.NewMockClock(start),
		journal: &fakeJournal{},
	}
	cfg.Clock = h.clock
	cfg.Journal = h.journal
	cfg.Logger = logging.New(logging.Config{Output: &bytes.Buffer{}})
	h.m = New(h.backend, cfg)
	t.Cleanup(func() { h.m.Close() })
	return h
}

func addr(s string) fwdata.Condition {
	return fwdata.Address(netip.MustParseAddr(s))
}

func prefix(t *testing.T, s string) fwdata.Condition {
	t.Helper()
	c, err := fwdata.Prefix(netip.MustParsePrefix(s))
	require.NoError(t, err)
	return c
}

func (h *harness) add(t *testing.T, ttl time.Duration, conds ...fwdata.Condition) []AddResult {
	t.Helper()
	res, err := h.m.Add(context.Background(), fwdata.NewDescriptor(h.clock.Now().Add(ttl), conds...), AddOptions{})
	require.NoError(t, err)
	return res
}

func TestAdd_Created(t *testing.T) {
	h := newHarness(t, Config{})

	res := h.add(t, 5*time.Minute, addr("198.51.100.4"))
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeCreated, res[0].Outcome)
	assert.Equal(t, fwdata.FamilyIPv4, res[0].Family)

	rule, ok := h.backend.Get(res[0].ID)
	require.True(t, ok)
	assert.Equal(t, fwdata.FamilyIPv4, rule.Family)

	exp, hash, err := fwdata.DecodeName(rule.Rule.Name)
	require.NoError(t, err)
	assert.True(t, start.Add(5*time.Minute).Equal(exp))
	assert.Equal(t, res[0].Hash, hash)

	entries := h.m.List()
	require.Len(t, entries, 1)
	assert.Equal(t, res[0].ID, entries[0].ID)
	assert.True(t, h.m.Status().SweepActive)
	assert.Equal(t, []string{audit.ActionAdd}, h.journal.actions())
}

func TestAdd_AlreadyExpired(t *testing.T) {
	h := newHarness(t, Config{})

	for _, ttl := range []time.Duration{0, -time.Second} {
		res := h.add(t, ttl, addr("198.51.100.4"))
		require.Len(t, res, 1)
		assert.Equal(t, OutcomeExpired, res[0].Outcome)
	}

	adds, _, lists := h.backend.Counts()
	assert.Zero(t, adds)
	assert.Zero(t, lists)
	assert.Empty(t, h.m.List())
	assert.False(t, h.m.Status().SweepActive)
}

func TestAdd_NearDuplicate(t *testing.T) {
	h := newHarness(t, Config{})
	target := prefix(t, "203.0.113.5/32")

	first := h.add(t, 300*time.Second, target)
	second := h.add(t, 310*time.Second, target)

	assert.Equal(t, OutcomeCreated, first[0].Outcome)
	assert.Equal(t, OutcomeNearDuplicate, second[0].Outcome)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 1, h.backend.Len())

	entries := h.m.List()
	require.Len(t, entries, 1)
	assert.True(t, start.Add(300*time.Second).Equal(entries[0].Expiration))
}

func TestAdd_SameExpirationIsNearDuplicate(t *testing.T) {
	h := newHarness(t, Config{})
	first := h.add(t, time.Minute, addr("192.0.2.1"))
	second := h.add(t, time.Minute, addr("192.0.2.1"))
	assert.Equal(t, OutcomeNearDuplicate, second[0].Outcome)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestAdd_Stale(t *testing.T) {
	h := newHarness(t, Config{})
	h.add(t, time.Hour, addr("192.0.2.1"))
	res := h.add(t, time.Minute, addr("192.0.2.1"))
	assert.Equal(t, OutcomeStale, res[0].Outcome)
	assert.Equal(t, 1, h.backend.Len())
}

func TestAdd_Replaces(t *testing.T) {
	h := newHarness(t, Config{})

	first := h.add(t, time.Minute, addr("192.0.2.1"))
	h.clock.Advance(30 * time.Second)
	// E2 - E1 = 9m30s >= (E2 - now)/10 = 1m
	second := h.add(t, 10*time.Minute, addr("192.0.2.1"))

	assert.Equal(t, OutcomeReplaced, second[0].Outcome)
	assert.Equal(t, first[0].ID, second[0].Replaced)
	assert.NotEqual(t, first[0].ID, second[0].ID)

	rules := h.backend.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, second[0].ID, rules[0].ID)

	entries := h.m.List()
	require.Len(t, entries, 1)
	assert.True(t, h.clock.Now().Add(10*time.Minute).Equal(entries[0].Expiration))
	assert.Equal(t, []string{audit.ActionAdd, audit.ActionReplace}, h.journal.actions())
}

func TestAdd_ReplaceFailureKeepsOld(t *testing.T) {
	h := newHarness(t, Config{})
	first := h.add(t, time.Minute, addr("192.0.2.1"))

	boom := errors.New("netlink down")
	h.backend.SetFailures(nil, boom, nil)
	res, err := h.m.Add(context.Background(), fwdata.NewDescriptor(start.Add(time.Hour), addr("192.0.2.1")), AddOptions{})
	assert.ErrorIs(t, err, boom)
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeFailed, res[0].Outcome)

	entries := h.m.List()
	require.Len(t, entries, 1)
	assert.Equal(t, first[0].ID, entries[0].ID)
	assert.True(t, start.Add(time.Minute).Equal(entries[0].Expiration))
}

func TestAdd_ReplaceRemoveFailure(t *testing.T) {
	h := newHarness(t, Config{})
	first := h.add(t, time.Minute, addr("192.0.2.1"))

	errBusy := errors.New("device or resource busy")
	h.backend.SetFailures(nil, nil, errBusy)
	second := h.add(t, time.Hour, addr("192.0.2.1"))
	require.Len(t, second, 1)
	assert.Equal(t, OutcomeReplaced, second[0].Outcome)
	assert.Equal(t, first[0].ID, second[0].Replaced)

	entries := h.m.List()
	require.Len(t, entries, 1)
	assert.Equal(t, second[0].ID, entries[0].ID)
	assert.Equal(t, 2, h.backend.Len(), "old rule is left behind")

	h.backend.SetFailures(nil, nil, nil)
	report, err := h.m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, 1, report.Duplicates)

	_, ok := h.backend.Get(first[0].ID)
	assert.False(t, ok, "refresh reclaims the old rule")
	_, ok = h.m.Lookup(second[0].ID)
	assert.True(t, ok)
}

func TestAdd_FamilyAgnostic(t *testing.T) {
	h := newHarness(t, Config{})

	res := h.add(t, time.Hour, fwdata.Port(22), fwdata.Protocol(6))
	require.Len(t, res, 2)
	assert.Equal(t, fwdata.FamilyIPv4, res[0].Family)
	assert.Equal(t, fwdata.FamilyIPv6, res[1].Family)

	h4, h6 := res[0].Hash, res[1].Hash
	assert.Equal(t, h4[:fwdata.HashSize-1], h6[:fwdata.HashSize-1])
	assert.Equal(t, h4[fwdata.HashSize-1]^1, h6[fwdata.HashSize-1])

	assert.Equal(t, 2, h.backend.Len())
	status := h.m.Status()
	assert.Equal(t, 1, status.ByFamily["ipv4"])
	assert.Equal(t, 1, status.ByFamily["ipv6"])
}

// failV6 rejects every IPv6 add.
type failV6 struct {
	*firewall.MemoryBackend
}

var errNoV6 = errors.New("ipv6 disabled")

func (f failV6) AddIPv6(ctx context.Context, rule firewall.Rule) (firewall.FilterID, error) {
	return 0, errNoV6
}

func TestAdd_PerFamilyErrorsJoined(t *testing.T) {
	backend := failV6{firewall.NewMemoryBackend()}
	m := New(backend, Config{Clock: clock.NewMockClock(start)})
	defer m.Close()

	res, err := m.Add(context.Background(), fwdata.NewDescriptor(start.Add(time.Hour), fwdata.Port(22)), AddOptions{})
	assert.ErrorIs(t, err, errNoV6)
	assert.Contains(t, err.Error(), "ipv6")
	require.Len(t, res, 2)
	assert.Equal(t, OutcomeCreated, res[0].Outcome)
	assert.Equal(t, OutcomeFailed, res[1].Outcome)
	assert.Equal(t, 1, backend.Len())
}

func TestAdd_Capacity(t *testing.T) {
	h := newHarness(t, Config{MaxRules: 2})

	h.add(t, time.Hour, addr("192.0.2.1"))
	h.add(t, time.Hour, addr("192.0.2.2"))

	res, err := h.m.Add(context.Background(), fwdata.NewDescriptor(start.Add(time.Hour), addr("192.0.2.3")), AddOptions{})
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, OutcomeFailed, res[0].Outcome)
	assert.Equal(t, 2, h.backend.Len())
	assert.Len(t, h.m.List(), 2)

	// Extending an existing rule is allowed at capacity.
	res = h.add(t, 10*time.Hour, addr("192.0.2.1"))
	assert.Equal(t, OutcomeReplaced, res[0].Outcome)
}

func TestAdd_Options(t *testing.T) {
	h := newHarness(t, Config{})
	res, err := h.m.Add(context.Background(),
		fwdata.NewDescriptor(start.Add(time.Hour), addr("192.0.2.9")),
		AddOptions{Weight: 7, Permit: true, Persistent: true})
	require.NoError(t, err)

	rule, ok := h.backend.Get(res[0].ID)
	require.True(t, ok)
	assert.Equal(t, uint64(7), rule.Rule.Weight)
	assert.True(t, rule.Rule.Permit)
	assert.True(t, rule.Rule.Persistent)
}

func TestAdd_InvalidDescriptor(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.m.Add(context.Background(), fwdata.NewDescriptor(start.Add(time.Hour)), AddOptions{})
	assert.ErrorIs(t, err, fwdata.ErrNoConditions)
}

func TestAdd_Concurrent(t *testing.T) {
	h := newHarness(t, Config{})
	d := fwdata.NewDescriptor(start.Add(time.Hour), addr("192.0.2.77"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.m.Add(context.Background(), d, AddOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.backend.Len())
	assert.Len(t, h.m.List(), 1)
}

func TestManager_RequestIDJournaled(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := audit.WithRequestID(context.Background(), "req-42")
	_, err := h.m.Add(ctx, fwdata.NewDescriptor(start.Add(time.Hour), addr("192.0.2.5")), AddOptions{})
	require.NoError(t, err)

	require.Len(t, h.journal.events, 1)
	evt := h.journal.events[0]
	assert.Equal(t, "req-42", evt.RequestID)
	assert.Equal(t, "created", evt.Outcome)
	assert.Equal(t, "ipv4", evt.Family)
	assert.Equal(t, start, evt.Timestamp)
}

func TestManager_Close(t *testing.T) {
	h := newHarness(t, Config{CleanupInterval: time.Millisecond})
	h.add(t, time.Hour, addr("192.0.2.1"))

	require.NoError(t, h.m.Close())
	require.NoError(t, h.m.Close())

	_, err := h.m.Add(context.Background(), fwdata.NewDescriptor(start.Add(time.Hour), addr("192.0.2.2")), AddOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, h.backend.Len(), "rules outlive the manager")
}
