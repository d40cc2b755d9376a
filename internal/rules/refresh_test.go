package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/fwdata"
)

func injectManaged(h *harness, exp time.Time, conds ...fwdata.Condition) firewall.FilterID {
	d := fwdata.NewDescriptor(exp, conds...)
	f := d.Families()[0]
	return h.backend.Inject(f, d.Name(f))
}

func TestRefresh_RebuildsIndex(t *testing.T) {
	h := newHarness(t, Config{})

	live := injectManaged(h, start.Add(time.Hour), addr("192.0.2.1"))
	v6 := injectManaged(h, start.Add(2*time.Hour), addr("2001:db8::5"))
	expired := injectManaged(h, start.Add(-time.Minute), addr("192.0.2.2"))
	atNow := injectManaged(h, start, addr("192.0.2.3"))
	foreign := h.backend.Inject(fwdata.FamilyIPv4, "sshguard block 192.0.2.99")
	oldFormat := h.backend.Inject(fwdata.FamilyIPv4, fwdata.NamePrefix+"AAAA")

	report, err := h.m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RefreshReport{Indexed: 2, Foreign: 2, Expired: 2}, report)

	ids := map[firewall.FilterID]bool{}
	for _, e := range h.m.List() {
		ids[e.ID] = true
	}
	assert.Equal(t, map[firewall.FilterID]bool{live: true, v6: true}, ids)

	e, ok := h.m.Lookup(v6)
	require.True(t, ok)
	assert.Equal(t, fwdata.FamilyIPv6, e.Family)

	for _, id := range []firewall.FilterID{expired, atNow} {
		_, ok := h.backend.Get(id)
		assert.False(t, ok, "expired rule %d deleted", id)
	}
	for _, id := range []firewall.FilterID{foreign, oldFormat} {
		_, ok := h.backend.Get(id)
		assert.True(t, ok, "foreign rule %d untouched", id)
	}
	assert.True(t, h.m.Status().SweepActive)
}

func TestRefresh_Duplicates(t *testing.T) {
	h := newHarness(t, Config{})

	older := injectManaged(h, start.Add(time.Hour), addr("192.0.2.1"))
	newer := injectManaged(h, start.Add(2*time.Hour), addr("192.0.2.1"))
	tieA := injectManaged(h, start.Add(time.Hour), addr("192.0.2.7"))
	tieB := injectManaged(h, start.Add(time.Hour), addr("192.0.2.7"))

	report, err := h.m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 2, report.Duplicates)

	_, ok := h.m.Lookup(newer)
	assert.True(t, ok, "later expiration wins")
	_, ok = h.backend.Get(older)
	assert.False(t, ok)

	_, ok = h.m.Lookup(tieA)
	assert.True(t, ok, "first indexed wins a tie")
	_, ok = h.backend.Get(tieB)
	assert.False(t, ok)
}

func TestRefresh_ListFailureKeepsIndex(t *testing.T) {
	h := newHarness(t, Config{})
	res := h.add(t, time.Hour, addr("192.0.2.1"))

	boom := errors.New("netlink gone")
	h.backend.SetFailures(boom, nil, nil)
	_, err := h.m.Refresh(context.Background())
	assert.ErrorIs(t, err, boom)

	entries := h.m.List()
	require.Len(t, entries, 1)
	assert.Equal(t, res[0].ID, entries[0].ID)
}

func TestRefresh_EmptyDisablesSweep(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.add(t, time.Hour, addr("192.0.2.1"))[0].ID

	// Someone else deleted the rule behind our back.
	require.NoError(t, h.backend.Remove(context.Background(), id))
	report, err := h.m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Indexed)
	assert.False(t, h.m.Status().SweepActive)
}

func TestRefresh_ThenAddDeduplicates(t *testing.T) {
	h := newHarness(t, Config{})
	id := injectManaged(h, start.Add(time.Hour), addr("192.0.2.1"))
	_, err := h.m.Refresh(context.Background())
	require.NoError(t, err)

	res := h.add(t, time.Hour, addr("192.0.2.1"))
	assert.Equal(t, OutcomeNearDuplicate, res[0].Outcome)
	assert.Equal(t, id, res[0].ID)
}

func TestRemove(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	indexed := h.add(t, time.Hour, addr("192.0.2.1"))[0].ID
	unindexed := injectManaged(h, start.Add(time.Hour), addr("192.0.2.2"))
	foreign := h.backend.Inject(fwdata.FamilyIPv4, "not ours")

	require.NoError(t, h.m.Remove(ctx, indexed))
	_, ok := h.m.Lookup(indexed)
	assert.False(t, ok)

	require.NoError(t, h.m.Remove(ctx, unindexed))
	assert.ErrorIs(t, h.m.Remove(ctx, foreign), ErrNotManaged)
	assert.ErrorIs(t, h.m.Remove(ctx, 9999), ErrNotManaged)

	rules := h.backend.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, foreign, rules[0].ID)
}

func TestRemoveAllAndUnknown(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.add(t, time.Hour, addr("192.0.2.1"))
	injectManaged(h, start.Add(time.Hour), addr("192.0.2.2"))
	foreign := h.backend.Inject(fwdata.FamilyIPv4, "legacy rule")

	n, err := h.m.RemoveAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, h.m.List())

	rules := h.backend.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, foreign, rules[0].ID)

	n, err = h.m.RemoveUnknown(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, h.backend.Len())
}
