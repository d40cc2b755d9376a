package rules

import (
	"sort"
	"time"

	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/fwdata"
)

// entry is one indexed backend rule.
type entry struct {
	id         firewall.FilterID
	hash       fwdata.Hash // family-tagged
	family     fwdata.Family
	expiration time.Time
	name       string

	// slot is the unique expiry key: expiration in Unix ns, bumped past
	// collisions.
	slot int64
}

// Entry is the exported view of an indexed rule.
type Entry struct {
	ID         firewall.FilterID
	Hash       fwdata.Hash
	Family     fwdata.Family
	Expiration time.Time
	Name       string
}

func (e *entry) export() Entry {
	return Entry{ID: e.id, Hash: e.hash, Family: e.family, Expiration: e.expiration, Name: e.name}
}

// expiryIndex keeps entries ordered by slot.
type expiryIndex struct {
	items []*entry
}

func (x *expiryIndex) search(slot int64) int {
	return sort.Search(len(x.items), func(i int) bool { return x.items[i].slot >= slot })
}

// insert assigns e a free slot at or after its expiration.
func (x *expiryIndex) insert(e *entry) {
	slot := e.expiration.UnixNano()
	i := x.search(slot)
	for i < len(x.items) && x.items[i].slot == slot {
		slot++
		i++
	}
	e.slot = slot
	x.items = append(x.items, nil)
	copy(x.items[i+1:], x.items[i:])
	x.items[i] = e
}

func (x *expiryIndex) remove(e *entry) {
	i := x.search(e.slot)
	if i < len(x.items) && x.items[i] == e {
		x.items = append(x.items[:i], x.items[i+1:]...)
	}
}

// popThrough removes and returns every entry with slot <= limit.
func (x *expiryIndex) popThrough(limit int64) []*entry {
	n := sort.Search(len(x.items), func(i int) bool { return x.items[i].slot > limit })
	if n == 0 {
		return nil
	}
	out := make([]*entry, n)
	copy(out, x.items[:n])
	x.items = append(x.items[:0], x.items[n:]...)
	return out
}

func (x *expiryIndex) len() int {
	return len(x.items)
}

// index is the complete bookkeeping: id to entry, hash to entry and the
// expiry order. All three always hold the same set of entries.
type index struct {
	byID   map[firewall.FilterID]*entry
	byHash map[fwdata.Hash]*entry
	expiry expiryIndex
	counts map[fwdata.Family]int
}

func newIndex() *index {
	return &index{
		byID:   make(map[firewall.FilterID]*entry),
		byHash: make(map[fwdata.Hash]*entry),
		counts: make(map[fwdata.Family]int),
	}
}

func (ix *index) add(e *entry) {
	ix.expiry.insert(e)
	ix.byID[e.id] = e
	ix.byHash[e.hash] = e
	ix.counts[e.family]++
}

func (ix *index) remove(e *entry) {
	ix.expiry.remove(e)
	delete(ix.byID, e.id)
	if ix.byHash[e.hash] == e {
		delete(ix.byHash, e.hash)
	}
	ix.counts[e.family]--
}

// popExpired removes entries due at or before now.
func (ix *index) popExpired(now time.Time) []*entry {
	due := ix.expiry.popThrough(now.UnixNano())
	for _, e := range due {
		delete(ix.byID, e.id)
		if ix.byHash[e.hash] == e {
			delete(ix.byHash, e.hash)
		}
		ix.counts[e.family]--
	}
	return due
}

func (ix *index) len() int {
	return ix.expiry.len()
}
