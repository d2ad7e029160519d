package interval

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Entry is one booked range on a resource.
type Entry struct {
	Ref      EntryRef
	Resource string
	Owner    uuid.UUID
	Range    Range
}

// EntryRef identifies an inserted entry so it can be removed later.
type EntryRef struct {
	resource string
	id       uint64
}

func (r EntryRef) Resource() string { return r.resource }

// Index keeps the booked ranges of every resource and answers overlap
// queries. Each resource has its own lock so mutations on unrelated
// resources never contend.
type Index struct {
	mu        sync.RWMutex
	resources map[string]*resourceSet
	nextID    atomic.Uint64
}

type resourceSet struct {
	mu sync.RWMutex
	// sorted by Range.Start, ties by insertion id
	entries []Entry
}

func NewIndex() *Index {
	return &Index{resources: make(map[string]*resourceSet)}
}

func (ix *Index) set(resource string) *resourceSet {
	ix.mu.RLock()
	rs, ok := ix.resources[resource]
	ix.mu.RUnlock()
	if ok {
		return rs
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if rs, ok = ix.resources[resource]; ok {
		return rs
	}
	rs = &resourceSet{}
	ix.resources[resource] = rs
	return rs
}

// Insert records a range for a resource and returns a ref for removal.
func (ix *Index) Insert(resource string, owner uuid.UUID, r Range) EntryRef {
	ref := EntryRef{resource: resource, id: ix.nextID.Add(1)}
	e := Entry{Ref: ref, Resource: resource, Owner: owner, Range: r}

	rs := ix.set(resource)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	pos := sort.Search(len(rs.entries), func(i int) bool {
		if rs.entries[i].Range.Start.Equal(r.Start) {
			return rs.entries[i].Ref.id > ref.id
		}
		return rs.entries[i].Range.Start.After(r.Start)
	})
	rs.entries = append(rs.entries, Entry{})
	copy(rs.entries[pos+1:], rs.entries[pos:])
	rs.entries[pos] = e
	return ref
}

// Remove deletes the entry behind ref. Returns false if it was not present.
func (ix *Index) Remove(ref EntryRef) bool {
	ix.mu.RLock()
	rs, ok := ix.resources[ref.resource]
	ix.mu.RUnlock()
	if !ok {
		return false
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	for i, e := range rs.entries {
		if e.Ref.id == ref.id {
			rs.entries = append(rs.entries[:i], rs.entries[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveOwner deletes every entry on a resource owned by owner and
// returns how many were removed.
func (ix *Index) RemoveOwner(resource string, owner uuid.UUID) int {
	ix.mu.RLock()
	rs, ok := ix.resources[resource]
	ix.mu.RUnlock()
	if !ok {
		return 0
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	kept := rs.entries[:0]
	removed := 0
	for _, e := range rs.entries {
		if e.Owner == owner {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	rs.entries = kept
	return removed
}

// Overlapping returns every entry on the resource whose range overlaps r.
func (ix *Index) Overlapping(resource string, r Range) []Entry {
	ix.mu.RLock()
	rs, ok := ix.resources[resource]
	ix.mu.RUnlock()
	if !ok {
		return nil
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	// Entries are sorted by start, so nothing at or past r.End can overlap.
	limit := sort.Search(len(rs.entries), func(i int) bool {
		return !rs.entries[i].Range.Start.Before(r.End)
	})

	var out []Entry
	for _, e := range rs.entries[:limit] {
		if e.Range.End.After(r.Start) {
			out = append(out, e)
		}
	}
	return out
}

// OverlappingExcluding is Overlapping minus entries owned by any of the
// given owners. Detection uses it to skip a booking's own entries.
func (ix *Index) OverlappingExcluding(resource string, r Range, owners ...uuid.UUID) []Entry {
	all := ix.Overlapping(resource, r)
	if len(all) == 0 {
		return nil
	}
	out := all[:0]
outer:
	for _, e := range all {
		for _, o := range owners {
			if e.Owner == o {
				continue outer
			}
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of entries currently held for a resource.
func (ix *Index) Len(resource string) int {
	ix.mu.RLock()
	rs, ok := ix.resources[resource]
	ix.mu.RUnlock()
	if !ok {
		return 0
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.entries)
}
