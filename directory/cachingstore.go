package directory

import "time"

// CachingStore is an EntryStore with a per-row insertion timestamp, so a
// lookup can bound how stale a cache hit is allowed to be. Grounded on
// core.MemoryStore's expiresAt bookkeeping, generalized from a single TTL
// per key to a caller-supplied max age per lookup.
type CachingStore struct {
	entries *EntryStore
	insertedAt map[string]time.Time
	now func() time.Time
}

// NewCachingStore returns an empty CachingStore using the real clock.
func NewCachingStore() *CachingStore {
	return &CachingStore{
		entries:    NewEntryStore(),
		insertedAt: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Insert records e with the current timestamp, replacing any existing row
// for the same participant id.
func (c *CachingStore) Insert(e Entry) {
	c.entries.Insert(e)
	c.insertedAt[e.ParticipantID] = c.now()
}

// LookupByParticipantID returns the row for id only if it is no older than
// maxAge (now - insertedAt <= maxAge). A zero maxAge therefore hits only a
// row inserted at the current instant; any row that has aged at all misses.
func (c *CachingStore) LookupByParticipantID(id string, maxAge time.Duration) (Entry, bool) {
	e, ok := c.entries.LookupByParticipantID(id)
	if !ok {
		return Entry{}, false
	}
	if !c.fresh(id, maxAge) {
		return Entry{}, false
	}
	return e, true
}

// LookupByDomainAndInterface returns every fresh row for (domain, iface).
func (c *CachingStore) LookupByDomainAndInterface(domain, iface string, maxAge time.Duration) []Entry {
	all := c.entries.LookupByDomainAndInterface(domain, iface)
	if len(all) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if c.fresh(e.ParticipantID, maxAge) {
			out = append(out, e)
		}
	}
	return out
}

func (c *CachingStore) fresh(id string, maxAge time.Duration) bool {
	t, ok := c.insertedAt[id]
	if !ok {
		return false
	}
	return c.now().Sub(t) <= maxAge
}

// RemoveByParticipantID removes a row regardless of staleness.
func (c *CachingStore) RemoveByParticipantID(id string) (Entry, bool) {
	delete(c.insertedAt, id)
	return c.entries.RemoveByParticipantID(id)
}

// All returns every row, fresh or stale; the expiry sweep removes entries
// by ExpiryMs, not by cache age — a stale cache row is invisible to
// lookups but not eagerly erased (spec invariant 4).
func (c *CachingStore) All() []Entry {
	return c.entries.All()
}

// Clear empties the store.
func (c *CachingStore) Clear() {
	c.entries.Clear()
	c.insertedAt = make(map[string]time.Time)
}

// Size returns the number of rows, fresh or stale.
func (c *CachingStore) Size() int {
	return c.entries.Size()
}
