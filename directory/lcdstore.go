package directory

import (
	"sync"

	"github.com/M0rious/joynr/logger"
)

// LcdStore holds joint custody of the local store, the cache, and the two
// participant-id mappings (gbids, awaitGlobal), and enforces the
// scope-aware merge rules that decide whether a lookup can be answered
// without going remote.
//
// Go has no built-in re-entrant mutex, unlike the recursive lock the base
// design calls for (merge helpers re-enter it via the optional-returning
// search methods). Re-entrancy is replaced by a private, unexported
// "locked" method family that assumes the caller already holds the lock;
// every exported method acquires the lock once and then calls into the
// locked family, so the lock is never acquired twice on the same call
// stack. See DESIGN.md Open Question #1.
type LcdStore struct {
	mu sync.Mutex

	local *EntryStore
	cache *CachingStore

	participantToGbids       map[string][]string
	participantToAwaitGlobal map[string]bool

	logger logger.Logger
}

// New returns an empty LcdStore.
func New(log logger.Logger) *LcdStore {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &LcdStore{
		local:                    NewEntryStore(),
		cache:                    NewCachingStore(),
		participantToGbids:       make(map[string][]string),
		participantToAwaitGlobal: make(map[string]bool),
		logger:                   log,
	}
}

// InsertLocal removes any cache row for the same participant id (spec
// invariant 1: a participant id never lives in both stores at once),
// inserts the entry into the local store, records awaitGlobal, and for
// global-scope entries merges gbids into the participant-to-gbids mapping
// (union, order-preserving). Re-registering a participant id with
// equivalent content (EqualIgnoringLastSeen) is a freshness refresh rather
// than a change, so it is logged at Debug instead of the Info level a real
// content change gets.
func (s *LcdStore) InsertLocal(e Entry, awaitGlobal bool, gbids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, hadCache := s.cache.RemoveByParticipantID(e.ParticipantID); hadCache {
		s.logger.Warn("evicting cache row shadowed by local registration", map[string]interface{}{
			"participant_id": e.ParticipantID,
		})
	}

	if previous, existed := s.local.LookupByParticipantID(e.ParticipantID); existed {
		if previous.EqualIgnoringLastSeen(e) {
			s.logger.Debug("local registration refreshed", map[string]interface{}{"participant_id": e.ParticipantID})
		} else {
			s.logger.Info("local registration content changed", map[string]interface{}{"participant_id": e.ParticipantID})
		}
	}

	s.local.Insert(e)
	s.participantToAwaitGlobal[e.ParticipantID] = awaitGlobal

	if e.Qos.Scope == ScopeGlobal {
		s.mergeGbids(e.ParticipantID, gbids)
	}
}

// InsertCache inserts e into the cache and merges gbids the same way
// InsertLocal does.
func (s *LcdStore) InsertCache(e Entry, gbids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Insert(e)
	s.mergeGbids(e.ParticipantID, gbids)
}

func (s *LcdStore) mergeGbids(participantID string, gbids []string) {
	if len(gbids) == 0 {
		return
	}
	existing := s.participantToGbids[participantID]
	seen := make(map[string]struct{}, len(existing))
	for _, g := range existing {
		seen[g] = struct{}{}
	}
	for _, g := range gbids {
		if _, ok := seen[g]; !ok {
			existing = append(existing, g)
			seen[g] = struct{}{}
		}
	}
	s.participantToGbids[participantID] = existing
}

// Remove erases participantID from the local store and both mappings,
// returning the removed entry for the caller's router cleanup.
func (s *LcdStore) Remove(participantID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.local.RemoveByParticipantID(participantID)
	delete(s.participantToGbids, participantID)
	delete(s.participantToAwaitGlobal, participantID)
	return e, ok
}

// GbidsFor returns the gbids a participant is registered under, if any.
func (s *LcdStore) GbidsFor(participantID string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gbids, ok := s.participantToGbids[participantID]
	return gbids, ok
}

// AwaitGlobalFor returns the awaitGlobal flag recorded for a locally
// registered participant.
func (s *LcdStore) AwaitGlobalFor(participantID string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.participantToAwaitGlobal[participantID]
	return v, ok
}

// passesGbidFilter implements the gbid-filtering rule: an entry passes if
// it has no gbid mapping at all (purely-local entries never get one), or
// if the requested gbid set intersects the mapped set. An empty requested
// set is treated as "no filtering" (used by the background loops that
// operate over every gbid).
func (s *LcdStore) passesGbidFilter(participantID string, requested []string) bool {
	mapped, hasMapping := s.participantToGbids[participantID]
	if !hasMapping {
		return true
	}
	if len(requested) == 0 {
		return true
	}
	reqSet := make(map[string]struct{}, len(requested))
	for _, g := range requested {
		reqSet[g] = struct{}{}
	}
	for _, g := range mapped {
		if _, ok := reqSet[g]; ok {
			return true
		}
	}
	return false
}

// PassesGbidFilter is the exported, locking form of passesGbidFilter, used
// by callers outside this package (pendinglookups.Registry.Resolve) that
// need to re-apply a caller's own gbid filter to an already-resolved
// result set.
func (s *LcdStore) PassesGbidFilter(participantID string, requested []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passesGbidFilter(participantID, requested)
}

// ResultCallback receives the entries resolved for a lookup that could be
// satisfied without going remote.
type ResultCallback func([]EntryWithMeta)

// LookupLocalAndCachedByInterface runs the merge algorithm for a
// (domains, interfaceName) lookup. It returns satisfied=true and invokes
// cb when the scope can be answered without a remote fetch.
func (s *LcdStore) LookupLocalAndCachedByInterface(domains []string, interfaceName string, qos DiscoveryQos, gbids []string, cb ResultCallback) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var local, cached []Entry
	for _, domain := range domains {
		for _, e := range s.local.LookupByDomainAndInterface(domain, interfaceName) {
			if s.passesGbidFilter(e.ParticipantID, gbids) {
				local = append(local, e)
			}
		}
		for _, e := range s.cache.LookupByDomainAndInterface(domain, interfaceName, qos.CacheMaxAge) {
			if s.passesGbidFilter(e.ParticipantID, gbids) {
				cached = append(cached, e)
			}
		}
	}

	result, satisfied := mergeByScope(qos.Scope, local, cached)
	if satisfied {
		cb(result)
	}
	return satisfied
}

// LookupLocalAndCachedByParticipant runs the by-participant variant of the
// merge algorithm. found reports whether a row for the participant was found
// that passes the gbid filter (and, for a cache row, is within
// qos.CacheMaxAge); under GLOBAL_ONLY a LOCAL-scope local row does not count.
func (s *LcdStore) LookupLocalAndCachedByParticipant(participantID string, qos DiscoveryQos, gbids []string, cb ResultCallback) (satisfied, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	localEntry, hasLocal := s.local.LookupByParticipantID(participantID)
	cacheEntry, hasCache := s.cache.LookupByParticipantID(participantID, qos.CacheMaxAge)

	if hasLocal && !s.passesGbidFilter(participantID, gbids) {
		hasLocal = false
	}
	if hasCache && !s.passesGbidFilter(participantID, gbids) {
		hasCache = false
	}

	switch qos.Scope {
	case ScopeLocalOnly:
		if hasLocal {
			cb([]EntryWithMeta{{Entry: localEntry, IsLocal: true}})
			return true, true
		}
		cb(nil)
		return true, hasCache

	case ScopeLocalThenGlobal:
		if hasLocal {
			cb([]EntryWithMeta{{Entry: localEntry, IsLocal: true}})
			return true, true
		}
		if hasCache {
			cb([]EntryWithMeta{{Entry: cacheEntry, IsLocal: false}})
			return true, true
		}
		return false, false

	case ScopeLocalAndGlobal:
		// A locally-found entry is returned directly, regardless of its
		// own provider scope, except under GLOBAL_ONLY (handled below).
		if hasLocal {
			cb([]EntryWithMeta{{Entry: localEntry, IsLocal: true}})
			return true, true
		}
		if hasCache {
			cb([]EntryWithMeta{{Entry: cacheEntry, IsLocal: false}})
			return true, true
		}
		return false, false

	case ScopeGlobalOnly:
		if hasLocal && localEntry.Qos.Scope == ScopeGlobal {
			// Treated as a global result per the by-participant rule.
			cb([]EntryWithMeta{{Entry: localEntry, IsLocal: false}})
			return true, true
		}
		if hasLocal {
			// A LOCAL-scope entry is never exposed to a GLOBAL_ONLY query.
			hasLocal = false
		}
		if hasCache {
			cb([]EntryWithMeta{{Entry: cacheEntry, IsLocal: false}})
			return true, true
		}
		return false, hasCache

	default:
		return false, false
	}
}

// mergeByScope implements the table in the merge algorithm: given local
// and cache results already filtered by gbid membership, decide whether
// the scope can be satisfied now and what to return.
func mergeByScope(scope DiscoveryScope, local, cached []Entry) (result []EntryWithMeta, satisfied bool) {
	switch scope {
	case ScopeLocalOnly:
		return withMeta(local, true), true

	case ScopeLocalThenGlobal:
		if len(local) > 0 {
			return withMeta(local, true), true
		}
		if len(cached) > 0 {
			return withMeta(cached, false), true
		}
		return nil, false

	case ScopeLocalAndGlobal:
		if len(cached) > 0 || len(local) > 0 {
			return dedupLocalWins(local, cached), true
		}
		return nil, false

	case ScopeGlobalOnly:
		var globalLocal []Entry
		for _, e := range local {
			if e.Qos.Scope == ScopeGlobal {
				globalLocal = append(globalLocal, e)
			}
		}
		if len(cached) > 0 {
			return dedupLocalWins(globalLocal, cached), true
		}
		return nil, false

	default:
		return nil, false
	}
}

func withMeta(entries []Entry, isLocal bool) []EntryWithMeta {
	out := make([]EntryWithMeta, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryWithMeta{Entry: e, IsLocal: isLocal})
	}
	return out
}

// dedupLocalWins unions local (tagged local) and global (tagged global)
// results, keeping the local row on a participant-id collision. The
// source's filterDuplicates comment claims the opposite, but its own test
// (and runtime behavior) keeps the local row — see DESIGN.md Open
// Question / possible-bug note.
func dedupLocalWins(local, global []Entry) []EntryWithMeta {
	out := make([]EntryWithMeta, 0, len(local)+len(global))
	seen := make(map[string]struct{}, len(local)+len(global))

	for _, e := range local {
		if _, dup := seen[e.ParticipantID]; dup {
			continue
		}
		seen[e.ParticipantID] = struct{}{}
		out = append(out, EntryWithMeta{Entry: e, IsLocal: true})
	}
	for _, e := range global {
		if _, dup := seen[e.ParticipantID]; dup {
			continue
		}
		seen[e.ParticipantID] = struct{}{}
		out = append(out, EntryWithMeta{Entry: e, IsLocal: false})
	}
	return out
}

// CachedGlobalEntries returns every cache row, for the stale-purge loop.
func (s *LcdStore) CachedGlobalEntries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.All()
}

// AllGlobalCapabilities returns every locally-registered GLOBAL-scope
// entry, for the re-add loop.
func (s *LcdStore) AllGlobalCapabilities() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.local.All() {
		if e.Qos.Scope == ScopeGlobal {
			out = append(out, e)
		}
	}
	return out
}

// CountGlobalCapabilities returns the number of locally-registered
// GLOBAL-scope entries.
func (s *LcdStore) CountGlobalCapabilities() int {
	return len(s.AllGlobalCapabilities())
}

// AllLocalParticipantIDs returns every participant id currently in the
// local store, for the freshness-touch loop.
func (s *LcdStore) AllLocalParticipantIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.local.All()
	ids := make([]string, 0, len(all))
	for _, e := range all {
		ids = append(ids, e.ParticipantID)
	}
	return ids
}

// SweepExpired removes every entry (local or cached) whose ExpiryMs has
// passed, returning the removed local entries so the caller can clean up
// router hops for them.
func (s *LcdStore) SweepExpired(nowMs int64) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removedLocal []Entry
	for _, e := range s.local.All() {
		if e.ExpiryMs > 0 && e.ExpiryMs <= nowMs {
			s.local.RemoveByParticipantID(e.ParticipantID)
			delete(s.participantToGbids, e.ParticipantID)
			delete(s.participantToAwaitGlobal, e.ParticipantID)
			removedLocal = append(removedLocal, e)
		}
	}
	for _, e := range s.cache.All() {
		if e.ExpiryMs > 0 && e.ExpiryMs <= nowMs {
			s.cache.RemoveByParticipantID(e.ParticipantID)
		}
	}
	return removedLocal
}

// TouchLocal refreshes LastSeenMs on an already-registered local entry.
func (s *LcdStore) TouchLocal(participantID string, nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.local.LookupByParticipantID(participantID)
	if !ok {
		return
	}
	e.LastSeenMs = nowMs
	s.local.Insert(e)
}
