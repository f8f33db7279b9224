// Package directory implements the Local Capabilities Directory's data
// model and two-tier store: a set of locally-registered entries and a
// TTL-bounded cache of globally-looked-up entries, joined by scope-aware
// merge rules in LcdStore.
//
// The type shapes are grounded on the teacher framework's own discovery
// model (core.ServiceInfo, core.DiscoveryFilter, core.Capability) adapted
// from "which service implements which capability" to joynr's "which
// participant implements which interface on which domain, reachable
// through which backend(s)".
package directory

import "time"

// ProviderScope controls whether a provider is ever published to the
// Global Capabilities Directory.
type ProviderScope string

const (
	// ScopeLocal entries are never registered with the GCD and never
	// surface in a remote lookup.
	ScopeLocal ProviderScope = "LOCAL"
	// ScopeGlobal entries are published to the GCD on the gbids they were
	// registered with.
	ScopeGlobal ProviderScope = "GLOBAL"
)

// DiscoveryScope selects which of {local store, cache, remote directory}
// may answer a given lookup.
type DiscoveryScope string

const (
	ScopeLocalOnly       DiscoveryScope = "LOCAL_ONLY"
	ScopeLocalThenGlobal DiscoveryScope = "LOCAL_THEN_GLOBAL"
	ScopeLocalAndGlobal  DiscoveryScope = "LOCAL_AND_GLOBAL"
	ScopeGlobalOnly      DiscoveryScope = "GLOBAL_ONLY"
)

// Version identifies the interface version a provider implements.
type Version struct {
	Major int
	Minor int
}

// ProviderQos is the per-provider quality-of-service advertised at
// registration time.
type ProviderQos struct {
	Scope    ProviderScope
	Priority int64
	// SupportsOnChange mirrors the original's onChangeSubscriptions flag;
	// no subscription engine is implemented here (an explicit Non-goal),
	// but the field is preserved so one can be layered on later.
	SupportsOnChange bool
}

// Entry is a provider advertisement: which participant implements which
// interface on which domain, and on what terms.
type Entry struct {
	Version       Version
	Domain        string
	InterfaceName string
	ParticipantID string
	Qos           ProviderQos
	LastSeenMs    int64
	ExpiryMs      int64
	PublicKeyID   string
}

// EqualIgnoringLastSeen reports whether two entries are the same
// registration content, ignoring the LastSeenMs field that touches
// mutate. Grounded on the original's DiscoveryEntry comparator used by
// filterDuplicates, which never compares lastSeenDateMs.
func (e Entry) EqualIgnoringLastSeen(o Entry) bool {
	return e.Version == o.Version &&
		e.Domain == o.Domain &&
		e.InterfaceName == o.InterfaceName &&
		e.ParticipantID == o.ParticipantID &&
		e.Qos == o.Qos &&
		e.ExpiryMs == o.ExpiryMs &&
		e.PublicKeyID == o.PublicKeyID
}

// IsExpired reports whether the entry's expiry has passed as of now.
func (e Entry) IsExpired(now time.Time) bool {
	return e.ExpiryMs > 0 && e.ExpiryMs <= now.UnixMilli()
}

// EntryWithMeta is a read-time view of Entry annotated with where it was
// found.
type EntryWithMeta struct {
	Entry
	IsLocal bool
}

// GlobalEntry is Entry plus the serialized transport address a remote
// cluster controller uses to reach the provider, and the id of the
// cluster controller that owns the registration — the ownership the GCD
// transport's RemoveStale purge keys off of.
type GlobalEntry struct {
	Entry
	Address             string
	ClusterControllerID string
}

// DiscoveryQos configures one lookup call.
type DiscoveryQos struct {
	CacheMaxAge      time.Duration
	DiscoveryTimeout time.Duration
	Scope            DiscoveryScope
}

// InterfaceAddress is the (domain, interfaceName) key lookups and the
// pending-lookup coalescer index entries by.
type InterfaceAddress struct {
	Domain        string
	InterfaceName string
}
