// Package pendinglookups implements the coalescing registry that collapses
// a burst of concurrent LOCAL_THEN_GLOBAL lookups for the same interface or
// participant into exactly one remote fetch.
//
// The pack carries no singleflight-equivalent; this is deliberately built
// on sync.Mutex plus a slice-backed waiter list, the same primitives
// golang.org/x/sync/singleflight itself compiles down to, rather than
// importing an unrelated library to cover a shape none of the examples
// show. Shaped after the teacher's MockDiscovery single-writer-map style
// (core/mock_discovery.go), extended with a waiter list per key.
package pendinglookups

import (
	"sync"

	"github.com/M0rious/joynr/directory"
)

// ResultCallback receives the entries a resolved lookup produced.
type ResultCallback func([]directory.EntryWithMeta)

// ErrorCallback receives the error a failed lookup produced.
type ErrorCallback func(error)

type waiter struct {
	onResult ResultCallback
	onError  ErrorCallback
	qos      directory.DiscoveryQos
	gbids    []string
}

// Registry maps a lookup key to the list of callers waiting on its
// in-flight remote fetch.
type Registry struct {
	mu      sync.Mutex
	waiters map[string][]waiter
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{waiters: make(map[string][]waiter)}
}

// Register adds a waiter for key. first reports whether this is the first
// waiter registered for key since it last drained — the caller must
// initiate the remote fetch only when first is true; every other caller
// piggybacks on that fetch's Resolve/Fail.
func (r *Registry) Register(key string, onResult ResultCallback, onError ErrorCallback, qos directory.DiscoveryQos, gbids []string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, had := r.waiters[key]
	r.waiters[key] = append(existing, waiter{onResult: onResult, onError: onError, qos: qos, gbids: gbids})
	return !had || len(existing) == 0
}

// GbidFilter reports whether participantID's known gbid mapping intersects
// requested, the same rule LcdStore.passesGbidFilter applies to a local or
// cached read.
type GbidFilter func(participantID string, requested []string) bool

// Resolve pops every waiter registered for key and invokes each one's
// onResult with entries, in registration order. Every waiter on key shares
// the one remote fetch that produced entries, whose gbids need not match a
// given waiter's own, so a waiter would otherwise see entries reachable only
// on a backend it never asked for; passesFilter re-applies each waiter's
// own requested gbids (and is a no-op, matching every entry, for a waiter
// that asked for none).
func (r *Registry) Resolve(key string, entries []directory.EntryWithMeta, passesFilter GbidFilter) {
	r.mu.Lock()
	waiters := r.waiters[key]
	delete(r.waiters, key)
	r.mu.Unlock()

	for _, w := range waiters {
		if len(w.gbids) == 0 || passesFilter == nil {
			w.onResult(entries)
			continue
		}
		filtered := make([]directory.EntryWithMeta, 0, len(entries))
		for _, e := range entries {
			if passesFilter(e.ParticipantID, w.gbids) {
				filtered = append(filtered, e)
			}
		}
		w.onResult(filtered)
	}
}

// Fail pops every waiter registered for key and invokes each one's onError
// with err, in registration order.
func (r *Registry) Fail(key string, err error) {
	r.mu.Lock()
	waiters := r.waiters[key]
	delete(r.waiters, key)
	r.mu.Unlock()

	for _, w := range waiters {
		w.onError(err)
	}
}

// Pending reports whether key currently has at least one registered
// waiter, for tests and diagnostics.
func (r *Registry) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters[key]) > 0
}

// FailAll drains every key and fails every waiter with err, used by
// LcdService.Shutdown to reject outstanding lookups with a SHUTDOWN error.
func (r *Registry) FailAll(err error) {
	r.mu.Lock()
	all := r.waiters
	r.waiters = make(map[string][]waiter)
	r.mu.Unlock()

	for _, waiters := range all {
		for _, w := range waiters {
			w.onError(err)
		}
	}
}
