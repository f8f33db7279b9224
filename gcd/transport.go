// Package gcd implements the Global Capabilities Directory client: the
// Transport abstraction over the remote directory backends, a Redis-backed
// implementation of it, and a Client that drives every mutating RPC through
// a sequencer.TaskSequencer with retry-until-deadline semantics.
//
// Grounded on the teacher's core.RedisRegistry (wire format: one JSON blob
// per participant plus SADD-based secondary indexes) and pkg/discovery's
// Redis-backed catalog, generalized from "service capabilities" to
// "participants implementing interfaces", and sharded per gbid the way the
// teacher shards per namespace.
package gcd

import (
	"context"

	"github.com/M0rious/joynr/directory"
	"github.com/M0rious/joynr/joynrerrors"
)

// OnSuccess is called with the RPC's result, if any.
type OnSuccess func()

// OnApplicationError is called with a typed, GCD-deterministic error.
// Application errors are never retried.
type OnApplicationError func(*joynrerrors.DiscoveryError)

// OnRuntimeError is called with a transient/transport error. The caller
// (gcd.Client) retries on this until the task's deadline passes.
type OnRuntimeError func(error)

// LookupByInterfaceCallback receives the entries a remote lookup returned.
type LookupByInterfaceCallback func([]directory.GlobalEntry)

// LookupByParticipantCallback receives the single entry a remote
// by-participant lookup returned.
type LookupByParticipantCallback func(directory.GlobalEntry)

// Transport is the pluggable RPC stub against one or more remote directory
// backends, keyed by gbid. Every mutating/lookup call takes its own
// completion handlers rather than returning (err error), mirroring the
// async, callback-driven shape the base design specifies for GcdClient.
type Transport interface {
	Add(ctx context.Context, gbid string, entry directory.GlobalEntry, onSuccess OnSuccess, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError)
	Remove(ctx context.Context, gbid string, participantID string, onSuccess OnSuccess, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError)
	LookupByInterface(ctx context.Context, gbids []string, domains []string, interfaceName string, onSuccess LookupByInterfaceCallback, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError)
	LookupByParticipant(ctx context.Context, gbids []string, participantID string, onSuccess LookupByParticipantCallback, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError)
	Touch(ctx context.Context, gbid string, clusterControllerID string, participantIDs []string, onSuccess OnSuccess, onRuntimeErr OnRuntimeError)
	RemoveStale(ctx context.Context, gbid string, clusterControllerID string, maxLastSeenMs int64, onSuccess OnSuccess, onRuntimeErr OnRuntimeError)
}
