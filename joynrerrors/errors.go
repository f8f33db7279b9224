// Package joynrerrors implements the error taxonomy from the capabilities
// directory's error handling design: typed, never-retried application
// errors from the GCD, untyped runtime errors that are retried until a
// deadline, and local synchronous errors reported straight to the caller.
package joynrerrors

import (
	"errors"
	"fmt"
)

// DiscoveryErrorKind enumerates the typed application errors a GCD can
// return. These are deterministic responses and are never retried.
type DiscoveryErrorKind string

const (
	UnknownGbid                DiscoveryErrorKind = "UNKNOWN_GBID"
	InvalidGbid                DiscoveryErrorKind = "INVALID_GBID"
	InternalError               DiscoveryErrorKind = "INTERNAL_ERROR"
	NoEntryForParticipant       DiscoveryErrorKind = "NO_ENTRY_FOR_PARTICIPANT"
	NoEntryForSelectedBackends  DiscoveryErrorKind = "NO_ENTRY_FOR_SELECTED_BACKENDS"
	NotAccessible               DiscoveryErrorKind = "NOT_ACCESSIBLE"
)

// Sentinel errors for comparison via errors.Is.
var (
	ErrUnknownGbid               = errors.New(string(UnknownGbid))
	ErrInvalidGbid               = errors.New(string(InvalidGbid))
	ErrInternal                  = errors.New(string(InternalError))
	ErrNoEntryForParticipant     = errors.New(string(NoEntryForParticipant))
	ErrNoEntryForSelectedBackends = errors.New(string(NoEntryForSelectedBackends))
	ErrNotAccessible             = errors.New(string(NotAccessible))

	// Local, synchronous errors — never sent over the wire.
	ErrProviderRuntimeException = errors.New("provider runtime exception")
	ErrDuplicateLocalRegistration = errors.New("duplicate registration for locally-registered provider")
	ErrStoreCorruption          = errors.New("discovery store corruption")

	// ErrShutdown is surfaced to pending lookups and sequencer tasks when
	// the service is torn down while they are outstanding.
	ErrShutdown = errors.New("local capabilities directory shut down")
	// ErrCancelled is used for sequencer tasks drained by cancelAll.
	ErrCancelled = errors.New("task cancelled")
	// ErrTaskExpired is used when a task's deadline passes before it runs.
	ErrTaskExpired = errors.New("task expired before execution")
)

var kindToSentinel = map[DiscoveryErrorKind]error{
	UnknownGbid:                ErrUnknownGbid,
	InvalidGbid:                ErrInvalidGbid,
	InternalError:               ErrInternal,
	NoEntryForParticipant:       ErrNoEntryForParticipant,
	NoEntryForSelectedBackends:  ErrNoEntryForSelectedBackends,
	NotAccessible:               ErrNotAccessible,
}

// DiscoveryError wraps a typed application error with the operation and
// participant id it concerns, the way core.FrameworkError wraps generic
// framework errors with Op/Kind/ID context.
type DiscoveryError struct {
	Op            string
	Kind          DiscoveryErrorKind
	ParticipantID string
	Err           error
}

func (e *DiscoveryError) Error() string {
	if e.ParticipantID != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Op, e.ParticipantID, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *DiscoveryError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if sentinel, ok := kindToSentinel[e.Kind]; ok {
		return sentinel
	}
	return nil
}

// NewDiscoveryError builds a DiscoveryError for the given operation, kind
// and participant id.
func NewDiscoveryError(op string, kind DiscoveryErrorKind, participantID string) *DiscoveryError {
	return &DiscoveryError{Op: op, Kind: kind, ParticipantID: participantID}
}

// IsApplicationError reports whether err is one of the typed, non-retryable
// application errors.
func IsApplicationError(err error) bool {
	for _, sentinel := range kindToSentinel {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	var de *DiscoveryError
	return errors.As(err, &de)
}

// IsRetryable reports whether err represents a transient runtime failure
// that the GCD client's retry policy should keep retrying until its
// deadline, as opposed to a typed application error (never retried) or a
// local synchronous error (reported immediately).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsApplicationError(err) {
		return false
	}
	if errors.Is(err, ErrShutdown) || errors.Is(err, ErrCancelled) || errors.Is(err, ErrTaskExpired) {
		return false
	}
	if errors.Is(err, ErrProviderRuntimeException) || errors.Is(err, ErrDuplicateLocalRegistration) || errors.Is(err, ErrStoreCorruption) {
		return false
	}
	return true
}

// GbidValidation is the outcome of validateGbids.
type GbidValidation int

const (
	GbidOK GbidValidation = iota
	GbidInvalid
	GbidUnknown
)

// ValidateGbids implements the boundary rules from the error handling
// design: empty strings or duplicates are INVALID, a gbid absent from the
// known set is UNKNOWN.
func ValidateGbids(requested, known []string) GbidValidation {
	if len(requested) == 0 {
		return GbidOK
	}

	knownSet := make(map[string]struct{}, len(known))
	for _, g := range known {
		knownSet[g] = struct{}{}
	}

	seen := make(map[string]struct{}, len(requested))
	for _, g := range requested {
		if g == "" {
			return GbidInvalid
		}
		if _, dup := seen[g]; dup {
			return GbidInvalid
		}
		seen[g] = struct{}{}
	}

	for _, g := range requested {
		if _, ok := knownSet[g]; !ok {
			return GbidUnknown
		}
	}

	return GbidOK
}
