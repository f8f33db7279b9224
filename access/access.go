// Package access defines the AccessCheck collaborator (base spec §6:
// "blocking, fast, in-memory policy evaluation") plus two default
// implementations: AllowAll for tests and environments with no access
// control, and DenyList for a participant-id blocklist.
package access

import (
	"sync"

	"github.com/M0rious/joynr/directory"
)

// AccessCheck decides whether a provider may register the given entry.
type AccessCheck interface {
	HasProviderPermission(entry directory.Entry) bool
}

// AllowAll permits every registration.
type AllowAll struct{}

// HasProviderPermission always returns true.
func (AllowAll) HasProviderPermission(entry directory.Entry) bool { return true }

// DenyList permits every registration except for participant ids on an
// explicit blocklist.
type DenyList struct {
	mu     sync.RWMutex
	denied map[string]struct{}
}

// NewDenyList returns a DenyList seeded with the given participant ids.
func NewDenyList(participantIDs ...string) *DenyList {
	denied := make(map[string]struct{}, len(participantIDs))
	for _, id := range participantIDs {
		denied[id] = struct{}{}
	}
	return &DenyList{denied: denied}
}

// HasProviderPermission returns false for any participant id on the
// blocklist, true otherwise.
func (d *DenyList) HasProviderPermission(entry directory.Entry) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, denied := d.denied[entry.ParticipantID]
	return !denied
}

// Deny adds a participant id to the blocklist.
func (d *DenyList) Deny(participantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denied[participantID] = struct{}{}
}

// Allow removes a participant id from the blocklist.
func (d *DenyList) Allow(participantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.denied, participantID)
}
