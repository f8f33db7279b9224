package gcd

import (
	"context"
	"sync"

	"github.com/M0rious/joynr/directory"
	"github.com/M0rious/joynr/joynrerrors"
)

// MockTransport is an in-memory Transport for tests, grounded on the
// teacher's MockDiscovery: a primary map plus a secondary index kept in
// sync on every mutation, with no network calls.
type MockTransport struct {
	mu         sync.Mutex
	byID       map[string]directory.GlobalEntry
	ownerCC    map[string]string
	byInterface map[directory.InterfaceAddress][]string
	knownGbids map[string]struct{}

	// FailNextWith, if set, makes the next call fail with this runtime
	// error instead of succeeding, then resets to nil.
	FailNextWith error
}

// NewMockTransport returns an empty MockTransport accepting the given
// gbids.
func NewMockTransport(knownGbids []string) *MockTransport {
	known := make(map[string]struct{}, len(knownGbids))
	for _, g := range knownGbids {
		known[g] = struct{}{}
	}
	return &MockTransport{
		byID:        make(map[string]directory.GlobalEntry),
		ownerCC:     make(map[string]string),
		byInterface: make(map[directory.InterfaceAddress][]string),
		knownGbids:  known,
	}
}

func (m *MockTransport) takeFailure() error {
	err := m.FailNextWith
	m.FailNextWith = nil
	return err
}

func (m *MockTransport) Add(ctx context.Context, gbid string, entry directory.GlobalEntry, onSuccess OnSuccess, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.knownGbids[gbid]; !ok {
		onAppErr(joynrerrors.NewDiscoveryError("add", joynrerrors.UnknownGbid, entry.ParticipantID))
		return
	}
	if err := m.takeFailure(); err != nil {
		onRuntimeErr(err)
		return
	}

	m.byID[entry.ParticipantID] = entry
	m.ownerCC[entry.ParticipantID] = entry.ClusterControllerID
	key := directory.InterfaceAddress{Domain: entry.Domain, InterfaceName: entry.InterfaceName}
	if !contains(m.byInterface[key], entry.ParticipantID) {
		m.byInterface[key] = append(m.byInterface[key], entry.ParticipantID)
	}
	onSuccess()
}

func (m *MockTransport) Remove(ctx context.Context, gbid string, participantID string, onSuccess OnSuccess, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.knownGbids[gbid]; !ok {
		onAppErr(joynrerrors.NewDiscoveryError("remove", joynrerrors.UnknownGbid, participantID))
		return
	}
	entry, ok := m.byID[participantID]
	if !ok {
		onAppErr(joynrerrors.NewDiscoveryError("remove", joynrerrors.NoEntryForParticipant, participantID))
		return
	}
	if err := m.takeFailure(); err != nil {
		onRuntimeErr(err)
		return
	}

	delete(m.byID, participantID)
	delete(m.ownerCC, participantID)
	key := directory.InterfaceAddress{Domain: entry.Domain, InterfaceName: entry.InterfaceName}
	m.byInterface[key] = removeString(m.byInterface[key], participantID)
	onSuccess()
}

func (m *MockTransport) LookupByInterface(ctx context.Context, gbids []string, domains []string, interfaceName string, onSuccess LookupByInterfaceCallback, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, gbid := range gbids {
		if _, ok := m.knownGbids[gbid]; !ok {
			onAppErr(joynrerrors.NewDiscoveryError("lookup", joynrerrors.UnknownGbid, ""))
			return
		}
	}
	if err := m.takeFailure(); err != nil {
		onRuntimeErr(err)
		return
	}

	var result []directory.GlobalEntry
	seen := make(map[string]struct{})
	for _, domain := range domains {
		for _, id := range m.byInterface[directory.InterfaceAddress{Domain: domain, InterfaceName: interfaceName}] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			result = append(result, m.byID[id])
		}
	}
	onSuccess(result)
}

func (m *MockTransport) LookupByParticipant(ctx context.Context, gbids []string, participantID string, onSuccess LookupByParticipantCallback, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, gbid := range gbids {
		if _, ok := m.knownGbids[gbid]; !ok {
			onAppErr(joynrerrors.NewDiscoveryError("lookup", joynrerrors.UnknownGbid, participantID))
			return
		}
	}
	if err := m.takeFailure(); err != nil {
		onRuntimeErr(err)
		return
	}

	entry, ok := m.byID[participantID]
	if !ok {
		onAppErr(joynrerrors.NewDiscoveryError("lookup", joynrerrors.NoEntryForParticipant, participantID))
		return
	}
	onSuccess(entry)
}

func (m *MockTransport) Touch(ctx context.Context, gbid string, clusterControllerID string, participantIDs []string, onSuccess OnSuccess, onRuntimeErr OnRuntimeError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		onRuntimeErr(err)
		return
	}
	for _, id := range participantIDs {
		if _, ok := m.byID[id]; ok {
			m.ownerCC[id] = clusterControllerID
		}
	}
	onSuccess()
}

func (m *MockTransport) RemoveStale(ctx context.Context, gbid string, clusterControllerID string, maxLastSeenMs int64, onSuccess OnSuccess, onRuntimeErr OnRuntimeError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		onRuntimeErr(err)
		return
	}
	for id, entry := range m.byID {
		if m.ownerCC[id] != clusterControllerID {
			continue
		}
		if entry.LastSeenMs >= maxLastSeenMs {
			continue
		}
		delete(m.byID, id)
		delete(m.ownerCC, id)
		key := directory.InterfaceAddress{Domain: entry.Domain, InterfaceName: entry.InterfaceName}
		m.byInterface[key] = removeString(m.byInterface[key], id)
	}
	onSuccess()
}

// Size returns the number of stored entries, for tests.
func (m *MockTransport) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func removeString(slice []string, item string) []string {
	var out []string
	for _, s := range slice {
		if s != item {
			out = append(out, s)
		}
	}
	return out
}
