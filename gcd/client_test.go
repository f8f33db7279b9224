package gcd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M0rious/joynr/directory"
	"github.com/M0rious/joynr/joynrerrors"
	"github.com/M0rious/joynr/sequencer"
)

func newTestClient(t *testing.T, knownGbids []string) (*Client, *MockTransport, *sequencer.TaskSequencer) {
	transport := NewMockTransport(knownGbids)
	seq := sequencer.New()
	t.Cleanup(seq.Stop)
	client := NewClient(transport, seq, knownGbids, RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond, Multiplier: 2}, nil)
	return client, transport, seq
}

func testGlobalEntry(id string) directory.GlobalEntry {
	return directory.GlobalEntry{
		Entry: directory.Entry{
			Domain:        "d",
			InterfaceName: "i",
			ParticipantID: id,
			Qos:           directory.ProviderQos{Scope: directory.ScopeGlobal},
		},
		Address: "addr://local",
	}
}

func TestAddSucceedsOnEveryKnownGbid(t *testing.T) {
	client, transport, _ := newTestClient(t, []string{"gbid1", "gbid2"})

	done := make(chan struct{})
	client.Add(testGlobalEntry("p1"), []string{"gbid1", "gbid2"}, time.Now().Add(time.Second), func() {
		close(done)
	}, func(de *joynrerrors.DiscoveryError) {
		t.Fatalf("unexpected application error: %v", de)
	}, func(err error) {
		t.Fatalf("unexpected runtime error: %v", err)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for add to succeed")
	}
	assert.Equal(t, 1, transport.Size())
}

func TestAddWithUnknownGbidFailsWithApplicationError(t *testing.T) {
	client, _, _ := newTestClient(t, []string{"gbid1"})

	errCh := make(chan *joynrerrors.DiscoveryError, 1)
	client.Add(testGlobalEntry("p1"), []string{"nope"}, time.Now().Add(time.Second), func() {
		t.Fatal("onSuccess must not fire")
	}, func(de *joynrerrors.DiscoveryError) {
		errCh <- de
	}, func(err error) {
		t.Fatal("onRuntimeError must not fire")
	})

	select {
	case de := <-errCh:
		assert.Equal(t, joynrerrors.UnknownGbid, de.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for application error")
	}
}

func TestAddWithDuplicateGbidIsInvalid(t *testing.T) {
	client, _, _ := newTestClient(t, []string{"gbid1"})

	errCh := make(chan *joynrerrors.DiscoveryError, 1)
	client.Add(testGlobalEntry("p1"), []string{"gbid1", "gbid1"}, time.Now().Add(time.Second), func() {
		t.Fatal("onSuccess must not fire")
	}, func(de *joynrerrors.DiscoveryError) {
		errCh <- de
	}, func(err error) {
		t.Fatal("onRuntimeError must not fire")
	})

	select {
	case de := <-errCh:
		assert.Equal(t, joynrerrors.InvalidGbid, de.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for application error")
	}
}

func TestAddRetriesOnRuntimeErrorThenSucceeds(t *testing.T) {
	client, transport, _ := newTestClient(t, []string{"gbid1"})
	transport.FailNextWith = assertErr

	done := make(chan struct{})
	client.Add(testGlobalEntry("p1"), []string{"gbid1"}, time.Now().Add(2*time.Second), func() {
		close(done)
	}, func(de *joynrerrors.DiscoveryError) {
		t.Fatalf("unexpected application error: %v", de)
	}, func(err error) {
		t.Fatalf("unexpected runtime error: %v", err)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for retried add to succeed")
	}
}

func TestAddExpiresAfterDeadline(t *testing.T) {
	client, _, _ := newTestClient(t, []string{"gbid1"})

	runtimeErrCh := make(chan error, 1)
	client.Add(testGlobalEntry("p1"), []string{"gbid1"}, time.Now().Add(-time.Hour), func() {
		t.Fatal("onSuccess must not fire")
	}, func(de *joynrerrors.DiscoveryError) {
		t.Fatalf("unexpected application error: %v", de)
	}, func(err error) {
		runtimeErrCh <- err
	})

	select {
	case err := <-runtimeErrCh:
		assert.ErrorIs(t, err, joynrerrors.ErrTaskExpired)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry")
	}
}

func TestLookupByInterfaceBypassesSequencer(t *testing.T) {
	client, transport, seq := newTestClient(t, []string{"gbid1"})
	addDone := make(chan struct{})
	client.Add(testGlobalEntry("p1"), []string{"gbid1"}, time.Now().Add(time.Second), func() { close(addDone) }, nil, nil)
	<-addDone
	require.Equal(t, 1, transport.Size())

	var got []directory.GlobalEntry
	lookupDone := make(chan struct{})
	client.LookupByInterface(context.Background(), []string{"gbid1"}, []string{"d"}, "i", func(entries []directory.GlobalEntry) {
		got = entries
		close(lookupDone)
	}, func(de *joynrerrors.DiscoveryError) {
		t.Fatalf("unexpected application error: %v", de)
	}, func(err error) {
		t.Fatalf("unexpected runtime error: %v", err)
	})

	select {
	case <-lookupDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lookup")
	}
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ParticipantID)
	assert.Equal(t, 0, seq.Len())
}

var assertErr = &discoveryRuntimeError{"transport unavailable"}

type discoveryRuntimeError struct{ msg string }

func (e *discoveryRuntimeError) Error() string { return e.msg }
