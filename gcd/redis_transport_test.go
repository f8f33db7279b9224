package gcd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M0rious/joynr/directory"
	"github.com/M0rious/joynr/joynrerrors"
)

func newTestRedisTransport(t *testing.T) *RedisTransport {
	requireRedis(t)
	transport, err := NewRedisTransport(map[string]string{"gbid1": "redis://localhost:6379/0"}, "joynr-test", nil)
	require.NoError(t, err)
	return transport
}

func TestRedisTransportAddThenLookupByParticipant(t *testing.T) {
	transport := newTestRedisTransport(t)
	entry := testGlobalEntry("redis-p1")
	entry.ExpiryMs = time.Now().Add(time.Minute).UnixMilli()

	addDone := make(chan struct{})
	transport.Add(context.Background(), "gbid1", entry, func() {
		close(addDone)
	}, func(de *joynrerrors.DiscoveryError) {
		t.Fatalf("unexpected application error: %v", de)
	}, func(err error) {
		t.Fatalf("unexpected runtime error: %v", err)
	})
	<-addDone

	lookupDone := make(chan directory.GlobalEntry, 1)
	transport.LookupByParticipant(context.Background(), []string{"gbid1"}, "redis-p1", func(e directory.GlobalEntry) {
		lookupDone <- e
	}, func(de *joynrerrors.DiscoveryError) {
		t.Fatalf("unexpected application error: %v", de)
	}, func(err error) {
		t.Fatalf("unexpected runtime error: %v", err)
	})

	got := <-lookupDone
	assert.Equal(t, "redis-p1", got.ParticipantID)

	removeDone := make(chan struct{})
	transport.Remove(context.Background(), "gbid1", "redis-p1", func() {
		close(removeDone)
	}, func(de *joynrerrors.DiscoveryError) {
		t.Fatalf("unexpected application error: %v", de)
	}, func(err error) {
		t.Fatalf("unexpected runtime error: %v", err)
	})
	<-removeDone
}

func TestRedisTransportRemoveStalePurgesOwnedEntries(t *testing.T) {
	transport := newTestRedisTransport(t)
	entry := testGlobalEntry("redis-stale-1")
	entry.ClusterControllerID = "cc-owner"
	entry.LastSeenMs = time.Now().Add(-time.Hour).UnixMilli()
	entry.ExpiryMs = time.Now().Add(time.Minute).UnixMilli()

	addDone := make(chan struct{})
	transport.Add(context.Background(), "gbid1", entry, func() {
		close(addDone)
	}, func(de *joynrerrors.DiscoveryError) {
		t.Fatalf("unexpected application error: %v", de)
	}, func(err error) {
		t.Fatalf("unexpected runtime error: %v", err)
	})
	<-addDone

	staleDone := make(chan struct{})
	transport.RemoveStale(context.Background(), "gbid1", "cc-owner", time.Now().UnixMilli(), func() {
		close(staleDone)
	}, func(err error) {
		t.Fatalf("unexpected runtime error: %v", err)
	})
	<-staleDone

	lookupDone := make(chan *joynrerrors.DiscoveryError, 1)
	transport.LookupByParticipant(context.Background(), []string{"gbid1"}, "redis-stale-1", func(e directory.GlobalEntry) {
		t.Fatalf("expected entry to be purged by RemoveStale, got %v", e)
	}, func(de *joynrerrors.DiscoveryError) {
		lookupDone <- de
	}, func(err error) {
		t.Fatalf("unexpected runtime error: %v", err)
	})
	require.NotNil(t, <-lookupDone)
}
