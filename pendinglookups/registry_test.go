package pendinglookups

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M0rious/joynr/directory"
)

func TestFirstRegistrationReportsFirstTrue(t *testing.T) {
	r := New()
	first := r.Register("k1", func(e []directory.EntryWithMeta) {}, func(err error) {}, directory.DiscoveryQos{}, nil)
	assert.True(t, first)
}

func TestSubsequentRegistrationsCoalesce(t *testing.T) {
	r := New()
	r.Register("k1", func(e []directory.EntryWithMeta) {}, func(err error) {}, directory.DiscoveryQos{}, nil)
	second := r.Register("k1", func(e []directory.EntryWithMeta) {}, func(err error) {}, directory.DiscoveryQos{}, nil)
	assert.False(t, second, "a second waiter for the same key must not be told to initiate its own fetch")
}

func TestResolveInvokesAllWaitersInOrder(t *testing.T) {
	r := New()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		r.Register("k1", func(e []directory.EntryWithMeta) {
			order = append(order, i)
		}, func(err error) {
			t.Fatal("onError must not fire")
		}, directory.DiscoveryQos{}, nil)
	}

	entries := []directory.EntryWithMeta{{Entry: directory.Entry{ParticipantID: "p1"}, IsLocal: false}}
	r.Resolve("k1", entries, nil)

	assert.Equal(t, []int{0, 1, 2}, order)
	assert.False(t, r.Pending("k1"))
}

// A waiter that registered with a narrower gbid set than another waiter on
// the same key must only see entries that pass its own filter, even though
// both were served by the same coalesced remote fetch.
func TestResolveReappliesPerWaiterGbidFilter(t *testing.T) {
	r := New()
	var narrow, wide []directory.EntryWithMeta
	r.Register("k1", func(e []directory.EntryWithMeta) { narrow = e }, func(err error) {}, directory.DiscoveryQos{}, []string{"gbidA"})
	r.Register("k1", func(e []directory.EntryWithMeta) { wide = e }, func(err error) {}, directory.DiscoveryQos{}, nil)

	entries := []directory.EntryWithMeta{
		{Entry: directory.Entry{ParticipantID: "onA"}, IsLocal: false},
		{Entry: directory.Entry{ParticipantID: "onB"}, IsLocal: false},
	}
	passesFilter := func(participantID string, requested []string) bool {
		return participantID == "onA"
	}
	r.Resolve("k1", entries, passesFilter)

	require.Len(t, narrow, 1)
	assert.Equal(t, "onA", narrow[0].ParticipantID)
	assert.Len(t, wide, 2, "a waiter with no gbids requested sees every entry unfiltered")
}

func TestFailInvokesAllWaiters(t *testing.T) {
	r := New()
	errs := make(chan error, 2)
	r.Register("k1", func(e []directory.EntryWithMeta) {
		t.Fatal("onResult must not fire")
	}, func(err error) {
		errs <- err
	}, directory.DiscoveryQos{}, nil)
	r.Register("k1", func(e []directory.EntryWithMeta) {
		t.Fatal("onResult must not fire")
	}, func(err error) {
		errs <- err
	}, directory.DiscoveryQos{}, nil)

	wantErr := errors.New("boom")
	r.Fail("k1", wantErr)

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, <-errs, wantErr)
	}
	assert.False(t, r.Pending("k1"))
}

func TestFailAllDrainsEveryKey(t *testing.T) {
	r := New()
	errs := make(chan error, 2)
	r.Register("k1", func(e []directory.EntryWithMeta) {}, func(err error) { errs <- err }, directory.DiscoveryQos{}, nil)
	r.Register("k2", func(e []directory.EntryWithMeta) {}, func(err error) { errs <- err }, directory.DiscoveryQos{}, nil)

	wantErr := errors.New("shutdown")
	r.FailAll(wantErr)

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, <-errs, wantErr)
	}
	assert.False(t, r.Pending("k1"))
	assert.False(t, r.Pending("k2"))
}

func TestRegistrationAfterDrainStartsFresh(t *testing.T) {
	r := New()
	r.Register("k1", func(e []directory.EntryWithMeta) {}, func(err error) {}, directory.DiscoveryQos{}, nil)
	r.Resolve("k1", nil, nil)

	first := r.Register("k1", func(e []directory.EntryWithMeta) {}, func(err error) {}, directory.DiscoveryQos{}, nil)
	assert.True(t, first, "a new burst after the previous one drained must initiate its own fetch")
}
