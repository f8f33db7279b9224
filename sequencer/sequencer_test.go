package sequencer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTasksRunInSubmissionOrder(t *testing.T) {
	s := New()
	defer s.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		s.Submit(func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}, time.Time{}, nil)
	}

	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestExpiredTaskFailsWithTimeoutWithoutRunning(t *testing.T) {
	s := New()
	defer s.Stop()

	ran := false
	failCh := make(chan Outcome, 1)

	s.Submit(func(ctx context.Context) {
		ran = true
	}, time.Now().Add(-time.Hour), func(o Outcome) {
		failCh <- o
	})

	select {
	case o := <-failCh:
		assert.Equal(t, OutcomeTimeout, o)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onFail")
	}
	assert.False(t, ran)
}

func TestCancelAllDrainsPendingTasks(t *testing.T) {
	s := New()
	defer s.Stop()

	block := make(chan struct{})
	release := make(chan struct{})
	s.Submit(func(ctx context.Context) {
		<-block
	}, time.Time{}, nil)

	outcomes := make(chan Outcome, 3)
	for i := 0; i < 3; i++ {
		s.Submit(func(ctx context.Context) {}, time.Time{}, func(o Outcome) {
			outcomes <- o
		})
	}

	// give the in-flight task a moment to actually be dequeued before we
	// cancel the rest still waiting behind it.
	time.Sleep(20 * time.Millisecond)
	s.CancelAll()

	for i := 0; i < 3; i++ {
		select {
		case o := <-outcomes:
			assert.Equal(t, OutcomeCancelled, o)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for cancellation")
		}
	}

	close(block)
	close(release)
}

func TestStopCancelsPendingAndStopsConsumer(t *testing.T) {
	s := New()

	block := make(chan struct{})
	s.Submit(func(ctx context.Context) {
		<-block
	}, time.Time{}, nil)

	outcome := make(chan Outcome, 1)
	s.Submit(func(ctx context.Context) {}, time.Time{}, func(o Outcome) {
		outcome <- o
	})

	close(block)
	s.Stop()

	select {
	case o := <-outcome:
		assert.Equal(t, OutcomeCancelled, o)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation on stop")
	}
}

func TestSubmitAfterStopFailsImmediately(t *testing.T) {
	s := New()
	s.Stop()

	outcome := make(chan Outcome, 1)
	s.Submit(func(ctx context.Context) {}, time.Time{}, func(o Outcome) {
		outcome <- o
	})

	select {
	case o := <-outcome:
		assert.Equal(t, OutcomeCancelled, o)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-stop submit to fail")
	}
}

func TestAtMostOneTaskInFlight(t *testing.T) {
	s := New()
	defer s.Stop()

	var inFlight int
	var maxSeen int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		s.Submit(func(ctx context.Context) {
			mu.Lock()
			inFlight++
			if inFlight > maxSeen {
				maxSeen = inFlight
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			wg.Done()
		}, time.Time{}, nil)
	}

	wg.Wait()
	require.Equal(t, 1, maxSeen)
}
