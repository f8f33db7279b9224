// Package sequencer implements TaskSequencer, the single-consumer FIFO
// queue that gives every GCD-mutating RPC a bounded, strictly-ordered
// resource footprint on the remote directory while lookups bypass it
// entirely.
//
// Grounded on the teacher's core.Task/core.TaskStatus state machine
// (core/async_task.go), reshaped from a worker-pool queue backed by a
// pluggable TaskQueue/TaskStore into a single in-process consumer loop: at
// most one task is in flight, tasks run in submission order, and a task
// whose deadline has already passed when it is dequeued fails synchronously
// instead of starting.
package sequencer

import (
	"context"
	"sync"
	"time"
)

// Outcome is the terminal state of a submitted task, mirroring the
// teacher's TaskStatus but trimmed to the three ways a sequenced task ends.
type Outcome string

const (
	// OutcomeDone means Work ran to completion.
	OutcomeDone Outcome = "DONE"
	// OutcomeTimeout means the task's deadline passed before it could start.
	OutcomeTimeout Outcome = "TIMEOUT"
	// OutcomeCancelled means CancelAll drained the task before it started.
	OutcomeCancelled Outcome = "CANCELLED"
)

// Work is the callable a task wraps. It runs with the single consumer
// goroutine's exclusivity guarantee: no other task's Work runs concurrently
// with it. Work is expected to arrange its own completion signalling (e.g.
// invoking GcdClient's onSuccess/onApplicationError/onRuntimeError) and must
// not block past its own deadline bookkeeping.
type Work func(ctx context.Context)

type task struct {
	work     Work
	deadline time.Time
	onFail   func(Outcome)
}

// TaskSequencer serializes task execution through a single consumer
// goroutine. The zero value is not usable; construct with New.
type TaskSequencer struct {
	mu      sync.Mutex
	queue   []*task
	wake    chan struct{}
	closed  bool
	closeCh chan struct{}
	done    chan struct{}
}

// New starts a TaskSequencer's consumer goroutine and returns it. Stop must
// be called to release the goroutine.
func New() *TaskSequencer {
	s := &TaskSequencer{
		wake:    make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Submit enqueues work to run no later than deadline. onFail is invoked if
// the task times out (from the consumer goroutine) or is cancelled (from the
// goroutine calling CancelAll or Stop, or from Submit itself after Stop)
// instead of running; it is never invoked on success, since Work itself is
// responsible for signalling success to its caller.
func (s *TaskSequencer) Submit(work Work, deadline time.Time, onFail func(Outcome)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if onFail != nil {
			onFail(OutcomeCancelled)
		}
		return
	}
	s.queue = append(s.queue, &task{work: work, deadline: deadline, onFail: onFail})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// CancelAll drains every pending task, failing each with OutcomeCancelled
// in FIFO order. A task already in flight is not interrupted; CancelAll
// only affects tasks still waiting in the queue.
func (s *TaskSequencer) CancelAll() {
	s.mu.Lock()
	drained := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, t := range drained {
		if t.onFail != nil {
			t.onFail(OutcomeCancelled)
		}
	}
}

// Stop cancels every pending task and shuts down the consumer goroutine. It
// blocks until the goroutine has exited. Stop is idempotent.
func (s *TaskSequencer) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closeCh)
	<-s.done
	s.CancelAll()
}

func (s *TaskSequencer) run() {
	defer close(s.done)
	for {
		// Once Stop has been called, leave every queued task for Stop's
		// CancelAll instead of running it.
		select {
		case <-s.closeCh:
			return
		default:
		}

		t := s.dequeue()
		if t == nil {
			select {
			case <-s.wake:
				continue
			case <-s.closeCh:
				return
			}
		}

		if !t.deadline.IsZero() && time.Now().After(t.deadline) {
			if t.onFail != nil {
				t.onFail(OutcomeTimeout)
			}
			continue
		}

		ctx := context.Background()
		if !t.deadline.IsZero() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, t.deadline)
			t.work(ctx)
			cancel()
		} else {
			t.work(ctx)
		}
	}
}

func (s *TaskSequencer) dequeue() *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	return t
}

// Len reports the number of tasks currently waiting (excluding one in
// flight), for tests and diagnostics.
func (s *TaskSequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
