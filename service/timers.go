package service

import (
	"context"
	"time"

	"github.com/M0rious/joynr/joynrerrors"
)

// StartTimers launches the three periodic background loops described in
// base spec §4.6, each its own goroutine built on context.WithCancel plus
// time.NewTicker, the shape the teacher's StartCatalogSync uses. Calling
// StartTimers twice without an intervening Shutdown replaces the previous
// set of timers.
func (s *LcdService) StartTimers(ctx context.Context) {
	s.mu.Lock()
	if s.cancelTimers != nil {
		s.cancelTimers()
	}
	timerCtx, cancel := context.WithCancel(ctx)
	s.cancelTimers = cancel
	s.mu.Unlock()

	s.startLoop(timerCtx, s.cfg.FreshnessUpdateInterval, s.runFreshnessUpdate)
	s.startLoop(timerCtx, s.cfg.CleanupIntervalMs, s.runExpiredEntriesSweep)
	s.startLoop(timerCtx, s.cfg.ReAddInterval, s.runReAdd)
}

func (s *LcdService) startLoop(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		return
	}
	s.timersWG.Add(1)
	go func() {
		defer s.timersWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// runFreshnessUpdate calls GcdClient.Touch for every locally-registered
// participant id, once per known gbid, refreshing lastSeenDateMs on the
// GCD side.
func (s *LcdService) runFreshnessUpdate(ctx context.Context) {
	ids := s.store.AllLocalParticipantIDs()
	if len(ids) == 0 {
		return
	}
	s.gcdClient.Touch(ctx, s.cfg.ClusterControllerID, ids)
}

// runExpiredEntriesSweep iterates both stores and removes entries whose
// expiry has passed, also clearing their router next hops.
func (s *LcdService) runExpiredEntriesSweep(ctx context.Context) {
	nowMs := time.Now().UnixMilli()
	removedLocal := s.store.SweepExpired(nowMs)
	for _, e := range removedLocal {
		s.router.RemoveNextHop(e.ParticipantID, func() {}, func(err error) {
			s.logger.Warn("router cleanup failed for expired entry", map[string]interface{}{"participant_id": e.ParticipantID, "error": err.Error()})
		})
	}
}

// runReAdd triggers a defensive reAdd to refresh remote state.
func (s *LcdService) runReAdd(ctx context.Context) {
	s.TriggerGlobalProviderReregistration()
}

// Shutdown runs the four-step teardown from base spec §5: stop timers,
// cancel outstanding sequencer tasks, fail pending lookups with SHUTDOWN,
// and release the store. Step 4 is a documentation-only step under Go's
// garbage collector — there is no explicit resource to free once every
// goroutine referencing the store has stopped running.
func (s *LcdService) Shutdown() {
	s.mu.Lock()
	if s.shutDown {
		s.mu.Unlock()
		return
	}
	s.shutDown = true
	cancel := s.cancelTimers
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.timersWG.Wait()

	s.sequencer.Stop()
	s.pending.FailAll(joynrerrors.ErrShutdown)
}
