package gcd

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/embedded"

	"github.com/M0rious/joynr/directory"
	"github.com/M0rious/joynr/joynrerrors"
	"github.com/M0rious/joynr/logger"
	"github.com/M0rious/joynr/sequencer"
)

var meter = otel.Meter("github.com/M0rious/joynr/gcd")

// requestCounter counts GCD RPCs by operation and outcome so a deployment
// can alert on a gbid whose add/remove calls are mostly failing.
var requestCounter = func() metric.Int64Counter {
	c, err := meter.Int64Counter("joynr.gcd.requests",
		metric.WithDescription("GCD transport requests by operation and outcome"))
	if err != nil {
		return noopCounter{}
	}
	return c
}()

// noopCounter absorbs the rare case where Int64Counter construction fails
// (a misconfigured global MeterProvider), so instrumentation never panics
// on the hot path.
type noopCounter struct {
	embedded.Int64Counter
}

func (noopCounter) Add(context.Context, int64, ...metric.AddOption) {}

// RetryPolicy configures the backoff used between onRuntimeError retries
// of a sequenced add/remove. Grounded on resilience.RetryConfig, ported
// from the teacher's hand-rolled exponential formula onto
// cenkalti/backoff/v4's ExponentialBackOff, the library the rest of the
// pack's indirect dependency graph already pulls in.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy mirrors resilience.DefaultRetryConfig's constants.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	return b
}

// Client drives add/remove through a sequencer.TaskSequencer with
// retry-until-deadline semantics on onRuntimeError, and passes lookup/
// touch/removeStale straight through to Transport since those never go
// through the sequencer (base spec §4.3: "lookups do not go through the
// sequencer").
type Client struct {
	transport  Transport
	sequencer  *sequencer.TaskSequencer
	knownGbids []string
	retry      RetryPolicy
	logger     logger.Logger
}

// NewClient returns a Client bound to transport and seq, validating gbids
// against knownGbids before every add, remove and lookup per base spec §7.
func NewClient(transport Transport, seq *sequencer.TaskSequencer, knownGbids []string, retry RetryPolicy, log logger.Logger) *Client {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Client{transport: transport, sequencer: seq, knownGbids: knownGbids, retry: retry, logger: log}
}

func (c *Client) validate(requested []string) (joynrerrors.GbidValidation, []string) {
	gbids := requested
	if len(gbids) == 0 {
		gbids = c.knownGbids
	}
	v := joynrerrors.ValidateGbids(requested, c.knownGbids)
	return v, gbids
}

func gbidValidationError(op, participantID string, v joynrerrors.GbidValidation) *joynrerrors.DiscoveryError {
	switch v {
	case joynrerrors.GbidInvalid:
		return joynrerrors.NewDiscoveryError(op, joynrerrors.InvalidGbid, participantID)
	case joynrerrors.GbidUnknown:
		return joynrerrors.NewDiscoveryError(op, joynrerrors.UnknownGbid, participantID)
	default:
		return nil
	}
}

// Add enqueues one add per gbid through the sequencer, retrying each on
// onRuntimeError with exponential backoff until deadline.
func (c *Client) Add(entry directory.GlobalEntry, gbids []string, deadline time.Time, onSuccess OnSuccess, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError) {
	v, resolved := c.validate(gbids)
	if err := gbidValidationError("add", entry.ParticipantID, v); err != nil {
		onAppErr(err)
		return
	}

	remaining := len(resolved)
	if remaining == 0 {
		onSuccess()
		return
	}
	failed := false

	for _, gbid := range resolved {
		gbid := gbid
		bo := c.retry.newBackOff()
		c.submitWithRetry(deadline, bo, func(ctx context.Context, retry func()) {
			c.transport.Add(ctx, gbid, entry, func() {
				requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "add"), attribute.String("outcome", "success")))
				remaining--
				if remaining == 0 && !failed {
					onSuccess()
				}
			}, func(de *joynrerrors.DiscoveryError) {
				requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "add"), attribute.String("outcome", "application_error")))
				failed = true
				onAppErr(de)
			}, func(err error) {
				retry()
			})
		}, func(outcome sequencer.Outcome) {
			requestCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("operation", "add"), attribute.String("outcome", "runtime_error")))
			failed = true
			onRuntimeErr(outcomeError(outcome))
		})
	}
}

// Remove enqueues one remove per gbid through the sequencer with the same
// retry-until-deadline policy as Add.
func (c *Client) Remove(participantID string, gbids []string, deadline time.Time, onSuccess OnSuccess, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError) {
	v, resolved := c.validate(gbids)
	if err := gbidValidationError("remove", participantID, v); err != nil {
		onAppErr(err)
		return
	}

	remaining := len(resolved)
	if remaining == 0 {
		onSuccess()
		return
	}
	failed := false

	for _, gbid := range resolved {
		gbid := gbid
		bo := c.retry.newBackOff()
		c.submitWithRetry(deadline, bo, func(ctx context.Context, retry func()) {
			c.transport.Remove(ctx, gbid, participantID, func() {
				requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "remove"), attribute.String("outcome", "success")))
				remaining--
				if remaining == 0 && !failed {
					onSuccess()
				}
			}, func(de *joynrerrors.DiscoveryError) {
				requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "remove"), attribute.String("outcome", "application_error")))
				failed = true
				onAppErr(de)
			}, func(err error) {
				retry()
			})
		}, func(outcome sequencer.Outcome) {
			requestCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("operation", "remove"), attribute.String("outcome", "runtime_error")))
			failed = true
			onRuntimeErr(outcomeError(outcome))
		})
	}
}

// submitWithRetry submits work to the sequencer and, if work calls back
// into its retry closure, resubmits itself after the backoff's next
// interval, bounded by deadline. onFail fires if the task times out or is
// cancelled before it ever starts.
func (c *Client) submitWithRetry(deadline time.Time, bo *backoff.ExponentialBackOff, work func(ctx context.Context, retry func()), onFail func(sequencer.Outcome)) {
	var attempt func()
	attempt = func() {
		c.sequencer.Submit(func(ctx context.Context) {
			work(ctx, func() {
				delay := bo.NextBackOff()
				if delay == backoff.Stop {
					onFail(sequencer.OutcomeTimeout)
					return
				}
				next := time.Now().Add(delay)
				if next.After(deadline) {
					onFail(sequencer.OutcomeTimeout)
					return
				}
				time.AfterFunc(delay, attempt)
			})
		}, deadline, onFail)
	}
	attempt()
}

func outcomeError(o sequencer.Outcome) error {
	switch o {
	case sequencer.OutcomeTimeout:
		return joynrerrors.ErrTaskExpired
	default:
		return joynrerrors.ErrCancelled
	}
}

// LookupByInterface passes straight through to Transport; lookups never go
// through the sequencer.
func (c *Client) LookupByInterface(ctx context.Context, gbids []string, domains []string, interfaceName string, onSuccess LookupByInterfaceCallback, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError) {
	v, resolved := c.validate(gbids)
	if err := gbidValidationError("lookup", "", v); err != nil {
		onAppErr(err)
		return
	}
	c.transport.LookupByInterface(ctx, resolved, domains, interfaceName, onSuccess, onAppErr, onRuntimeErr)
}

// LookupByParticipant passes straight through to Transport.
func (c *Client) LookupByParticipant(ctx context.Context, gbids []string, participantID string, onSuccess LookupByParticipantCallback, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError) {
	v, resolved := c.validate(gbids)
	if err := gbidValidationError("lookup", participantID, v); err != nil {
		onAppErr(err)
		return
	}
	c.transport.LookupByParticipant(ctx, resolved, participantID, onSuccess, onAppErr, onRuntimeErr)
}

// Touch fans out to every known gbid, logging partial failures rather than
// propagating them, since the freshness loop runs once per backend
// independently.
func (c *Client) Touch(ctx context.Context, clusterControllerID string, participantIDs []string) {
	for _, gbid := range c.knownGbids {
		gbid := gbid
		c.transport.Touch(ctx, gbid, clusterControllerID, participantIDs, func() {}, func(err error) {
			c.logger.Warn("touch failed", map[string]interface{}{"gbid": gbid, "error": err.Error()})
		})
	}
}

// RemoveStale purges, on gbid, every entry owned by clusterControllerID
// whose last-seen timestamp predates maxLastSeenMs.
func (c *Client) RemoveStale(ctx context.Context, gbid string, clusterControllerID string, maxLastSeenMs int64, onSuccess OnSuccess, onRuntimeErr OnRuntimeError) {
	c.transport.RemoveStale(ctx, gbid, clusterControllerID, maxLastSeenMs, onSuccess, onRuntimeErr)
}

// ReAdd issues one Add per recorded gbid set for every global entry in
// entries, using addr as every entry's transport address and
// clusterControllerID as every entry's owning controller. Partial
// failures are logged, not propagated, matching base spec §4.4.
func (c *Client) ReAdd(entries []directory.Entry, gbidsFor func(participantID string) []string, addr string, clusterControllerID string, deadline time.Time) {
	for _, e := range entries {
		gbids := gbidsFor(e.ParticipantID)
		global := directory.GlobalEntry{Entry: e, Address: addr, ClusterControllerID: clusterControllerID}
		c.Add(global, gbids, deadline, func() {}, func(de *joynrerrors.DiscoveryError) {
			c.logger.Warn("reAdd application error", map[string]interface{}{"participant_id": e.ParticipantID, "error": de.Error()})
		}, func(err error) {
			c.logger.Warn("reAdd runtime error", map[string]interface{}{"participant_id": e.ParticipantID, "error": err.Error()})
		})
	}
}
