// Package service implements LcdService, the Local Capabilities Directory
// orchestrator and public interface: add/remove/lookup, the three periodic
// background loops, and the shutdown sequence.
//
// Grounded on the teacher's background-ticker pattern
// (pkg/discovery/redis.go's StartCatalogSync: one goroutine per loop,
// context.WithCancel for teardown, time.NewTicker for the period) and on
// core.RedisDiscovery's Register/Unregister pairing for the add/remove
// orchestration shape.
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/M0rious/joynr/access"
	"github.com/M0rious/joynr/config"
	"github.com/M0rious/joynr/directory"
	"github.com/M0rious/joynr/gcd"
	"github.com/M0rious/joynr/joynrerrors"
	"github.com/M0rious/joynr/logger"
	"github.com/M0rious/joynr/participantstore"
	"github.com/M0rious/joynr/pendinglookups"
	"github.com/M0rious/joynr/router"
	"github.com/M0rious/joynr/sequencer"
)

var tracer = otel.Tracer("github.com/M0rious/joynr/service")

// LcdService is the orchestrator and public interface described in base
// spec §4.6. The zero value is not usable; construct with New.
type LcdService struct {
	cfg          *config.ClusterControllerSettings
	store        *directory.LcdStore
	sequencer    *sequencer.TaskSequencer
	gcdClient    *gcd.Client
	pending      *pendinglookups.Registry
	router       router.Router
	access       access.AccessCheck
	participants participantstore.ParticipantIdStorage
	logger       logger.Logger
	localAddress string

	mu           sync.Mutex
	cancelTimers context.CancelFunc
	timersWG     sync.WaitGroup
	shutDown     bool
}

// New wires the collaborators into an LcdService. localAddress is the
// transport address this cluster controller advertises for providers it
// hosts locally.
func New(
	cfg *config.ClusterControllerSettings,
	store *directory.LcdStore,
	seq *sequencer.TaskSequencer,
	gcdClient *gcd.Client,
	pending *pendinglookups.Registry,
	rtr router.Router,
	acc access.AccessCheck,
	participants participantstore.ParticipantIdStorage,
	log logger.Logger,
	localAddress string,
) *LcdService {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &LcdService{
		cfg:          cfg,
		store:        store,
		sequencer:    seq,
		gcdClient:    gcdClient,
		pending:      pending,
		router:       rtr,
		access:       acc,
		participants: participants,
		logger:       log,
		localAddress: localAddress,
	}
}

func (s *LcdService) registrationDeadline() time.Time {
	return time.Now().Add(s.cfg.DiscoveryRegistrationTTL)
}

func (s *LcdService) defaultGbids() []string {
	if len(s.cfg.KnownGbids) == 0 {
		return nil
	}
	return s.cfg.KnownGbids[:1]
}

// Add authorizes, normalizes gbids, inserts locally, registers a route,
// and then resolves the global add according to the state machine in base
// spec §4.6: LOCAL-scope entries complete immediately; GLOBAL-scope
// entries either block on the remote add (awaitGlobal) or fire it in the
// background.
func (s *LcdService) Add(entry directory.Entry, awaitGlobal bool, gbids []string, onSuccess func(), onError func(error)) {
	if !s.access.HasProviderPermission(entry) {
		onError(joynrerrors.ErrProviderRuntimeException)
		return
	}

	resolved := gbids
	if len(resolved) == 0 {
		resolved = s.defaultGbids()
	}
	if v := joynrerrors.ValidateGbids(gbids, s.cfg.KnownGbids); v != joynrerrors.GbidOK {
		onError(gbidValidationErr("add", v))
		return
	}

	s.store.InsertLocal(entry, awaitGlobal, resolved)
	s.router.AddNextHop(entry.ParticipantID, s.localAddress)

	if entry.Qos.Scope == directory.ScopeLocal {
		onSuccess()
		return
	}

	global := directory.GlobalEntry{Entry: entry, Address: s.localAddress, ClusterControllerID: s.cfg.ClusterControllerID}

	if awaitGlobal {
		s.gcdClient.Add(global, resolved, s.registrationDeadline(), onSuccess, func(de *joynrerrors.DiscoveryError) {
			s.rollbackLocalAdd(entry.ParticipantID)
			onError(de)
		}, func(err error) {
			s.rollbackLocalAdd(entry.ParticipantID)
			onError(err)
		})
		return
	}

	onSuccess()
	s.gcdClient.Add(global, resolved, s.registrationDeadline(), func() {}, func(de *joynrerrors.DiscoveryError) {
		s.logger.Warn("background global add failed", map[string]interface{}{"participant_id": entry.ParticipantID, "error": de.Error()})
	}, func(err error) {
		s.logger.Warn("background global add runtime error", map[string]interface{}{"participant_id": entry.ParticipantID, "error": err.Error()})
	})
}

// AddToAll is Add with gbids fixed to every known backend.
func (s *LcdService) AddToAll(entry directory.Entry, awaitGlobal bool, onSuccess func(), onError func(error)) {
	s.Add(entry, awaitGlobal, s.cfg.KnownGbids, onSuccess, onError)
}

// AddProvider is Add for a caller that has not yet resolved a participant
// id: it consults participants for the (domain, interfaceName, majorVersion)
// triple, minting and recording a fresh one via uuid on first registration,
// then proceeds through Add as usual. onSuccess receives the resolved id.
func (s *LcdService) AddProvider(entry directory.Entry, awaitGlobal bool, gbids []string, onSuccess func(string), onError func(error)) {
	id, err := s.participants.GetProviderParticipantID(entry.Domain, entry.InterfaceName, entry.Version.Major)
	if err != nil {
		id = uuid.New().String()
		s.participants.SetProviderParticipantID(entry.Domain, entry.InterfaceName, entry.Version.Major, id)
	}
	entry.ParticipantID = id
	s.Add(entry, awaitGlobal, gbids, func() { onSuccess(id) }, onError)
}

// rollbackLocalAdd undoes the local-store insert and the router hop Add
// installed before attempting the blocking global add, so a failed
// awaitGlobal add leaves no trace — the same round-trip law Remove itself
// upholds.
func (s *LcdService) rollbackLocalAdd(participantID string) {
	s.store.Remove(participantID)
	s.router.RemoveNextHop(participantID, func() {}, func(err error) {
		s.logger.Warn("router cleanup failed during add rollback", map[string]interface{}{"participant_id": participantID, "error": err.Error()})
	})
}

func gbidValidationErr(op string, v joynrerrors.GbidValidation) *joynrerrors.DiscoveryError {
	if v == joynrerrors.GbidUnknown {
		return joynrerrors.NewDiscoveryError(op, joynrerrors.UnknownGbid, "")
	}
	return joynrerrors.NewDiscoveryError(op, joynrerrors.InvalidGbid, "")
}

// Remove erases the participant from the local store, removes its route,
// and enqueues a fire-and-forget remote remove if it had a gbid mapping.
// The caller's onSuccess/onError reflect only the local store and router
// outcome; the remote removal is retried independently via the sequencer
// until its own deadline.
func (s *LcdService) Remove(participantID string, onSuccess func(), onError func(error)) {
	gbids, hadGbids := s.store.GbidsFor(participantID)

	_, ok := s.store.Remove(participantID)
	if !ok {
		onError(joynrerrors.NewDiscoveryError("remove", joynrerrors.NoEntryForParticipant, participantID))
		return
	}

	s.router.RemoveNextHop(participantID, func() {
		onSuccess()
		if hadGbids {
			s.gcdClient.Remove(participantID, gbids, s.registrationDeadline(), func() {}, func(de *joynrerrors.DiscoveryError) {
				s.logger.Warn("background global remove failed", map[string]interface{}{"participant_id": participantID, "error": de.Error()})
			}, func(err error) {
				s.logger.Warn("background global remove runtime error", map[string]interface{}{"participant_id": participantID, "error": err.Error()})
			})
		}
	}, onError)
}

// LookupByInterface resolves local/cached entries first; on a scope miss it
// coalesces through PendingLookups and performs exactly one remote fetch
// per (domains, interfaceName) burst.
func (s *LcdService) LookupByInterface(ctx context.Context, domains []string, interfaceName string, qos directory.DiscoveryQos, gbids []string, onResult func([]directory.EntryWithMeta), onError func(error)) {
	ctx, span := tracer.Start(ctx, "LcdService.LookupByInterface", trace.WithAttributes(
		attribute.StringSlice("joynr.domains", domains),
		attribute.String("joynr.interface_name", interfaceName),
	))
	defer span.End()

	satisfied := s.store.LookupLocalAndCachedByInterface(domains, interfaceName, qos, gbids, func(r []directory.EntryWithMeta) {
		onResult(r)
	})
	if satisfied {
		span.SetAttributes(attribute.Bool("joynr.cache_hit", true))
		return
	}

	key := interfaceKey(domains, interfaceName)
	resolved := gbids
	if len(resolved) == 0 {
		resolved = s.cfg.KnownGbids
	}

	first := s.pending.Register(key, onResult, onError, qos, gbids)
	if !first {
		return
	}

	s.gcdClient.LookupByInterface(ctx, resolved, domains, interfaceName, func(entries []directory.GlobalEntry) {
		meta := make([]directory.EntryWithMeta, 0, len(entries))
		for _, e := range entries {
			s.store.InsertCache(e.Entry, resolved)
			meta = append(meta, directory.EntryWithMeta{Entry: e.Entry, IsLocal: false})
		}
		s.pending.Resolve(key, meta, s.store.PassesGbidFilter)
	}, func(de *joynrerrors.DiscoveryError) {
		s.pending.Fail(key, de)
	}, func(err error) {
		s.pending.Fail(key, err)
	})
}

// LookupByParticipant is the by-participant variant of LookupByInterface.
func (s *LcdService) LookupByParticipant(ctx context.Context, participantID string, qos directory.DiscoveryQos, gbids []string, onResult func([]directory.EntryWithMeta), onError func(error)) {
	ctx, span := tracer.Start(ctx, "LcdService.LookupByParticipant", trace.WithAttributes(
		attribute.String("joynr.participant_id", participantID),
	))
	defer span.End()

	satisfied, _ := s.store.LookupLocalAndCachedByParticipant(participantID, qos, gbids, func(r []directory.EntryWithMeta) {
		onResult(r)
	})
	if satisfied {
		span.SetAttributes(attribute.Bool("joynr.cache_hit", true))
		return
	}

	key := participantKey(participantID)
	resolved := gbids
	if len(resolved) == 0 {
		resolved = s.cfg.KnownGbids
	}

	first := s.pending.Register(key, onResult, onError, qos, gbids)
	if !first {
		return
	}

	s.gcdClient.LookupByParticipant(ctx, resolved, participantID, func(entry directory.GlobalEntry) {
		s.store.InsertCache(entry.Entry, resolved)
		s.pending.Resolve(key, []directory.EntryWithMeta{{Entry: entry.Entry, IsLocal: false}}, s.store.PassesGbidFilter)
	}, func(de *joynrerrors.DiscoveryError) {
		s.pending.Fail(key, de)
	}, func(err error) {
		s.pending.Fail(key, err)
	})
}

// TriggerGlobalProviderReregistration reissues a global add for every
// locally-registered GLOBAL-scope entry, used after a detected GCD
// restart.
func (s *LcdService) TriggerGlobalProviderReregistration() {
	entries := s.store.AllGlobalCapabilities()
	s.gcdClient.ReAdd(entries, func(participantID string) []string {
		gbids, _ := s.store.GbidsFor(participantID)
		return gbids
	}, s.localAddress, s.cfg.ClusterControllerID, s.registrationDeadline())
}

// RemoveStaleProvidersOfClusterController fans out GcdClient.RemoveStale to
// every known gbid, purging providers killed while this controller was
// down.
func (s *LcdService) RemoveStaleProvidersOfClusterController(ctx context.Context, ccStartDateMs int64) {
	for _, gbid := range s.cfg.KnownGbids {
		gbid := gbid
		s.gcdClient.RemoveStale(ctx, gbid, s.cfg.ClusterControllerID, ccStartDateMs, func() {}, func(err error) {
			s.logger.Warn("removeStale failed", map[string]interface{}{"gbid": gbid, "error": err.Error()})
		})
	}
}

func interfaceKey(domains []string, interfaceName string) string {
	return strings.Join(domains, ",") + "#" + interfaceName
}

func participantKey(participantID string) string {
	return "p:" + participantID
}
