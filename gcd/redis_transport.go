package gcd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/M0rious/joynr/directory"
	"github.com/M0rious/joynr/joynrerrors"
	"github.com/M0rious/joynr/logger"
)

// redisRecord is the wire format for one participant, grounded on the
// teacher's RedisRegistry which stores one JSON blob per service id plus
// SADD-based secondary indexes.
type redisRecord struct {
	Entry      directory.GlobalEntry `json:"entry"`
	LastSeenMs int64                 `json:"lastSeenMs"`
}

// RedisTransport is the production Transport: one go-redis client per gbid,
// sharded the way the teacher's RedisRegistry shards by namespace.
type RedisTransport struct {
	clients   map[string]*redis.Client
	breakers  map[string]*circuitBreaker
	namespace string
	logger    logger.Logger
}

// NewRedisTransport builds a RedisTransport from a gbid-to-URL map. Each
// URL is parsed with redis.ParseURL, mirroring core.NewRedisRegistryWithNamespace.
func NewRedisTransport(redisURLs map[string]string, namespace string, log logger.Logger) (*RedisTransport, error) {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	clients := make(map[string]*redis.Client, len(redisURLs))
	breakers := make(map[string]*circuitBreaker, len(redisURLs))
	for gbid, rawURL := range redisURLs {
		opt, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url for gbid %q: %w", gbid, err)
		}
		opt.PoolSize = 10
		opt.MinIdleConns = 2
		opt.DialTimeout = 5 * time.Second
		opt.ReadTimeout = 5 * time.Second
		opt.WriteTimeout = 5 * time.Second
		clients[gbid] = redis.NewClient(opt)
		breakers[gbid] = newCircuitBreaker(5, 30*time.Second)
	}
	return &RedisTransport{clients: clients, breakers: breakers, namespace: namespace, logger: log}, nil
}

func (t *RedisTransport) clientFor(gbid string) (*redis.Client, bool) {
	c, ok := t.clients[gbid]
	return c, ok
}

// breakerFor returns the per-gbid circuit breaker, lazily creating one for
// gbids that were not present in the map NewRedisTransport was built from
// (defensive; in practice every gbid client is provisioned up front).
func (t *RedisTransport) breakerFor(gbid string) *circuitBreaker {
	if b, ok := t.breakers[gbid]; ok {
		return b
	}
	b := newCircuitBreaker(5, 30*time.Second)
	t.breakers[gbid] = b
	return b
}

func (t *RedisTransport) participantKey(id string) string {
	return fmt.Sprintf("%s:gcd:participants:%s", t.namespace, id)
}

func (t *RedisTransport) interfaceKey(domain, iface string) string {
	return fmt.Sprintf("%s:gcd:interfaces:%s:%s", t.namespace, domain, iface)
}

func (t *RedisTransport) ccKey(clusterControllerID string) string {
	return fmt.Sprintf("%s:gcd:cc:%s", t.namespace, clusterControllerID)
}

// Add stores the entry and indexes it by (domain, interfaceName) and by its
// owning cluster controller, matching the SADD-plus-expire pattern
// core.RedisRegistry.Register uses for its capability/name/type indexes. The
// cc index is what RemoveStale later scans to purge everything a given
// controller owned.
func (t *RedisTransport) Add(ctx context.Context, gbid string, entry directory.GlobalEntry, onSuccess OnSuccess, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError) {
	client, ok := t.clientFor(gbid)
	if !ok {
		onAppErr(joynrerrors.NewDiscoveryError("add", joynrerrors.UnknownGbid, entry.ParticipantID))
		return
	}

	rec := redisRecord{Entry: entry, LastSeenMs: entry.LastSeenMs}
	data, err := json.Marshal(rec)
	if err != nil {
		onAppErr(joynrerrors.NewDiscoveryError("add", joynrerrors.InternalError, entry.ParticipantID))
		return
	}

	ttl := time.Duration(0)
	if entry.ExpiryMs > 0 {
		ttl = time.Until(time.UnixMilli(entry.ExpiryMs))
		if ttl <= 0 {
			ttl = time.Second
		}
	}

	pipe := client.TxPipeline()
	pipe.Set(ctx, t.participantKey(entry.ParticipantID), data, ttl)
	ifaceKey := t.interfaceKey(entry.Domain, entry.InterfaceName)
	pipe.SAdd(ctx, ifaceKey, entry.ParticipantID)
	if ttl > 0 {
		pipe.Expire(ctx, ifaceKey, ttl*2)
	}
	if entry.ClusterControllerID != "" {
		ccKey := t.ccKey(entry.ClusterControllerID)
		pipe.SAdd(ctx, ccKey, entry.ParticipantID)
		if ttl > 0 {
			pipe.Expire(ctx, ccKey, ttl*2)
		}
	}

	err = t.breakerFor(gbid).Execute(ctx, func() error {
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		t.logger.Warn("gcd add failed", map[string]interface{}{"participant_id": entry.ParticipantID, "gbid": gbid, "error": err.Error()})
		onRuntimeErr(err)
		return
	}
	onSuccess()
}

// Remove deletes the participant's record and prunes the interface index,
// mirroring core.RedisRegistry.Unregister's best-effort SREM cleanup.
func (t *RedisTransport) Remove(ctx context.Context, gbid string, participantID string, onSuccess OnSuccess, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError) {
	client, ok := t.clientFor(gbid)
	if !ok {
		onAppErr(joynrerrors.NewDiscoveryError("remove", joynrerrors.UnknownGbid, participantID))
		return
	}

	data, err := client.Get(ctx, t.participantKey(participantID)).Result()
	if err == redis.Nil {
		onAppErr(joynrerrors.NewDiscoveryError("remove", joynrerrors.NoEntryForParticipant, participantID))
		return
	}
	if err != nil {
		onRuntimeErr(err)
		return
	}

	var rec redisRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		onAppErr(joynrerrors.NewDiscoveryError("remove", joynrerrors.InternalError, participantID))
		return
	}

	pipe := client.TxPipeline()
	pipe.Del(ctx, t.participantKey(participantID))
	pipe.SRem(ctx, t.interfaceKey(rec.Entry.Domain, rec.Entry.InterfaceName), participantID)
	if rec.Entry.ClusterControllerID != "" {
		pipe.SRem(ctx, t.ccKey(rec.Entry.ClusterControllerID), participantID)
	}
	if err := t.breakerFor(gbid).Execute(ctx, func() error {
		_, err := pipe.Exec(ctx)
		return err
	}); err != nil {
		onRuntimeErr(err)
		return
	}
	onSuccess()
}

// LookupByInterface unions the members of every requested gbid's interface
// index across every requested domain, then fetches each record.
func (t *RedisTransport) LookupByInterface(ctx context.Context, gbids []string, domains []string, interfaceName string, onSuccess LookupByInterfaceCallback, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError) {
	var result []directory.GlobalEntry
	seen := make(map[string]struct{})

	for _, gbid := range gbids {
		client, ok := t.clientFor(gbid)
		if !ok {
			onAppErr(joynrerrors.NewDiscoveryError("lookup", joynrerrors.UnknownGbid, ""))
			return
		}
		for _, domain := range domains {
			var ids []string
			err := t.breakerFor(gbid).Execute(ctx, func() error {
				var err error
				ids, err = client.SMembers(ctx, t.interfaceKey(domain, interfaceName)).Result()
				if err == redis.Nil {
					return nil
				}
				return err
			})
			if err != nil {
				onRuntimeErr(err)
				return
			}
			for _, id := range ids {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				rec, ok, err := t.fetchRecord(ctx, gbid, client, id)
				if err != nil {
					onRuntimeErr(err)
					return
				}
				if ok {
					result = append(result, rec.Entry)
				}
			}
		}
	}
	onSuccess(result)
}

// LookupByParticipant checks each requested gbid's client for the
// participant's record, returning the first hit.
func (t *RedisTransport) LookupByParticipant(ctx context.Context, gbids []string, participantID string, onSuccess LookupByParticipantCallback, onAppErr OnApplicationError, onRuntimeErr OnRuntimeError) {
	for _, gbid := range gbids {
		client, ok := t.clientFor(gbid)
		if !ok {
			onAppErr(joynrerrors.NewDiscoveryError("lookup", joynrerrors.UnknownGbid, participantID))
			return
		}
		rec, ok, err := t.fetchRecord(ctx, gbid, client, participantID)
		if err != nil {
			onRuntimeErr(err)
			return
		}
		if ok {
			onSuccess(rec.Entry)
			return
		}
	}
	onAppErr(joynrerrors.NewDiscoveryError("lookup", joynrerrors.NoEntryForParticipant, participantID))
}

// fetchRecord is the one place every record read of the lookup, Touch and
// RemoveStale paths funnels through, under the per-gbid circuit breaker.
// The breaker also wraps LookupByInterface's SMEMBERS and Add/Remove's
// pipeline execution; Remove's initial GET, Touch's TTL read and pipeline,
// and RemoveStale's SMEMBERS and pipeline call the client directly.
func (t *RedisTransport) fetchRecord(ctx context.Context, gbid string, client *redis.Client, participantID string) (redisRecord, bool, error) {
	var data string
	getErr := t.breakerFor(gbid).Execute(ctx, func() error {
		var err error
		data, err = client.Get(ctx, t.participantKey(participantID)).Result()
		if err == redis.Nil {
			return nil
		}
		return err
	})
	if getErr != nil {
		return redisRecord{}, false, getErr
	}
	if data == "" {
		return redisRecord{}, false, nil
	}
	var rec redisRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return redisRecord{}, false, err
	}
	return rec, true, nil
}

// Touch refreshes LastSeenMs for every given participant id that has a
// record on the given backend, and records clusterControllerID as its
// owner (moving it between cc index sets when the owner changes).
func (t *RedisTransport) Touch(ctx context.Context, gbid string, clusterControllerID string, participantIDs []string, onSuccess OnSuccess, onRuntimeErr OnRuntimeError) {
	client, ok := t.clientFor(gbid)
	if !ok {
		onRuntimeErr(fmt.Errorf("unknown gbid %q", gbid))
		return
	}

	now := time.Now().UnixMilli()
	for _, id := range participantIDs {
		rec, ok, err := t.fetchRecord(ctx, gbid, client, id)
		if err != nil {
			onRuntimeErr(err)
			return
		}
		if !ok {
			continue
		}
		previousOwner := rec.Entry.ClusterControllerID
		rec.LastSeenMs = now
		rec.Entry.ClusterControllerID = clusterControllerID
		data, err := json.Marshal(rec)
		if err != nil {
			onRuntimeErr(err)
			return
		}
		ttl := client.TTL(ctx, t.participantKey(id)).Val()
		pipe := client.TxPipeline()
		pipe.Set(ctx, t.participantKey(id), data, ttl)
		if previousOwner != clusterControllerID {
			if previousOwner != "" {
				pipe.SRem(ctx, t.ccKey(previousOwner), id)
			}
			pipe.SAdd(ctx, t.ccKey(clusterControllerID), id)
			if ttl > 0 {
				pipe.Expire(ctx, t.ccKey(clusterControllerID), ttl*2)
			}
		}
		if _, err := pipe.Exec(ctx); err != nil {
			onRuntimeErr(err)
			return
		}
	}
	onSuccess()
}

// RemoveStale drops every record owned by clusterControllerID on gbid
// whose LastSeenMs predates maxLastSeenMs, used once per known gbid at
// startup to purge providers killed while the controller was down.
func (t *RedisTransport) RemoveStale(ctx context.Context, gbid string, clusterControllerID string, maxLastSeenMs int64, onSuccess OnSuccess, onRuntimeErr OnRuntimeError) {
	client, ok := t.clientFor(gbid)
	if !ok {
		onRuntimeErr(fmt.Errorf("unknown gbid %q", gbid))
		return
	}

	ccKey := t.ccKey(clusterControllerID)
	ids, err := client.SMembers(ctx, ccKey).Result()
	if err != nil && err != redis.Nil {
		onRuntimeErr(err)
		return
	}
	for _, id := range ids {
		rec, ok, err := t.fetchRecord(ctx, gbid, client, id)
		if err != nil {
			onRuntimeErr(err)
			return
		}
		if !ok || rec.LastSeenMs >= maxLastSeenMs {
			continue
		}
		pipe := client.TxPipeline()
		pipe.Del(ctx, t.participantKey(id))
		pipe.SRem(ctx, t.interfaceKey(rec.Entry.Domain, rec.Entry.InterfaceName), id)
		pipe.SRem(ctx, ccKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			onRuntimeErr(err)
			return
		}
	}
	onSuccess()
}
