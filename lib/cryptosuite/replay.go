package cryptosuite

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-redis/redis/v8"
	"github.com/gravitational/trace"
)

// ReplayStore records PoP nonces that have already been consumed so a
// captured token cannot be replayed within its validity window.
// SeenOrMark atomically checks and records key, returning true if it had
// already been marked.
type ReplayStore interface {
	SeenOrMark(key string, ttl time.Duration) (bool, error)
}

// MemoryReplayStore is an in-process ReplayStore backed by a map, with a
// lazy sweep of expired entries on each call. Suitable for a single
// orchestrator instance; BadgerReplayStore keeps entries across restarts,
// and RedisReplayStore shares them between instances.
type MemoryReplayStore struct {
	mu      sync.Mutex
	seenAt  map[string]time.Time
	nowFunc func() time.Time
}

// NewMemoryReplayStore constructs a MemoryReplayStore. nowFunc defaults
// to time.Now when nil (tests may override it).
func NewMemoryReplayStore(nowFunc func() time.Time) *MemoryReplayStore {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &MemoryReplayStore{seenAt: make(map[string]time.Time), nowFunc: nowFunc}
}

// SeenOrMark implements ReplayStore.
func (s *MemoryReplayStore) SeenOrMark(key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	for k, t := range s.seenAt {
		if now.Sub(t) > ttl {
			delete(s.seenAt, k)
		}
	}
	if expiry, ok := s.seenAt[key]; ok && now.Sub(expiry) <= ttl {
		return true, nil
	}
	s.seenAt[key] = now
	return false, nil
}

// BadgerReplayStore is a ReplayStore backed by an embedded badger
// database, so nonce replay detection survives an orchestrator restart.
type BadgerReplayStore struct {
	db *badger.DB
}

// OpenBadgerReplayStore opens (or creates) a badger database at path.
func OpenBadgerReplayStore(path string) (*BadgerReplayStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, trace.Wrap(err, "failed to open replay store")
	}
	return &BadgerReplayStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerReplayStore) Close() error {
	return s.db.Close()
}

// SeenOrMark implements ReplayStore using badger's native entry TTL to
// expire nonces once the token's validity window has passed.
func (s *BadgerReplayStore) SeenOrMark(key string, ttl time.Duration) (bool, error) {
	seen := false
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err == nil {
			seen = true
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		entry := badger.NewEntry([]byte(key), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return false, trace.Wrap(err)
	}
	return seen, nil
}

// RedisReplayStore is a ReplayStore backed by Redis, for deployments
// running multiple orchestrator instances behind a load balancer where
// a shared nonce table is required to detect cross-instance replay.
type RedisReplayStore struct {
	client *redis.Client
}

// NewRedisReplayStore constructs a RedisReplayStore against an
// already-configured client. The caller owns the client's lifecycle.
func NewRedisReplayStore(client *redis.Client) *RedisReplayStore {
	return &RedisReplayStore{client: client}
}

// SeenOrMark implements ReplayStore using Redis SETNX semantics (SET
// with NX and an expiry) so the check-and-mark is atomic across
// instances.
func (s *RedisReplayStore) SeenOrMark(key string, ttl time.Duration) (bool, error) {
	ctx := context.Background()
	ok, err := s.client.SetNX(ctx, "honeylink:replay:"+key, 1, ttl).Result()
	if err != nil {
		return false, trace.Wrap(err, "redis replay check failed")
	}
	return !ok, nil
}
