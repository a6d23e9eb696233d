// Package redis provides a Redis-backed persistent store. The committed state
// is kept as a single hash whose fields are the snapshot buckets.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"limscore/internal/infra/persistence/memory"
	"limscore/pkg/domain"

	goredis "github.com/redis/go-redis/v9"
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultKey is the hash key used when none is configured.
const DefaultKey = "limscore:state"

// Store persists state to Redis while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	client *goredis.Client
	key    string
	mu     sync.Mutex
}

// NewStore connects using opts, verifies the server, and hydrates the
// in-memory store from the hash at key.
func NewStore(ctx context.Context, opts *goredis.Options, key string, engine *domain.RulesEngine) (*Store, error) {
	if opts == nil {
		return nil, fmt.Errorf("redis options required")
	}
	if key == "" {
		key = DefaultKey
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), client: client, key: key}
	if err := s.load(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if len(fields) == 0 {
		return nil
	}
	var snapshot domain.Snapshot
	targets := snapshot.BucketTargets()
	for bucket, payload := range fields {
		target, ok := targets[bucket]
		if !ok || payload == "" {
			continue
		}
		if err := json.Unmarshal([]byte(payload), target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := s.ExportState().BucketValues()
	fields := make(map[string]any, len(domain.Buckets))
	for _, bucket := range domain.Buckets {
		data, err := json.Marshal(values[bucket])
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		fields[bucket] = data
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.key, fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// RunInTransaction applies fn, then writes the snapshot hash atomically if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Client exposes the underlying client for integration testing hooks.
func (s *Store) Client() *goredis.Client { return s.client }

// Key returns the hash key holding the snapshot.
func (s *Store) Key() string { return s.key }

// Close releases the client connection pool.
func (s *Store) Close() error { return s.client.Close() }
