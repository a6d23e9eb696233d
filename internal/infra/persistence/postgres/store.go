// Package postgres keeps the LIMS snapshot in a Postgres table, one JSONB row
// per bucket. Transactions run against the embedded memory store; only the
// buckets a commit changed are written back.
package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"limscore/internal/infra/persistence/memory"
	"limscore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/limscore?sslmode=disable"
	tableName  = "lims_snapshot"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a memory store mirrored into Postgres.
type Store struct {
	*memory.Store
	db  *sql.DB
	now func() time.Time

	mu      sync.Mutex
	written map[string][sha256.Size]byte
}

// NewStore connects to dsn (defaultDSN when empty), creates the snapshot
// table and hydrates the memory store from it.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+tableName+` (
		bucket     TEXT PRIMARY KEY,
		payload    JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create %s: %w", tableName, err)
	}
	snapshot, present, err := load(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	s := &Store{
		Store:   mem,
		db:      db,
		now:     func() time.Time { return time.Now().UTC() },
		written: make(map[string][sha256.Size]byte),
	}
	// Buckets already stored count as written; absent ones go out on the
	// first commit.
	encoded, err := encode(mem.ExportState())
	if err != nil {
		return nil, err
	}
	for bucket := range present {
		s.written[bucket] = sha256.Sum256(encoded[bucket])
	}
	return s, nil
}

// RunInTransaction commits fn in memory and then writes the changed buckets.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	return res, s.flush(ctx)
}

// DB exposes the database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func load(ctx context.Context, db *sql.DB) (domain.Snapshot, map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM `+tableName)
	if err != nil {
		return domain.Snapshot{}, nil, fmt.Errorf("select %s: %w", tableName, err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot domain.Snapshot
	targets := snapshot.BucketTargets()
	present := make(map[string]bool)
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return domain.Snapshot{}, nil, fmt.Errorf("scan %s: %w", tableName, err)
		}
		target, known := targets[bucket]
		if !known || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return domain.Snapshot{}, nil, fmt.Errorf("decode %s: %w", bucket, err)
		}
		present[bucket] = true
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, nil, fmt.Errorf("iterate %s: %w", tableName, err)
	}
	return snapshot, present, nil
}

func encode(snapshot domain.Snapshot) (map[string][]byte, error) {
	values := snapshot.BucketValues()
	out := make(map[string][]byte, len(domain.Buckets))
	for _, bucket := range domain.Buckets {
		data, err := json.Marshal(values[bucket])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// flush upserts every bucket whose encoding differs from the last write.
// Digests only advance after the SQL transaction commits, so a failed flush
// is retried in full by the next one.
func (s *Store) flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	encoded, err := encode(s.ExportState())
	if err != nil {
		return err
	}
	dirty := make(map[string][sha256.Size]byte)
	for _, bucket := range domain.Buckets {
		sum := sha256.Sum256(encoded[bucket])
		if prev, ok := s.written[bucket]; !ok || prev != sum {
			dirty[bucket] = sum
		}
	}
	if len(dirty) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	at := s.now()
	for _, bucket := range domain.Buckets {
		if _, ok := dirty[bucket]; !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+tableName+` (bucket, payload, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
			bucket, encoded[bucket], at); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	for bucket, sum := range dirty {
		s.written[bucket] = sum
	}
	return nil
}

// OverrideSQLOpen swaps the sql.Open used by NewStore and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
