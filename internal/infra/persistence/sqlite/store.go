// Package sqlite keeps the LIMS snapshot in an embedded SQLite file. Every
// committed transaction rewrites the bucket rows under a new generation
// number, so a reader can tell how many checkpoints a database has seen.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" driver

	"limscore/internal/infra/persistence/memory"
	"limscore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database file is configured.
const DefaultPath = "limscore.db"

const pragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Store is a memory store checkpointed into SQLite.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string

	mu         sync.Mutex
	generation int64
}

// NewStore opens (or creates) the database at path and hydrates the memory
// store from its latest snapshot.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS lims_snapshot (
		bucket     TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		generation INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create lims_snapshot: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.hydrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) hydrate() error {
	rows, err := s.db.Query(`SELECT bucket, payload, generation FROM lims_snapshot`)
	if err != nil {
		return fmt.Errorf("select lims_snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot domain.Snapshot
	targets := snapshot.BucketTargets()
	found := false
	for rows.Next() {
		var (
			bucket     string
			payload    []byte
			generation int64
		)
		if err := rows.Scan(&bucket, &payload, &generation); err != nil {
			return fmt.Errorf("scan lims_snapshot: %w", err)
		}
		if generation > s.generation {
			s.generation = generation
		}
		target, ok := targets[bucket]
		if !ok {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate lims_snapshot: %w", err)
	}
	if found {
		s.ImportState(snapshot)
	}
	return nil
}

// checkpoint writes every bucket under the next generation number.
func (s *Store) checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := s.ExportState().BucketValues()
	next := s.generation + 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, bucket := range domain.Buckets {
		data, err := json.Marshal(values[bucket])
		if err == nil {
			_, err = tx.ExecContext(ctx, `INSERT INTO lims_snapshot (bucket, payload, generation) VALUES (?, ?, ?)
				ON CONFLICT (bucket) DO UPDATE SET payload = excluded.payload, generation = excluded.generation`,
				bucket, data, next)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.generation = next
	return nil
}

// RunInTransaction commits fn in memory and checkpoints the snapshot.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	return res, s.checkpoint(ctx)
}

// Generation reports how many checkpoints the database file has recorded.
func (s *Store) Generation() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// DB exposes the database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
