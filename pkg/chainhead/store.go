// Copyright 2025 Certen Protocol
//
// Chain-head store (C1). Holds the single authoritative {tx, cid, seq}
// pointer per chain key. Backed by Postgres for linearizable single-row
// updates, following the teacher's pkg/database connection-pooling
// conventions.

package chainhead

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/arkechain/attest-core/pkg/record"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the Postgres-backed chain-head store.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to Postgres and runs migrations.
func Open(ctx context.Context, databaseURL string, maxConns, minConns int) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, logger: log.New(log.Writer(), "[ChainHead] ", log.LstdFlags)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an already-open *sql.DB (used in tests against a real
// Postgres instance, or sqlmock-style fakes).
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, logger: log.New(log.Writer(), "[ChainHead] ", log.LstdFlags)}
}

func (s *Store) migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		b, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

// Get returns the head for chainKey, or the genesis pointer if absent.
func (s *Store) Get(ctx context.Context, chainKey string) (record.Head, error) {
	var h record.Head
	var tx, cid sql.NullString
	var seq sql.NullInt64
	var updatedAt sql.NullTime

	row := s.db.QueryRowContext(ctx,
		`SELECT tx, cid, seq, updated_at FROM chain_state WHERE key = $1`, chainKey)
	err := row.Scan(&tx, &cid, &seq, &updatedAt)
	if err == sql.ErrNoRows {
		return record.Head{}, nil
	}
	if err != nil {
		return record.Head{}, fmt.Errorf("get head %s: %w", chainKey, err)
	}
	h.Tx = tx.String
	h.CID = cid.String
	h.Seq = uint64(seq.Int64)
	h.UpdatedAt = updatedAt.Time
	return h, nil
}

// Update upserts the head for chainKey. Callers must ensure only one
// goroutine/process advances a given chain key at a time; Postgres's
// single-row UPSERT makes the write itself atomic, but this store does
// not itself serialize concurrent callers (see pkg/orchestrator's
// single-tick invariant in spec section 5).
func (s *Store) Update(ctx context.Context, chainKey, tx, cid string, seq uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_state (key, tx, cid, seq, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (key) DO UPDATE
		SET tx = EXCLUDED.tx, cid = EXCLUDED.cid, seq = EXCLUDED.seq, updated_at = now()`,
		chainKey, nullableString(tx), nullableString(cid), int64(seq))
	if err != nil {
		return fmt.Errorf("update head %s: %w", chainKey, err)
	}
	return nil
}

// Reset sets the head for chainKey back to genesis. Operator-only; see
// pkg/orchestrator's admin reset-head route.
func (s *Store) Reset(ctx context.Context, chainKey string) error {
	return s.Update(ctx, chainKey, "", "", 0)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullableString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
