// Copyright 2025 Certen Protocol
//
// Queue store (C2). Persists attestation requests and their state
// transitions. Chunks statements that touch many ids to respect
// Postgres's bound-parameter cap, following the chunking convention the
// teacher's repository layer already uses for batch writes.

package queue

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/arkechain/attest-core/pkg/record"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// chunkSize bounds how many ids a single mark/delete statement touches.
const chunkSize = 50

// Store is the interface pkg/orchestrator, pkg/finalize and pkg/seeding
// depend on, satisfied by *PGStore (Postgres) and *Mem (tests).
type Store interface {
	FetchPending(ctx context.Context, limit int) ([]record.QueueEntry, error)
	MarkSigning(ctx context.Context, ids []int64, ts time.Time) error
	Delete(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	RevertToPending(ctx context.Context, id int64, errMsg string) error
	ResetStuck(ctx context.Context, threshold time.Time) (int, error)
	ResetFailedUnderLimit(ctx context.Context, maxRetries int) (int, error)
	Stats(ctx context.Context) (Counts, error)
	Requeue(ctx context.Context, entityID, cid string, op record.Op, vis record.Visibility, ts time.Time) error
}

// Counts is a snapshot of queue depth by status.
type Counts struct {
	Pending    int
	Signing    int
	Uploading  int
	Failed     int
}

func (c Counts) Total() int { return c.Pending + c.Signing + c.Uploading + c.Failed }

// PGStore is the Postgres-backed queue store.
type PGStore struct {
	db *sql.DB
}

// Open connects to Postgres and runs migrations.
func Open(ctx context.Context, databaseURL string, maxConns, minConns int) (*PGStore, error) {
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

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PGStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an already-open *sql.DB.
func NewWithDB(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) migrate(ctx context.Context) error {
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

func (s *PGStore) Close() error { return s.db.Close() }

// FetchPending returns pending rows ordered by created_at ascending.
func (s *PGStore) FetchPending(ctx context.Context, limit int) ([]record.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, cid, op, vis, ts, status, retry_count,
		       COALESCE(error_message, ''), created_at, updated_at
		FROM queue
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	defer rows.Close()

	var out []record.QueueEntry
	for rows.Next() {
		var e record.QueueEntry
		var op, vis, status string
		if err := rows.Scan(&e.ID, &e.EntityID, &e.CID, &op, &vis, &e.Ts, &status,
			&e.RetryCount, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		e.Op = record.Op(op)
		e.Vis = record.Visibility(vis)
		e.Status = record.Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkSigning transitions ids to signing, chunked to respect the
// bound-parameter cap.
func (s *PGStore) MarkSigning(ctx context.Context, ids []int64, ts time.Time) error {
	return s.forEachChunk(ids, func(chunk []int64) error {
		query, args := inClauseQuery(
			`UPDATE queue SET status = 'signing', updated_at = $1 WHERE id IN (%s)`,
			[]any{ts}, chunk)
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Delete removes succeeded rows, chunked.
func (s *PGStore) Delete(ctx context.Context, ids []int64) error {
	return s.forEachChunk(ids, func(chunk []int64) error {
		query, args := inClauseQuery(`DELETE FROM queue WHERE id IN (%s)`, nil, chunk)
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// MarkFailed marks a single row failed with a fixed error (e.g. missing
// manifest) without incrementing retry_count — it is not a transient
// failure to be retried automatically.
func (s *PGStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queue SET status = 'failed', error_message = $2, updated_at = now()
		WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark failed %d: %w", id, err)
	}
	return nil
}

// RevertToPending reverts a row to pending after a transient failure,
// incrementing retry_count.
func (s *PGStore) RevertToPending(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queue
		SET status = 'pending', retry_count = retry_count + 1, error_message = $2, updated_at = now()
		WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("revert to pending %d: %w", id, err)
	}
	return nil
}

// ResetStuck reverts rows stuck in signing/uploading older than
// threshold back to pending (C11).
func (s *PGStore) ResetStuck(ctx context.Context, threshold time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue
		SET status = 'pending', updated_at = now()
		WHERE status IN ('signing', 'uploading') AND updated_at < $1`, threshold)
	if err != nil {
		return 0, fmt.Errorf("reset stuck: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ResetFailedUnderLimit resets failed rows below the retry cap back to
// pending (C11, daily tick). Rows at or above maxRetries are left in
// failed for forensic inspection.
func (s *PGStore) ResetFailedUnderLimit(ctx context.Context, maxRetries int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue
		SET status = 'pending', updated_at = now()
		WHERE status = 'failed' AND retry_count < $1`, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("reset failed under limit: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats returns counts by status.
func (s *PGStore) Stats(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM queue GROUP BY status`)
	if err != nil {
		return Counts{}, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, err
		}
		switch record.Status(status) {
		case record.StatusPending:
			c.Pending = n
		case record.StatusSigning:
			c.Signing = n
		case record.StatusUploading:
			c.Uploading = n
		case record.StatusFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

// Requeue inserts a fresh pending row for (entityID, cid), a no-op if a
// row with that key already exists (idempotent re-queue, spec section 8).
func (s *PGStore) Requeue(ctx context.Context, entityID, cid string, op record.Op, vis record.Visibility, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue (entity_id, cid, op, vis, ts, status, retry_count)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0)
		ON CONFLICT (entity_id, cid) DO NOTHING`,
		entityID, cid, string(op), string(vis), ts)
	if err != nil {
		return fmt.Errorf("requeue %s/%s: %w", entityID, cid, err)
	}
	return nil
}

func (s *PGStore) forEachChunk(ids []int64, fn func([]int64) error) error {
	for i := 0; i < len(ids); i += chunkSize {
		end := i + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ids[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// inClauseQuery builds a "col IN ($n, $n+1, ...)" query, appending id
// placeholders after any fixed leading args.
func inClauseQuery(tmpl string, leadingArgs []any, ids []int64) (string, []any) {
	placeholders := make([]string, len(ids))
	args := append([]any{}, leadingArgs...)
	offset := len(leadingArgs)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", offset+i+1)
		args = append(args, id)
	}
	return fmt.Sprintf(tmpl, strings.Join(placeholders, ", ")), args
}

var _ Store = (*PGStore)(nil)
