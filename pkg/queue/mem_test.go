package queue

import (
	"context"
	"testing"
	"time"

	"github.com/arkechain/attest-core/pkg/record"
)

func TestFetchPendingOrdersByCreatedAt(t *testing.T) {
	m := NewMem()
	base := time.Now()
	idB := m.Seed(record.QueueEntry{EntityID: "b", CID: "cidB", CreatedAt: base.Add(2 * time.Second)})
	idA := m.Seed(record.QueueEntry{EntityID: "a", CID: "cidA", CreatedAt: base})

	rows, err := m.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchPending() error = %v", err)
	}
	if len(rows) != 2 || rows[0].ID != idA || rows[1].ID != idB {
		t.Errorf("FetchPending() = %+v, want [idA, idB] order", rows)
	}
}

func TestFetchPendingRespectsLimit(t *testing.T) {
	m := NewMem()
	for i := 0; i < 5; i++ {
		m.Seed(record.QueueEntry{EntityID: "e", CID: "c", CreatedAt: time.Now()})
	}
	rows, err := m.FetchPending(context.Background(), 2)
	if err != nil {
		t.Fatalf("FetchPending() error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("FetchPending() returned %d rows, want 2", len(rows))
	}
}

func TestMarkSigningThenDelete(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	id := m.Seed(record.QueueEntry{EntityID: "e", CID: "c"})

	if err := m.MarkSigning(ctx, []int64{id}, time.Now()); err != nil {
		t.Fatalf("MarkSigning() error = %v", err)
	}
	rows, _ := m.FetchPending(ctx, 10)
	if len(rows) != 0 {
		t.Errorf("row still pending after MarkSigning: %+v", rows)
	}

	if err := m.Delete(ctx, []int64{id}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := m.rows[id]; ok {
		t.Errorf("row %d survived Delete()", id)
	}
}

func TestRevertToPendingIncrementsRetryCount(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	id := m.Seed(record.QueueEntry{EntityID: "e", CID: "c", Status: record.StatusUploading})

	if err := m.RevertToPending(ctx, id, "upload timeout"); err != nil {
		t.Fatalf("RevertToPending() error = %v", err)
	}
	if m.rows[id].RetryCount != 1 || m.rows[id].Status != record.StatusPending {
		t.Errorf("row after revert = %+v, want RetryCount=1, Status=pending", m.rows[id])
	}
}

func TestResetStuckOnlyAffectsOldRows(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	threshold := time.Now()
	stuckID := m.Seed(record.QueueEntry{EntityID: "e1", CID: "c1", Status: record.StatusUploading, UpdatedAt: threshold.Add(-time.Hour)})
	freshID := m.Seed(record.QueueEntry{EntityID: "e2", CID: "c2", Status: record.StatusSigning, UpdatedAt: threshold.Add(time.Hour)})

	n, err := m.ResetStuck(ctx, threshold)
	if err != nil {
		t.Fatalf("ResetStuck() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ResetStuck() reclaimed %d rows, want 1", n)
	}
	if m.rows[stuckID].Status != record.StatusPending {
		t.Errorf("stuck row not reclaimed: %+v", m.rows[stuckID])
	}
	if m.rows[freshID].Status != record.StatusSigning {
		t.Errorf("fresh row wrongly reclaimed: %+v", m.rows[freshID])
	}
}

func TestResetFailedUnderLimitRespectsRetryCap(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	underID := m.Seed(record.QueueEntry{EntityID: "e1", CID: "c1", Status: record.StatusFailed, RetryCount: 2})
	overID := m.Seed(record.QueueEntry{EntityID: "e2", CID: "c2", Status: record.StatusFailed, RetryCount: 5})

	n, err := m.ResetFailedUnderLimit(ctx, 5)
	if err != nil {
		t.Fatalf("ResetFailedUnderLimit() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ResetFailedUnderLimit() reset %d rows, want 1", n)
	}
	if m.rows[underID].Status != record.StatusPending {
		t.Errorf("row under retry cap not reset: %+v", m.rows[underID])
	}
	if m.rows[overID].Status != record.StatusFailed {
		t.Errorf("row at retry cap wrongly reset: %+v", m.rows[overID])
	}
}

func TestRequeueIsIdempotent(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	if err := m.Requeue(ctx, "e1", "c1", record.OpCreate, record.VisPublic, time.Now()); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if err := m.Requeue(ctx, "e1", "c1", record.OpCreate, record.VisPublic, time.Now()); err != nil {
		t.Fatalf("second Requeue() error = %v", err)
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("Stats().Pending = %d, want 1 (requeue must be idempotent)", stats.Pending)
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	m.Seed(record.QueueEntry{EntityID: "e1", CID: "c1", Status: record.StatusPending})
	m.Seed(record.QueueEntry{EntityID: "e2", CID: "c2", Status: record.StatusSigning})
	m.Seed(record.QueueEntry{EntityID: "e3", CID: "c3", Status: record.StatusFailed})

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Pending != 1 || stats.Signing != 1 || stats.Failed != 1 || stats.Total() != 3 {
		t.Errorf("Stats() = %+v, want {1 1 0 1}", stats)
	}
}
