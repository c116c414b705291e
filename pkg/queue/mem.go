package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arkechain/attest-core/pkg/record"
)

// Mem is an in-memory Store for tests.
type Mem struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]record.QueueEntry
}

// NewMem creates an empty in-memory Store.
func NewMem() *Mem {
	return &Mem{rows: make(map[int64]record.QueueEntry)}
}

// Seed inserts a row directly, returning its assigned id. Test helper,
// bypassing the (entity_id, cid) uniqueness check Requeue enforces.
func (m *Mem) Seed(e record.QueueEntry) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	if e.Status == "" {
		e.Status = record.StatusPending
	}
	m.rows[e.ID] = e
	return e.ID
}

func (m *Mem) FetchPending(_ context.Context, limit int) ([]record.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []record.QueueEntry
	for _, e := range m.rows {
		if e.Status == record.StatusPending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Mem) MarkSigning(_ context.Context, ids []int64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if e, ok := m.rows[id]; ok {
			e.Status = record.StatusSigning
			e.UpdatedAt = ts
			m.rows[id] = e
		}
	}
	return nil
}

func (m *Mem) Delete(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.rows, id)
	}
	return nil
}

func (m *Mem) MarkFailed(_ context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.rows[id]; ok {
		e.Status = record.StatusFailed
		e.ErrorMessage = errMsg
		e.UpdatedAt = time.Now()
		m.rows[id] = e
	}
	return nil
}

func (m *Mem) RevertToPending(_ context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.rows[id]; ok {
		e.Status = record.StatusPending
		e.RetryCount++
		e.ErrorMessage = errMsg
		e.UpdatedAt = time.Now()
		m.rows[id] = e
	}
	return nil
}

func (m *Mem) ResetStuck(_ context.Context, threshold time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.rows {
		if (e.Status == record.StatusSigning || e.Status == record.StatusUploading) && e.UpdatedAt.Before(threshold) {
			e.Status = record.StatusPending
			e.UpdatedAt = time.Now()
			m.rows[id] = e
			n++
		}
	}
	return n, nil
}

func (m *Mem) ResetFailedUnderLimit(_ context.Context, maxRetries int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.rows {
		if e.Status == record.StatusFailed && e.RetryCount < maxRetries {
			e.Status = record.StatusPending
			e.UpdatedAt = time.Now()
			m.rows[id] = e
			n++
		}
	}
	return n, nil
}

func (m *Mem) Stats(_ context.Context) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c Counts
	for _, e := range m.rows {
		switch e.Status {
		case record.StatusPending:
			c.Pending++
		case record.StatusSigning:
			c.Signing++
		case record.StatusUploading:
			c.Uploading++
		case record.StatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (m *Mem) Requeue(_ context.Context, entityID, cid string, op record.Op, vis record.Visibility, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.rows {
		if e.EntityID == entityID && e.CID == cid {
			return nil
		}
	}
	m.nextID++
	m.rows[m.nextID] = record.QueueEntry{
		ID:        m.nextID,
		EntityID:  entityID,
		CID:       cid,
		Op:        op,
		Vis:       vis,
		Ts:        ts,
		Status:    record.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	return nil
}

var _ Store = (*Mem)(nil)
