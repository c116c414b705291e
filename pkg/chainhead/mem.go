package chainhead

import (
	"context"
	"sync"

	"github.com/arkechain/attest-core/pkg/record"
)

// HeadStore is the interface pkg/orchestrator and pkg/finalize depend
// on, satisfied by both *Store (Postgres) and *Mem (tests).
type HeadStore interface {
	Get(ctx context.Context, chainKey string) (record.Head, error)
	Update(ctx context.Context, chainKey, tx, cid string, seq uint64) error
	Reset(ctx context.Context, chainKey string) error
}

// Mem is an in-memory HeadStore for tests. It is not linearizable across
// processes, but within one process a mutex gives it the same
// single-writer semantics pkg/orchestrator requires.
type Mem struct {
	mu    sync.Mutex
	heads map[string]record.Head
}

// NewMem creates an empty in-memory HeadStore.
func NewMem() *Mem {
	return &Mem{heads: make(map[string]record.Head)}
}

func (m *Mem) Get(_ context.Context, chainKey string) (record.Head, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heads[chainKey], nil
}

func (m *Mem) Update(_ context.Context, chainKey, tx, cid string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heads[chainKey] = record.Head{Tx: tx, CID: cid, Seq: seq}
	return nil
}

func (m *Mem) Reset(ctx context.Context, chainKey string) error {
	return m.Update(ctx, chainKey, "", "", 0)
}

var _ HeadStore = (*Store)(nil)
var _ HeadStore = (*Mem)(nil)
