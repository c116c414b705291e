package manifest

import (
	"context"
	"sync"

	"github.com/arkechain/attest-core/pkg/record"
)

// Mem is an in-memory Source for tests.
type Mem struct {
	mu        sync.RWMutex
	manifests map[string]record.Manifest
}

// NewMem creates an empty in-memory Source.
func NewMem() *Mem {
	return &Mem{manifests: make(map[string]record.Manifest)}
}

// Put registers the manifest a later Get(contentID) will return.
func (m *Mem) Put(contentID string, man record.Manifest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[contentID] = man
}

func (m *Mem) Get(_ context.Context, contentID string) (record.Manifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	man, ok := m.manifests[contentID]
	if !ok {
		return record.Manifest{}, ErrNotFound
	}
	return man, nil
}

var _ Source = (*Mem)(nil)
