package chainhead

import (
	"context"
	"testing"
)

func TestMemGenesisIsZeroValue(t *testing.T) {
	m := NewMem()
	h, err := m.Get(context.Background(), "head")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !h.IsGenesis() {
		t.Errorf("Get() = %+v, want genesis", h)
	}
}

func TestMemUpdateThenGet(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	if err := m.Update(ctx, "head", "TX1", "CID1", 1); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	h, err := m.Get(ctx, "head")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if h.Tx != "TX1" || h.CID != "CID1" || h.Seq != 1 {
		t.Errorf("Get() = %+v, want {TX1 CID1 1}", h)
	}
}

func TestMemReset(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	_ = m.Update(ctx, "head", "TX1", "CID1", 5)
	if err := m.Reset(ctx, "head"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	h, _ := m.Get(ctx, "head")
	if !h.IsGenesis() {
		t.Errorf("Get() after Reset = %+v, want genesis", h)
	}
}

func TestMemChainKeysAreIndependent(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	_ = m.Update(ctx, "head", "TX1", "CID1", 1)
	h, _ := m.Get(ctx, "test-chain")
	if !h.IsGenesis() {
		t.Errorf("unrelated chain key got polluted: %+v", h)
	}
}
