package orchestrator

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/arkechain/attest-core/pkg/alert"
	"github.com/arkechain/attest-core/pkg/chainhead"
	"github.com/arkechain/attest-core/pkg/finalize"
	"github.com/arkechain/attest-core/pkg/kvstore"
	"github.com/arkechain/attest-core/pkg/manifest"
	"github.com/arkechain/attest-core/pkg/queue"
	"github.com/arkechain/attest-core/pkg/record"
	"github.com/arkechain/attest-core/pkg/seeding"
	"github.com/arkechain/attest-core/pkg/signer"
	"github.com/arkechain/attest-core/pkg/upload"
	"github.com/arkechain/attest-core/pkg/wallet"
)

type fakeStatusChecker struct {
	confirmations map[string]int
}

func (f *fakeStatusChecker) Confirmations(_ context.Context, txID string) (int, error) {
	return f.confirmations[txID], nil
}

func testOrchestrator(t *testing.T, direct bool) (*Orchestrator, *queue.Mem, *manifest.Mem, *chainhead.Mem) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	s, err := signer.New(priv)
	if err != nil {
		t.Fatalf("signer.New() error = %v", err)
	}

	head := chainhead.NewMem()
	q := queue.NewMem()
	man := manifest.NewMem()
	idx := kvstore.NewMem()
	f := finalize.New(head, q, idx)
	v := seeding.New(idx, &fakeStatusChecker{confirmations: map[string]int{}}, q, &alert.Fake{}, time.Minute, 30*time.Minute, 24*time.Hour)

	cfg := Config{
		ChainKey:           "head",
		DirectMode:         direct,
		BatchSizeThreshold: 1,
		BatchTimeThreshold: time.Millisecond,
		MaxBundleSize:      10 * 1024 * 1024,
		FetchBatchLimit:    200,
		CriticalBalanceAR:  0.05,
		WarningBalanceAR:   2.0,
		StuckThreshold:     10 * time.Minute,
		MaxRetries:         5,
		TickInterval:       time.Minute,
		MaxProcessTime:     55 * time.Second,
	}

	o := New(cfg, head, q, man, &wallet.FakeBalancer{AR: 10}, s, &upload.Fake{}, &upload.Fake{}, f, v, &alert.Fake{}, nil)
	return o, q, man, head
}

func TestTickDirectModeAdvancesHead(t *testing.T) {
	o, q, man, head := testOrchestrator(t, true)
	ctx := context.Background()

	man.Put("cid-1", record.Manifest{Ver: 1, Body: map[string]any{"k": "v"}})
	q.Seed(record.QueueEntry{EntityID: "e1", CID: "cid-1", Op: record.OpCreate, Vis: record.VisPublic, Ts: time.Now(), Status: record.StatusPending, CreatedAt: time.Now()})

	res, err := o.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if res.Succeeded != 1 {
		t.Errorf("Tick() = %+v, want Succeeded=1", res)
	}

	h, err := head.Get(ctx, "head")
	if err != nil {
		t.Fatalf("head.Get() error = %v", err)
	}
	if h.Seq != 1 {
		t.Errorf("head.Seq = %d, want 1", h.Seq)
	}

	stats, _ := q.Stats(ctx)
	if stats.Total() != 0 {
		t.Errorf("queue not drained: %+v", stats)
	}
}

func TestTickSkipsMissingManifest(t *testing.T) {
	o, q, _, _ := testOrchestrator(t, true)
	ctx := context.Background()

	q.Seed(record.QueueEntry{EntityID: "e1", CID: "missing-cid", Op: record.OpCreate, Vis: record.VisPublic, Ts: time.Now(), Status: record.StatusPending, CreatedAt: time.Now()})

	res, err := o.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("Tick() = %+v, want Failed=1 for unresolved manifest", res)
	}

	stats, _ := q.Stats(ctx)
	if stats.Failed != 1 {
		t.Errorf("queue Failed = %d, want 1", stats.Failed)
	}
}

func TestTickCriticalBalanceSkipsProcessing(t *testing.T) {
	o, q, man, _ := testOrchestrator(t, true)
	o.Wallet = &wallet.FakeBalancer{AR: 0.01}
	ctx := context.Background()

	man.Put("cid-1", record.Manifest{Ver: 1, Body: map[string]any{}})
	q.Seed(record.QueueEntry{EntityID: "e1", CID: "cid-1", Op: record.OpCreate, Vis: record.VisPublic, Ts: time.Now(), Status: record.StatusPending, CreatedAt: time.Now()})

	res, err := o.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if res.Processed != 0 {
		t.Errorf("Tick() = %+v, want Processed=0 when balance critical", res)
	}

	stats, _ := q.Stats(ctx)
	if stats.Pending != 1 {
		t.Errorf("queue Pending = %d, want 1 (untouched)", stats.Pending)
	}
}

func TestTickBundleModeUploadsAndAdvancesHead(t *testing.T) {
	o, q, man, head := testOrchestrator(t, false)
	ctx := context.Background()

	man.Put("cid-1", record.Manifest{Ver: 1, Body: map[string]any{"k": "v"}})
	q.Seed(record.QueueEntry{EntityID: "e1", CID: "cid-1", Op: record.OpCreate, Vis: record.VisPublic, Ts: time.Now(), Status: record.StatusPending, CreatedAt: time.Now().Add(-time.Hour)})

	res, err := o.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if res.Succeeded != 1 {
		t.Errorf("Tick() = %+v, want Succeeded=1", res)
	}

	h, _ := head.Get(ctx, "head")
	if h.Seq != 1 {
		t.Errorf("head.Seq = %d, want 1", h.Seq)
	}
}

func TestDailyMaintenanceResetsFailedUnderLimit(t *testing.T) {
	o, q, _, _ := testOrchestrator(t, true)
	ctx := context.Background()

	q.Seed(record.QueueEntry{EntityID: "e1", CID: "c1", Status: record.StatusFailed, RetryCount: 1, UpdatedAt: time.Now()})

	if err := o.DailyMaintenance(ctx); err != nil {
		t.Fatalf("DailyMaintenance() error = %v", err)
	}

	stats, _ := q.Stats(ctx)
	if stats.Pending != 1 {
		t.Errorf("queue Pending = %d, want 1 after daily reset", stats.Pending)
	}
}
