package seeding

import (
	"context"
	"testing"
	"time"

	"github.com/arkechain/attest-core/pkg/kvstore"
	"github.com/arkechain/attest-core/pkg/queue"
	"github.com/arkechain/attest-core/pkg/record"
)

type fakeStatus struct {
	confirmations map[string]int
}

func (f *fakeStatus) Confirmations(_ context.Context, txID string) (int, error) {
	return f.confirmations[txID], nil
}

type fakeAlerter struct {
	alerts []string
}

func (f *fakeAlerter) Alert(_ context.Context, level, message string) error {
	f.alerts = append(f.alerts, level+": "+message)
	return nil
}

func TestSweepVerifiesBundleWithConfirmation(t *testing.T) {
	store := kvstore.NewMem()
	status := &fakeStatus{confirmations: map[string]int{"TX1": 1}}
	q := queue.NewMem()
	alerter := &fakeAlerter{}
	v := New(store, status, q, alerter, time.Minute, 30*time.Minute, 24*time.Hour)

	uploadedAt := time.Now().Add(-2 * time.Minute)
	if err := v.Register("TX1", []record.BundleItem{{EntityID: "e1", CID: "c1"}}, uploadedAt); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := v.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Verified != 1 {
		t.Errorf("Sweep() = %+v, want Verified=1", res)
	}
}

func TestSweepSkipsBundleWithinGracePeriod(t *testing.T) {
	store := kvstore.NewMem()
	status := &fakeStatus{}
	q := queue.NewMem()
	v := New(store, status, q, nil, 10*time.Minute, 30*time.Minute, 24*time.Hour)

	if err := v.Register("TX1", []record.BundleItem{{EntityID: "e1", CID: "c1"}}, time.Now()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := v.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Verified != 0 || res.Pending != 0 || res.Failed != 0 {
		t.Errorf("Sweep() = %+v, want no-op within grace period", res)
	}
}

func TestSweepTimesOutAndRequeues(t *testing.T) {
	store := kvstore.NewMem()
	status := &fakeStatus{}
	q := queue.NewMem()
	alerter := &fakeAlerter{}
	v := New(store, status, q, alerter, time.Minute, 30*time.Minute, 24*time.Hour)

	uploadedAt := time.Now().Add(-time.Hour)
	if err := v.Register("TX1", []record.BundleItem{{EntityID: "e1", CID: "c1", Op: record.OpCreate, Vis: record.VisPublic}}, uploadedAt); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := v.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("Sweep() = %+v, want Failed=1", res)
	}
	if len(alerter.alerts) != 1 {
		t.Errorf("alerts = %v, want exactly 1 seeding-failure alert", alerter.alerts)
	}

	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("queue Pending = %d, want 1 (re-inserted after timeout)", stats.Pending)
	}
}

func TestSweepPrunesAfterRetentionWindow(t *testing.T) {
	store := kvstore.NewMem()
	status := &fakeStatus{confirmations: map[string]int{"TX1": 1}}
	q := queue.NewMem()
	v := New(store, status, q, nil, time.Minute, 30*time.Minute, time.Hour)

	if err := v.Register("TX1", []record.BundleItem{{EntityID: "e1", CID: "c1"}}, time.Now().Add(-2*time.Minute)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := v.Sweep(context.Background(), time.Now()); err != nil {
		t.Fatalf("first Sweep() error = %v", err)
	}

	res, err := v.Sweep(context.Background(), time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}
	if res.Pruned != 1 {
		t.Errorf("Sweep() = %+v, want Pruned=1 after retention window", res)
	}
}
