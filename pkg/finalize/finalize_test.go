package finalize

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/arkechain/attest-core/pkg/chainhead"
	"github.com/arkechain/attest-core/pkg/kvstore"
	"github.com/arkechain/attest-core/pkg/queue"
	"github.com/arkechain/attest-core/pkg/record"
	"github.com/arkechain/attest-core/pkg/signer"
	"github.com/arkechain/attest-core/pkg/upload"
)

func signBatch(t *testing.T, n int) []record.Signed {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	s, err := signer.New(priv)
	if err != nil {
		t.Fatalf("signer.New() error = %v", err)
	}
	var inputs []signer.Input
	for i := 0; i < n; i++ {
		inputs = append(inputs, signer.Input{
			Entry:    record.QueueEntry{ID: int64(i + 1), EntityID: "e", CID: "cid", Op: record.OpCreate, Vis: record.VisPublic, Ts: time.Unix(1, 0)},
			Manifest: record.Manifest{Ver: 1},
		})
	}
	signed, err := s.SignBatch(record.Head{}, inputs)
	if err != nil {
		t.Fatalf("SignBatch() error = %v", err)
	}
	return signed
}

func TestFinalizeAllSuccessAdvancesHead(t *testing.T) {
	signed := signBatch(t, 3)
	head, q, idx := chainhead.NewMem(), queue.NewMem(), kvstore.NewMem()
	f := New(head, q, idx)

	var outcomes []upload.Outcome
	for _, s := range signed {
		outcomes = append(outcomes, upload.Outcome{ID: s.ID, Success: true})
	}

	res, err := f.Finalize(context.Background(), "head", signed, outcomes)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if res.Advanced != 3 || res.Deleted != 3 || res.Reverted != 0 {
		t.Errorf("Finalize() = %+v, want Advanced=3 Deleted=3", res)
	}

	h, _ := head.Get(context.Background(), "head")
	if h.Tx != signed[2].ID || h.Seq != signed[2].Seq {
		t.Errorf("head = %+v, want last record %s/%d", h, signed[2].ID, signed[2].Seq)
	}
}

func TestFinalizeStopsAtFirstFailure(t *testing.T) {
	signed := signBatch(t, 3)
	head, q, idx := chainhead.NewMem(), queue.NewMem(), kvstore.NewMem()
	f := New(head, q, idx)

	outcomes := []upload.Outcome{
		{ID: signed[0].ID, Success: true},
		{ID: signed[1].ID, Success: false, Error: "gateway 500"},
		{ID: signed[2].ID, Success: true}, // would-be success after a broken prev_tx; must still count as failed
	}

	res, err := f.Finalize(context.Background(), "head", signed, outcomes)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if res.Advanced != 1 || res.Reverted != 2 {
		t.Errorf("Finalize() = %+v, want Advanced=1 Reverted=2", res)
	}

	h, _ := head.Get(context.Background(), "head")
	if h.Tx != signed[0].ID {
		t.Errorf("head.Tx = %s, want %s", h.Tx, signed[0].ID)
	}
}

func TestFinalizeWritesVersionAndLatestIndexEntries(t *testing.T) {
	signed := signBatch(t, 1)
	head, q, idx := chainhead.NewMem(), queue.NewMem(), kvstore.NewMem()
	f := New(head, q, idx)

	outcomes := []upload.Outcome{{ID: signed[0].ID, Success: true}}
	if _, err := f.Finalize(context.Background(), "head", signed, outcomes); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	verKey := "attest:e:1"
	latestKey := "attest:e:latest"
	if v, err := idx.Get([]byte(verKey)); err != nil || v == nil {
		t.Errorf("Get(%s) = %v, %v, want entry written", verKey, v, err)
	}
	if v, err := idx.Get([]byte(latestKey)); err != nil || v == nil {
		t.Errorf("Get(%s) = %v, %v, want entry written", latestKey, v, err)
	}
}
