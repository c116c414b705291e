package upload

import (
	"context"

	"github.com/arkechain/attest-core/pkg/record"
)

// DirectUploader is the interface pkg/orchestrator depends on for
// direct-mode uploads, satisfied by *Client and test fakes.
type DirectUploader interface {
	UploadDirect(ctx context.Context, signed []record.Signed) []Outcome
}

// BundleUploader is the interface pkg/orchestrator depends on for
// bundle-mode uploads, satisfied by *Client and test fakes.
type BundleUploader interface {
	UploadBundle(ctx context.Context, encoded []byte) BundleResult
}

var (
	_ DirectUploader = (*Client)(nil)
	_ BundleUploader = (*Client)(nil)
)

// Fake is an in-memory DirectUploader/BundleUploader for tests. Every
// record id present in Fail is reported failed with the given message;
// everything else succeeds.
type Fake struct {
	Fail          map[string]string
	BundleTx      string
	BundleFails   bool
	BundleFailMsg string
	Confirmed     map[string]int
}

// Confirmations satisfies pkg/seeding.StatusChecker for tests that wire
// Fake as both uploader and status checker.
func (f *Fake) Confirmations(_ context.Context, txID string) (int, error) {
	return f.Confirmed[txID], nil
}

func (f *Fake) UploadDirect(_ context.Context, signed []record.Signed) []Outcome {
	out := make([]Outcome, len(signed))
	for i, s := range signed {
		if msg, bad := f.Fail[s.ID]; bad {
			out[i] = Outcome{ID: s.ID, Success: false, Error: msg, Attempts: 1}
			continue
		}
		out[i] = Outcome{ID: s.ID, Success: true, Attempts: 1}
	}
	return out
}

func (f *Fake) UploadBundle(_ context.Context, _ []byte) BundleResult {
	if f.BundleFails {
		return BundleResult{Success: false, Error: f.BundleFailMsg}
	}
	tx := f.BundleTx
	if tx == "" {
		tx = "FAKE-BUNDLE-TX"
	}
	return BundleResult{BundleTx: tx, Success: true}
}

var (
	_ DirectUploader = (*Fake)(nil)
	_ BundleUploader = (*Fake)(nil)
)
