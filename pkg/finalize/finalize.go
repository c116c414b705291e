// Copyright 2025 Certen Protocol
//
// Finalizer (C8). Given per-record upload outcomes in the same order
// they were signed, advances the chain head to the longest
// contiguously successful prefix, writes lookup-index entries, deletes
// succeeded queue rows, and reverts the rest to pending. Bundle mode is
// all-or-nothing at upload granularity, so a bundle call passes outcomes
// that are either all success or all failure; the longest-prefix rule
// only has teeth in direct mode.

package finalize

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/arkechain/attest-core/pkg/chainhead"
	"github.com/arkechain/attest-core/pkg/kvstore"
	"github.com/arkechain/attest-core/pkg/queue"
	"github.com/arkechain/attest-core/pkg/record"
	"github.com/arkechain/attest-core/pkg/upload"
)

const indexChunkSize = 50

// Finalizer wires chain head, queue, and lookup-index updates together.
type Finalizer struct {
	Head  chainhead.HeadStore
	Queue queue.Store
	Index kvstore.KV
}

// New constructs a Finalizer.
func New(head chainhead.HeadStore, q queue.Store, index kvstore.KV) *Finalizer {
	return &Finalizer{Head: head, Queue: q, Index: index}
}

// Result summarizes one finalization pass.
type Result struct {
	Advanced int // records whose chain head advance committed
	Deleted  int // succeeded queue rows removed
	Reverted int // failed queue rows reverted to pending
}

// Finalize applies the longest-successful-prefix rule across signed,
// in the same order they were signed and uploaded, using outcomes keyed
// by record id.
func (f *Finalizer) Finalize(ctx context.Context, chainKey string, signed []record.Signed, outcomes []upload.Outcome) (Result, error) {
	byID := make(map[string]upload.Outcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.ID] = o
	}

	prefixLen := 0
	for _, s := range signed {
		o, ok := byID[s.ID]
		if !ok || !o.Success {
			break
		}
		prefixLen++
	}

	succeeded := signed[:prefixLen]
	failed := signed[prefixLen:]

	var res Result
	if len(succeeded) > 0 {
		last := succeeded[len(succeeded)-1]
		if err := f.Head.Update(ctx, chainKey, last.ID, last.Entry.CID, last.Seq); err != nil {
			return res, fmt.Errorf("failed to advance chain head: %w", err)
		}
		res.Advanced = len(succeeded)

		if err := f.writeIndexEntries(ctx, succeeded); err != nil {
			return res, fmt.Errorf("failed to write index entries: %w", err)
		}

		ids := make([]int64, len(succeeded))
		for i, s := range succeeded {
			ids[i] = s.Entry.ID
		}
		if err := f.Queue.Delete(ctx, ids); err != nil {
			return res, fmt.Errorf("failed to delete succeeded queue rows: %w", err)
		}
		res.Deleted = len(succeeded)
	}

	for _, s := range failed {
		msg := "upstream upload did not succeed"
		if o, ok := byID[s.ID]; ok && o.Error != "" {
			msg = o.Error
		}
		if err := f.Queue.RevertToPending(ctx, s.Entry.ID, msg); err != nil {
			return res, fmt.Errorf("failed to revert row %d to pending: %w", s.Entry.ID, err)
		}
		res.Reverted++
	}

	return res, nil
}

func (f *Finalizer) writeIndexEntries(ctx context.Context, succeeded []record.Signed) error {
	type write struct {
		key   string
		entry record.IndexEntry
	}

	var writes []write
	for _, s := range succeeded {
		entry := record.IndexEntry{CID: s.Entry.CID, Tx: s.ID, Seq: s.Seq, Ts: s.Payload.Ts}
		writes = append(writes,
			write{key: fmt.Sprintf("attest:%s:%d", s.Entry.EntityID, s.Payload.Ver), entry: entry},
			write{key: fmt.Sprintf("attest:%s:latest", s.Entry.EntityID), entry: entry},
		)
	}

	for i := 0; i < len(writes); i += indexChunkSize {
		end := i + indexChunkSize
		if end > len(writes) {
			end = len(writes)
		}
		for _, w := range writes[i:end] {
			if err := f.writeWithBackoff(ctx, w.key, w.entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeWithBackoff retries transient (e.g. rate-limited) index writes
// with exponential backoff.
func (f *Finalizer) writeWithBackoff(ctx context.Context, key string, entry record.IndexEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal index entry for %s: %w", key, err)
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	return backoff.Retry(func() error {
		return f.Index.Set([]byte(key), raw)
	}, backoff.WithContext(b, ctx))
}
