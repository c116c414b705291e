// Copyright 2025 Certen Protocol
//
// Seeding verifier (C9). Tracks uploaded bundles until the network
// gateway confirms they are actually retrievable, timing failed bundles
// out and pushing their records back onto the queue so the chain
// self-heals. Verified/failed bundles are retained for operator
// visibility and pruned after the retention window.

package seeding

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/arkechain/attest-core/pkg/kvstore"
	"github.com/arkechain/attest-core/pkg/queue"
	"github.com/arkechain/attest-core/pkg/record"
)

const bundleKeyPrefix = "bundle:"

// StatusChecker reports how many confirmations a transaction has on
// the storage network.
type StatusChecker interface {
	Confirmations(ctx context.Context, txID string) (int, error)
}

// Alerter is notified of seeding failures. Matches pkg/alert.Alerter's
// shape without importing pkg/alert.
type Alerter interface {
	Alert(ctx context.Context, level, message string) error
}

// Verifier tracks uploaded bundles and periodically checks whether they
// seeded.
type Verifier struct {
	Store           kvstore.KV
	Status          StatusChecker
	Queue           queue.Store
	Alert           Alerter
	GracePeriod     time.Duration
	Timeout         time.Duration
	RetentionWindow time.Duration
	Logger          *log.Logger
}

// New constructs a Verifier with the teacher's bracketed logger prefix.
func New(store kvstore.KV, status StatusChecker, q queue.Store, alerter Alerter, gracePeriod, timeout, retention time.Duration) *Verifier {
	return &Verifier{
		Store:           store,
		Status:          status,
		Queue:           q,
		Alert:           alerter,
		GracePeriod:     gracePeriod,
		Timeout:         timeout,
		RetentionWindow: retention,
		Logger:          log.New(log.Writer(), "[Seeding] ", log.LstdFlags),
	}
}

// Register records a newly uploaded bundle for tracking.
func (v *Verifier) Register(bundleTx string, items []record.BundleItem, uploadedAt time.Time) error {
	tb := record.TrackedBundle{
		BundleTx:   bundleTx,
		Items:      items,
		ItemCount:  len(items),
		UploadedAt: uploadedAt,
	}
	return v.save(tb)
}

// SweepResult summarizes one verification pass.
type SweepResult struct {
	Verified int
	Pending  int
	Failed   int
	Pruned   int
}

// Sweep checks every tracked bundle past its grace period against the
// status endpoint, and prunes resolved bundles past the retention
// window.
func (v *Verifier) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var bundles []record.TrackedBundle
	err := v.Store.IteratePrefix([]byte(bundleKeyPrefix), func(_, value []byte) bool {
		var tb record.TrackedBundle
		if err := json.Unmarshal(value, &tb); err == nil {
			bundles = append(bundles, tb)
		}
		return true
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list tracked bundles: %w", err)
	}

	var res SweepResult
	for _, tb := range bundles {
		if tb.VerifiedAt != nil || tb.FailedAt != nil {
			resolvedAt := tb.VerifiedAt
			if resolvedAt == nil {
				resolvedAt = tb.FailedAt
			}
			if now.Sub(*resolvedAt) >= v.RetentionWindow {
				if err := v.Store.Delete(bundleKey(tb.BundleTx)); err != nil {
					return res, fmt.Errorf("failed to prune bundle %s: %w", tb.BundleTx, err)
				}
				res.Pruned++
			}
			continue
		}

		age := now.Sub(tb.UploadedAt)
		if age < v.GracePeriod {
			continue
		}

		confirmations, err := v.Status.Confirmations(ctx, tb.BundleTx)
		if err != nil {
			v.Logger.Printf("status check failed for bundle %s: %v", tb.BundleTx, err)
			continue
		}

		switch {
		case confirmations >= 1:
			t := now
			tb.VerifiedAt = &t
			res.Verified++
		case age < v.Timeout:
			tb.CheckCount++
			res.Pending++
		default:
			t := now
			tb.FailedAt = &t
			res.Failed++
			if err := v.requeueItems(ctx, tb); err != nil {
				return res, err
			}
			if v.Alert != nil {
				msg := fmt.Sprintf("bundle %s failed to seed after %s (%d records)", tb.BundleTx, v.Timeout, tb.ItemCount)
				if err := v.Alert.Alert(ctx, "critical", msg); err != nil {
					v.Logger.Printf("failed to send seeding-failure alert: %v", err)
				}
			}
		}

		if err := v.save(tb); err != nil {
			return res, fmt.Errorf("failed to persist bundle %s: %w", tb.BundleTx, err)
		}
	}
	return res, nil
}

// Stats summarizes tracked-bundle state for the admin status route:
// bundles still awaiting verification, and bundles resolved in the
// last 24 hours.
type Stats struct {
	PendingBundles  int
	VerifiedLast24h int
	FailedLast24h   int
}

// Stats reports tracked-bundle counts as of now.
func (v *Verifier) Stats(now time.Time) (Stats, error) {
	var stats Stats
	err := v.Store.IteratePrefix([]byte(bundleKeyPrefix), func(_, value []byte) bool {
		var tb record.TrackedBundle
		if err := json.Unmarshal(value, &tb); err != nil {
			return true
		}
		switch {
		case tb.VerifiedAt != nil:
			if now.Sub(*tb.VerifiedAt) < 24*time.Hour {
				stats.VerifiedLast24h++
			}
		case tb.FailedAt != nil:
			if now.Sub(*tb.FailedAt) < 24*time.Hour {
				stats.FailedLast24h++
			}
		default:
			stats.PendingBundles++
		}
		return true
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list tracked bundles: %w", err)
	}
	return stats, nil
}

func (v *Verifier) requeueItems(ctx context.Context, tb record.TrackedBundle) error {
	for _, item := range tb.Items {
		if err := v.Queue.Requeue(ctx, item.EntityID, item.CID, item.Op, item.Vis, time.Now()); err != nil {
			return fmt.Errorf("failed to requeue %s/%s after seeding timeout: %w", item.EntityID, item.CID, err)
		}
	}
	return nil
}

func (v *Verifier) save(tb record.TrackedBundle) error {
	raw, err := json.Marshal(tb)
	if err != nil {
		return fmt.Errorf("failed to marshal tracked bundle %s: %w", tb.BundleTx, err)
	}
	return v.Store.Set(bundleKey(tb.BundleTx), raw)
}

func bundleKey(tx string) []byte {
	var b strings.Builder
	b.WriteString(bundleKeyPrefix)
	b.WriteString(tx)
	return []byte(b.String())
}
