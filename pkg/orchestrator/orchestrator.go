// Copyright 2025 Certen Protocol
//
// Orchestrator (C10). Drives the per-minute processing tick
// (cleanup_stuck -> balance_check -> process_queue -> verify_bundles)
// and the daily retry tick (retry_failed -> cleanup_stuck), and exposes
// the admin HTTP surface. Follows the teacher's batch.Scheduler
// state-machine shape: Start/Stop/Pause/Resume around a background
// run loop, plus a manual Tick for the /trigger admin route.

package orchestrator

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arkechain/attest-core/pkg/bundle"
	"github.com/arkechain/attest-core/pkg/chainhead"
	"github.com/arkechain/attest-core/pkg/finalize"
	"github.com/arkechain/attest-core/pkg/manifest"
	"github.com/arkechain/attest-core/pkg/metrics"
	"github.com/arkechain/attest-core/pkg/queue"
	"github.com/arkechain/attest-core/pkg/record"
	"github.com/arkechain/attest-core/pkg/seeding"
	"github.com/arkechain/attest-core/pkg/signer"
	"github.com/arkechain/attest-core/pkg/upload"
	"github.com/arkechain/attest-core/pkg/wallet"
)

// State is the orchestrator's run state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Alerter is notified of balance and seeding events.
type Alerter interface {
	Alert(ctx context.Context, level, message string) error
}

// Config carries every tunable the tick driver and admin surface need.
type Config struct {
	ChainKey string

	DirectMode         bool
	BatchSizeThreshold int64
	BatchTimeThreshold time.Duration
	MaxBundleSize      int64

	FetchBatchLimit int
	ManifestWorkers int

	CriticalBalanceAR float64
	WarningBalanceAR  float64

	StuckThreshold time.Duration
	MaxRetries     int

	TickInterval   time.Duration
	MaxProcessTime time.Duration
	DailyInterval  time.Duration
}

// Orchestrator wires every domain component together and drives ticks.
type Orchestrator struct {
	cfg Config

	Head      chainhead.HeadStore
	Queue     queue.Store
	Manifests manifest.Source
	Wallet    wallet.Balancer
	Signer    *signer.Signer
	Direct    upload.DirectUploader
	Bundler   upload.BundleUploader
	Finalizer *finalize.Finalizer
	Seeding   *seeding.Verifier
	Alert     Alerter
	Metrics   *metrics.Registry

	// tickMu serializes Tick so only one tick advances the chain head
	// at a time, whether fired by the run loop or by /trigger.
	tickMu sync.Mutex

	mu     sync.RWMutex
	state  State
	stopCh chan struct{}
	doneCh chan struct{}

	logger *log.Logger
}

// New constructs an Orchestrator in the stopped state.
func New(cfg Config, head chainhead.HeadStore, q queue.Store, manifests manifest.Source,
	balancer wallet.Balancer, s *signer.Signer, direct upload.DirectUploader, bundler upload.BundleUploader,
	f *finalize.Finalizer, v *seeding.Verifier, alerter Alerter, m *metrics.Registry) *Orchestrator {
	if cfg.ManifestWorkers <= 0 {
		cfg.ManifestWorkers = 10
	}
	return &Orchestrator{
		cfg:       cfg,
		Head:      head,
		Queue:     q,
		Manifests: manifests,
		Wallet:    balancer,
		Signer:    s,
		Direct:    direct,
		Bundler:   bundler,
		Finalizer: f,
		Seeding:   v,
		Alert:     alerter,
		Metrics:   m,
		state:     StateStopped,
		logger:    log.New(log.Writer(), "[Orchestrator] ", log.LstdFlags),
	}
}

// Start begins the background tick loop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateRunning {
		return
	}
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	o.state = StateRunning
	go o.run(ctx)
	o.logger.Printf("started (tick=%s, daily=%s)", o.cfg.TickInterval, o.cfg.DailyInterval)
}

// Stop halts the tick loop and waits for the in-flight tick to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state != StateRunning && o.state != StatePaused {
		o.mu.Unlock()
		return
	}
	close(o.stopCh)
	o.state = StateStopped
	o.mu.Unlock()

	<-o.doneCh
	o.logger.Println("stopped")
}

// State reports the current run state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Pause suspends tick processing without tearing down the run loop;
// ticks that fire while paused are skipped.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateRunning {
		o.state = StatePaused
		o.logger.Println("paused")
	}
}

// Resume resumes a paused orchestrator.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StatePaused {
		o.state = StateRunning
		o.logger.Println("resumed")
	}
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.doneCh)

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	dailyInterval := o.cfg.DailyInterval
	if dailyInterval <= 0 {
		dailyInterval = 24 * time.Hour
	}
	daily := time.NewTicker(dailyInterval)
	defer daily.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			if o.State() != StateRunning {
				continue
			}
			tickCtx, cancel := context.WithTimeout(ctx, o.cfg.MaxProcessTime)
			if _, err := o.Tick(tickCtx); err != nil {
				o.logger.Printf("tick failed: %v", err)
			}
			cancel()
		case <-daily.C:
			if o.State() != StateRunning {
				continue
			}
			if err := o.DailyMaintenance(ctx); err != nil {
				o.logger.Printf("daily maintenance failed: %v", err)
			}
		}
	}
}

// ProcessResult summarizes one processing tick.
type ProcessResult struct {
	Processed  int   `json:"processed"`
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"duration_ms"`
}

// Tick runs cleanup_stuck -> balance_check -> process_queue ->
// verify_bundles exactly once, returning how many rows were processed.
func (o *Orchestrator) Tick(ctx context.Context) (ProcessResult, error) {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()

	start := time.Now()
	result := ProcessResult{}

	if n, err := o.Queue.ResetStuck(ctx, time.Now().Add(-o.cfg.StuckThreshold)); err != nil {
		o.logger.Printf("cleanup_stuck failed: %v", err)
	} else if n > 0 {
		o.logger.Printf("cleanup_stuck reclaimed %d stuck rows", n)
	}

	if status, ok := o.checkBalance(ctx); ok && status == wallet.StatusCritical {
		result.DurationMs = time.Since(start).Milliseconds()
		return result, nil
	}

	processed, succeeded, failed, err := o.processQueue(ctx)
	result.Processed = processed
	result.Succeeded = succeeded
	result.Failed = failed
	if err != nil {
		result.DurationMs = time.Since(start).Milliseconds()
		return result, err
	}

	if o.Seeding != nil {
		if sweepRes, err := o.Seeding.Sweep(ctx, time.Now()); err != nil {
			o.logger.Printf("verify_bundles failed: %v", err)
		} else if o.Metrics != nil {
			o.Metrics.SeedingVerified.Add(float64(sweepRes.Verified))
			o.Metrics.SeedingFailed.Add(float64(sweepRes.Failed))
		}
	}

	if o.Metrics != nil {
		if stats, err := o.Queue.Stats(ctx); err == nil {
			o.Metrics.ObserveQueueStats(float64(stats.Pending), float64(stats.Signing), float64(stats.Uploading), float64(stats.Failed))
		}
		if head, err := o.Head.Get(ctx, o.cfg.ChainKey); err == nil {
			o.Metrics.ChainSeq.Set(float64(head.Seq))
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// checkBalance fetches the wallet balance and emits the configured
// alert. A failed balance check is logged and ignored, per the rule
// that it must never block processing; ok is false in that case.
func (o *Orchestrator) checkBalance(ctx context.Context) (wallet.Status, bool) {
	if o.Wallet == nil {
		return wallet.StatusOK, false
	}

	balance, err := o.Wallet.Balance(ctx)
	if err != nil {
		o.logger.Printf("balance_check failed: %v", err)
		return wallet.StatusOK, false
	}

	if o.Metrics != nil {
		o.Metrics.WalletBalanceAR.Set(balance)
	}

	status := wallet.Classify(balance, o.cfg.CriticalBalanceAR, o.cfg.WarningBalanceAR)
	switch status {
	case wallet.StatusCritical:
		o.alert(ctx, "critical", fmt.Sprintf("wallet balance %.6f AR below critical threshold %.6f AR, skipping this tick", balance, o.cfg.CriticalBalanceAR))
	case wallet.StatusLow:
		o.alert(ctx, "warning", fmt.Sprintf("wallet balance %.6f AR below warning threshold %.6f AR", balance, o.cfg.WarningBalanceAR))
	}
	return status, true
}

func (o *Orchestrator) alert(ctx context.Context, level, message string) {
	if o.Alert == nil {
		return
	}
	if err := o.Alert.Alert(ctx, level, message); err != nil {
		o.logger.Printf("alert delivery failed: %v", err)
	}
}

// processQueue runs fetch -> mark signing -> fetch manifests -> sign ->
// bundle-or-direct upload -> finalize, against the configured chain
// key.
func (o *Orchestrator) processQueue(ctx context.Context) (processed, succeeded, failed int, err error) {
	entries, err := o.Queue.FetchPending(ctx, o.cfg.FetchBatchLimit)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("fetch_pending failed: %w", err)
	}
	if len(entries) == 0 {
		return 0, 0, 0, nil
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := o.Queue.MarkSigning(ctx, ids, time.Now()); err != nil {
		return 0, 0, 0, fmt.Errorf("mark_signing failed: %w", err)
	}

	inputs := o.fetchManifests(ctx, entries)
	if len(inputs) == 0 {
		return len(entries), 0, len(entries), nil
	}

	head, err := o.Head.Get(ctx, o.cfg.ChainKey)
	if err != nil {
		return len(entries), 0, 0, fmt.Errorf("failed to read chain head: %w", err)
	}

	signed, err := o.Signer.SignBatch(head, inputs)
	if err != nil {
		return len(entries), 0, 0, fmt.Errorf("sign_batch failed: %w", err)
	}

	if o.cfg.DirectMode {
		outcomes := o.Direct.UploadDirect(ctx, signed)
		res, err := o.finalize(ctx, signed, outcomes)
		if err != nil {
			return len(entries), 0, 0, err
		}
		return len(entries), res.Advanced, res.Reverted, nil
	}

	return o.processBundleMode(ctx, entries, signed)
}

func (o *Orchestrator) processBundleMode(ctx context.Context, entries []record.QueueEntry, signed []record.Signed) (processed, succeeded, failed int, err error) {
	oldestAge := oldestRowAge(entries)
	decision := bundle.Decide(signed, o.cfg.BatchSizeThreshold, o.cfg.MaxBundleSize, o.cfg.BatchTimeThreshold, oldestAge)

	if !decision.ShouldUpload {
		for _, s := range signed {
			if revErr := o.Queue.RevertToPending(ctx, s.Entry.ID, "deferred: bundle thresholds not met"); revErr != nil {
				o.logger.Printf("failed to revert deferred row %d: %v", s.Entry.ID, revErr)
			}
		}
		return len(entries), 0, 0, nil
	}

	for _, s := range decision.Deferred {
		if revErr := o.Queue.RevertToPending(ctx, s.Entry.ID, "deferred: exceeds max bundle size"); revErr != nil {
			o.logger.Printf("failed to revert deferred row %d: %v", s.Entry.ID, revErr)
		}
	}

	encoded, err := bundle.Bundle(decision.Ready, o.Signer.PublicKey())
	if err != nil {
		return len(entries), 0, 0, fmt.Errorf("bundle encode failed: %w", err)
	}

	result := o.Bundler.UploadBundle(ctx, encoded)

	outcomes := make([]upload.Outcome, len(decision.Ready))
	for i, s := range decision.Ready {
		if result.Success {
			outcomes[i] = upload.Outcome{ID: s.ID, Success: true, Attempts: 1}
		} else {
			outcomes[i] = upload.Outcome{ID: s.ID, Success: false, Error: result.Error, Attempts: 1}
		}
	}

	res, err := o.finalize(ctx, decision.Ready, outcomes)
	if err != nil {
		return len(entries), 0, 0, err
	}

	if result.Success && o.Seeding != nil {
		items := make([]record.BundleItem, len(decision.Ready))
		for i, s := range decision.Ready {
			items[i] = record.BundleItem{EntityID: s.Entry.EntityID, CID: s.Entry.CID, Op: s.Entry.Op, Vis: s.Entry.Vis}
		}
		if regErr := o.Seeding.Register(result.BundleTx, items, time.Now()); regErr != nil {
			o.logger.Printf("failed to register bundle %s for seeding verification: %v", result.BundleTx, regErr)
		}
		if o.Metrics != nil {
			o.Metrics.BundlesUploaded.Inc()
			o.Metrics.RecordsUploaded.Add(float64(len(decision.Ready)))
		}
	} else if !result.Success {
		o.alert(ctx, "warning", fmt.Sprintf("bundle upload failed: %s", result.Error))
		if o.Metrics != nil {
			o.Metrics.UploadErrors.Inc()
		}
	}

	return len(entries), res.Advanced, res.Reverted, nil
}

func (o *Orchestrator) finalize(ctx context.Context, signed []record.Signed, outcomes []upload.Outcome) (finalize.Result, error) {
	res, err := o.Finalizer.Finalize(ctx, o.cfg.ChainKey, signed, outcomes)
	if err != nil {
		return finalize.Result{}, fmt.Errorf("finalize failed: %w", err)
	}
	return res, nil
}

// fetchManifests resolves each entry's manifest with bounded
// concurrency. Rows whose manifest cannot be resolved are marked
// failed and dropped from the signing batch rather than blocking it.
func (o *Orchestrator) fetchManifests(ctx context.Context, entries []record.QueueEntry) []signer.Input {
	inputs := make([]signer.Input, len(entries))
	ok := make([]bool, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ManifestWorkers)

	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			man, err := o.Manifests.Get(gctx, e.CID)
			if err != nil {
				if markErr := o.Queue.MarkFailed(ctx, e.ID, fmt.Sprintf("manifest lookup failed: %v", err)); markErr != nil {
					o.logger.Printf("failed to mark row %d failed: %v", e.ID, markErr)
				}
				return nil
			}
			inputs[i] = signer.Input{Entry: e, Manifest: man}
			ok[i] = true
			return nil
		})
	}
	// Errors from individual lookups are handled inline and no goroutine
	// returns an error, so g.Wait always returns nil here.
	_ = g.Wait()

	out := make([]signer.Input, 0, len(entries))
	for i := range entries {
		if ok[i] {
			out = append(out, inputs[i])
		}
	}
	return out
}

func oldestRowAge(entries []record.QueueEntry) time.Duration {
	if len(entries) == 0 {
		return 0
	}
	oldest := entries[0].CreatedAt
	for _, e := range entries[1:] {
		if e.CreatedAt.Before(oldest) {
			oldest = e.CreatedAt
		}
	}
	return time.Since(oldest)
}

// DailyMaintenance runs retry_failed_items -> cleanup_stuck.
func (o *Orchestrator) DailyMaintenance(ctx context.Context) error {
	reset, err := o.Queue.ResetFailedUnderLimit(ctx, o.cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("retry_failed_items failed: %w", err)
	}
	o.logger.Printf("retry_failed_items reset %d rows", reset)

	stuck, err := o.Queue.ResetStuck(ctx, time.Now().Add(-o.cfg.StuckThreshold))
	if err != nil {
		return fmt.Errorf("cleanup_stuck failed: %w", err)
	}
	o.logger.Printf("cleanup_stuck reclaimed %d rows", stuck)
	return nil
}

// TestBundle exercises sign -> bundle -> upload -> finalize against an
// isolated test chain key with synthetic records, for the
// POST /test-bundle?count=N admin route.
func (o *Orchestrator) TestBundle(ctx context.Context, testChainKey string, count int, man record.Manifest) ([]record.Signed, error) {
	head, err := o.Head.Get(ctx, testChainKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read test chain head: %w", err)
	}

	now := time.Now()
	inputs := make([]signer.Input, count)
	for i := 0; i < count; i++ {
		inputs[i] = signer.Input{
			Entry: record.QueueEntry{
				ID:       int64(i + 1),
				EntityID: fmt.Sprintf("test-entity-%d", i),
				CID:      fmt.Sprintf("test-cid-%d", i),
				Op:       record.OpCreate,
				Vis:      record.VisPublic,
				Ts:       now,
			},
			Manifest: man,
		}
	}

	signed, err := o.Signer.SignBatch(head, inputs)
	if err != nil {
		return nil, fmt.Errorf("test sign_batch failed: %w", err)
	}

	encoded, err := bundle.Bundle(signed, o.Signer.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("test bundle encode failed: %w", err)
	}

	result := o.Bundler.UploadBundle(ctx, encoded)
	if !result.Success {
		return nil, fmt.Errorf("test bundle upload failed: %s", result.Error)
	}

	last := signed[len(signed)-1]
	if err := o.Head.Update(ctx, testChainKey, last.ID, last.Entry.CID, last.Seq); err != nil {
		return nil, fmt.Errorf("failed to advance test chain head: %w", err)
	}

	return signed, nil
}

// PublicKey exposes the configured signer's public key, e.g. for the
// admin status route.
func (o *Orchestrator) PublicKey() ed25519.PublicKey {
	if o.Signer == nil {
		return nil
	}
	return o.Signer.PublicKey()
}
