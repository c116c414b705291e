// Copyright 2025 Certen Protocol
//
// attestation-worker is the process entrypoint: it loads configuration,
// wires the Postgres/Firestore/cometbft-db/HTTP collaborators, starts
// the orchestrator's tick loop, and serves the admin HTTP surface until
// a termination signal arrives.

package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arkechain/attest-core/pkg/alert"
	"github.com/arkechain/attest-core/pkg/chainhead"
	"github.com/arkechain/attest-core/pkg/config"
	"github.com/arkechain/attest-core/pkg/finalize"
	"github.com/arkechain/attest-core/pkg/kvstore"
	"github.com/arkechain/attest-core/pkg/manifest"
	"github.com/arkechain/attest-core/pkg/metrics"
	"github.com/arkechain/attest-core/pkg/orchestrator"
	"github.com/arkechain/attest-core/pkg/queue"
	"github.com/arkechain/attest-core/pkg/seeding"
	"github.com/arkechain/attest-core/pkg/signer"
	"github.com/arkechain/attest-core/pkg/upload"
	"github.com/arkechain/attest-core/pkg/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("connecting to chain-head and queue stores")
	head, err := chainhead.Open(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
	if err != nil {
		log.Fatalf("failed to open chain-head store: %v", err)
	}
	defer head.Close()

	q, err := queue.Open(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
	if err != nil {
		log.Fatalf("failed to open queue store: %v", err)
	}
	defer q.Close()

	kv, closeKV, err := openKVStore(cfg)
	if err != nil {
		log.Fatalf("failed to open lookup-index store: %v", err)
	}
	defer closeKV()

	manifestSource, err := manifest.New(ctx, manifest.Config{
		ProjectID:       cfg.FirebaseProjectID,
		CredentialsFile: cfg.FirebaseCredentialsFile,
		Collection:      "manifests",
		Enabled:         cfg.FirestoreEnabled,
	})
	if err != nil {
		log.Fatalf("failed to open manifest source: %v", err)
	}
	defer manifestSource.Close()

	walletChecker, err := wallet.New(cfg.WalletJWKPath, cfg.GatewayURL)
	if err != nil {
		log.Fatalf("failed to load wallet: %v", err)
	}
	log.Printf("wallet address: %s", walletChecker.Address())

	signingKey, err := loadOrGenerateSigningKey(cfg.SigningKeyPath)
	if err != nil {
		log.Fatalf("failed to load signing key: %v", err)
	}
	recordSigner, err := signer.New(signingKey)
	if err != nil {
		log.Fatalf("failed to construct signer: %v", err)
	}

	uploader := upload.New(cfg.GatewayURL, cfg.UploadTimeout, cfg.Concurrency, cfg.MaxRetries)
	finalizer := finalize.New(head, q, kv)
	webhook := alert.New(cfg.AlertWebhookURL)
	verifier := seeding.New(kv, uploader, q, webhook, cfg.SeedGracePeriod, cfg.SeedTimeout, cfg.RetentionWindow)

	promRegistry := prometheus.NewRegistry()
	metricsRegistry := metrics.New(promRegistry)

	orchCfg := orchestrator.Config{
		ChainKey:           cfg.ChainKey,
		DirectMode:         cfg.DirectMode,
		BatchSizeThreshold: cfg.BatchSizeThreshold,
		BatchTimeThreshold: cfg.BatchTimeThreshold,
		MaxBundleSize:      cfg.MaxBundleSize,
		FetchBatchLimit:    cfg.FetchBatchLimit,
		ManifestWorkers:    cfg.ManifestWorkers,
		CriticalBalanceAR:  cfg.CriticalBalanceAR,
		WarningBalanceAR:   cfg.WarningBalanceAR,
		StuckThreshold:     cfg.StuckThreshold,
		MaxRetries:         cfg.MaxRetries,
		TickInterval:       cfg.TickInterval,
		MaxProcessTime:     cfg.MaxProcessTime,
		DailyInterval:      cfg.DailyInterval,
	}
	orch := orchestrator.New(orchCfg, head, q, manifestSource, walletChecker, recordSigner, uploader, uploader, finalizer, verifier, webhook, metricsRegistry)
	orch.Start(ctx)
	defer orch.Stop()

	handlers := orchestrator.NewHandlers(orch, cfg.AdminSecret, cfg.AllowHeadReset, promRegistry)
	mux := http.NewServeMux()
	handlers.Register(mux)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("admin HTTP surface listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admin HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	cancel()
	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("admin HTTP server shutdown error: %v", err)
	}

	log.Printf("stopped")
}

// openKVStore opens the lookup-index / tracked-bundle store against
// the configured cometbft-db backend.
func openKVStore(cfg *config.Config) (kvstore.KV, func(), error) {
	if err := os.MkdirAll(cfg.KVDataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create KV data directory %s: %w", cfg.KVDataDir, err)
	}

	var (
		db  dbm.DB
		err error
	)
	switch cfg.KVBackend {
	case "memdb":
		db = dbm.NewMemDB()
	case "goleveldb", "":
		db, err = dbm.NewGoLevelDB("attest_index", cfg.KVDataDir)
	default:
		return nil, nil, fmt.Errorf("unsupported KV_BACKEND %q", cfg.KVBackend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s database: %w", cfg.KVBackend, err)
	}

	adapter := kvstore.NewAdapter(db)
	return adapter, func() {
		if err := db.Close(); err != nil {
			log.Printf("error closing KV store: %v", err)
		}
	}, nil
}

// loadOrGenerateSigningKey loads the ed25519 record-signing key from
// disk, generating and persisting a new one on first run.
func loadOrGenerateSigningKey(keyPath string) (ed25519.PrivateKey, error) {
	keyDir := filepath.Dir(keyPath)
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create signing key directory %s: %w", keyDir, err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 signing key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
			return nil, fmt.Errorf("failed to save signing key to %s: %w", keyPath, err)
		}
		log.Printf("generated new signing key at %s", keyPath)
		return priv, nil
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key from %s: %w", keyPath, err)
	}
	raw, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing key at %s: %w", keyPath, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key at %s has invalid length %d", keyPath, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}
