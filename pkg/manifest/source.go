// Copyright 2025 Certen Protocol
//
// Manifest source (C3). Read-only lookup of the freshest manifest body
// for a content id, backed by Firestore. Mirrors the teacher's
// Enabled-flag client: when Firestore is disabled the source runs in
// no-op mode and every lookup reports ErrNotFound, which pushes
// unresolvable rows to failed instead of blocking the queue.

package manifest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/arkechain/attest-core/pkg/record"
)

// ErrNotFound indicates no manifest document exists for the given content id.
var ErrNotFound = errors.New("manifest: not found")

// ErrInvalidVersion indicates a manifest document exists but carries no
// numeric ver field, making it unusable for signing.
var ErrInvalidVersion = errors.New("manifest: missing or non-numeric ver")

// Source resolves a content id to its current manifest.
type Source interface {
	Get(ctx context.Context, contentID string) (record.Manifest, error)
}

// Config configures the Firestore-backed Source.
type Config struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
	Enabled         bool
	Logger          *log.Logger
}

// FirestoreSource is the production Source.
type FirestoreSource struct {
	app        *firebase.App
	fs         *gcpfirestore.Client
	collection string
	logger     *log.Logger
	enabled    bool
	mu         sync.RWMutex
}

// New constructs a FirestoreSource. When cfg.Enabled is false it returns
// a no-op source immediately without touching the network.
func New(ctx context.Context, cfg Config) (*FirestoreSource, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[Manifest] ", log.LstdFlags)
	}
	if cfg.Collection == "" {
		cfg.Collection = "manifests"
	}

	s := &FirestoreSource{collection: cfg.Collection, logger: cfg.Logger, enabled: cfg.Enabled}
	if !cfg.Enabled {
		cfg.Logger.Println("manifest source DISABLED - running in no-op mode")
		return s, nil
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firebase project id is required when manifest source is enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	s.app = app
	s.fs = fsClient
	cfg.Logger.Printf("manifest source initialized for project: %s", cfg.ProjectID)
	return s, nil
}

// IsEnabled reports whether the source is backed by a live connection.
func (s *FirestoreSource) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Get fetches the manifest document at {collection}/{contentID}.
func (s *FirestoreSource) Get(ctx context.Context, contentID string) (record.Manifest, error) {
	if !s.IsEnabled() || s.fs == nil {
		return record.Manifest{}, ErrNotFound
	}

	doc, err := s.fs.Collection(s.collection).Doc(contentID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return record.Manifest{}, ErrNotFound
		}
		return record.Manifest{}, fmt.Errorf("failed to fetch manifest %s: %w", contentID, err)
	}

	var ver int64
	var hasVer bool
	if v, ok := doc.Data()["ver"]; ok {
		switch n := v.(type) {
		case int64:
			ver, hasVer = n, true
		case float64:
			ver, hasVer = int64(n), true
		}
	}
	if !hasVer {
		return record.Manifest{}, ErrInvalidVersion
	}

	return record.Manifest{Ver: ver, Body: doc.Data()}, nil
}

// Close releases the underlying Firestore client.
func (s *FirestoreSource) Close() error {
	if s.fs != nil {
		return s.fs.Close()
	}
	return nil
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

var _ Source = (*FirestoreSource)(nil)
