package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/metatrace/metascan/internal/attest"
	"github.com/metatrace/metascan/internal/blobstore"
	"github.com/metatrace/metascan/internal/classifier"
	"github.com/metatrace/metascan/internal/extract"
	"github.com/metatrace/metascan/internal/metadata"
	"github.com/metatrace/metascan/internal/narrative"
	"github.com/metatrace/metascan/internal/pipeline"
	"github.com/metatrace/metascan/internal/store"
	"github.com/metatrace/metascan/pkg/anthropic"
)

// appEnv holds the initialized store, clients, and analysis service used by
// the serve and analyze commands.
type appEnv struct {
	Store   store.Store
	Service *pipeline.Service
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp sets up the store, extraction tool, classifier artifact, narrative
// client, and signer, and wires them into the analysis service. Callers
// should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	extractor := extract.NewExiftool(cfg.Extract.ExiftoolPath, time.Duration(cfg.Extract.TimeoutSecs)*time.Second)
	if err := extractor.CheckAvailable(); err != nil {
		_ = st.Close()
		return nil, err
	}

	forest, err := classifier.Load(cfg.Classifier.ArtifactPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	ignored := metadata.NewIgnoredFieldSet(cfg.Analysis.IgnoredFields)
	normalizer := metadata.NewNormalizer(ignored, cfg.Analysis.MinFields)

	var detector *narrative.Detector
	if cfg.Anthropic.Key != "" {
		client := anthropic.NewClient(cfg.Anthropic.Key)
		detector = narrative.NewDetector(client, ignored, narrative.Config{
			Model:             cfg.Anthropic.Model,
			MaxTokens:         cfg.Anthropic.MaxTokens,
			MinFields:         cfg.Analysis.MinFields,
			AnomalyThreshold:  cfg.Analysis.AnomalyThreshold,
			Timeout:           time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second,
			RequestsPerMinute: cfg.Anthropic.RequestsPerMinute,
		})
	} else {
		zap.L().Warn("METASCAN_ANTHROPIC_KEY not set, narrative analysis disabled")
	}

	var signer *attest.Signer
	if cfg.Attest.KeyPath != "" {
		signer, err = attest.LoadSigner(cfg.Attest.KeyPath)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("attestation enabled", zap.String("public_key", signer.PublicKey()))
	}

	var blobs blobstore.BlobStore
	if cfg.Blob.Enabled() {
		blobs, err = blobstore.NewS3(ctx, cfg.Blob)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("archive storage enabled", zap.String("bucket", cfg.Blob.Bucket))
	}

	svc := pipeline.New(extractor, normalizer, forest, detector, st, signer, blobs)
	return &appEnv{Store: st, Service: svc}, nil
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}
