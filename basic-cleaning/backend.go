package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/basic-cleaning/internal/platform/env"
	"github.com/animus-labs/basic-cleaning/internal/platform/objectstore"
	"github.com/animus-labs/basic-cleaning/internal/platform/postgres"
	repopg "github.com/animus-labs/basic-cleaning/internal/repo/postgres"
	storageobjectstore "github.com/animus-labs/basic-cleaning/internal/storage/objectstore"
	"github.com/animus-labs/basic-cleaning/internal/tracking"
)

const (
	backendRegistry = "registry"
	backendLocal    = "local"
)

type trackingConfig struct {
	Backend  string
	Dir      string
	Project  string
	Actor    string
	CacheDir string
	WorkDir  string
}

func trackingConfigFromEnv(src *env.Source) (trackingConfig, error) {
	cfg := trackingConfig{
		Backend:  strings.ToLower(src.String("BASIC_CLEANING_TRACKING_BACKEND", backendLocal)),
		Dir:      src.String("BASIC_CLEANING_TRACKING_DIR", ".tracking"),
		Project:  src.String("BASIC_CLEANING_PROJECT", "default"),
		Actor:    src.String("BASIC_CLEANING_ACTOR", ""),
		CacheDir: src.String("BASIC_CLEANING_CACHE_DIR", ""),
		WorkDir:  src.String("BASIC_CLEANING_WORK_DIR", ""),
	}
	if cfg.Actor == "" {
		cfg.Actor = src.String("USER", "")
	}
	if cfg.Actor == "" {
		cfg.Actor = "basic-cleaning"
	}
	switch cfg.Backend {
	case backendRegistry, backendLocal:
	default:
		return trackingConfig{}, fmt.Errorf("BASIC_CLEANING_TRACKING_BACKEND must be %q or %q, got %q", backendRegistry, backendLocal, cfg.Backend)
	}
	if cfg.Backend == backendLocal && cfg.Dir == "" {
		return trackingConfig{}, fmt.Errorf("BASIC_CLEANING_TRACKING_DIR is required for the local backend")
	}
	return cfg, nil
}

// openTracker connects the configured backend. The returned func releases it.
func openTracker(ctx context.Context, src *env.Source, cfg trackingConfig, logger *slog.Logger) (*tracking.Tracker, func(), error) {
	var (
		backend tracking.Backend
		closeFn = func() {}
	)
	switch cfg.Backend {
	case backendLocal:
		local, err := tracking.NewLocal(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		backend = local
	case backendRegistry:
		registry, closeDB, err := openRegistry(ctx, src)
		if err != nil {
			return nil, nil, err
		}
		backend, closeFn = registry, closeDB
	}

	tracker, err := tracking.New(backend, tracking.Options{
		Project:  cfg.Project,
		Actor:    cfg.Actor,
		CacheDir: cfg.CacheDir,
		Logger:   logger,
	})
	if err != nil {
		closeFn()
		return nil, nil, configErr(err)
	}
	logger.Debug("tracking backend ready", "backend", cfg.Backend, "project", cfg.Project)
	return tracker, closeFn, nil
}

func openRegistry(ctx context.Context, src *env.Source) (*tracking.Registry, func(), error) {
	dbCfg, err := postgres.ConfigFromEnv(src)
	if err != nil {
		return nil, nil, configErr(fmt.Errorf("database config: %w", err))
	}
	storeCfg, err := objectstore.ConfigFromEnv(src)
	if err != nil {
		return nil, nil, configErr(fmt.Errorf("object store config: %w", err))
	}

	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database unavailable: %w", err)
	}
	closeDB := func() { _ = db.Close() }

	store, err := storageobjectstore.NewMinioStore(storeCfg)
	if err != nil {
		closeDB()
		return nil, nil, configErr(fmt.Errorf("object store client init: %w", err))
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = objectstore.EnsureBucket(startupCtx, store.Client(), storeCfg)
	cancel()
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("object store unavailable: %w", err)
	}

	registry, err := tracking.NewRegistry(repopg.NewRunStore(db), repopg.NewArtifactStore(db), store, storeCfg.BucketArtifacts)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return registry, closeDB, nil
}
