package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/unalkalkan/bookcast/internal/cache"
	"github.com/unalkalkan/bookcast/internal/chapters"
	"github.com/unalkalkan/bookcast/internal/conversion"
	"github.com/unalkalkan/bookcast/internal/document"
	"github.com/unalkalkan/bookcast/internal/events"
	"github.com/unalkalkan/bookcast/internal/history"
	"github.com/unalkalkan/bookcast/internal/parser"
	"github.com/unalkalkan/bookcast/internal/provider"
	"github.com/unalkalkan/bookcast/internal/storage"
	"github.com/unalkalkan/bookcast/pkg/types"
)

const eventDrainTimeout = 5 * time.Second

// app is the wired service graph shared by serve and convert.
type app struct {
	cfg         *types.Config
	log         *slog.Logger
	store       storage.Adapter
	registry    *provider.Registry
	cache       *cache.Cache
	history     *history.Store
	events      *events.Manager
	docs        *document.StorageRepository
	importer    *document.Importer
	conversions *conversion.Manager
}

func newApp(ctx context.Context, cfg *types.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.store, err = storage.NewAdapter(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage adapter: %w", err)
	}
	log.Info("storage adapter initialized", "adapter", cfg.Storage.Adapter)

	a.registry = provider.NewRegistry()
	if err := a.registry.InitializeProviders(cfg.Providers, log); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	log.Info("providers initialized", "tts", a.registry.List())

	if cfg.Cache.Enabled {
		a.cache, err = cache.New(a.store, cfg.Cache, log)
		if err != nil {
			return nil, err
		}
	}

	if path := cfg.History.Path; path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	a.history, err = history.Open(ctx, cfg.History.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	a.events = events.NewManager(log, 0)
	a.docs = document.NewRepository(a.store)
	detector := chapters.NewDetector(chapters.OptionsFromConfig(cfg.Chapters))
	a.importer = document.NewImporter(a.docs, parser.NewFactory(), detector, log)

	orch := conversion.NewOrchestrator(conversion.Dependencies{
		Registry: a.registry,
		Storage:  a.store,
		Cache:    a.cache,
		History:  a.history,
		Emitter:  a.events,
	}, cfg.Pipeline, log)
	a.conversions = conversion.NewManager(orch, a.docs, cfg.Pipeline, log)

	return a, nil
}

// close stops workers before the stores they write to.
func (a *app) close() error {
	var errs []error
	if a.conversions != nil {
		a.conversions.Stop()
	}
	if a.events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), eventDrainTimeout)
		errs = append(errs, a.events.Shutdown(ctx))
		cancel()
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
