package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/unalkalkan/bookcast/internal/api"
	"github.com/unalkalkan/bookcast/internal/health"
)

const (
	shutdownTimeout    = 30 * time.Second
	cachePruneInterval = time.Hour
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and conversion workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			log.Info("starting bookcast", "version", version)

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(); err != nil {
					log.Warn("shutdown finished with errors", "error", err)
				}
			}()

			healthHandler := health.NewHandler(version)
			healthHandler.Register("storage", health.StorageCheck(a.store))
			healthHandler.Register("providers", health.ProvidersCheck(a.registry.List))
			healthHandler.Register("history", health.PingCheck(a.history.Ping))
			if a.cache != nil {
				healthHandler.Register("cache", health.DegradedOnError(a.cache.Ping))
			}

			workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
			defer cancelWorkers()
			go a.events.Start(workerCtx)
			a.conversions.Start(workerCtx)
			if a.cache != nil {
				go pruneCache(workerCtx, a)
			}

			srv := api.NewServer(api.Dependencies{
				Config:      cfg,
				Version:     version,
				Storage:     a.store,
				Documents:   a.docs,
				Importer:    a.importer,
				Conversions: a.conversions,
				History:     a.history,
				Registry:    a.registry,
				Cache:       a.cache,
				Events:      a.events,
				Health:      healthHandler,
			}, log)
			defer srv.Close()

			httpServer := &http.Server{
				Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
				Handler:      srv,
				ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
				WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
				IdleTimeout:  2 * time.Minute,
			}

			// Open SSE streams would otherwise hold Shutdown until its timeout.
			httpServer.RegisterOnShutdown(func() {
				drainCtx, cancel := context.WithTimeout(context.Background(), eventDrainTimeout)
				defer cancel()
				_ = a.events.Shutdown(drainCtx)
			})

			serveErr := make(chan error, 1)
			go func() {
				log.Info("server listening", "addr", httpServer.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
			case <-ctx.Done():
				log.Info("shutting down server")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			log.Info("server stopped")
			return nil
		},
	}
}

// pruneCache evicts least recently used audio once the cache grows past
// its byte budget.
func pruneCache(ctx context.Context, a *app) {
	ticker := time.NewTicker(cachePruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.cache.Prune(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn("cache prune failed", "error", err)
			}
		}
	}
}
