package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/propsheet/internal/server"
	"github.com/alfredjeanlab/propsheet/internal/store"
	draftsync "github.com/alfredjeanlab/propsheet/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Serve option catalogs from PROPSHEET_CATALOG_URL and back up drafts",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireCatalog(); err != nil {
			return err
		}
		// The daemon logs at info even without -v.
		if !verbose {
			logger = newInfoLogger()
		}

		catalog, err := server.Open(cfg.CatalogURL, logger)
		if err != nil {
			return err
		}
		defer catalog.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go catalog.WatchHealth(ctx, cfg.HealthInterval)

		grpcServer := catalog.NewGRPCServer(cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           catalog.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Back up drafts when a destination is configured.
		var (
			scheduler *draftsync.Scheduler
			drafts    store.Store
		)
		if cfg.SyncInterval > 0 {
			dests, err := syncDestinations(ctx)
			if err != nil {
				logger.Error("failed to create sync destinations", "err", err)
			}
			if len(dests) > 0 {
				if drafts, err = openDrafts(); err != nil {
					logger.Error("failed to open draft store", "err", err)
				} else {
					scheduler = draftsync.NewScheduler(drafts, dests, cfg.SyncInterval, logger)
					scheduler.Start(context.WithoutCancel(ctx))
					logger.Info("sync scheduler started", "interval", cfg.SyncInterval, "destinations", len(dests))
				}
			}
		}

		logger.Info("catalog server started", "grpc_addr", cfg.GRPCAddr, "http_addr", cfg.HTTPAddr)

		<-ctx.Done()
		logger.Info("shutting down")

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}
		if drafts != nil {
			if err := drafts.Close(); err != nil {
				logger.Error("error closing draft store", "err", err)
			}
		}

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("shutdown complete")
		return nil
	},
}
