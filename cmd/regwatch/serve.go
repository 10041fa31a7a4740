/*
Copyright 2026 Zestminds.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/migrations"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/alerts"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/canonical"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/config"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/connectors"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/ingestion"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/metrics"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/records"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/server"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/storage"
)

var (
	serveMigrate bool
	serveWatch   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		return runServe(cfg, logger)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply pending migrations before serving")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "watch the drop directory for source files")
}

func runServe(cfg *config.Config, logger *zap.Logger) error {
	gw, err := storage.Open(cfg.Database.DSN(), storage.Config{
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		IdleTimeout: cfg.Database.IdleTimeout,
	}, logger)
	if err != nil {
		return err
	}

	if serveMigrate {
		if err := migrations.Up(gw.DB()); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.HealthCheck(ctx); err != nil {
		logger.Warn("database unreachable at startup, continuing degraded", zap.Error(err))
	}

	m := metrics.New("regwatch")
	alertSvc := alerts.NewService(gw, logger)
	engine := ingestion.NewEngine(gw, alertSvc, m, logger)
	connector := connectors.NewFileConnector(
		sourcePath(cfg.Ingest, cfg.Ingest.BulkFile, "bulk"),
		sourcePath(cfg.Ingest, cfg.Ingest.RecentFile, "recent"),
		logger,
	)

	var limiter server.Limiter
	if cfg.Redis.Addr != "" {
		limiter = server.NewRedisLimiter(cfg.Redis.Addr, cfg.Redis.Password, 0, 0)
	} else {
		limiter = server.NewMemoryLimiter(0, 0)
	}

	srv := server.New(cfg, server.Deps{
		Gateway:     gw,
		Engine:      engine,
		EngineStats: engine.Stats().Snapshot,
		Alerts:      alertSvc,
		AlertLogs:   alerts.NewLogReader(gw, logger),
		Runs:        ingestion.NewRunReader(gw, logger),
		Records:     records.NewReader(gw, logger),
		Connector:   connector,
		Limiter:     limiter,
		Metrics:     m,
	}, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(srv.Start)

	if serveWatch {
		if cfg.Ingest.WatchDir == "" {
			return fmt.Errorf("--watch requires WATCH_DIR or ingest.watch_dir")
		}
		watcher := connectors.NewWatcher(cfg.Ingest.WatchDir, func(ctx context.Context, source string, recs []canonical.Record) error {
			_, err := engine.Ingest(ctx, recs, ingestion.SourceType(source), ingestion.DefaultOptions())
			return err
		}, logger)
		group.Go(func() error {
			err := watcher.Run(groupCtx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	// Shutdown sequence: drain the listener, then close the gateway.
	group.Go(func() error {
		<-groupCtx.Done()

		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			logger.Error("server drain failed", zap.Error(err))
		}
		if err := gw.Close(drainCtx); err != nil {
			logger.Error("gateway close failed", zap.Error(err))
		}
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// sourcePath resolves a feed file: the explicit path wins, otherwise the
// conventional name under the data directory.
func sourcePath(ing config.Ingest, explicit, source string) string {
	if explicit != "" {
		return explicit
	}
	if ing.DataDir == "" {
		return ""
	}
	return filepath.Join(ing.DataDir, source+".csv")
}
