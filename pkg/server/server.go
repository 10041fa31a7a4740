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

// Package server is the thin HTTP boundary: it maps requests onto core
// operations, owns the kind-to-status mapping, and carries the middleware
// chain (request logging, security headers, CORS, rate limiting, recovery).
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/alerts"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/canonical"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/config"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/ingestion"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/metrics"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/records"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/storage"
)

// Ingestor is the engine surface the ingest endpoints need.
type Ingestor interface {
	Ingest(ctx context.Context, recs []canonical.Record, source ingestion.SourceType, opts ingestion.Options) (*ingestion.Result, error)
}

// Fetcher is the connector surface: a producer of canonical records.
type Fetcher interface {
	FetchBulk(ctx context.Context) ([]canonical.Record, error)
	FetchRecent(ctx context.Context, hours int) ([]canonical.Record, error)
}

// AlertService is the rule-store surface.
type AlertService interface {
	CreateRule(ctx context.Context, req alerts.CreateRequest) (*alerts.Rule, *alerts.PlanInfo, error)
	DeleteRule(ctx context.Context, ruleID, userID int64) error
	ListRules(ctx context.Context, userID int64) ([]alerts.Rule, error)
	Stats(ctx context.Context, userID int64) (*alerts.UserStats, error)
}

// AlertLogLister serves the alert-log endpoint.
type AlertLogLister interface {
	List(ctx context.Context, filter alerts.LogFilter) (*alerts.LogPage, error)
}

// RunHistorian serves the run-history endpoint.
type RunHistorian interface {
	History(ctx context.Context, limit, offset int) (*ingestion.RunPage, error)
}

// RecordReader serves record listing and export.
type RecordReader interface {
	List(ctx context.Context, f records.Filter) (*records.Page, error)
	ExportCSV(ctx context.Context, w io.Writer, f records.Filter) (int, error)
}

// HealthChecker is the gateway surface the health endpoints need.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	Healthy() bool
	Stats() storage.Stats
}

// Deps collects the core components the server fronts. Tests supply fakes.
type Deps struct {
	Gateway     HealthChecker
	Engine      Ingestor
	EngineStats func() ingestion.StatsSnapshot
	Alerts      AlertService
	AlertLogs   AlertLogLister
	Runs        RunHistorian
	Records     RecordReader
	Connector   Fetcher
	Limiter     Limiter
	Metrics     *metrics.Metrics
}

// Server is the HTTP boundary.
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger *zap.Logger

	httpServer     *http.Server
	isShuttingDown atomic.Bool
}

// New builds the server. The listener is not started until Start.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("server"),
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the configured router. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.rateLimit)

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReadiness)
	r.Get("/health/live", s.handleLiveness)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Metrics.Gatherer(), promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/ingest/bulk", s.handleIngestBulk)
		r.Post("/ingest/recent", s.handleIngestRecent)

		r.Post("/alerts", s.handleCreateAlert)
		r.Delete("/alerts/{id}", s.handleDeleteAlert)
		r.Get("/alerts/user/{userID}", s.handleListAlerts)
		r.Get("/alerts/user/{userID}/stats", s.handleAlertStats)
		r.Get("/alerts/logs", s.handleAlertLogs)

		r.Get("/ingestion/history", s.handleIngestionHistory)
		r.Get("/records", s.handleListRecords)
		r.Get("/export/csv", s.handleExportCSV)
		r.Get("/metrics", s.handleServiceMetrics)
	})

	return r
}

// Start blocks serving HTTP until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.Int("port", s.cfg.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown flips the readiness probe, stops accepting connections and
// drains in-flight requests under the caller's deadline. Closing the
// storage gateway is the caller's next step.
func (s *Server) Shutdown(ctx context.Context) error {
	s.isShuttingDown.Store(true)
	s.logger.Info("draining http server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("draining http server: %w", err)
	}
	return nil
}
