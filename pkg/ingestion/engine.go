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

// Package ingestion implements the idempotent upsert engine: validation,
// batched per-record upserts with source precedence inside one transaction
// per run, alert fan-out on every inserted or changed record, and run
// accounting.
package ingestion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/alerts"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/apperrors"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/canonical"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/metrics"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/storage"
)

// SourceType identifies which feed produced a batch of records.
type SourceType string

const (
	// SourceBulk is the complete dataset and the master of record.
	SourceBulk SourceType = "bulk"

	// SourceRecent is the rolling short-window feed. It never overwrites a
	// row last written by bulk.
	SourceRecent SourceType = "recent"
)

// Valid reports whether the source type belongs to the closed set.
func (s SourceType) Valid() bool {
	return s == SourceBulk || s == SourceRecent
}

// recentWindow is how far back the recent feed is trusted. Older records
// are dropped before the run starts.
const recentWindow = 72 * time.Hour

const defaultBatchSize = 100

// Options tunes one ingestion run.
type Options struct {
	BatchSize int
	Validate  bool
}

// DefaultOptions returns the production defaults: batches of 100, validation
// on.
func DefaultOptions() Options {
	return Options{BatchSize: defaultBatchSize, Validate: true}
}

// Result is the counters struct returned to the caller. The invariant
// RecordsFetched = Inserted + Updated + Skipped + Failed holds for every
// completed run.
type Result struct {
	RunID            int64      `json:"runId"`
	SourceType       SourceType `json:"sourceType"`
	RecordsFetched   int        `json:"recordsFetched"`
	RecordsInserted  int        `json:"recordsInserted"`
	RecordsUpdated   int        `json:"recordsUpdated"`
	RecordsSkipped   int        `json:"recordsSkipped"`
	RecordsFailed    int        `json:"recordsFailed"`
	ProcessingTimeMs int64      `json:"processingTimeMs"`
}

// Notifier fans alert rules out for a just-written record inside the run's
// transaction.
type Notifier interface {
	FanOut(ctx context.Context, tx *sqlx.Tx, recordID int64, action alerts.Action) (*alerts.FanOutResult, error)
}

// Engine is constructed once at startup and shared; per-run state lives on
// the stack for the duration of one transaction.
type Engine struct {
	gw      *storage.Gateway
	alerts  Notifier
	logger  *zap.Logger
	metrics *metrics.Metrics
	stats   *ServiceStats
	now     func() time.Time
}

// NewEngine builds the engine.
func NewEngine(gw *storage.Gateway, notifier Notifier, m *metrics.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		gw:      gw,
		alerts:  notifier,
		logger:  logger.Named("ingestion"),
		metrics: m,
		stats:   NewServiceStats(),
		now:     time.Now,
	}
}

// Stats exposes the process-wide service counters.
func (e *Engine) Stats() *ServiceStats {
	return e.stats
}

// SetClock overrides the engine's time source. Tests pin now so the recent
// window and run timestamps are reproducible.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Ingest runs one complete ingestion pass: precondition checks, the recent
// time filter, the validation gate, then a single transaction covering the
// run row, every upsert and its fan-out, and the run finalization.
func (e *Engine) Ingest(ctx context.Context, records []canonical.Record, source SourceType, opts Options) (*Result, error) {
	if len(records) == 0 {
		return nil, apperrors.NewValidation("records must be a non-empty sequence")
	}
	if !source.Valid() {
		return nil, apperrors.NewValidation("sourceType %q must be bulk or recent", source)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	log := e.logger.With(
		zap.String("traceId", uuid.NewString()),
		zap.String("sourceType", string(source)),
	)

	if source == SourceRecent {
		records = e.filterRecent(records, log)
	}

	if opts.Validate {
		if err := validateAll(records); err != nil {
			return nil, err
		}
	}

	result := &Result{SourceType: source, RecordsFetched: len(records)}
	start := e.now()

	var (
		runID       int64
		runInserted bool
	)
	err := e.gw.Transaction(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx,
			`INSERT INTO ingestion_runs (source_type, started_at, records_fetched)
			 VALUES ($1, $2, $3)
			 RETURNING id`,
			string(source), start.UTC(), len(records),
		).Scan(&runID)
		if err != nil {
			return apperrors.NewStorage(err, false, "inserting ingestion run")
		}
		runInserted = true

		for batchStart := 0; batchStart < len(records); batchStart += opts.BatchSize {
			batchEnd := batchStart + opts.BatchSize
			if batchEnd > len(records) {
				batchEnd = len(records)
			}
			for i, rec := range records[batchStart:batchEnd] {
				if err := e.upsertRecord(ctx, tx, rec, source, batchStart+i, result, log); err != nil {
					return err
				}
			}
		}

		var errSummary interface{}
		if result.RecordsFailed > 0 {
			errSummary = fmt.Sprintf("%d of %d records failed", result.RecordsFailed, result.RecordsFetched)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE ingestion_runs
			 SET finished_at = $1, records_inserted = $2, records_updated = $3, error = $4
			 WHERE id = $5`,
			e.now().UTC(), result.RecordsInserted, result.RecordsUpdated, errSummary, runID)
		if err != nil {
			return apperrors.NewStorage(err, false, "finalizing ingestion run %d", runID)
		}
		return nil
	})

	elapsed := e.now().Sub(start)
	if err != nil {
		if runInserted {
			e.finalizeAbortedRun(runID, err)
		}
		e.stats.RecordError()
		e.metrics.IngestionRuns.WithLabelValues(string(source), "error").Inc()
		log.Error("ingestion run aborted", zap.Int64("runId", runID), zap.Error(err))
		return nil, err
	}

	result.RunID = runID
	result.ProcessingTimeMs = elapsed.Milliseconds()

	e.stats.RecordRun(result.RecordsFetched, elapsed)
	e.metrics.IngestionRuns.WithLabelValues(string(source), "success").Inc()
	e.metrics.IngestionDuration.WithLabelValues(string(source)).Observe(elapsed.Seconds())
	e.metrics.RecordsProcessed.WithLabelValues("inserted").Add(float64(result.RecordsInserted))
	e.metrics.RecordsProcessed.WithLabelValues("updated").Add(float64(result.RecordsUpdated))
	e.metrics.RecordsProcessed.WithLabelValues("skipped").Add(float64(result.RecordsSkipped))
	e.metrics.RecordsProcessed.WithLabelValues("failed").Add(float64(result.RecordsFailed))

	log.Info("ingestion run completed",
		zap.Int64("runId", runID),
		zap.Int("fetched", result.RecordsFetched),
		zap.Int("inserted", result.RecordsInserted),
		zap.Int("updated", result.RecordsUpdated),
		zap.Int("skipped", result.RecordsSkipped),
		zap.Int("failed", result.RecordsFailed),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

// filterRecent drops records older than the 72-hour window or with an
// unparseable published_at. Bulk records are never time-filtered.
func (e *Engine) filterRecent(records []canonical.Record, log *zap.Logger) []canonical.Record {
	cutoff := e.now().Add(-recentWindow)
	kept := make([]canonical.Record, 0, len(records))
	for _, r := range records {
		t, err := canonical.ParsePublishedAt(r.PublishedAt)
		if err != nil || t.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	if dropped := len(records) - len(kept); dropped > 0 {
		log.Info("dropped records outside the recent window", zap.Int("dropped", dropped))
	}
	return kept
}

// validateAll gates the run: the first failing record aborts before any
// database write, naming the index and every per-field reason.
func validateAll(records []canonical.Record) error {
	for i, r := range records {
		if reasons := canonical.ValidateRecord(r); len(reasons) > 0 {
			return apperrors.NewValidation("record %d invalid: %s", i, strings.Join(reasons, "; "))
		}
	}
	return nil
}

// upsertRecord applies one record under a savepoint. Statement-scoped
// failures roll back to the savepoint, count as failed and do not poison
// the batch; transaction-fatal faults propagate and abort the run.
func (e *Engine) upsertRecord(ctx context.Context, tx *sqlx.Tx, rec canonical.Record, source SourceType, index int, result *Result, log *zap.Logger) error {
	sp := fmt.Sprintf("rec_%d", index)
	if err := storage.Savepoint(ctx, tx, sp); err != nil {
		return apperrors.NewStorage(err, false, "establishing savepoint for record %d", index)
	}

	action, err := e.applyRecord(ctx, tx, rec, source)
	if err != nil {
		if storage.IsTransactionFatal(err) {
			return err
		}
		if rbErr := storage.RollbackToSavepoint(ctx, tx, sp); rbErr != nil {
			return apperrors.NewStorage(rbErr, false, "rolling back savepoint for record %d", index)
		}
		result.RecordsFailed++
		log.Warn("record upsert failed",
			zap.Int("index", index),
			zap.String("sourceKey", rec.SourceKey),
			zap.Error(err),
		)
		return nil
	}

	if err := storage.ReleaseSavepoint(ctx, tx, sp); err != nil {
		return apperrors.NewStorage(err, false, "releasing savepoint for record %d", index)
	}

	switch action {
	case actionInserted:
		result.RecordsInserted++
	case actionUpdated:
		result.RecordsUpdated++
	case actionSkipped:
		result.RecordsSkipped++
	}
	return nil
}

type upsertAction int

const (
	actionInserted upsertAction = iota
	actionUpdated
	actionSkipped
)

// applyRecord is the upsert routine: fingerprint, lookup by source_key,
// then insert, precedence skip, content-change update, or idempotent skip.
// Fan-out for the record completes here, before the next record begins.
func (e *Engine) applyRecord(ctx context.Context, tx *sqlx.Tx, rec canonical.Record, source SourceType) (upsertAction, error) {
	hash := canonical.Fingerprint(rec)

	publishedAt, err := canonical.ParsePublishedAt(rec.PublishedAt)
	if err != nil {
		return 0, fmt.Errorf("record %s: %w", rec.SourceKey, err)
	}

	var existing struct {
		ID             int64  `db:"id"`
		ContentHash    string `db:"content_hash"`
		LastSourceType string `db:"last_source_type"`
	}
	err = tx.GetContext(ctx, &existing,
		"SELECT id, content_hash, last_source_type FROM records WHERE source_key = $1",
		rec.SourceKey)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := e.now().UTC()
		var recordID int64
		err := tx.QueryRowxContext(ctx,
			`INSERT INTO records (
				source_key, published_at, title, entity_name_raw, entity_name_norm,
				region, record_id, status, document_url, raw_json,
				content_hash, last_source_type, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id`,
			rec.SourceKey, publishedAt.UTC(), rec.Title, rec.EntityNameRaw, rec.EntityNameNorm,
			rec.Region, rec.RecordID, rec.Status, nullableString(rec.DocumentURL), rawJSON(rec),
			hash, string(source), now, now,
		).Scan(&recordID)
		if err != nil {
			return 0, err
		}
		if err := e.fanOut(ctx, tx, recordID, alerts.ActionInsert); err != nil {
			return 0, err
		}
		return actionInserted, nil

	case err != nil:
		return 0, err
	}

	// Bulk is the master of record; the short-window feed must not clobber
	// it.
	if source == SourceRecent && existing.LastSourceType == string(SourceBulk) {
		return actionSkipped, nil
	}
	if existing.ContentHash == hash {
		return actionSkipped, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE records SET
			published_at = $1, title = $2, entity_name_raw = $3, entity_name_norm = $4,
			region = $5, record_id = $6, status = $7, document_url = $8, raw_json = $9,
			content_hash = $10, last_source_type = $11, updated_at = $12
		 WHERE id = $13`,
		publishedAt.UTC(), rec.Title, rec.EntityNameRaw, rec.EntityNameNorm,
		rec.Region, rec.RecordID, rec.Status, nullableString(rec.DocumentURL), rawJSON(rec),
		hash, string(source), e.now().UTC(), existing.ID)
	if err != nil {
		return 0, err
	}
	if err := e.fanOut(ctx, tx, existing.ID, alerts.ActionUpdate); err != nil {
		return 0, err
	}
	return actionUpdated, nil
}

// fanOut invokes the notifier and mirrors triggered counts into Prometheus.
func (e *Engine) fanOut(ctx context.Context, tx *sqlx.Tx, recordID int64, action alerts.Action) error {
	res, err := e.alerts.FanOut(ctx, tx, recordID, action)
	if err != nil {
		return err
	}
	if res.Triggered > 0 {
		e.metrics.AlertsTriggered.WithLabelValues(string(action)).Add(float64(res.Triggered))
	}
	return nil
}

// finalizeAbortedRun is the best-effort follow-up write after a rollback:
// the run row gets its terminal state outside the failed transaction. When
// this write fails too, only the in-memory error counter moves.
func (e *Engine) finalizeAbortedRun(runID int64, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := e.gw.Exec(ctx,
		"UPDATE ingestion_runs SET finished_at = $1, error = $2 WHERE id = $3",
		e.now().UTC(), runErr.Error(), runID)
	if err != nil {
		e.logger.Error("could not finalize aborted run",
			zap.Int64("runId", runID),
			zap.Error(err),
		)
	}
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func rawJSON(rec canonical.Record) interface{} {
	if len(rec.RawJSON) == 0 {
		return nil
	}
	return []byte(rec.RawJSON)
}
