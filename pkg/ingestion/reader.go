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

package ingestion

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/storage"
)

// Run is one row of ingestion_runs. FinishedAt and Error are nil while the
// run is in flight or when it succeeded, respectively.
type Run struct {
	ID              int64      `db:"id" json:"id"`
	SourceType      string     `db:"source_type" json:"sourceType"`
	StartedAt       time.Time  `db:"started_at" json:"startedAt"`
	FinishedAt      *time.Time `db:"finished_at" json:"finishedAt"`
	RecordsFetched  int        `db:"records_fetched" json:"recordsFetched"`
	RecordsInserted int        `db:"records_inserted" json:"recordsInserted"`
	RecordsUpdated  int        `db:"records_updated" json:"recordsUpdated"`
	Error           *string    `db:"error" json:"error"`
}

// RunPage is the paginated run-history result.
type RunPage struct {
	Runs       []Run              `json:"runs"`
	Pagination storage.Pagination `json:"pagination"`
}

// RunReader serves the run-history endpoint.
type RunReader struct {
	gw     *storage.Gateway
	logger *zap.Logger
}

// NewRunReader builds the reader.
func NewRunReader(gw *storage.Gateway, logger *zap.Logger) *RunReader {
	return &RunReader{gw: gw, logger: logger.Named("runs")}
}

// History returns runs newest first with the unfiltered total.
func (r *RunReader) History(ctx context.Context, limit, offset int) (*RunPage, error) {
	limit, offset = storage.ClampPage(limit, offset)

	var total int
	if err := r.gw.Get(ctx, &total, "SELECT COUNT(*) FROM ingestion_runs"); err != nil {
		return nil, err
	}

	runs := make([]Run, 0, limit)
	query := `SELECT id, source_type, started_at, finished_at,
	                 records_fetched, records_inserted, records_updated, error
	          FROM ingestion_runs
	          ORDER BY started_at DESC, id DESC
	          LIMIT $1 OFFSET $2`
	if err := r.gw.Select(ctx, &runs, query, limit, offset); err != nil {
		return nil, err
	}

	return &RunPage{
		Runs:       runs,
		Pagination: storage.Pagination{Limit: limit, Offset: offset, Total: total},
	}, nil
}
