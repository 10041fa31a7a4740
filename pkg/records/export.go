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

package records

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// exportHeader lists the CSV columns in the order they are written.
var exportHeader = []string{
	"source_key", "published_at", "title", "entity_name_raw", "entity_name_norm",
	"region", "record_id", "status", "document_url", "content_hash",
	"last_source_type", "updated_at",
}

// ExportCSV streams every record matching the filter to w as CSV, newest
// first, ignoring the filter's pagination fields. Returns the number of data
// rows written.
func (r *Reader) ExportCSV(ctx context.Context, w io.Writer, f Filter) (int, error) {
	where, args := whereClause(f)
	query := "SELECT " + recordColumns + " FROM records" + where +
		" ORDER BY published_at DESC, id DESC"

	rows, err := r.gw.Queryx(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("writing csv header: %w", err)
	}

	count := 0
	for rows.Next() {
		var rec StoredRecord
		if err := rows.StructScan(&rec); err != nil {
			return count, fmt.Errorf("scanning record row: %w", err)
		}

		documentURL := ""
		if rec.DocumentURL != nil {
			documentURL = *rec.DocumentURL
		}
		row := []string{
			rec.SourceKey,
			rec.PublishedAt.UTC().Format(time.RFC3339),
			rec.Title,
			rec.EntityNameRaw,
			rec.EntityNameNorm,
			rec.Region,
			rec.RecordID,
			rec.Status,
			documentURL,
			rec.ContentHash,
			rec.LastSourceType,
			rec.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return count, fmt.Errorf("writing csv row: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("iterating records: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return count, fmt.Errorf("flushing csv: %w", err)
	}

	r.logger.Info("csv export completed", zap.Int("rows", count))
	return count, nil
}
