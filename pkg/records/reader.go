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

// Package records serves the stored-record query surface: paginated listing
// and CSV export of the canonical columns.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/storage"
)

// StoredRecord is one committed row of the records table.
type StoredRecord struct {
	ID             int64           `db:"id" json:"id"`
	SourceKey      string          `db:"source_key" json:"sourceKey"`
	PublishedAt    time.Time       `db:"published_at" json:"publishedAt"`
	Title          string          `db:"title" json:"title"`
	EntityNameRaw  string          `db:"entity_name_raw" json:"entityNameRaw"`
	EntityNameNorm string          `db:"entity_name_norm" json:"entityNameNorm"`
	Region         string          `db:"region" json:"region"`
	RecordID       string          `db:"record_id" json:"recordId"`
	Status         string          `db:"status" json:"status"`
	DocumentURL    *string         `db:"document_url" json:"documentUrl"`
	RawJSON        json.RawMessage `db:"raw_json" json:"rawJson,omitempty"`
	ContentHash    string          `db:"content_hash" json:"contentHash"`
	LastSourceType string          `db:"last_source_type" json:"lastSourceType"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`
}

// Filter narrows record reads. Zero values mean no filter.
type Filter struct {
	Region         string
	EntityNameNorm string
	Status         string
	Limit          int
	Offset         int
}

// Page is the paginated listing result.
type Page struct {
	Records    []StoredRecord     `json:"records"`
	Pagination storage.Pagination `json:"pagination"`
}

// Reader serves record listing and export.
type Reader struct {
	gw     *storage.Gateway
	logger *zap.Logger
}

// NewReader builds the reader.
func NewReader(gw *storage.Gateway, logger *zap.Logger) *Reader {
	return &Reader{gw: gw, logger: logger.Named("records")}
}

// whereClause renders the shared filter predicate. The returned args feed
// both the count and the row query.
func whereClause(f Filter) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)
	add := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if f.Region != "" {
		add("region = $%d", f.Region)
	}
	if f.EntityNameNorm != "" {
		add("entity_name_norm = $%d", f.EntityNameNorm)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

const recordColumns = `id, source_key, published_at, title, entity_name_raw, entity_name_norm,
	region, record_id, status, document_url, raw_json, content_hash, last_source_type,
	created_at, updated_at`

// List returns records newest first with the total under the same filter.
func (r *Reader) List(ctx context.Context, f Filter) (*Page, error) {
	limit, offset := storage.ClampPage(f.Limit, f.Offset)
	where, args := whereClause(f)

	var total int
	if err := r.gw.Get(ctx, &total, "SELECT COUNT(*) FROM records"+where, args...); err != nil {
		return nil, err
	}

	query := "SELECT " + recordColumns + " FROM records" + where +
		fmt.Sprintf(" ORDER BY published_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows := make([]StoredRecord, 0, limit)
	if err := r.gw.Select(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	return &Page{
		Records:    rows,
		Pagination: storage.Pagination{Limit: limit, Offset: offset, Total: total},
	}, nil
}
