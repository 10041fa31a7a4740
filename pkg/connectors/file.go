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

// Package connectors produces canonical records from source files. A
// connector reads its source, parses, and maps to the canonical shape with
// entity_name_norm pre-normalized and raw_json carrying the unmodified
// original row. It never touches the database, never computes hashes and
// applies no business logic; the engine enforces the recent window.
package connectors

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/canonical"
)

// Connector is the producer contract consumed by the ingest endpoints and
// the CLI. The hours parameter is informational at this layer.
type Connector interface {
	FetchBulk(ctx context.Context) ([]canonical.Record, error)
	FetchRecent(ctx context.Context, hours int) ([]canonical.Record, error)
}

// FileConnector reads bulk and recent feeds from local files. Supported
// formats are header-mapped CSV and JSON lines, chosen by extension.
type FileConnector struct {
	bulkPath   string
	recentPath string
	logger     *zap.Logger
}

// NewFileConnector builds a connector over the two feed files.
func NewFileConnector(bulkPath, recentPath string, logger *zap.Logger) *FileConnector {
	return &FileConnector{
		bulkPath:   bulkPath,
		recentPath: recentPath,
		logger:     logger.Named("connector"),
	}
}

// FetchBulk reads the complete dataset.
func (c *FileConnector) FetchBulk(ctx context.Context) ([]canonical.Record, error) {
	return c.fetch(ctx, c.bulkPath)
}

// FetchRecent reads the short-window feed. The hours hint is logged only;
// time filtering belongs to the engine.
func (c *FileConnector) FetchRecent(ctx context.Context, hours int) ([]canonical.Record, error) {
	c.logger.Debug("fetching recent feed", zap.Int("hours", hours))
	return c.fetch(ctx, c.recentPath)
}

func (c *FileConnector) fetch(ctx context.Context, path string) ([]canonical.Record, error) {
	if path == "" {
		return nil, fmt.Errorf("no source file configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	c.logger.Info("parsed source file",
		zap.String("path", path),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// ParseFile parses one source file into canonical records, choosing the
// format by extension.
func ParseFile(path string) ([]canonical.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening source file: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return parseCSV(f)
	case ".jsonl", ".ndjson":
		return parseJSONLines(f)
	default:
		return nil, fmt.Errorf("unsupported source file format %q", filepath.Ext(path))
	}
}

// parseCSV maps header-named columns onto the canonical shape. The original
// row is retained as a column-keyed JSON object in raw_json.
func parseCSV(r io.Reader) ([]canonical.Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.ToLower(name))] = i
	}

	field := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []canonical.Record
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv row %d: %w", line+1, err)
		}
		line++

		original := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(row) {
				original[strings.TrimSpace(strings.ToLower(name))] = row[i]
			}
		}
		raw, err := json.Marshal(original)
		if err != nil {
			return nil, fmt.Errorf("encoding csv row %d: %w", line, err)
		}

		entityName := field(row, "entity_name")
		records = append(records, canonical.Record{
			SourceKey:      field(row, "source_key"),
			PublishedAt:    field(row, "published_at"),
			Title:          field(row, "title"),
			EntityNameRaw:  entityName,
			EntityNameNorm: canonical.Normalize(entityName),
			Region:         field(row, "region"),
			RecordID:       field(row, "record_id"),
			Status:         field(row, "status"),
			DocumentURL:    field(row, "document_url"),
			RawJSON:        raw,
		})
	}
	return records, nil
}

// jsonRow is the shape of one JSON-lines entry.
type jsonRow struct {
	SourceKey   string `json:"source_key"`
	PublishedAt string `json:"published_at"`
	Title       string `json:"title"`
	EntityName  string `json:"entity_name"`
	Region      string `json:"region"`
	RecordID    string `json:"record_id"`
	Status      string `json:"status"`
	DocumentURL string `json:"document_url"`
}

// parseJSONLines parses newline-delimited JSON objects. Each verbatim line
// becomes the record's raw_json.
func parseJSONLines(r io.Reader) ([]canonical.Record, error) {
	var records []canonical.Record

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var row jsonRow
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, fmt.Errorf("parsing json line %d: %w", line, err)
		}

		records = append(records, canonical.Record{
			SourceKey:      row.SourceKey,
			PublishedAt:    row.PublishedAt,
			Title:          row.Title,
			EntityNameRaw:  row.EntityName,
			EntityNameNorm: canonical.Normalize(row.EntityName),
			Region:         row.Region,
			RecordID:       row.RecordID,
			Status:         row.Status,
			DocumentURL:    row.DocumentURL,
			RawJSON:        json.RawMessage(text),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading json lines: %w", err)
	}
	return records, nil
}
