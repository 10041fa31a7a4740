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

package connectors

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/canonical"
)

// IngestFunc hands parsed records to the engine. source is "bulk" or
// "recent", derived from the file name.
type IngestFunc func(ctx context.Context, source string, records []canonical.Record) error

// defaultSettle is how long a file must stay quiet after its last write
// before it is parsed. Uploads arrive in multiple write events.
const defaultSettle = 500 * time.Millisecond

// Watcher observes a drop directory and triggers an ingest for files named
// bulk*.csv|.jsonl or recent*.csv|.jsonl once writes settle.
type Watcher struct {
	dir    string
	ingest IngestFunc
	logger *zap.Logger
	settle time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher builds a watcher over dir.
func NewWatcher(dir string, ingest IngestFunc, logger *zap.Logger) *Watcher {
	return &Watcher{
		dir:    dir,
		ingest: ingest,
		logger: logger.Named("watcher"),
		settle: defaultSettle,
		timers: make(map[string]*time.Timer),
	}
}

// Run blocks watching the directory until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info("watching drop directory", zap.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			source, ok := classifyFile(event.Name)
			if !ok {
				continue
			}
			w.scheduleIngest(ctx, event.Name, source)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// scheduleIngest debounces per file: every write resets the settle timer;
// the ingest fires once the file stays quiet.
func (w *Watcher) scheduleIngest(ctx context.Context, path, source string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.ingestFile(ctx, path, source)
	})
}

func (w *Watcher) ingestFile(ctx context.Context, path, source string) {
	records, err := ParseFile(path)
	if err != nil {
		w.logger.Error("dropped file failed to parse",
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	if len(records) == 0 {
		w.logger.Warn("dropped file contained no records", zap.String("path", path))
		return
	}

	if err := w.ingest(ctx, source, records); err != nil {
		w.logger.Error("auto-ingest failed",
			zap.String("path", path),
			zap.String("source", source),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("auto-ingest completed",
		zap.String("path", path),
		zap.String("source", source),
		zap.Int("records", len(records)),
	)
}

// classifyFile maps a dropped file name to its source type.
func classifyFile(path string) (string, bool) {
	base := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(base)
	if ext != ".csv" && ext != ".jsonl" && ext != ".ndjson" {
		return "", false
	}
	switch {
	case strings.HasPrefix(base, "bulk"):
		return "bulk", true
	case strings.HasPrefix(base, "recent"):
		return "recent", true
	default:
		return "", false
	}
}
