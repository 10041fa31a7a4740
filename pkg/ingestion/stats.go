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
	"sync"
	"time"
)

// ServiceStats holds the process-wide rolling counters reported on
// /api/metrics. Updated from the run finalizer under a mutex; concurrent
// runs each call in once.
type ServiceStats struct {
	mu                  sync.Mutex
	totalIngestions     int64
	totalRecords        int64
	totalErrors         int64
	totalProcessingTime time.Duration
}

// NewServiceStats returns zeroed counters.
func NewServiceStats() *ServiceStats {
	return &ServiceStats{}
}

// RecordRun accounts one completed run.
func (s *ServiceStats) RecordRun(records int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalIngestions++
	s.totalRecords += int64(records)
	s.totalProcessingTime += elapsed
}

// RecordError accounts one aborted run.
func (s *ServiceStats) RecordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalErrors++
}

// StatsSnapshot is the JSON shape served on /api/metrics.
type StatsSnapshot struct {
	TotalIngestions         int64   `json:"totalIngestions"`
	TotalRecordsProcessed   int64   `json:"totalRecordsProcessed"`
	TotalErrors             int64   `json:"totalErrors"`
	AverageProcessingTimeMs float64 `json:"averageProcessingTimeMs"`
}

// Snapshot returns a consistent copy. The average is the arithmetic mean
// over completed runs.
func (s *ServiceStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		TotalIngestions:       s.totalIngestions,
		TotalRecordsProcessed: s.totalRecords,
		TotalErrors:           s.totalErrors,
	}
	if s.totalIngestions > 0 {
		mean := s.totalProcessingTime / time.Duration(s.totalIngestions)
		snap.AverageProcessingTimeMs = float64(mean.Microseconds()) / 1000.0
	}
	return snap
}
