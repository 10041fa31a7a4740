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

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/alerts"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/apperrors"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/canonical"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/ingestion"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/records"
)

const defaultRecentHours = 72

// ingestRequest is the optional body of the ingest endpoints.
type ingestRequest struct {
	BatchSize int   `json:"batchSize"`
	Validate  *bool `json:"validate"`
	Hours     int   `json:"hours"`
}

func (s *Server) handleIngestBulk(w http.ResponseWriter, r *http.Request) {
	s.handleIngest(w, r, ingestion.SourceBulk)
}

func (s *Server) handleIngestRecent(w http.ResponseWriter, r *http.Request) {
	s.handleIngest(w, r, ingestion.SourceRecent)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request, source ingestion.SourceType) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, apperrors.NewValidation("invalid request body: %v", err))
		return
	}

	opts := ingestion.DefaultOptions()
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}
	if req.Validate != nil {
		opts.Validate = *req.Validate
	}
	hours := req.Hours
	if hours <= 0 {
		hours = defaultRecentHours
	}

	var (
		recs     []canonical.Record
		fetchErr error
	)
	if source == ingestion.SourceBulk {
		recs, fetchErr = s.deps.Connector.FetchBulk(r.Context())
	} else {
		recs, fetchErr = s.deps.Connector.FetchRecent(r.Context(), hours)
	}
	if fetchErr != nil {
		s.respondError(w, r, fmt.Errorf("fetching %s records: %w", source, fetchErr))
		return
	}

	result, err := s.deps.Engine.Ingest(r.Context(), recs, source, opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// createAlertRequest is the create-rule body.
type createAlertRequest struct {
	UserID         int64  `json:"userId"`
	EntityNameNorm string `json:"entityNameNorm"`
	Region         string `json:"region"`
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, apperrors.NewValidation("invalid request body: %v", err))
		return
	}

	rule, plan, err := s.deps.Alerts.CreateRule(r.Context(), alerts.CreateRequest{
		UserID:         req.UserID,
		EntityNameNorm: req.EntityNameNorm,
		Region:         req.Region,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": rule,
		"plan": plan,
	})
}

// deleteAlertRequest carries the requesting user for the ownership check.
type deleteAlertRequest struct {
	UserID int64 `json:"userId"`
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	ruleID, err := pathInt64(r, "id")
	if err != nil {
		s.respondError(w, r, apperrors.NewValidation("alert rule id must be a positive integer"))
		return
	}
	var req deleteAlertRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, apperrors.NewValidation("invalid request body: %v", err))
		return
	}
	if req.UserID <= 0 {
		s.respondError(w, r, apperrors.NewValidation("userId must be a positive integer"))
		return
	}

	if err := s.deps.Alerts.DeleteRule(r.Context(), ruleID, req.UserID); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "deleted",
		"id":     ruleID,
	})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userID")
	if err != nil {
		s.respondError(w, r, apperrors.NewValidation("userId must be a positive integer"))
		return
	}

	rules, err := s.deps.Alerts.ListRules(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

func (s *Server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userID")
	if err != nil {
		s.respondError(w, r, apperrors.NewValidation("userId must be a positive integer"))
		return
	}

	stats, err := s.deps.Alerts.Stats(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAlertLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := alerts.LogFilter{
		AlertRuleID: queryInt64(q.Get("alertRuleId")),
		UserID:      queryInt64(q.Get("userId")),
		ActionType:  q.Get("actionType"),
		Limit:       queryInt(q.Get("limit")),
		Offset:      queryInt(q.Get("offset")),
	}

	page, err := s.deps.AlertLogs.List(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleIngestionHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.deps.Runs.History(r.Context(), queryInt(q.Get("limit")), queryInt(q.Get("offset")))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func recordFilter(r *http.Request) records.Filter {
	q := r.URL.Query()
	return records.Filter{
		Region:         q.Get("region"),
		EntityNameNorm: q.Get("entityNameNorm"),
		Status:         q.Get("status"),
		Limit:          queryInt(q.Get("limit")),
		Offset:         queryInt(q.Get("offset")),
	}
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	page, err := s.deps.Records.List(r.Context(), recordFilter(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("records-%s.csv", uuid.NewString())
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	count, err := s.deps.Records.ExportCSV(r.Context(), w, recordFilter(r))
	if err != nil {
		// Headers are committed once streaming begins; all we can do is log.
		s.logger.Error("csv export failed mid-stream",
			zap.Int("rowsWritten", count),
			zap.Error(err),
		)
		return
	}
}

func (s *Server) handleServiceMetrics(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":  s.deps.EngineStats(),
		"database": s.deps.Gateway.Stats(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Gateway.HealthCheck(r.Context()); err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "degraded",
			"database": "disconnected",
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"database": "connected",
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.isShuttingDown.Load() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	if !s.deps.Gateway.Healthy() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// decodeBody decodes an optional JSON body; an empty body leaves dst zero.
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func pathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}

func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func queryInt64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
