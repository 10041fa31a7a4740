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

package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/apperrors"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/storage"
)

// LogEntry is one triggered alert joined to its rule owner and record
// display fields.
type LogEntry struct {
	ID          int64     `db:"id" json:"id"`
	AlertRuleID int64     `db:"alert_rule_id" json:"alertRuleId"`
	RecordID    int64     `db:"record_id" json:"recordId"`
	ActionType  string    `db:"action_type" json:"actionType"`
	TriggeredAt time.Time `db:"triggered_at" json:"triggeredAt"`

	UserID         int64  `db:"user_id" json:"userId"`
	SourceKey      string `db:"source_key" json:"sourceKey"`
	Title          string `db:"title" json:"title"`
	EntityNameNorm string `db:"entity_name_norm" json:"entityNameNorm"`
	Region         string `db:"region" json:"region"`
}

// LogFilter narrows alert-log reads. Zero values mean no filter.
type LogFilter struct {
	AlertRuleID int64
	UserID      int64
	ActionType  string
	Limit       int
	Offset      int
}

// LogPage is the paginated read result.
type LogPage struct {
	Logs       []LogEntry         `json:"logs"`
	Pagination storage.Pagination `json:"pagination"`
}

// LogReader serves the paginated alert-log endpoint.
type LogReader struct {
	gw     *storage.Gateway
	logger *zap.Logger
}

// NewLogReader builds the reader.
func NewLogReader(gw *storage.Gateway, logger *zap.Logger) *LogReader {
	return &LogReader{gw: gw, logger: logger.Named("alertlogs")}
}

// List returns triggered alerts newest first, with the total count under the
// same filter.
func (r *LogReader) List(ctx context.Context, filter LogFilter) (*LogPage, error) {
	if filter.ActionType != "" && !Action(filter.ActionType).Valid() {
		return nil, apperrors.NewValidation("actionType %q must be insert or update", filter.ActionType)
	}
	limit, offset := storage.ClampPage(filter.Limit, filter.Offset)

	var (
		conditions []string
		args       []interface{}
	)
	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filter.AlertRuleID > 0 {
		addCondition("al.alert_rule_id = $%d", filter.AlertRuleID)
	}
	if filter.UserID > 0 {
		addCondition("ar.user_id = $%d", filter.UserID)
	}
	if filter.ActionType != "" {
		addCondition("al.action_type = $%d", filter.ActionType)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	from := `
		FROM alert_logs al
		JOIN alert_rules ar ON ar.id = al.alert_rule_id
		JOIN records rec ON rec.id = al.record_id`

	var total int
	if err := r.gw.Get(ctx, &total, "SELECT COUNT(*)"+from+where, args...); err != nil {
		return nil, err
	}

	query := `
		SELECT al.id, al.alert_rule_id, al.record_id, al.action_type, al.triggered_at,
		       ar.user_id, rec.source_key, rec.title, rec.entity_name_norm, rec.region` +
		from + where +
		fmt.Sprintf(" ORDER BY al.triggered_at DESC, al.id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	logs := make([]LogEntry, 0, limit)
	if err := r.gw.Select(ctx, &logs, query, args...); err != nil {
		return nil, err
	}

	return &LogPage{
		Logs:       logs,
		Pagination: storage.Pagination{Limit: limit, Offset: offset, Total: total},
	}, nil
}
