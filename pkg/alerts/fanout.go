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
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/apperrors"
)

// Action is the change that triggered a fan-out.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
)

// Valid reports whether the action belongs to the closed set.
func (a Action) Valid() bool {
	return a == ActionInsert || a == ActionUpdate
}

// FanOutResult reports how many rules matched one record change.
type FanOutResult struct {
	Triggered int     `json:"triggered"`
	RuleIDs   []int64 `json:"ruleIds,omitempty"`
}

// FanOut evaluates every alert rule against the record and appends one
// alert_logs row per match in a single multi-row insert on the caller's
// transaction. Matching bypasses the cache: a stale rule set must not decide
// what gets logged atomically with the upsert. A missing record is logged
// and swallowed; the upsert must not fail because fan-out found nothing.
func (s *Service) FanOut(ctx context.Context, tx *sqlx.Tx, recordID int64, action Action) (*FanOutResult, error) {
	if !action.Valid() {
		return nil, apperrors.NewValidation("action %q must be insert or update", action)
	}

	var target struct {
		EntityNameNorm string `db:"entity_name_norm"`
		Region         string `db:"region"`
	}
	err := tx.GetContext(ctx, &target,
		"SELECT entity_name_norm, region FROM records WHERE id = $1", recordID)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("fan-out target record not found", zap.Int64("recordId", recordID))
		return &FanOutResult{}, nil
	}
	if err != nil {
		return nil, apperrors.NewStorage(err, false, "loading record %d for fan-out", recordID)
	}

	// Unset filters are wildcards.
	var ruleIDs []int64
	err = tx.SelectContext(ctx, &ruleIDs,
		`SELECT id FROM alert_rules
		 WHERE (entity_name_norm IS NULL OR entity_name_norm = $1)
		   AND (region IS NULL OR region = $2)
		 ORDER BY id`,
		target.EntityNameNorm, target.Region)
	if err != nil {
		return nil, apperrors.NewStorage(err, false, "matching alert rules for record %d", recordID)
	}
	if len(ruleIDs) == 0 {
		return &FanOutResult{}, nil
	}

	query, args := buildLogInsert(ruleIDs, recordID, action)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, apperrors.NewStorage(err, false, "appending %d alert log rows for record %d", len(ruleIDs), recordID)
	}

	return &FanOutResult{Triggered: len(ruleIDs), RuleIDs: ruleIDs}, nil
}

// buildLogInsert renders the single multi-row insert. One statement keeps
// the append atomic with the upsert and avoids a round-trip per rule.
func buildLogInsert(ruleIDs []int64, recordID int64, action Action) (string, []interface{}) {
	var (
		b    strings.Builder
		args = make([]interface{}, 0, len(ruleIDs)*3)
	)
	b.WriteString("INSERT INTO alert_logs (alert_rule_id, record_id, action_type, triggered_at) VALUES ")
	for i, ruleID := range ruleIDs {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 3
		fmt.Fprintf(&b, "($%d, $%d, $%d, NOW())", base+1, base+2, base+3)
		args = append(args, ruleID, recordID, string(action))
	}
	return b.String(), args
}
