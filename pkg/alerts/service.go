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

// Package alerts implements the alert rule store: per-plan quota enforcement,
// a TTL rule cache for list endpoints, and the fan-out that appends alert
// log rows inside the ingestion transaction.
package alerts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/apperrors"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/storage"
)

// Plan is a user's subscription tier. The core only reads it.
type Plan string

const (
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
	PlanTeam    Plan = "team"
)

// PlanLimit returns the maximum concurrent alert rules for a plan. The
// second return is true when the plan is unlimited.
func PlanLimit(p Plan) (int, bool) {
	switch p {
	case PlanStarter:
		return 1, false
	case PlanPro:
		return 5, false
	case PlanTeam:
		return 0, true
	default:
		// Unknown plans get the most restrictive limit rather than a free
		// pass.
		return 1, false
	}
}

// Rule is a user-owned selector. A nil filter is a wildcard; at least one
// filter is always set.
type Rule struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"userId"`
	EntityNameNorm *string   `db:"entity_name_norm" json:"entityNameNorm"`
	Region         *string   `db:"region" json:"region"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// PlanInfo accompanies rule responses so clients can render quota state.
type PlanInfo struct {
	Plan      Plan `json:"plan"`
	Limit     int  `json:"limit"` // -1 when unlimited
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"` // -1 when unlimited
}

// CreateRequest carries the create-rule parameters. Empty filter strings
// mean unset; at least one filter must be present.
type CreateRequest struct {
	UserID         int64  `validate:"required,gt=0"`
	EntityNameNorm string `validate:"required_without=Region,omitempty,max=255"`
	Region         string `validate:"required_without=EntityNameNorm,omitempty,len=2,alpha,uppercase"`
}

var validate = validator.New()

// ruleLockClass namespaces the per-user advisory lock keys so they cannot
// collide with other advisory-lock users of the same database.
const ruleLockClass int64 = 0x616C7274 // "alrt"

func ruleLockKey(userID int64) int64 {
	return ruleLockClass<<32 | (userID & 0xFFFFFFFF)
}

// Service owns the rule cache and every alert-rule operation.
type Service struct {
	gw     *storage.Gateway
	logger *zap.Logger
	cache  *ruleCache
	now    func() time.Time
}

// NewService builds the alert service with a fresh 5-minute cache.
func NewService(gw *storage.Gateway, logger *zap.Logger) *Service {
	return &Service{
		gw:     gw,
		logger: logger.Named("alerts"),
		cache:  newRuleCache(cacheTTL),
		now:    time.Now,
	}
}

// CreateRule validates the request, then inside one transaction serializes
// per-user creates with an advisory lock, checks the plan quota and inserts
// the rule. The quota read and the insert share the transaction so two
// concurrent creates cannot both pass the check.
func (s *Service) CreateRule(ctx context.Context, req CreateRequest) (*Rule, *PlanInfo, error) {
	if err := validate.Struct(req); err != nil {
		return nil, nil, apperrors.NewValidation("invalid alert rule request: %v", err)
	}

	var (
		rule Rule
		info PlanInfo
	)
	err := s.gw.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", ruleLockKey(req.UserID)); err != nil {
			return apperrors.NewStorage(err, false, "acquiring rule lock for user %d", req.UserID)
		}

		var plan Plan
		err := tx.GetContext(ctx, &plan, "SELECT plan FROM users WHERE id = $1", req.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFound("user %d not found", req.UserID)
		}
		if err != nil {
			return apperrors.NewStorage(err, false, "reading plan for user %d", req.UserID)
		}

		limit, unlimited := PlanLimit(plan)
		var count int
		if err := tx.GetContext(ctx, &count, "SELECT COUNT(*) FROM alert_rules WHERE user_id = $1", req.UserID); err != nil {
			return apperrors.NewStorage(err, false, "counting rules for user %d", req.UserID)
		}
		if !unlimited && count >= limit {
			return apperrors.NewBusinessLogic(
				"plan %s allows %d alert rule(s); user %d already has %d", plan, limit, req.UserID, count)
		}

		err = tx.QueryRowxContext(ctx,
			`INSERT INTO alert_rules (user_id, entity_name_norm, region, created_at)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at`,
			req.UserID, nullable(req.EntityNameNorm), nullable(req.Region), s.now().UTC(),
		).Scan(&rule.ID, &rule.CreatedAt)
		if err != nil {
			return apperrors.NewStorage(err, false, "inserting alert rule for user %d", req.UserID)
		}

		rule.UserID = req.UserID
		if req.EntityNameNorm != "" {
			rule.EntityNameNorm = &req.EntityNameNorm
		}
		if req.Region != "" {
			rule.Region = &req.Region
		}
		info = planInfo(plan, count+1)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.cache.Invalidate()
	s.logger.Info("alert rule created",
		zap.Int64("ruleId", rule.ID),
		zap.Int64("userId", rule.UserID),
	)
	return &rule, &info, nil
}

// DeleteRule removes a rule after verifying ownership: NotFound when the
// rule does not exist, Authorization when it belongs to another user.
func (s *Service) DeleteRule(ctx context.Context, ruleID, userID int64) error {
	err := s.gw.Transaction(ctx, func(tx *sqlx.Tx) error {
		var ownerID int64
		err := tx.GetContext(ctx, &ownerID, "SELECT user_id FROM alert_rules WHERE id = $1", ruleID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFound("alert rule %d not found", ruleID)
		}
		if err != nil {
			return apperrors.NewStorage(err, false, "reading alert rule %d", ruleID)
		}
		if ownerID != userID {
			return apperrors.NewAuthorization("alert rule %d is not owned by user %d", ruleID, userID)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = $1", ruleID); err != nil {
			return apperrors.NewStorage(err, false, "deleting alert rule %d", ruleID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate()
	s.logger.Info("alert rule deleted",
		zap.Int64("ruleId", ruleID),
		zap.Int64("userId", userID),
	)
	return nil
}

// ListRules returns a user's rules through the cache. A 5-minute staleness
// window is acceptable for list endpoints; authoritative reads (quota,
// fan-out) query the database directly.
func (s *Service) ListRules(ctx context.Context, userID int64) ([]Rule, error) {
	if userID <= 0 {
		return nil, apperrors.NewValidation("userId must be a positive integer")
	}
	return s.cache.RulesForUser(ctx, userID, s.loadAllRules)
}

// UserStats reports quota usage plus the total alerts ever triggered for a
// user's rules.
type UserStats struct {
	PlanInfo
	RuleCount       int `json:"ruleCount"`
	AlertsTriggered int `json:"alertsTriggered"`
}

// Stats returns the user's plan, quota state and triggered-alert total.
func (s *Service) Stats(ctx context.Context, userID int64) (*UserStats, error) {
	if userID <= 0 {
		return nil, apperrors.NewValidation("userId must be a positive integer")
	}

	var plan Plan
	err := s.gw.Get(ctx, &plan, "SELECT plan FROM users WHERE id = $1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("user %d not found", userID)
	}
	if err != nil {
		return nil, err
	}

	rules, err := s.cache.RulesForUser(ctx, userID, s.loadAllRules)
	if err != nil {
		return nil, err
	}

	var triggered int
	err = s.gw.Get(ctx, &triggered,
		`SELECT COUNT(*)
		 FROM alert_logs al
		 JOIN alert_rules ar ON ar.id = al.alert_rule_id
		 WHERE ar.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}

	return &UserStats{
		PlanInfo:        planInfo(plan, len(rules)),
		RuleCount:       len(rules),
		AlertsTriggered: triggered,
	}, nil
}

// loadAllRules is the cache refresh loader: one ordered scan of every rule,
// grouped by user.
func (s *Service) loadAllRules(ctx context.Context) (map[int64][]Rule, error) {
	var rules []Rule
	err := s.gw.Select(ctx, &rules,
		`SELECT id, user_id, entity_name_norm, region, created_at
		 FROM alert_rules
		 ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}

	byUser := make(map[int64][]Rule, len(rules))
	for _, r := range rules {
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}
	return byUser, nil
}

func planInfo(plan Plan, used int) PlanInfo {
	limit, unlimited := PlanLimit(plan)
	if unlimited {
		return PlanInfo{Plan: plan, Limit: -1, Used: used, Remaining: -1}
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return PlanInfo{Plan: plan, Limit: limit, Used: used, Remaining: remaining}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
