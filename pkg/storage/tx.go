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

package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Savepoint helpers used by callers that need per-statement failure
// isolation inside a single transaction. Names are caller-generated and must
// be plain identifiers; they are interpolated, not bound, because PostgreSQL
// does not accept parameters in savepoint statements.

// Savepoint establishes a named savepoint on the transaction.
func Savepoint(ctx context.Context, tx *sqlx.Tx, name string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SAVEPOINT %s", name))
	return err
}

// RollbackToSavepoint discards work done since the savepoint, keeping the
// surrounding transaction alive.
func RollbackToSavepoint(ctx context.Context, tx *sqlx.Tx, name string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", name))
	return err
}

// ReleaseSavepoint drops the savepoint after the guarded work succeeded.
func ReleaseSavepoint(ctx context.Context, tx *sqlx.Tx, name string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", name))
	return err
}

// Pagination describes an offset-paginated result set. Total is the count
// under the same filter as the rows.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// MaxPageLimit caps reader page sizes.
const MaxPageLimit = 100

// ClampPage normalizes limit and offset: limit defaults to MaxPageLimit and
// is capped there; negative offsets become zero.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
