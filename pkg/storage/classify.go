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
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/apperrors"
)

// PostgreSQL SQLSTATE classes and codes the gateway switches on.
const (
	sqlstateClassConnection = "08" // connection exceptions
	sqlstateClassIntegrity  = "23" // integrity constraint violations
	sqlstateClassData       = "22" // data exceptions

	sqlstateAdminShutdown        = "57P01"
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateTooManyConnections   = "53300"
)

// classify maps a driver fault into the taxonomy. Connection-class faults,
// timeouts, admin shutdown and connection exhaustion are retryable for
// standalone queries; serialization failures, deadlocks and constraint
// violations abort the statement or transaction and are never retried here.
func (g *Gateway) classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	return apperrors.NewStorage(err, isTransient(err), "%s", msg)
}

// isTransient reports whether a fault belongs to the retryable class:
// connection refused, timeout, admin shutdown, pool exhaustion, or a dead
// driver connection.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, sqlstateClassConnection) {
			return true
		}
		switch pgErr.Code {
		case sqlstateAdminShutdown, sqlstateTooManyConnections:
			return true
		}
		return false
	}

	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsTransactionFatal reports whether a fault inside a transaction poisons
// the whole transaction. Connection loss, serialization failures, deadlocks
// and cancellation cannot be recovered by rolling back to a savepoint;
// statement-scoped faults (constraint and data violations, unknown driver
// errors) can.
func IsTransactionFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, sqlstateClassConnection) {
			return true
		}
		switch pgErr.Code {
		case sqlstateSerializationFailure, sqlstateDeadlockDetected, sqlstateAdminShutdown:
			return true
		}
		return false
	}
	return false
}
