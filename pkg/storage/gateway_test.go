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

package storage_test

import (
	"context"
	"errors"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/apperrors"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/storage"
)

func newGateway(cfg storage.Config) (*storage.Gateway, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	Expect(err).NotTo(HaveOccurred())
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Millisecond
	}
	return storage.NewWithDB(db, cfg, zap.NewNop()), mock
}

var _ = Describe("Gateway", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("standalone query retry", func() {
		It("retries a transient fault and succeeds", func() {
			gw, mock := newGateway(storage.Config{})
			mock.ExpectQuery("SELECT plan FROM users").
				WillReturnError(&pgconn.PgError{Code: "57P01"})
			mock.ExpectQuery("SELECT plan FROM users").
				WillReturnRows(sqlmock.NewRows([]string{"plan"}).AddRow("pro"))

			var plan string
			err := gw.Get(ctx, &plan, "SELECT plan FROM users WHERE id = $1", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(plan).To(Equal("pro"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("gives up after three attempts", func() {
			gw, mock := newGateway(storage.Config{})
			for i := 0; i < 3; i++ {
				mock.ExpectExec("UPDATE ingestion_runs").
					WillReturnError(&pgconn.PgError{Code: "08006"})
			}

			_, err := gw.Exec(ctx, "UPDATE ingestion_runs SET error = $1", "boom")
			Expect(err).To(HaveOccurred())
			Expect(apperrors.IsRetryable(err)).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("does not retry constraint violations", func() {
			gw, mock := newGateway(storage.Config{})
			mock.ExpectExec("INSERT INTO users").
				WillReturnError(&pgconn.PgError{Code: "23505"})

			_, err := gw.Exec(ctx, "INSERT INTO users (email) VALUES ($1)", "a@b.c")
			Expect(err).To(HaveOccurred())
			Expect(apperrors.IsKind(err, apperrors.KindStorage)).To(BeTrue())
			Expect(apperrors.IsRetryable(err)).To(BeFalse())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("passes sql.ErrNoRows through unclassified", func() {
			gw, mock := newGateway(storage.Config{})
			mock.ExpectQuery("SELECT plan FROM users").
				WillReturnRows(sqlmock.NewRows([]string{"plan"}))

			var plan string
			err := gw.Get(ctx, &plan, "SELECT plan FROM users WHERE id = $1", 99)
			Expect(err).To(HaveOccurred())
			Expect(apperrors.KindOf(err)).To(Equal(apperrors.KindUnknown))
		})
	})

	Describe("Transaction", func() {
		It("commits when the scope returns nil", func() {
			gw, mock := newGateway(storage.Config{})
			mock.ExpectBegin()
			mock.ExpectExec("UPDATE records").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			err := gw.Transaction(ctx, func(tx *sqlx.Tx) error {
				_, err := tx.ExecContext(ctx, "UPDATE records SET status = $1", "closed")
				return err
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("rolls back when the scope fails", func() {
			gw, mock := newGateway(storage.Config{})
			mock.ExpectBegin()
			mock.ExpectRollback()

			scopeErr := errors.New("scope failed")
			err := gw.Transaction(ctx, func(tx *sqlx.Tx) error {
				return scopeErr
			})
			Expect(err).To(MatchError(scopeErr))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("rolls back and repanics on a scope panic", func() {
			gw, mock := newGateway(storage.Config{})
			mock.ExpectBegin()
			mock.ExpectRollback()

			Expect(func() {
				_ = gw.Transaction(ctx, func(tx *sqlx.Tx) error {
					panic("poisoned scope")
				})
			}).To(PanicWith("poisoned scope"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("HealthCheck", func() {
		It("flips connected on success", func() {
			gw, mock := newGateway(storage.Config{})
			mock.ExpectQuery("SELECT 1").
				WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

			Expect(gw.HealthCheck(ctx)).To(Succeed())
			Expect(gw.Healthy()).To(BeTrue())
		})

		It("degrades on failure and recovers via the reconnect loop", func() {
			gw, mock := newGateway(storage.Config{RetryBase: 20 * time.Millisecond})
			mock.ExpectQuery("SELECT 1").
				WillReturnError(&pgconn.PgError{Code: "08006"})

			Expect(gw.HealthCheck(ctx)).To(HaveOccurred())
			Expect(gw.Healthy()).To(BeFalse())

			// The unmonitored sqlmock ping succeeds, standing in for a
			// recovered database.
			Eventually(gw.Healthy, time.Second, 10*time.Millisecond).Should(BeTrue())
			Expect(gw.Stats().ReconnectAttempts).To(BeNumerically(">=", 1))
		})
	})

	Describe("Stats", func() {
		It("reports pool counters", func() {
			gw, _ := newGateway(storage.Config{})
			stats := gw.Stats()
			Expect(stats.Connected).To(BeTrue())
			Expect(stats.OpenConnections).To(BeNumerically(">=", 0))
		})
	})

	Describe("Close", func() {
		It("closes the pool inside the ceiling", func() {
			gw, mock := newGateway(storage.Config{})
			mock.ExpectClose()
			Expect(gw.Close(ctx)).To(Succeed())
		})
	})
})

var _ = Describe("ClampPage", func() {
	It("defaults and caps the limit at 100", func() {
		limit, offset := storage.ClampPage(0, 0)
		Expect(limit).To(Equal(100))
		Expect(offset).To(Equal(0))

		limit, _ = storage.ClampPage(500, 0)
		Expect(limit).To(Equal(100))

		limit, offset = storage.ClampPage(25, -3)
		Expect(limit).To(Equal(25))
		Expect(offset).To(Equal(0))
	})
})
