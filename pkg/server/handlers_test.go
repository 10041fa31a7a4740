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

package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/alerts"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/apperrors"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/canonical"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/ingestion"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/records"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/server"
)

func newTestServer(deps server.Deps, env string) http.Handler {
	return server.New(testConfig(env), deps, zap.NewNop()).Handler()
}

func doJSON(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(rec *httptest.ResponseRecorder) (kind, message string) {
	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
	return body.Error.Kind, body.Error.Message
}

var _ = Describe("health endpoints", func() {
	It("reports healthy while the database answers", func() {
		rec := doJSON(newTestServer(testDeps(), "test"), http.MethodGet, "/health", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"status":"healthy"`))
	})

	It("degrades when the database check fails", func() {
		deps := testDeps()
		deps.Gateway = &fakeGateway{healthErr: apperrors.NewStorage(nil, true, "down")}
		rec := doJSON(newTestServer(deps, "test"), http.MethodGet, "/health", "")
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(rec.Body.String()).To(ContainSubstring(`"database":"disconnected"`))
	})

	It("fails readiness when the pool is unhealthy", func() {
		deps := testDeps()
		deps.Gateway = &fakeGateway{healthy: false}
		rec := doJSON(newTestServer(deps, "test"), http.MethodGet, "/health/ready", "")
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("always answers liveness", func() {
		deps := testDeps()
		deps.Gateway = &fakeGateway{healthy: false}
		rec := doJSON(newTestServer(deps, "test"), http.MethodGet, "/health/live", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("ingest endpoints", func() {
	It("feeds bulk connector output through the engine", func() {
		deps := testDeps()
		connector := &fakeConnector{bulk: []canonical.Record{{SourceKey: "TX-001"}}}
		engine := &fakeEngine{result: &ingestion.Result{RunID: 9, RecordsInserted: 1}}
		deps.Connector = connector
		deps.Engine = engine

		rec := doJSON(newTestServer(deps, "test"), http.MethodPost, "/api/ingest/bulk", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"runId":9`))
		Expect(engine.lastSource).To(Equal(ingestion.SourceBulk))
		Expect(engine.lastRecords).To(HaveLen(1))
		Expect(engine.lastOpts.Validate).To(BeTrue())
	})

	It("honours batchSize, validate and hours from the body", func() {
		deps := testDeps()
		connector := &fakeConnector{recent: []canonical.Record{{SourceKey: "TX-002"}}}
		engine := &fakeEngine{result: &ingestion.Result{RunID: 10}}
		deps.Connector = connector
		deps.Engine = engine

		rec := doJSON(newTestServer(deps, "test"), http.MethodPost, "/api/ingest/recent",
			`{"batchSize":25,"validate":false,"hours":24}`)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(connector.lastHours).To(Equal(24))
		Expect(engine.lastSource).To(Equal(ingestion.SourceRecent))
		Expect(engine.lastOpts.BatchSize).To(Equal(25))
		Expect(engine.lastOpts.Validate).To(BeFalse())
	})

	It("defaults the recent window to 72 hours", func() {
		deps := testDeps()
		connector := &fakeConnector{recent: []canonical.Record{{SourceKey: "TX-002"}}}
		deps.Connector = connector

		doJSON(newTestServer(deps, "test"), http.MethodPost, "/api/ingest/recent", "")
		Expect(connector.lastHours).To(Equal(72))
	})

	It("maps a validation failure from the engine to 400", func() {
		deps := testDeps()
		deps.Connector = &fakeConnector{bulk: []canonical.Record{{SourceKey: "TX-001"}}}
		deps.Engine = &fakeEngine{err: apperrors.NewValidation("record 0 invalid: region is required")}

		rec := doJSON(newTestServer(deps, "test"), http.MethodPost, "/api/ingest/bulk", "")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		kind, message := decodeError(rec)
		Expect(kind).To(Equal("validation"))
		Expect(message).To(ContainSubstring("region"))
	})

	It("rejects a malformed body before touching the connector", func() {
		deps := testDeps()
		rec := doJSON(newTestServer(deps, "test"), http.MethodPost, "/api/ingest/bulk", "{not json")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})
})

var _ = Describe("alert endpoints", func() {
	entity := "acme energy llc"

	It("creates a rule and returns the plan state", func() {
		deps := testDeps()
		fa := &fakeAlerts{
			rule: &alerts.Rule{ID: 5, UserID: 7, EntityNameNorm: &entity, CreatedAt: time.Now()},
			plan: &alerts.PlanInfo{Plan: "pro", Limit: 5, Used: 2, Remaining: 3},
		}
		deps.Alerts = fa

		rec := doJSON(newTestServer(deps, "test"), http.MethodPost, "/api/alerts",
			`{"userId":7,"entityNameNorm":"acme energy llc"}`)
		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(rec.Body.String()).To(ContainSubstring(`"remaining":3`))
		Expect(fa.lastCreate.UserID).To(Equal(int64(7)))
		Expect(fa.lastCreate.EntityNameNorm).To(Equal("acme energy llc"))
	})

	It("maps a quota breach to 422", func() {
		deps := testDeps()
		deps.Alerts = &fakeAlerts{createErr: apperrors.NewBusinessLogic("plan starter allows 1 alert rule")}

		rec := doJSON(newTestServer(deps, "test"), http.MethodPost, "/api/alerts",
			`{"userId":7,"region":"TX"}`)
		Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		kind, _ := decodeError(rec)
		Expect(kind).To(Equal("business_logic"))
	})

	It("maps an unknown user to 404", func() {
		deps := testDeps()
		deps.Alerts = &fakeAlerts{createErr: apperrors.NewNotFound("user 99 not found")}

		rec := doJSON(newTestServer(deps, "test"), http.MethodPost, "/api/alerts",
			`{"userId":99,"region":"TX"}`)
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("deletes an owned rule", func() {
		deps := testDeps()
		fa := &fakeAlerts{}
		deps.Alerts = fa

		rec := doJSON(newTestServer(deps, "test"), http.MethodDelete, "/api/alerts/5",
			`{"userId":7}`)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(fa.lastDelete).To(Equal([2]int64{5, 7}))
	})

	It("maps a foreign rule to 403", func() {
		deps := testDeps()
		deps.Alerts = &fakeAlerts{deleteErr: apperrors.NewAuthorization("rule 5 does not belong to user 8")}

		rec := doJSON(newTestServer(deps, "test"), http.MethodDelete, "/api/alerts/5",
			`{"userId":8}`)
		Expect(rec.Code).To(Equal(http.StatusForbidden))
	})

	It("rejects a non-numeric rule id", func() {
		rec := doJSON(newTestServer(testDeps(), "test"), http.MethodDelete, "/api/alerts/abc",
			`{"userId":7}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("requires a requesting user on delete", func() {
		rec := doJSON(newTestServer(testDeps(), "test"), http.MethodDelete, "/api/alerts/5", "")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("lists a user's rules with a count", func() {
		deps := testDeps()
		deps.Alerts = &fakeAlerts{rules: []alerts.Rule{{ID: 1, UserID: 7}, {ID: 2, UserID: 7}}}

		rec := doJSON(newTestServer(deps, "test"), http.MethodGet, "/api/alerts/user/7", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"count":2`))
	})

	It("serves per-user stats", func() {
		deps := testDeps()
		deps.Alerts = &fakeAlerts{stats: &alerts.UserStats{
			PlanInfo:        alerts.PlanInfo{Plan: "team", Limit: -1, Remaining: -1},
			RuleCount:       4,
			AlertsTriggered: 17,
		}}

		rec := doJSON(newTestServer(deps, "test"), http.MethodGet, "/api/alerts/user/7/stats", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"alertsTriggered":17`))
	})

	It("passes alert-log filters through the query string", func() {
		deps := testDeps()
		fl := &fakeAlertLogs{page: &alerts.LogPage{}}
		deps.AlertLogs = fl

		rec := doJSON(newTestServer(deps, "test"), http.MethodGet,
			"/api/alerts/logs?alertRuleId=3&userId=7&actionType=insert&limit=10&offset=20", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(fl.lastFilter).To(Equal(alerts.LogFilter{
			AlertRuleID: 3, UserID: 7, ActionType: "insert", Limit: 10, Offset: 20,
		}))
	})
})

var _ = Describe("read endpoints", func() {
	It("serves ingestion history", func() {
		deps := testDeps()
		deps.Runs = &fakeRuns{page: &ingestion.RunPage{Runs: []ingestion.Run{{ID: 3, SourceType: "bulk"}}}}

		rec := doJSON(newTestServer(deps, "test"), http.MethodGet, "/api/ingestion/history", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"sourceType":"bulk"`))
	})

	It("passes record filters through the query string", func() {
		deps := testDeps()
		fr := &fakeRecords{page: &records.Page{}}
		deps.Records = fr

		rec := doJSON(newTestServer(deps, "test"), http.MethodGet,
			"/api/records?region=TX&entityNameNorm=acme+energy+llc&status=open&limit=5", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(fr.lastFilter).To(Equal(records.Filter{
			Region: "TX", EntityNameNorm: "acme energy llc", Status: "open", Limit: 5,
		}))
	})

	It("streams CSV with a download disposition", func() {
		deps := testDeps()
		deps.Records = &fakeRecords{csv: "source_key\nTX-001\n"}

		rec := doJSON(newTestServer(deps, "test"), http.MethodGet, "/api/export/csv?region=TX", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(Equal("text/csv; charset=utf-8"))
		Expect(rec.Header().Get("Content-Disposition")).To(HavePrefix(`attachment; filename="records-`))
		Expect(rec.Body.String()).To(ContainSubstring("TX-001"))
	})

	It("serves combined service and pool metrics", func() {
		rec := doJSON(newTestServer(testDeps(), "test"), http.MethodGet, "/api/metrics", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"totalIngestions":2`))
		Expect(rec.Body.String()).To(ContainSubstring(`"openConnections":3`))
	})
})

var _ = Describe("error redaction", func() {
	storageErr := apperrors.NewStorage(nil, false, "pq: connection reset on host db-internal-2")

	It("hides storage detail outside development", func() {
		deps := testDeps()
		deps.Runs = &fakeRuns{err: storageErr}

		rec := doJSON(newTestServer(deps, "production"), http.MethodGet, "/api/ingestion/history", "")
		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		_, message := decodeError(rec)
		Expect(message).To(Equal("internal server error"))
	})

	It("surfaces storage detail in development", func() {
		deps := testDeps()
		deps.Runs = &fakeRuns{err: storageErr}

		rec := doJSON(newTestServer(deps, "development"), http.MethodGet, "/api/ingestion/history", "")
		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		_, message := decodeError(rec)
		Expect(message).To(ContainSubstring("db-internal-2"))
	})
})
