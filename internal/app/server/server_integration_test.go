package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"q360/internal/domain/auth"
	"q360/internal/domain/evaluation"
	"q360/internal/platform/config"
	"q360/internal/platform/db"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type harness struct {
	t      *testing.T
	router http.Handler
	secret string
	tenant string
}

func (h *harness) call(method, path string, userID, role string, body any) (int, envelope) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	token, err := auth.GenerateToken(h.secret, auth.Claims{UserID: userID, TenantID: h.tenant, RoleName: role}, time.Hour)
	if err != nil {
		h.t.Fatalf("token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		h.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

func (h *harness) ok(method, path, userID, role string, body, out any) {
	h.t.Helper()
	status, env := h.call(method, path, userID, role, body)
	if status >= 300 || !env.Success {
		h.t.Fatalf("%s %s: unexpected %d %+v", method, path, status, env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			h.t.Fatalf("%s %s: decode data: %v", method, path, err)
		}
	}
}

func (h *harness) expect(method, path, userID, role string, body any, status int, code string) {
	h.t.Helper()
	got, env := h.call(method, path, userID, role, body)
	if got != status || env.Error == nil || env.Error.Code != code {
		h.t.Fatalf("%s %s: expected %d %s, got %d %+v", method, path, status, code, got, env.Error)
	}
}

func TestCalibrationJourney(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	cfg := config.Load()
	cfg.DatabaseURL = dsn
	cfg.JWTSecret = "integration-secret"
	cfg.Environment = "test"
	cfg.RedisAddr = os.Getenv("TEST_REDIS_ADDR")
	cfg.MigrationsDir = filepath.Join("..", "..", "..", "migrations")
	cfg.RunMigrations = true
	cfg.RateLimitPerMinute = 10000

	app, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer app.Close()

	tenantID := uuid.NewString()
	if _, err := app.DB.Exec(ctx, "INSERT INTO tenants (id, name) VALUES ($1, $2)", tenantID, "journey-"+tenantID); err != nil {
		t.Fatalf("insert tenant: %v", err)
	}
	var engDept, hrDept string
	if err := app.DB.QueryRow(ctx, "INSERT INTO departments (tenant_id, name) VALUES ($1, 'Engineering') RETURNING id", tenantID).Scan(&engDept); err != nil {
		t.Fatalf("insert department: %v", err)
	}
	if err := app.DB.QueryRow(ctx, "INSERT INTO departments (tenant_id, name) VALUES ($1, 'People') RETURNING id", tenantID).Scan(&hrDept); err != nil {
		t.Fatalf("insert department: %v", err)
	}
	employee := func(name, dept string, managerID any) string {
		var id string
		if err := app.DB.QueryRow(ctx, `
      INSERT INTO employees (tenant_id, department_id, manager_id, full_name)
      VALUES ($1,$2,$3,$4)
      RETURNING id
    `, tenantID, dept, managerID, name).Scan(&id); err != nil {
			t.Fatalf("insert employee %s: %v", name, err)
		}
		return id
	}
	hr := employee("Harriet", hrDept, nil)
	boss := employee("Bo", hrDept, nil)
	emp := employee("Emil", engDept, boss)
	peer := employee("Petra", engDept, boss)

	if _, err := db.SeedQuestionBank(ctx, app.DB, tenantID); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rows, err := app.DB.Query(ctx, `
    SELECT q.id::text
    FROM questions q
    JOIN question_categories c ON c.id = q.category_id
    WHERE c.tenant_id = $1 AND c.name = 'Leadership'
    ORDER BY q.sort_order
    LIMIT 2
  `, tenantID)
	if err != nil {
		t.Fatalf("question ids: %v", err)
	}
	var questionIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan question: %v", err)
		}
		questionIDs = append(questionIDs, id)
	}
	rows.Close()
	if len(questionIDs) != 2 {
		t.Fatalf("expected 2 leadership questions, got %d", len(questionIDs))
	}

	h := &harness{t: t, router: app.Router, secret: cfg.JWTSecret, tenant: tenantID}

	var campaign evaluation.Campaign
	h.ok(http.MethodPost, "/evaluations/campaigns", hr, auth.RoleHR, map[string]any{
		"title":     "Spring calibration",
		"startDate": "2026-01-01",
		"endDate":   "2099-12-31",
	}, &campaign)
	if !campaign.Weights.Supervisor.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected default weights, got %+v", campaign.Weights)
	}
	base := "/evaluations/campaigns/" + campaign.ID

	h.expect(http.MethodPut, base+"/weights", hr, auth.RoleHR, map[string]string{
		"self": "10", "supervisor": "50", "peer": "20", "subordinate": "10",
	}, http.StatusBadRequest, "validation_error")

	h.ok(http.MethodPost, base+"/questions", hr, auth.RoleHR, map[string]any{"questionIds": questionIDs}, nil)
	h.ok(http.MethodPost, base+"/activate", hr, auth.RoleHR, nil, nil)

	var mine []evaluation.AssignmentProgress
	h.ok(http.MethodGet, base+"/assignments/mine", boss, auth.RoleManager, nil, &mine)
	var toEmp evaluation.AssignmentProgress
	for _, a := range mine {
		if a.EvaluateeID == emp {
			toEmp = a
		}
	}
	if len(mine) != 2 || toEmp.Relationship != evaluation.RelationshipSupervisor {
		t.Fatalf("unexpected boss assignments %+v", mine)
	}

	h.expect(http.MethodPost, "/evaluations/responses", peer, auth.RoleEmployee, map[string]any{
		"assignmentId": toEmp.ID, "questionId": questionIDs[0], "score": "4",
	}, http.StatusForbidden, "forbidden")
	for i, score := range []string{"4", "5"} {
		h.ok(http.MethodPost, "/evaluations/responses", boss, auth.RoleManager, map[string]any{
			"assignmentId": toEmp.ID, "questionId": questionIDs[i], "score": score,
		}, nil)
	}

	h.expect(http.MethodPut, base+"/weights", hr, auth.RoleHR, map[string]string{
		"self": "10", "supervisor": "60", "peer": "20", "subordinate": "10",
	}, http.StatusConflict, "campaign_locked")

	var results []evaluation.Result
	h.ok(http.MethodGet, base+"/results", hr, auth.RoleHR, nil, &results)
	var empResult evaluation.Result
	for _, r := range results {
		if r.EvaluateeID == emp {
			empResult = r
		}
	}
	if !empResult.OverallScore.Valid || !empResult.OverallScore.Decimal.Equal(decimal.RequireFromString("4.5")) {
		t.Fatalf("unexpected overall score %+v", empResult)
	}
	if !empResult.CompletionRate.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected 50%% completion, got %s", empResult.CompletionRate)
	}
	resultPath := "/evaluations/results/" + empResult.ID

	h.expect(http.MethodPost, resultPath+"/adjust", emp, auth.RoleEmployee, map[string]any{"newScore": "5", "reason": "self promotion"}, http.StatusForbidden, "forbidden")
	h.expect(http.MethodPost, resultPath+"/adjust", boss, auth.RoleManager, map[string]any{"newScore": "4.25", "reason": "  "}, http.StatusBadRequest, "validation_error")
	h.expect(http.MethodPost, resultPath+"/adjust", boss, auth.RoleManager, map[string]any{"newScore": "5.5", "reason": "too high"}, http.StatusBadRequest, "validation_error")
	h.ok(http.MethodPost, resultPath+"/adjust", boss, auth.RoleManager, map[string]any{"newScore": "4.25", "reason": "calibration panel"}, nil)

	h.ok(http.MethodPost, base+"/recalculate?evaluateeId="+emp, hr, auth.RoleHR, nil, &empResult)
	if !empResult.OverallScore.Decimal.Equal(decimal.RequireFromString("4.25")) {
		t.Fatalf("recalculation must keep the adjusted score, got %s", empResult.OverallScore.Decimal)
	}

	h.ok(http.MethodPost, resultPath+"/finalize", boss, auth.RoleManager, nil, nil)
	h.expect(http.MethodPost, resultPath+"/finalize", boss, auth.RoleManager, nil, http.StatusConflict, "invalid_state")
	h.expect(http.MethodPost, resultPath+"/adjust", boss, auth.RoleManager, map[string]any{"newScore": "3", "reason": "late change"}, http.StatusConflict, "invalid_state")
	h.expect(http.MethodPost, base+"/recalculate?evaluateeId="+emp, hr, auth.RoleHR, nil, http.StatusConflict, "invalid_state")

	var trail []evaluation.AdjustmentRecord
	h.ok(http.MethodGet, resultPath+"/adjustments", hr, auth.RoleHR, nil, &trail)
	if len(trail) != 1 || trail[0].Reason != "calibration panel" || trail[0].ActorID != boss {
		t.Fatalf("unexpected adjustment trail %+v", trail)
	}

	var report evaluation.BulkFinalizeReport
	h.ok(http.MethodPost, base+"/finalize", hr, auth.RoleHR, nil, &report)
	if report.Failed != 0 || report.Skipped != 1 {
		t.Fatalf("unexpected bulk report %+v", report)
	}
	h.ok(http.MethodPost, base+"/finalize", hr, auth.RoleHR, nil, &report)
	if report.Finalized != 0 {
		t.Fatalf("second bulk finalize should finalize nothing, got %+v", report)
	}

	var dist evaluation.Distribution
	h.ok(http.MethodGet, base+"/distribution", hr, auth.RoleHR, nil, &dist)
	if dist.Good != 1 {
		t.Fatalf("expected the adjusted 4.25 in the good bucket, got %+v", dist)
	}

	var events []json.RawMessage
	h.ok(http.MethodGet, "/audit/events?entityId="+empResult.ID, hr, auth.RoleHR, nil, &events)
	if len(events) != 2 {
		t.Fatalf("expected adjust and finalize audit events, got %d", len(events))
	}
}
