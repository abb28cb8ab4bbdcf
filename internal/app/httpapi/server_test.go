package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reportengine/disbursement/internal/app/services/batch"
	"github.com/reportengine/disbursement/internal/app/services/conditions"
	"github.com/reportengine/disbursement/internal/app/services/disbursements"
	"github.com/reportengine/disbursement/internal/app/services/export"
	"github.com/reportengine/disbursement/internal/app/services/integration"
	"github.com/reportengine/disbursement/internal/app/services/schedules"
	"github.com/reportengine/disbursement/internal/app/storage/memory"
)

type stubSubmitter struct{}

func (stubSubmitter) SubmitDisbursement(ctx context.Context, system, transactionID string, req integration.DisbursementRequest) (integration.SubmitResult, error) {
	return integration.SubmitResult{Success: true, ExternalTransactionID: "EXT-" + transactionID}, nil
}

func newTestServer(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	lifecycle := disbursements.New(store, disbursements.RetryPolicy{MaxAttempts: 3}, nil)
	verifier := conditions.NewVerifier(store, nil)
	plans := schedules.New(store, store, store, nil)
	processor := batch.New(store, store, verifier, lifecycle, stubSubmitter{}, batch.Settings{AutoSubmitEnabled: true}, nil)
	exporter := export.New(store, store, nil)

	srv := New(store, store, plans, verifier, lifecycle, processor, exporter, nil, nil)
	return srv.Handler(), store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	handler, _ := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestAwardToApprovedTransactionFlow(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/awards", map[string]any{
		"scholarship_name": "Merit Scholarship",
		"student_id":       "12345678",
		"student_name":     "Jordan Smith",
		"award_amount":     5000,
		"award_date":       "2026-08-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create award: %d %s", rec.Code, rec.Body.String())
	}
	created := decode[map[string]any](t, rec)
	awardID, _ := created["ID"].(string)
	if awardID == "" {
		t.Fatalf("award response missing id: %v", created)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/awards/"+awardID+"/plan", map[string]any{
		"dates":      []string{"2026-09-15", "2027-01-15"},
		"conditions": []string{"enrollment_verified"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create plan: %d %s", rec.Code, rec.Body.String())
	}
	plan := decode[[]map[string]any](t, rec)
	if len(plan) != 2 {
		t.Fatalf("plan size %d", len(plan))
	}
	scheduleID, _ := plan[0]["ID"].(string)

	// Creating a transaction before conditions are met conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/api/schedules/"+scheduleID+"/transaction", map[string]any{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("premature transaction: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/schedules/"+scheduleID+"/verify", map[string]any{
		"condition":   "enrollment_verified",
		"verified_by": "registrar",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/schedules/"+scheduleID+"/transaction", map[string]any{"system": "banner_prod"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create transaction: %d %s", rec.Code, rec.Body.String())
	}
	tx := decode[map[string]any](t, rec)
	txID, _ := tx["TransactionID"].(string)
	if txID == "" {
		t.Fatalf("transaction response missing id: %v", tx)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/transactions/"+txID+"/approve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", rec.Code, rec.Body.String())
	}
	approved := decode[map[string]any](t, rec)
	if approved["Status"] != "approved" {
		t.Fatalf("status %v", approved["Status"])
	}

	// Approving twice conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/api/transactions/"+txID+"/approve", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double approve: %d", rec.Code)
	}

	// The owning schedule is reachable from the transaction.
	rec = doJSON(t, handler, http.MethodGet, "/api/transactions/"+txID+"/schedule", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transaction schedule: %d %s", rec.Code, rec.Body.String())
	}
	owning := decode[map[string]any](t, rec)
	if owning["ID"] != scheduleID {
		t.Fatalf("schedule %v, want %s", owning["ID"], scheduleID)
	}
	if owning["TransactionID"] != txID {
		t.Fatalf("schedule transaction link %v", owning["TransactionID"])
	}
}

func TestTransactionScheduleUnknownIs404(t *testing.T) {
	handler, _ := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/transactions/nope/schedule", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestUnknownTransactionIs404(t *testing.T) {
	handler, _ := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/transactions/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestVerifyUnknownConditionIs400(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/awards", map[string]any{
		"student_id":   "1",
		"award_amount": 100,
	})
	created := decode[map[string]any](t, rec)
	awardID := created["ID"].(string)

	rec = doJSON(t, handler, http.MethodPost, "/api/awards/"+awardID+"/plan", map[string]any{
		"dates":      []string{"2026-09-15"},
		"conditions": []string{"gpa_check"},
	})
	plan := decode[[]map[string]any](t, rec)
	scheduleID := plan[0]["ID"].(string)

	rec = doJSON(t, handler, http.MethodPost, "/api/schedules/"+scheduleID+"/verify", map[string]any{
		"condition": "enrollment_verified",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d %s", rec.Code, rec.Body.String())
	}
}

func TestBatchRunEndpoint(t *testing.T) {
	handler, _ := newTestServer(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/batch/run", map[string]any{"dry_run": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d %s", rec.Code, rec.Body.String())
	}
	summary := decode[map[string]any](t, rec)
	if _, ok := summary["Candidates"]; !ok {
		t.Fatalf("summary shape %v", summary)
	}
}

func TestExportEndpointSetsContentType(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/export?format=json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/export?format=banner-csv", nil)
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Student_ID") {
		t.Fatalf("banner header missing: %q", rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/export?format=parquet", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown format status %d", rec.Code)
	}
}
