package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reportengine/disbursement/internal/config"
)

func TestWorkdaySubmitUsesBasicAuthAndNumericAmount(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/student-payments" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "svc-aid" || pass != "hunter2" {
			t.Fatalf("basic auth %q/%q ok=%v", user, pass, ok)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"payment_id": "WD-1", "status": "received"})
	}))
	t.Cleanup(server.Close)

	w, err := NewWorkday("workday_prod", config.SystemConfig{
		Type:           "workday",
		BaseURL:        server.URL,
		Username:       "svc-aid",
		Password:       "hunter2",
		TimeoutSeconds: 5,
	})
	if err != nil {
		t.Fatalf("new workday: %v", err)
	}

	result, err := w.SubmitDisbursement(context.Background(), DisbursementRequest{
		StudentID:        "12345678",
		Amount:           1666.66,
		DisbursementDate: date(2026, 9, 15),
		ReferenceNumber:  "DISB-42",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Success || result.ExternalTransactionID != "WD-1" {
		t.Fatalf("result %+v", result)
	}

	// Workday takes amounts as numbers, not formatted strings.
	if captured["payment_amount"] != 1666.66 {
		t.Fatalf("amount sent as %v (%T)", captured["payment_amount"], captured["payment_amount"])
	}
	if captured["external_ref"] != "DISB-42" {
		t.Fatalf("payload %v", captured)
	}
}

func TestWorkdayStatusSettled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "settled",
			"settled_at": "2026-09-16T10:30:00Z",
		})
	}))
	t.Cleanup(server.Close)

	w, err := NewWorkday("workday_prod", config.SystemConfig{
		BaseURL:        server.URL,
		Username:       "svc-aid",
		Password:       "hunter2",
		TimeoutSeconds: 5,
	})
	if err != nil {
		t.Fatalf("new workday: %v", err)
	}

	result, err := w.CheckDisbursementStatus(context.Background(), "WD-1")
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status %q", result.Status)
	}
	if result.ProcessedDate == nil {
		t.Fatal("settled payment missing processed date")
	}
}
