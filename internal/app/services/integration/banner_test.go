package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reportengine/disbursement/internal/config"
)

func newTestBanner(t *testing.T, handler http.Handler) (*Banner, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	b, err := NewBanner("banner_test", config.SystemConfig{
		Type:           "banner",
		BaseURL:        server.URL,
		APIKey:         "test-key",
		TimeoutSeconds: 5,
	})
	if err != nil {
		t.Fatalf("new banner: %v", err)
	}
	return b, server
}

func TestBannerRequiresCredentials(t *testing.T) {
	_, err := NewBanner("banner_test", config.SystemConfig{BaseURL: "https://banner.example.edu"})
	var confErr *AdapterConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected AdapterConfigurationError, got %v", err)
	}
}

func TestBannerSubmitDisbursement(t *testing.T) {
	var captured map[string]any
	b, _ := newTestBanner(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/financial-aid/disbursements" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"transactionId": "BAN-100",
			"status":        "accepted",
		})
	}))

	result, err := b.SubmitDisbursement(context.Background(), DisbursementRequest{
		StudentID:        "12345678",
		Amount:           1666.66,
		ScholarshipName:  "Merit Scholarship",
		DisbursementDate: date(2026, 9, 15),
		ReferenceNumber:  "DISB-42",
		FundCode:         "SCHL",
		AidYear:          "2627",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Success || result.ExternalTransactionID != "BAN-100" {
		t.Fatalf("unexpected result %+v", result)
	}

	// Banner takes amounts as two-decimal strings and calendar dates.
	if captured["amount"] != "1666.66" {
		t.Fatalf("amount sent as %v, want string 1666.66", captured["amount"])
	}
	if captured["disbursementDate"] != "2026-09-15" {
		t.Fatalf("date sent as %v", captured["disbursementDate"])
	}
	if captured["fundCode"] != "SCHL" || captured["aidYear"] != "2627" {
		t.Fatalf("fund fields missing: %v", captured)
	}
}

func TestBannerSubmitBusinessRejection(t *testing.T) {
	b, _ := newTestBanner(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{"message": "duplicate reference number"})
	}))

	result, err := b.SubmitDisbursement(context.Background(), DisbursementRequest{StudentID: "1", Amount: 10})
	if err != nil {
		t.Fatalf("business rejection must not be an error, got %v", err)
	}
	if result.Success {
		t.Fatal("rejection reported as success")
	}
	if result.Message != "duplicate reference number" {
		t.Fatalf("message %q", result.Message)
	}
}

func TestBannerServerErrorIsExternalCallError(t *testing.T) {
	b, _ := newTestBanner(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := b.SubmitDisbursement(context.Background(), DisbursementRequest{StudentID: "1", Amount: 10})
	var callErr *ExternalCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected ExternalCallError, got %v", err)
	}
	if callErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("status code %d", callErr.StatusCode)
	}
}

func TestBannerRejectedCredentials(t *testing.T) {
	b, _ := newTestBanner(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := b.SubmitDisbursement(context.Background(), DisbursementRequest{StudentID: "1", Amount: 10})
	var confErr *AdapterConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected AdapterConfigurationError, got %v", err)
	}
}

func TestBannerStatusNotFound(t *testing.T) {
	b, _ := newTestBanner(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	result, err := b.CheckDisbursementStatus(context.Background(), "BAN-404")
	if err != nil {
		t.Fatalf("not found must not be an error, got %v", err)
	}
	if result.Status != StatusNotFound {
		t.Fatalf("status %q, want %q", result.Status, StatusNotFound)
	}
}

func TestBannerStatusCompleted(t *testing.T) {
	b, _ := newTestBanner(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/financial-aid/disbursements/BAN-100" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":        "paid",
			"processedDate": "2026-09-16",
		})
	}))

	result, err := b.CheckDisbursementStatus(context.Background(), "BAN-100")
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status %q", result.Status)
	}
	if result.ProcessedDate == nil || !result.ProcessedDate.Equal(date(2026, 9, 16)) {
		t.Fatalf("processed date %v", result.ProcessedDate)
	}
}

func TestBannerEligibilityFromAccountHolds(t *testing.T) {
	b, _ := newTestBanner(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"accountBalance":          -500.0,
			"holds":                   []string{"LIBRARY"},
			"enrolled":                true,
			"eligibleForDisbursement": true,
		})
	}))

	result, err := b.ValidateStudentEligibility(context.Background(), "12345678")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Eligible {
		t.Fatal("student with a hold must be ineligible")
	}
	if len(result.Reasons) != 1 || result.Reasons[0] != "account hold: LIBRARY" {
		t.Fatalf("reasons %v", result.Reasons)
	}
}

func TestBannerHistoryCursorPages(t *testing.T) {
	pages := map[string]map[string]any{
		"1": {
			"records": []map[string]any{
				{"transactionId": "BAN-1", "amount": 100.0, "status": "paid", "disbursedAt": "2026-01-15"},
				{"transactionId": "BAN-2", "amount": 200.0, "status": "paid", "disbursedAt": "2026-02-15"},
			},
			"hasMore": true,
		},
		"2": {
			"records": []map[string]any{
				{"transactionId": "BAN-3", "amount": 300.0, "status": "pending"},
			},
			"hasMore": false,
		},
	}
	b, _ := newTestBanner(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pages[page])
	}))

	cursor := b.DisbursementHistory("12345678")
	var ids []string
	for {
		rec, ok, err := cursor.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		ids = append(ids, rec.ExternalTransactionID)
	}
	if len(ids) != 3 || ids[0] != "BAN-1" || ids[2] != "BAN-3" {
		t.Fatalf("history ids %v", ids)
	}
}
