package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/reportengine/disbursement/internal/app/domain/award"
	"github.com/reportengine/disbursement/internal/app/domain/disbursement"
	"github.com/reportengine/disbursement/internal/app/storage/memory"
)

func seedCompleted(t *testing.T, store *memory.Store) disbursement.Transaction {
	t.Helper()
	ctx := context.Background()

	a, err := store.CreateAward(ctx, award.Award{
		ScholarshipName: "Merit Scholarship",
		Applicant:       award.Applicant{StudentID: "12345678", Name: "Jordan Smith"},
		AwardAmount:     5000,
	})
	if err != nil {
		t.Fatalf("create award: %v", err)
	}

	processed := time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC)
	tx, err := store.CreateTransaction(ctx, disbursement.Transaction{
		AwardID:               a.ID,
		ScheduleID:            "sched-1",
		ExternalTransactionID: "BAN-100",
		Amount:                1666.66,
		ScheduledDate:         time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		ProcessedDate:         &processed,
		Status:                disbursement.StatusCompleted,
		FinancialAidSystem:    "banner_prod",
		FundCode:              "SCHL",
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return tx
}

func TestExportBannerCSV(t *testing.T) {
	store := memory.New()
	tx := seedCompleted(t, store)
	svc := New(store, store, nil)

	var buf bytes.Buffer
	if err := svc.Export(context.Background(), &buf, FormatBannerCSV, Filter{}); err != nil {
		t.Fatalf("export: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("record count %d", len(records))
	}
	header := strings.Join(records[0], ",")
	if header != "Student_ID,Fund_Code,Aid_Year,Disbursement_Date,Amount,Reference_Number,Description" {
		t.Fatalf("header %q", header)
	}
	row := records[1]
	if row[0] != "12345678" || row[1] != "SCHL" || row[2] != "2627" {
		t.Fatalf("row %v", row)
	}
	if row[4] != "1666.66" {
		t.Fatalf("amount %q", row[4])
	}
	if row[5] != "DISB-"+tx.TransactionID {
		t.Fatalf("reference %q", row[5])
	}
}

func TestExportJSON(t *testing.T) {
	store := memory.New()
	seedCompleted(t, store)
	svc := New(store, store, nil)

	var buf bytes.Buffer
	if err := svc.Export(context.Background(), &buf, FormatJSON, Filter{}); err != nil {
		t.Fatalf("export: %v", err)
	}

	var doc struct {
		Count         int `json:"count"`
		Disbursements []struct {
			StudentID     string  `json:"student_id"`
			Amount        float64 `json:"amount"`
			Status        string  `json:"status"`
			ProcessedDate string  `json:"processed_date"`
		} `json:"disbursements"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if doc.Count != 1 || len(doc.Disbursements) != 1 {
		t.Fatalf("document %+v", doc)
	}
	d := doc.Disbursements[0]
	if d.StudentID != "12345678" || d.Amount != 1666.66 || d.Status != "completed" {
		t.Fatalf("row %+v", d)
	}
	if d.ProcessedDate != "2026-09-16" {
		t.Fatalf("processed date %q", d.ProcessedDate)
	}
}

func TestExportXML(t *testing.T) {
	store := memory.New()
	seedCompleted(t, store)
	svc := New(store, store, nil)

	var buf bytes.Buffer
	if err := svc.Export(context.Background(), &buf, FormatXML, Filter{}); err != nil {
		t.Fatalf("export: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "<?xml") {
		t.Fatalf("missing xml header: %q", out[:20])
	}
	if !strings.Contains(out, "<student_id>12345678</student_id>") {
		t.Fatalf("student element missing:\n%s", out)
	}
	if !strings.Contains(out, `count="1"`) {
		t.Fatalf("count attribute missing:\n%s", out)
	}
}

func TestExportFiltersByStatusAndWindow(t *testing.T) {
	store := memory.New()
	seedCompleted(t, store)
	// A failed transaction outside the completed filter.
	if _, err := store.CreateTransaction(context.Background(), disbursement.Transaction{
		AwardID:       "award-x",
		ScheduleID:    "sched-2",
		Amount:        100,
		ScheduledDate: time.Date(2026, 9, 20, 0, 0, 0, 0, time.UTC),
		Status:        disbursement.StatusFailed,
	}); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	svc := New(store, store, nil)

	var buf bytes.Buffer
	if err := svc.Export(context.Background(), &buf, FormatCSV, Filter{}); err != nil {
		t.Fatalf("export: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("completed filter leaked: %d records", len(records))
	}

	// Narrow the window past the completed transaction.
	buf.Reset()
	if err := svc.Export(context.Background(), &buf, FormatCSV, Filter{
		From: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("export: %v", err)
	}
	records, err = csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("window filter leaked: %d records", len(records))
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := New(memory.New(), memory.New(), nil)
	var buf bytes.Buffer
	if err := svc.Export(context.Background(), &buf, Format("yaml"), Filter{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
