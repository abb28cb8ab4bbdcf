// Package export renders disbursement transactions into the file formats the
// financial aid office exchanges with campus systems: a Banner-shaped CSV
// layout, a generic CSV, JSON and XML.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/reportengine/disbursement/internal/app/domain/disbursement"
	"github.com/reportengine/disbursement/internal/app/storage"
	"github.com/reportengine/disbursement/pkg/logger"
)

// Format selects the output rendering.
type Format string

const (
	FormatBannerCSV Format = "banner-csv"
	FormatCSV       Format = "csv"
	FormatJSON      Format = "json"
	FormatXML       Format = "xml"
)

// Filter selects which transactions an export covers.
type Filter struct {
	Status disbursement.Status
	From   time.Time
	To     time.Time
	Limit  int
}

// Row is one exported disbursement, flattened with its award details.
type Row struct {
	TransactionID         string  `json:"transaction_id" xml:"transaction_id"`
	StudentID             string  `json:"student_id" xml:"student_id"`
	StudentName           string  `json:"student_name" xml:"student_name"`
	ScholarshipName       string  `json:"scholarship_name" xml:"scholarship_name"`
	Amount                float64 `json:"amount" xml:"amount"`
	FundCode              string  `json:"fund_code,omitempty" xml:"fund_code,omitempty"`
	AidYear               string  `json:"aid_year" xml:"aid_year"`
	Status                string  `json:"status" xml:"status"`
	ScheduledDate         string  `json:"scheduled_date" xml:"scheduled_date"`
	ProcessedDate         string  `json:"processed_date,omitempty" xml:"processed_date,omitempty"`
	ExternalTransactionID string  `json:"external_transaction_id,omitempty" xml:"external_transaction_id,omitempty"`
	System                string  `json:"financial_aid_system,omitempty" xml:"financial_aid_system,omitempty"`
}

// Service assembles and renders exports.
type Service struct {
	awards       storage.AwardStore
	transactions storage.TransactionStore
	log          *logger.Logger
	now          func() time.Time
}

// New constructs an export service.
func New(awards storage.AwardStore, transactions storage.TransactionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("export")
	}
	return &Service{
		awards:       awards,
		transactions: transactions,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// farFuture bounds an open-ended export window.
var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// rows collects the transactions matching the filter, joined with their
// award's student details.
func (s *Service) rows(ctx context.Context, filter Filter) ([]Row, error) {
	if filter.Status == "" {
		filter.Status = disbursement.StatusCompleted
	}
	to := filter.To
	if to.IsZero() {
		to = farFuture
	}

	txs, err := s.transactions.ListDueTransactions(ctx, filter.Status, filter.From, to, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	rows := make([]Row, 0, len(txs))
	for _, tx := range txs {
		row := Row{
			TransactionID:         tx.TransactionID,
			Amount:                tx.Amount,
			FundCode:              tx.FundCode,
			AidYear:               disbursement.AidYear(tx.ScheduledDate),
			Status:                string(tx.Status),
			ScheduledDate:         tx.ScheduledDate.Format("2006-01-02"),
			ExternalTransactionID: tx.ExternalTransactionID,
			System:                tx.FinancialAidSystem,
		}
		if tx.ProcessedDate != nil {
			row.ProcessedDate = tx.ProcessedDate.Format("2006-01-02")
		}
		if a, err := s.awards.GetAward(ctx, tx.AwardID); err == nil {
			row.StudentID = a.Applicant.StudentID
			row.StudentName = a.Applicant.Name
			row.ScholarshipName = a.ScholarshipName
		} else {
			s.log.WithError(err).WithField("transaction_id", tx.TransactionID).Warn("award lookup failed during export")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Export renders the matching transactions to w in the requested format.
func (s *Service) Export(ctx context.Context, w io.Writer, format Format, filter Filter) error {
	rows, err := s.rows(ctx, filter)
	if err != nil {
		return err
	}

	switch format {
	case FormatBannerCSV:
		return writeBannerCSV(w, rows)
	case FormatCSV, "":
		return writeCSV(w, rows)
	case FormatJSON:
		return s.writeJSON(w, rows)
	case FormatXML:
		return s.writeXML(w, rows)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// writeBannerCSV emits the column layout Banner's file import expects.
func writeBannerCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	header := []string{"Student_ID", "Fund_Code", "Aid_Year", "Disbursement_Date", "Amount", "Reference_Number", "Description"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.StudentID,
			row.FundCode,
			row.AidYear,
			row.ScheduledDate,
			fmt.Sprintf("%.2f", row.Amount),
			"DISB-" + row.TransactionID,
			fmt.Sprintf("Scholarship disbursement: %s", row.ScholarshipName),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	header := []string{"transaction_id", "student_id", "student_name", "scholarship_name", "amount", "status", "scheduled_date", "processed_date", "external_transaction_id", "financial_aid_system"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.TransactionID,
			row.StudentID,
			row.StudentName,
			row.ScholarshipName,
			fmt.Sprintf("%.2f", row.Amount),
			row.Status,
			row.ScheduledDate,
			row.ProcessedDate,
			row.ExternalTransactionID,
			row.System,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonDocument struct {
	GeneratedAt   string `json:"generated_at"`
	Count         int    `json:"count"`
	Disbursements []Row  `json:"disbursements"`
}

func (s *Service) writeJSON(w io.Writer, rows []Row) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonDocument{
		GeneratedAt:   s.now().Format(time.RFC3339),
		Count:         len(rows),
		Disbursements: rows,
	})
}

type xmlDocument struct {
	XMLName       xml.Name `xml:"disbursements"`
	GeneratedAt   string   `xml:"generated_at,attr"`
	Count         int      `xml:"count,attr"`
	Disbursements []xmlRow `xml:"disbursement"`
}

type xmlRow struct {
	Row
}

func (s *Service) writeXML(w io.Writer, rows []Row) error {
	doc := xmlDocument{
		GeneratedAt: s.now().Format(time.RFC3339),
		Count:       len(rows),
	}
	for _, row := range rows {
		doc.Disbursements = append(doc.Disbursements, xmlRow{Row: row})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
