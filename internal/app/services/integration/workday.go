package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reportengine/disbursement/internal/config"
)

// Workday integrates with Workday Student Financials. Unlike Banner it
// authenticates with HTTP basic credentials, takes amounts as numbers and
// dates as RFC 3339 timestamps.
type Workday struct {
	name     string
	baseURL  string
	username string
	password string
	client   *http.Client
}

// NewWorkday validates the system entry and builds a Workday adapter.
func NewWorkday(name string, cfg config.SystemConfig) (*Workday, error) {
	if cfg.BaseURL == "" {
		return nil, &AdapterConfigurationError{System: name, Reason: "base_url is required"}
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, &AdapterConfigurationError{System: name, Reason: "username and password are required"}
	}
	return &Workday{
		name:     name,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: cfg.Timeout()},
	}, nil
}

// Name returns the configured system name.
func (w *Workday) Name() string { return w.name }

func (w *Workday) do(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.SetBasicAuth(w.username, w.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, &ExternalCallError{System: w.name, Operation: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, &AdapterConfigurationError{System: w.name, Reason: fmt.Sprintf("credentials rejected with HTTP %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, &ExternalCallError{System: w.name, Operation: op, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func workdayStatus(s string) string {
	switch strings.ToLower(s) {
	case "complete", "completed", "settled":
		return StatusCompleted
	case "failed", "denied", "canceled":
		return StatusFailed
	default:
		return StatusPending
	}
}

// SubmitDisbursement posts a student payment to Workday.
func (w *Workday) SubmitDisbursement(ctx context.Context, req DisbursementRequest) (SubmitResult, error) {
	payload := map[string]any{
		"student_reference": req.StudentID,
		"payment_amount":    req.Amount,
		"fund_code":         req.FundCode,
		"aid_year":          req.AidYear,
		"payment_date":      req.DisbursementDate.Format(time.RFC3339),
		"external_ref":      req.ReferenceNumber,
		"memo":              fmt.Sprintf("Scholarship disbursement: %s", req.ScholarshipName),
	}

	resp, err := w.do(ctx, "submit disbursement", http.MethodPost, "/api/v1/student-payments", payload)
	if err != nil {
		return SubmitResult{}, err
	}

	var body struct {
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
		Detail    string `json:"detail"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return SubmitResult{}, &ExternalCallError{System: w.name, Operation: "submit disbursement", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 400 {
		return SubmitResult{
			Success:    false,
			Status:     "rejected",
			Message:    body.Detail,
			HTTPStatus: resp.StatusCode,
		}, nil
	}
	return SubmitResult{
		Success:               true,
		ExternalTransactionID: body.PaymentID,
		Status:                body.Status,
		Message:               body.Detail,
		HTTPStatus:            resp.StatusCode,
	}, nil
}

// CheckDisbursementStatus looks up a previously submitted payment.
func (w *Workday) CheckDisbursementStatus(ctx context.Context, externalTransactionID string) (StatusResult, error) {
	resp, err := w.do(ctx, "check status", http.MethodGet, "/api/v1/student-payments/"+externalTransactionID, nil)
	if err != nil {
		return StatusResult{}, err
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return StatusResult{
			ExternalTransactionID: externalTransactionID,
			Status:                StatusNotFound,
			HTTPStatus:            resp.StatusCode,
		}, nil
	}

	var body struct {
		Status    string `json:"status"`
		SettledAt string `json:"settled_at"`
		Detail    string `json:"detail"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return StatusResult{}, &ExternalCallError{System: w.name, Operation: "check status", StatusCode: resp.StatusCode, Err: err}
	}

	result := StatusResult{
		ExternalTransactionID: externalTransactionID,
		Status:                workdayStatus(body.Status),
		Message:               body.Detail,
		HTTPStatus:            resp.StatusCode,
	}
	if body.SettledAt != "" {
		if ts, err := time.Parse(time.RFC3339, body.SettledAt); err == nil {
			result.ProcessedDate = &ts
		}
	}
	return result, nil
}

// GetStudentAccountInfo fetches the student financial account record.
func (w *Workday) GetStudentAccountInfo(ctx context.Context, studentID string) (AccountInfo, error) {
	resp, err := w.do(ctx, "get account", http.MethodGet, "/api/v1/students/"+studentID+"/financial-account", nil)
	if err != nil {
		return AccountInfo{}, err
	}

	var body struct {
		Balance      float64  `json:"balance"`
		Holds        []string `json:"holds"`
		Enrolled     bool     `json:"enrolled"`
		PaymentReady bool     `json:"payment_ready"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return AccountInfo{}, &ExternalCallError{System: w.name, Operation: "get account", StatusCode: resp.StatusCode, Err: err}
	}
	return AccountInfo{
		StudentID:               studentID,
		AccountBalance:          body.Balance,
		Holds:                   body.Holds,
		Enrolled:                body.Enrolled,
		EligibleForDisbursement: body.PaymentReady,
	}, nil
}

// ValidateStudentEligibility derives eligibility from the account record.
func (w *Workday) ValidateStudentEligibility(ctx context.Context, studentID string) (EligibilityResult, error) {
	info, err := w.GetStudentAccountInfo(ctx, studentID)
	if err != nil {
		return EligibilityResult{}, err
	}

	var reasons []string
	if !info.Enrolled {
		reasons = append(reasons, "student is not enrolled")
	}
	for _, hold := range info.Holds {
		reasons = append(reasons, fmt.Sprintf("account hold: %s", hold))
	}
	if !info.EligibleForDisbursement {
		reasons = append(reasons, "account is not payment ready")
	}
	return EligibilityResult{Eligible: len(reasons) == 0, Reasons: reasons}, nil
}

// workdayHistoryCursor follows Workday's offset pagination.
type workdayHistoryCursor struct {
	adapter   *Workday
	studentID string
	offset    int
	buf       []HistoryRecord
	done      bool
}

// DisbursementHistory returns a cursor over the student's prior payments.
func (w *Workday) DisbursementHistory(studentID string) HistoryCursor {
	return &workdayHistoryCursor{adapter: w, studentID: studentID}
}

func (c *workdayHistoryCursor) fetch(ctx context.Context) error {
	path := fmt.Sprintf("/api/v1/students/%s/payments?offset=%d", c.studentID, c.offset)
	resp, err := c.adapter.do(ctx, "disbursement history", http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	var body struct {
		Payments []struct {
			PaymentID string  `json:"payment_id"`
			Amount    float64 `json:"amount"`
			Status    string  `json:"status"`
			SettledAt string  `json:"settled_at"`
			Memo      string  `json:"memo"`
		} `json:"payments"`
		Total int `json:"total"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return &ExternalCallError{System: c.adapter.name, Operation: "disbursement history", StatusCode: resp.StatusCode, Err: err}
	}

	for _, p := range body.Payments {
		rec := HistoryRecord{
			ExternalTransactionID: p.PaymentID,
			Amount:                p.Amount,
			Status:                workdayStatus(p.Status),
			Description:           p.Memo,
		}
		if p.SettledAt != "" {
			if ts, err := time.Parse(time.RFC3339, p.SettledAt); err == nil {
				rec.DisbursedAt = ts
			}
		}
		c.buf = append(c.buf, rec)
	}
	c.offset += len(body.Payments)
	if len(body.Payments) == 0 || c.offset >= body.Total {
		c.done = true
	}
	return nil
}

func (c *workdayHistoryCursor) Next(ctx context.Context) (HistoryRecord, bool, error) {
	for len(c.buf) == 0 {
		if c.done {
			return HistoryRecord{}, false, nil
		}
		if err := c.fetch(ctx); err != nil {
			c.done = true
			return HistoryRecord{}, false, err
		}
	}
	rec := c.buf[0]
	c.buf = c.buf[1:]
	return rec, true, nil
}
