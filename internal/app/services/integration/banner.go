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

// Banner integrates with Ellucian Banner's financial aid REST API. Banner
// authenticates with a bearer API key, takes amounts as two-decimal strings
// and dates as ISO calendar dates.
type Banner struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewBanner validates the system entry and builds a Banner adapter.
func NewBanner(name string, cfg config.SystemConfig) (*Banner, error) {
	if cfg.BaseURL == "" {
		return nil, &AdapterConfigurationError{System: name, Reason: "base_url is required"}
	}
	if cfg.APIKey == "" {
		return nil, &AdapterConfigurationError{System: name, Reason: "api_key is required"}
	}
	return &Banner{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout()},
	}, nil
}

// Name returns the configured system name.
func (b *Banner) Name() string { return b.name }

func (b *Banner) do(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &ExternalCallError{System: b.name, Operation: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, &AdapterConfigurationError{System: b.name, Reason: fmt.Sprintf("credentials rejected with HTTP %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, &ExternalCallError{System: b.name, Operation: op, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func decodeBody(resp *http.Response, out any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// SubmitDisbursement posts a disbursement to Banner. Business rejections
// (validation failures, duplicate references) come back with Success=false.
func (b *Banner) SubmitDisbursement(ctx context.Context, req DisbursementRequest) (SubmitResult, error) {
	payload := map[string]any{
		"studentId":        req.StudentID,
		"amount":           fmt.Sprintf("%.2f", req.Amount),
		"fundCode":         req.FundCode,
		"aidYear":          req.AidYear,
		"disbursementDate": req.DisbursementDate.Format("2006-01-02"),
		"referenceNumber":  req.ReferenceNumber,
		"description":      fmt.Sprintf("Scholarship disbursement: %s", req.ScholarshipName),
	}

	resp, err := b.do(ctx, "submit disbursement", http.MethodPost, "/api/financial-aid/disbursements", payload)
	if err != nil {
		return SubmitResult{}, err
	}

	var body struct {
		TransactionID string `json:"transactionId"`
		Status        string `json:"status"`
		Message       string `json:"message"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return SubmitResult{}, &ExternalCallError{System: b.name, Operation: "submit disbursement", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 400 {
		return SubmitResult{
			Success:    false,
			Status:     "rejected",
			Message:    body.Message,
			HTTPStatus: resp.StatusCode,
		}, nil
	}
	return SubmitResult{
		Success:               true,
		ExternalTransactionID: body.TransactionID,
		Status:                body.Status,
		Message:               body.Message,
		HTTPStatus:            resp.StatusCode,
	}, nil
}

// bannerStatus translates Banner's disbursement status codes into the
// canonical vocabulary.
func bannerStatus(s string) string {
	switch strings.ToLower(s) {
	case "completed", "paid", "d":
		return StatusCompleted
	case "failed", "rejected", "cancelled":
		return StatusFailed
	default:
		return StatusPending
	}
}

// CheckDisbursementStatus looks up a previously submitted disbursement.
// Unknown external IDs report StatusNotFound rather than an error.
func (b *Banner) CheckDisbursementStatus(ctx context.Context, externalTransactionID string) (StatusResult, error) {
	resp, err := b.do(ctx, "check status", http.MethodGet, "/api/financial-aid/disbursements/"+externalTransactionID, nil)
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
		Status        string `json:"status"`
		ProcessedDate string `json:"processedDate"`
		Message       string `json:"message"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return StatusResult{}, &ExternalCallError{System: b.name, Operation: "check status", StatusCode: resp.StatusCode, Err: err}
	}

	result := StatusResult{
		ExternalTransactionID: externalTransactionID,
		Status:                bannerStatus(body.Status),
		Message:               body.Message,
		HTTPStatus:            resp.StatusCode,
	}
	if body.ProcessedDate != "" {
		if d, err := time.Parse("2006-01-02", body.ProcessedDate); err == nil {
			result.ProcessedDate = &d
		}
	}
	return result, nil
}

// GetStudentAccountInfo fetches the student account record.
func (b *Banner) GetStudentAccountInfo(ctx context.Context, studentID string) (AccountInfo, error) {
	resp, err := b.do(ctx, "get account", http.MethodGet, "/api/students/"+studentID+"/account", nil)
	if err != nil {
		return AccountInfo{}, err
	}

	var body struct {
		AccountBalance          float64  `json:"accountBalance"`
		Holds                   []string `json:"holds"`
		Enrolled                bool     `json:"enrolled"`
		EligibleForDisbursement bool     `json:"eligibleForDisbursement"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return AccountInfo{}, &ExternalCallError{System: b.name, Operation: "get account", StatusCode: resp.StatusCode, Err: err}
	}
	return AccountInfo{
		StudentID:               studentID,
		AccountBalance:          body.AccountBalance,
		Holds:                   body.Holds,
		Enrolled:                body.Enrolled,
		EligibleForDisbursement: body.EligibleForDisbursement,
	}, nil
}

// ValidateStudentEligibility derives an eligibility verdict from the account
// record: the student must be enrolled, hold-free and flagged eligible.
func (b *Banner) ValidateStudentEligibility(ctx context.Context, studentID string) (EligibilityResult, error) {
	info, err := b.GetStudentAccountInfo(ctx, studentID)
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
		reasons = append(reasons, "flagged ineligible for disbursement")
	}
	return EligibilityResult{Eligible: len(reasons) == 0, Reasons: reasons}, nil
}

// bannerHistoryCursor pages through /api/students/{id}/disbursements lazily.
type bannerHistoryCursor struct {
	adapter   *Banner
	studentID string
	page      int
	buf       []HistoryRecord
	done      bool
}

// DisbursementHistory returns a cursor over the student's prior
// disbursements as Banner knows them.
func (b *Banner) DisbursementHistory(studentID string) HistoryCursor {
	return &bannerHistoryCursor{adapter: b, studentID: studentID, page: 1}
}

func (c *bannerHistoryCursor) fetch(ctx context.Context) error {
	path := fmt.Sprintf("/api/students/%s/disbursements?page=%d", c.studentID, c.page)
	resp, err := c.adapter.do(ctx, "disbursement history", http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	var body struct {
		Records []struct {
			TransactionID string  `json:"transactionId"`
			Amount        float64 `json:"amount"`
			Status        string  `json:"status"`
			DisbursedAt   string  `json:"disbursedAt"`
			Description   string  `json:"description"`
		} `json:"records"`
		HasMore bool `json:"hasMore"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return &ExternalCallError{System: c.adapter.name, Operation: "disbursement history", StatusCode: resp.StatusCode, Err: err}
	}

	for _, r := range body.Records {
		rec := HistoryRecord{
			ExternalTransactionID: r.TransactionID,
			Amount:                r.Amount,
			Status:                bannerStatus(r.Status),
			Description:           r.Description,
		}
		if r.DisbursedAt != "" {
			if d, err := time.Parse("2006-01-02", r.DisbursedAt); err == nil {
				rec.DisbursedAt = d
			}
		}
		c.buf = append(c.buf, rec)
	}
	c.page++
	if !body.HasMore {
		c.done = true
	}
	return nil
}

func (c *bannerHistoryCursor) Next(ctx context.Context) (HistoryRecord, bool, error) {
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
