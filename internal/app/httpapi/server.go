// Package httpapi exposes the engine's operational HTTP surface: award and
// schedule management, transaction lifecycle actions, batch runs, exports,
// health and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/reportengine/disbursement/internal/app/domain/award"
	"github.com/reportengine/disbursement/internal/app/domain/disbursement"
	"github.com/reportengine/disbursement/internal/app/domain/schedule"
	"github.com/reportengine/disbursement/internal/app/services/batch"
	"github.com/reportengine/disbursement/internal/app/services/conditions"
	"github.com/reportengine/disbursement/internal/app/services/disbursements"
	"github.com/reportengine/disbursement/internal/app/services/export"
	"github.com/reportengine/disbursement/internal/app/services/schedules"
	"github.com/reportengine/disbursement/internal/app/storage"
	"github.com/reportengine/disbursement/pkg/logger"
)

// Server wires the engine's services behind an http.Handler.
type Server struct {
	awards    storage.AwardStore
	audits    storage.AuditStore
	plans     *schedules.Service
	verifier  *conditions.Verifier
	lifecycle *disbursements.Service
	processor *batch.Processor
	exporter  *export.Service
	metrics   http.Handler
	log       *logger.Logger
}

// New constructs the API server. The metrics handler may be nil, which
// disables the /metrics route.
func New(awards storage.AwardStore, audits storage.AuditStore, plans *schedules.Service, verifier *conditions.Verifier, lifecycle *disbursements.Service, processor *batch.Processor, exporter *export.Service, metrics http.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Server{
		awards:    awards,
		audits:    audits,
		plans:     plans,
		verifier:  verifier,
		lifecycle: lifecycle,
		processor: processor,
		exporter:  exporter,
		metrics:   metrics,
		log:       log,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	mux.HandleFunc("POST /api/awards", s.handleCreateAward)
	mux.HandleFunc("GET /api/awards/{id}", s.handleGetAward)
	mux.HandleFunc("POST /api/awards/{id}/plan", s.handleCreatePlan)
	mux.HandleFunc("GET /api/awards/{id}/schedules", s.handleListSchedules)

	mux.HandleFunc("POST /api/schedules/{id}/verify", s.handleVerifyCondition)
	mux.HandleFunc("POST /api/schedules/{id}/transaction", s.handleCreateTransaction)

	mux.HandleFunc("GET /api/transactions/{id}", s.handleGetTransaction)
	mux.HandleFunc("GET /api/transactions/{id}/schedule", s.handleTransactionSchedule)
	mux.HandleFunc("POST /api/transactions/{id}/approve", s.handleApprove)
	mux.HandleFunc("GET /api/transactions/{id}/audit", s.handleAuditTrail)

	mux.HandleFunc("POST /api/batch/run", s.handleBatchRun)
	mux.HandleFunc("GET /api/export", s.handleExport)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var (
		invalid     *disbursement.InvalidTransitionError
		notMet      *schedule.ConditionsNotMetError
		unknownCond *schedule.UnknownConditionError
	)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notMet):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &unknownCond):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateAward(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScholarshipName string  `json:"scholarship_name"`
		StudentID       string  `json:"student_id"`
		StudentName     string  `json:"student_name"`
		NetID           string  `json:"net_id"`
		AwardAmount     float64 `json:"award_amount"`
		AwardDate       string  `json:"award_date"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StudentID == "" || req.AwardAmount <= 0 {
		writeError(w, http.StatusBadRequest, "student_id and a positive award_amount are required")
		return
	}

	a := award.Award{
		ScholarshipName: req.ScholarshipName,
		Applicant:       award.Applicant{StudentID: req.StudentID, Name: req.StudentName, NetID: req.NetID},
		AwardAmount:     req.AwardAmount,
	}
	if req.AwardDate != "" {
		d, err := time.Parse("2006-01-02", req.AwardDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "award_date must be YYYY-MM-DD")
			return
		}
		a.AwardDate = d
	}

	created, err := s.awards.CreateAward(r.Context(), a)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetAward(w http.ResponseWriter, r *http.Request) {
	a, err := s.awards.GetAward(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dates      []string `json:"dates"`
		Conditions []string `json:"conditions"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dates := make([]time.Time, 0, len(req.Dates))
	for _, raw := range req.Dates {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q, want YYYY-MM-DD", raw))
			return
		}
		dates = append(dates, d)
	}

	created, err := s.plans.CreatePlan(r.Context(), r.PathValue("id"), dates, req.Conditions)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.plans.List(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleVerifyCondition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Condition  string `json:"condition"`
		VerifiedBy string `json:"verified_by"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Condition == "" {
		writeError(w, http.StatusBadRequest, "condition is required")
		return
	}

	sc, err := s.verifier.Verify(r.Context(), r.PathValue("id"), req.Condition, req.VerifiedBy)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		System string `json:"system"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := s.plans.CreateTransaction(r.Context(), r.PathValue("id"), req.System)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.lifecycle.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleTransactionSchedule(w http.ResponseWriter, r *http.Request) {
	sc, err := s.plans.GetByTransaction(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	tx, err := s.lifecycle.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	logs, err := s.audits.ListSystemLogs(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleBatchRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DaysAhead int    `json:"days_ahead"`
		System    string `json:"system"`
		Status    string `json:"status"`
		Limit     int    `json:"limit"`
		DryRun    bool   `json:"dry_run"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := s.processor.Run(r.Context(), batch.Options{
		DaysAhead: req.DaysAhead,
		System:    req.System,
		Status:    disbursement.Status(req.Status),
		Limit:     req.Limit,
		DryRun:    req.DryRun,
	})
	if err != nil {
		if errors.Is(err, batch.ErrAutoSubmitDisabled) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

var exportContentTypes = map[export.Format]string{
	export.FormatBannerCSV: "text/csv",
	export.FormatCSV:       "text/csv",
	export.FormatJSON:      "application/json",
	export.FormatXML:       "application/xml",
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := export.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatCSV
	}
	contentType, ok := exportContentTypes[format]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown export format %q", format))
		return
	}

	filter := export.Filter{Status: disbursement.Status(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("from"); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		filter.From = d
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		filter.To = d
	}

	w.Header().Set("Content-Type", contentType)
	if err := s.exporter.Export(r.Context(), w, format, filter); err != nil {
		s.log.WithError(err).Error("export failed")
	}
}
