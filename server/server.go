package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/reportstack/report-manager/pkg/logger"
	"github.com/reportstack/report-manager/pkg/report"
	"github.com/reportstack/report-manager/pkg/store"
)

type generateRequest struct {
	ReportType  string          `json:"reportType" validate:"required"`
	RequestedBy string          `json:"requestedBy" validate:"required,max=128"`
	Parameters  json.RawMessage `json:"parameters" validate:"required"`
}

type generateResponse struct {
	RequestID  string `json:"requestId"`
	Status     string `json:"status"`
	ReportType string `json:"reportType"`
	CreatedAt  string `json:"createdAt"`
}

type statusResponse struct {
	RequestID    string `json:"requestId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	UpdatedAt    string `json:"updatedAt"`
}

type detailsResponse struct {
	RequestID    string          `json:"requestId"`
	ReportType   string          `json:"reportType"`
	Status       string          `json:"status"`
	RequestedBy  string          `json:"requestedBy"`
	Parameters   json.RawMessage `json:"parameters"`
	ArchiveRef   string          `json:"archiveRef,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

// errorResponse is the uniform error envelope for every non-2xx reply.
type errorResponse struct {
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Path      string `json:"path"`
}

type Server struct {
	svc      *Service
	validate *validator.Validate
}

func NewServer(svc *Service) *Server {
	return &Server{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1/reports", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Get("/{requestID}/status", s.handleStatus)
		r.Get("/{requestID}", s.handleDetails)
	})

	return otelhttp.NewHandler(r, "report-server")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	reportType, err := report.ParseType(req.ReportType)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !json.Valid(req.Parameters) {
		writeError(w, r, http.StatusBadRequest, "parameters must be a JSON document")
		return
	}

	rec, err := s.svc.Submit(r.Context(), reportType, req.RequestedBy, string(req.Parameters))
	if err != nil {
		logger.WithContext(r.Context()).Error("submission failed", "error", err.Error())
		writeError(w, r, http.StatusInternalServerError, "failed to submit report request")
		return
	}

	writeJSON(w, http.StatusAccepted, generateResponse{
		RequestID:  rec.RequestID,
		Status:     string(rec.Status),
		ReportType: string(rec.ReportType),
		CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		RequestID:    rec.RequestID,
		Status:       string(rec.Status),
		ErrorMessage: rec.ErrorMessage,
		UpdatedAt:    rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	params := rec.Parameters
	if params == "" {
		params = "{}"
	}
	writeJSON(w, http.StatusOK, detailsResponse{
		RequestID:    rec.RequestID,
		ReportType:   string(rec.ReportType),
		Status:       string(rec.Status),
		RequestedBy:  rec.RequestedBy,
		Parameters:   json.RawMessage(params),
		ArchiveRef:   rec.ArchiveRef,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*report.Request, bool) {
	requestID := chi.URLParam(r, "requestID")
	rec, err := s.svc.Details(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "no report request with id "+requestID)
			return nil, false
		}
		logger.WithContext(r.Context()).Error("request lookup failed", "error", err.Error())
		writeError(w, r, http.StatusInternalServerError, "failed to load report request")
		return nil, false
	}
	return rec, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		Path:      r.URL.Path,
	})
}
