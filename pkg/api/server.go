// Package api exposes the client-facing Intent API over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zuripay/zuri-settler/pkg/logger"
	"github.com/zuripay/zuri-settler/pkg/models"
	"github.com/zuripay/zuri-settler/pkg/orchestrator"
)

// Server serves the Intent API.
type Server struct {
	svc    *orchestrator.Service
	logger logger.Logger
}

// NewServer creates an API server over the orchestrator.
func NewServer(svc *orchestrator.Service, log logger.Logger) *Server {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Server{svc: svc, logger: log}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}/funding-tx", s.handleAttachFundingTx)
		r.Post("/{id}/cancel", s.handleCancel)
	})

	return r
}

// Start listens on the given port and blocks until the listener fails.
func (s *Server) Start(port string) error {
	s.logger.InfoWithScope(logger.API, "Intent API listening on port %s", port)
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &models.ValidationError{Field: "body", Msg: "invalid JSON"})
		return
	}

	view, err := s.svc.CreateIntent(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetIntent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

type attachRequest struct {
	TxHash string `json:"tx_hash"`
}

func (s *Server) handleAttachFundingTx(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &models.ValidationError{Field: "body", Msg: "invalid JSON"})
		return
	}

	view, err := s.svc.AttachFundingTx(r.Context(), chi.URLParam(r, "id"), req.TxHash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validationErr  *models.ValidationError
		unsupportedErr *models.UnsupportedAssetError
		conflictErr    *models.ConflictError
		staleErr       *models.StaleStateError
	)

	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr):
		code = http.StatusBadRequest
	case errors.As(err, &unsupportedErr):
		code = http.StatusUnprocessableEntity
	case errors.As(err, &conflictErr), errors.As(err, &staleErr),
		errors.Is(err, models.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	}

	if code == http.StatusInternalServerError {
		s.logger.ErrorWithScope(logger.API, "Request failed: %v", err)
		s.writeJSON(w, code, errorResponse{Error: "internal error"})
		return
	}
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.ErrorWithScope(logger.API, "Failed to encode response: %v", err)
	}
}
