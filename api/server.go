// Package api exposes the sync status surface over local HTTP: queue
// stats, the error log, and the supervisor actions (force sync, retry,
// clear). The device UI consumes it.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	weightsync "github.com/carnedata/weightsync"
	syncerrors "github.com/carnedata/weightsync/errors"
	"github.com/carnedata/weightsync/logging"
	"github.com/carnedata/weightsync/model"
)

const component = syncerrors.Component("api")

// Server wires the orchestrator into an HTTP router.
type Server struct {
	orchestrator *weightsync.Orchestrator
	logger       *logging.Logger
}

// NewServer creates a Server over the orchestrator.
func NewServer(o *weightsync.Orchestrator) *Server {
	return &Server{
		orchestrator: o,
		logger:       logging.WithComponent(component),
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/sync/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/sync/errors", s.handleListErrors).Methods("GET")
	r.HandleFunc("/sync/errors/{id}", s.handleClearError).Methods("DELETE")
	r.HandleFunc("/sync/errors/{id}/retry", s.handleRetry).Methods("POST")
	r.HandleFunc("/sync/force", s.handleForceSync).Methods("POST")
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orchestrator.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	errs, err := s.orchestrator.GetSyncErrors(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if errs == nil {
		errs = []model.SyncError{}
	}
	writeJSON(w, http.StatusOK, errs)
}

func (s *Server) handleClearError(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orchestrator.ClearError(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orchestrator.RetryFailedOperation(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synchronized"})
}

func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.orchestrator.ForceSyncNow(r.Context(), nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeError maps orchestrator failures onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, weightsync.ErrNotSupervisor),
		syncerrors.Is(syncerrors.KindPermission, err):
		status = http.StatusForbidden
	case errors.Is(err, weightsync.ErrSyncInProgress),
		errors.Is(err, weightsync.ErrRetryNotAllowed):
		status = http.StatusConflict
	case errors.Is(err, weightsync.ErrErrorNotFound):
		status = http.StatusNotFound
	case syncerrors.Is(syncerrors.KindValidation, err),
		syncerrors.Is(syncerrors.KindInvalidPayload, err):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		s.logger.LogError(r.Context(), err, "request failed",
			slog.String("path", r.URL.Path))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
