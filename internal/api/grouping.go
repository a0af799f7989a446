package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/gray-audio-core/internal/reconcile"
)

// handleGroupingValidate reports zone cohesion without mutating anything.
//
// GET /grouping/validate
// Response: reconcile.ValidationReport JSON
func (s *Server) handleGroupingValidate(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeUnavailable(w, "grouping reconciler not configured")
		return
	}

	report, err := s.reconciler.Validate(r.Context())
	if err != nil {
		if errors.Is(err, reconcile.ErrSnapshotUnavailable) {
			writeUnavailable(w, "audio server snapshot unavailable")
			return
		}
		s.logger.Error("grouping validation failed", "error", err)
		writeInternalError(w, "grouping validation failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// handleGroupingReconcile triggers a full reconcile pass and returns
// its report. Concurrent requests serialise inside the engine; each
// gets its own pass and report.
//
// POST /grouping/reconcile
// Response: reconcile.Report JSON
func (s *Server) handleGroupingReconcile(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeUnavailable(w, "grouping reconciler not configured")
		return
	}

	report, err := s.reconciler.Reconcile(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrSnapshotUnavailable):
			writeUnavailable(w, "audio server snapshot unavailable")
		default:
			s.logger.Error("reconcile pass failed", "error", err)
			writeInternalError(w, "reconcile pass failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// handleGroupingStatus returns engine counters and last-run outcome.
//
// GET /grouping/status
func (s *Server) handleGroupingStatus(w http.ResponseWriter, _ *http.Request) {
	if s.reconciler == nil {
		writeUnavailable(w, "grouping reconciler not configured")
		return
	}

	writeJSON(w, http.StatusOK, s.reconciler.Status())
}
