package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.advisor.Status())
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	advice := s.advisor.Latest()
	if advice == nil {
		writeError(w, http.StatusServiceUnavailable, "no advice yet")
		return
	}
	writeJSON(w, http.StatusOK, advice)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	advice := s.advisor.Latest()
	if advice == nil {
		writeError(w, http.StatusServiceUnavailable, "no advice yet")
		return
	}
	writeJSON(w, http.StatusOK, advice.Channels)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Actions)
}

func (s *Server) handleActionHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}
	runs, err := s.store.RecentRuns(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleActionHistoryRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}
	runID, err := strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	acts, err := s.store.RunActions(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, acts)
}
