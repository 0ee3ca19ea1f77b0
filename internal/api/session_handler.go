package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chatdochq/chatdoc/internal/common"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	vectorOK := s.vector != nil && s.vector.Available()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"vector_available": vectorOK,
	})
}

func (s *Server) handleRetrieverConfigGet(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	if session == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("session id required"))
		return
	}
	col, err := s.manager.Open(r.Context(), session)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, col.Config())
}

func (s *Server) handleRetrieverConfigPut(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	if session == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("session id required"))
		return
	}
	col, err := s.manager.Open(r.Context(), session)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	// Decode over the current config so a partial body only overrides the
	// fields it names.
	cfg := col.Config()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := col.SetConfig(cfg); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	common.Logger().Info("api: retriever config updated", "session", session, "strategy", cfg.Strategy.String())
	writeJSON(w, http.StatusOK, col.Config())
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := sessionFrom(r)
	if session == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("session id required"))
		return
	}
	col, err := s.manager.Open(ctx, session)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if err := s.manager.Drop(ctx, col); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if s.history != nil {
		if err := s.history.ClearSession(ctx, session); err != nil {
			common.Logger().Warn("api: history cleanup failed", "session", session, "error", err)
		}
	}
	common.Logger().Info("api: session removed", "session", session)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": session})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := append([]common.LogEntry(nil), common.LogEntries()...)
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": entries})
}
