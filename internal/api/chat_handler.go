package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/chatdochq/chatdoc/internal/common"
)

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session := sessionFrom(r)
	if session == "" {
		session = strings.TrimSpace(req.SessionID)
	}
	if session == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("session id required"))
		return
	}
	answer, err := s.bot.Send(ctx, session, req.Message)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	common.Logger().Info("api: chat answered", "session", session, "citations", len(answer.Citations))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session,
		"answer":     answer,
	})
}
