package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/chatdochq/chatdoc/internal/common"
	"github.com/chatdochq/chatdoc/internal/history"
)

type uploadedDocument struct {
	Filename string   `json:"filename"`
	ChunkIDs []string `json:"chunk_ids"`
}

type uploadResponse struct {
	SessionID string             `json:"session_id"`
	Documents []uploadedDocument `json:"documents"`
}

func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	ctx := r.Context()
	const maxMemory = 64 << 20 // 64 MiB of in-memory file parts
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to parse upload form: %w", err))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	session := sessionFrom(r)
	if session == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("session id required"))
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}

	col, err := s.manager.Open(ctx, session)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	sessionDir := filepath.Join(s.uploadRoot, sanitizeSegment(session))
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create session workspace: %w", err))
		return
	}

	resp := uploadResponse{SessionID: session}
	for _, fileHeader := range files {
		name := strings.TrimSpace(filepath.Base(fileHeader.Filename))
		if name == "" || name == "." {
			writeError(w, http.StatusBadRequest, fmt.Errorf("file name required"))
			return
		}
		tempPath := filepath.Join(sessionDir, uuid.NewString()+"-"+sanitizeSegment(name))
		if err := saveUpload(fileHeader, tempPath); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("save upload %s: %w", name, err))
			return
		}

		chunks, err := s.loader.LoadFile(ctx, tempPath, name)
		removeErr := os.Remove(tempPath)
		if removeErr != nil {
			logger.Warn("api: cleanup of upload failed", "path", tempPath, "error", removeErr)
		}
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}

		ids, err := s.manager.Insert(ctx, col, chunks)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		if s.history != nil {
			doc := history.Document{
				ID:         uuid.NewString(),
				SessionID:  session,
				Filename:   name,
				ChunkCount: len(ids),
			}
			if err := s.history.RecordDocument(ctx, doc); err != nil {
				logger.Warn("api: document registry write failed", "session", session, "filename", name, "error", err)
			}
		}
		resp.Documents = append(resp.Documents, uploadedDocument{Filename: name, ChunkIDs: ids})
	}
	logger.Info("api: documents ingested", "session", session, "files", len(resp.Documents))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDocumentList(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	if session == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("session id required"))
		return
	}
	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"session_id": session, "documents": []history.Document{}})
		return
	}
	documents, err := s.history.SessionDocuments(r.Context(), session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if documents == nil {
		documents = []history.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session_id": session, "documents": documents})
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := sessionFrom(r)
	if session == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("session id required"))
		return
	}
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	col, err := s.manager.Open(ctx, session)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	deleted, err := s.manager.Delete(ctx, col, req.IDs)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func saveUpload(fileHeader *multipart.FileHeader, destPath string) error {
	src, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// sanitizeSegment keeps upload paths inside the session directory no matter
// what the client names things.
func sanitizeSegment(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return "upload"
	}
	return cleaned
}
