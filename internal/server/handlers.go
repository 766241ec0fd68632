package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/docchat/internal/errs"
	"github.com/hyperjump/docchat/internal/models"
	"go.uber.org/zap"
)

type uploadResponse struct {
	Message string `json:"message"`
	*models.UploadResult
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.config.Ingest.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		s.respondError(w, fmt.Errorf("invalid multipart form: %v: %w", err, errs.ErrValidation))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, fmt.Errorf("form field \"file\" is required: %w", errs.ErrValidation))
		return
	}
	defer file.Close()

	if err := s.pipeline.CheckUpload(header.Filename, header.Size); err != nil {
		s.respondError(w, err)
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		s.respondError(w, fmt.Errorf("read upload: %v: %w", err, errs.ErrValidation))
		return
	}

	s.logger.Debug("upload request", zap.String("filename", header.Filename), zap.Int("bytes", len(content)))
	res, err := s.pipeline.Upload(r.Context(), header.Filename, content)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, uploadResponse{
		Message:      fmt.Sprintf("File %s has been successfully uploaded and indexed.", res.Filename),
		UploadResult: res,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, fmt.Errorf("invalid request body: %w", errs.ErrValidation))
		return
	}
	s.logger.Debug("chat request", zap.String("session_id", req.SessionID), zap.String("model", req.Model))
	resp, err := s.engine.Chat(r.Context(), &req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	n, err := s.index.CountByDocument(r.Context(), doc.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":          doc.ID,
		"filename":    doc.Filename,
		"uploaded_at": doc.UploadedAt,
		"passages":    n,
	})
}

func (s *Server) handleDeleteDoc(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, fmt.Errorf("invalid request body: %w", errs.ErrValidation))
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, fmt.Errorf("%v: %w", err, errs.ErrValidation))
		return
	}
	s.deleteDocument(w, r, req.FileID)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	s.deleteDocument(w, r, chi.URLParam(r, "id"))
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request, id string) {
	s.logger.Debug("delete document request", zap.String("document_id", id))
	res, err := s.pipeline.Delete(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":          fmt.Sprintf("Document with file_id %s deleted successfully.", id),
		"document_id":      res.DocumentID,
		"passages_removed": res.Passages,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	turns, err := s.engine.History(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"turns":      turns,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := CollectStatus(r.Context(), s.store, s.index, s.config)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if s.inbox == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": []string{}})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.inbox.Directories()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError maps err's kind to a status and writes {"error", "code"} plus the
// inconsistency class and document id of a partial failure.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	body := map[string]string{
		"error": err.Error(),
		"code":  errs.Code(err),
	}
	var pf *errs.PartialFailure
	if errors.As(err, &pf) && pf.Inconsistency != errs.InconsistencyNone {
		body["inconsistency"] = pf.Inconsistency
		body["document_id"] = pf.DocumentID
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err), zap.Int("status", status))
	} else {
		s.logger.Debug("request rejected", zap.Error(err), zap.Int("status", status))
	}
	s.respondJSON(w, status, body)
}
