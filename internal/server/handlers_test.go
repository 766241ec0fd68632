package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/embedding"
	"github.com/hyperjump/docchat/internal/indexer"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/retrieval"
	"github.com/hyperjump/docchat/internal/storage"
	"github.com/hyperjump/docchat/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoModel answers with the text of the best passage.
type echoModel struct{}

func (echoModel) Reformulate(_ context.Context, _, question string, _ []models.HistoryMessage) (string, error) {
	return question, nil
}

func (echoModel) Answer(_ context.Context, _, _ string, passages []*models.ScoredPassage, _ []models.HistoryMessage) (string, error) {
	if len(passages) == 0 {
		return "I don't know.", nil
	}
	return passages[0].Passage.Text, nil
}

type staticInbox []string

func (s staticInbox) Directories() []string { return s }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Default(dir)
	require.NoError(t, err)
	cfg.Ingest.AllowedExtensions = []string{".html", ".txt"}
	cfg.Embedding.Dimensions = 32
	cfg.LLM.DefaultModel = "gemini-2.5-flash"

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "docchat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	index, err := vector.NewMemoryIndex(32)
	require.NoError(t, err)
	embedder := embedding.NewHashEmbedder(32)

	pipeline, err := indexer.NewPipeline(store, index, embedder, &cfg.Ingest)
	require.NoError(t, err)
	engine := retrieval.NewEngine(store, index, embedder, echoModel{}, &cfg.LLM, 1, nil)
	return NewServer(pipeline, engine, store, index, cfg, staticInbox{"/srv/inbox"}, nil)
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	r := httptest.NewRequest(http.MethodPost, "/upload-doc", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func serve(s *Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

const policyHTML = `<html><body><h1>Policy</h1><p>Refunds are issued within 30 days of purchase.</p></body></html>`

func TestUploadChatDelete(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, uploadRequest(t, "policy.html", []byte(policyHTML)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	up := decode(t, w)
	docID, _ := up["document_id"].(string)
	require.NotEmpty(t, docID)
	assert.Contains(t, up["message"], "policy.html")

	chatBody, _ := json.Marshal(models.ChatRequest{Question: "What is the refund policy?"})
	w = serve(srv, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(chatBody)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	chat := decode(t, w)
	assert.Contains(t, chat["answer"], "30 days")
	assert.NotEmpty(t, chat["session_id"])
	assert.Equal(t, "gemini-2.5-flash", chat["model"])

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+chat["session_id"].(string)+"/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["turns"], 1)

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/list-docs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var docs []models.Document
	require.NoError(t, json.NewDecoder(w.Body).Decode(&docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "policy.html", docs[0].Filename)

	delBody, _ := json.Marshal(models.DeleteRequest{FileID: docID})
	w = serve(srv, httptest.NewRequest(http.MethodPost, "/delete-doc", bytes.NewReader(delBody)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(srv, httptest.NewRequest(http.MethodPost, "/delete-doc", bytes.NewReader(delBody)))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "document_not_found", decode(t, w)["code"])
}

func TestUpload_errors(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, uploadRequest(t, "notes.exe", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "unsupported_format", decode(t, w)["code"])

	w = serve(srv, uploadRequest(t, "a.txt", []byte("alpha")))
	require.Equal(t, http.StatusOK, w.Code)
	w = serve(srv, uploadRequest(t, "a.txt", []byte("beta")))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_filename", decode(t, w)["code"])

	w = serve(srv, uploadRequest(t, "blank.txt", []byte("   ")))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "extraction_error", body["code"])
	assert.Equal(t, "orphan_record", body["inconsistency"])
	assert.NotEmpty(t, body["document_id"])

	r := httptest.NewRequest(http.MethodPost, "/upload-doc", bytes.NewReader([]byte("not multipart")))
	w = serve(srv, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_validation(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, _ := json.Marshal(models.ChatRequest{Question: "hi", Model: "not-a-model"})
	w = serve(srv, httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decode(t, w)["code"])
}

func TestDeleteDoc_requiresFileID(t *testing.T) {
	srv := newTestServer(t)
	w := serve(srv, httptest.NewRequest(http.MethodPost, "/delete-doc", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusHealthInbox(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, uploadRequest(t, "a.txt", []byte("alpha beta gamma")))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.EqualValues(t, 1, status["documents"])
	assert.EqualValues(t, 1, status["passages"])
	assert.EqualValues(t, 0, status["turns"])

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/inbox", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"/srv/inbox"}, decode(t, w)["directories"])
}
