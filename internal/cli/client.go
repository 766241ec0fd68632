package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/docchat/internal/models"
)

// Client talks to a running docchat server so CLI commands do not contend for the
// database and index locks held by the server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client for baseURL with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status        int    `json:"-"`
	Message       string `json:"error"`
	Code          string `json:"code"`
	Inconsistency string `json:"inconsistency,omitempty"`
	DocumentID    string `json:"document_id,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
	if e.Inconsistency != "" {
		msg += fmt.Sprintf(" [%s: document %s]", e.Inconsistency, e.DocumentID)
	}
	return msg
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(b, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(b)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// Chat sends one question.
func (c *Client) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	var resp models.ChatResponse
	if err := c.postJSON(ctx, "/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History fetches the turns of a session.
func (c *Client) History(ctx context.Context, sessionID string) ([]*models.ConversationTurn, error) {
	var out struct {
		Turns []*models.ConversationTurn `json:"turns"`
	}
	if err := c.getJSON(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/history", &out); err != nil {
		return nil, err
	}
	return out.Turns, nil
}

// ListDocuments fetches all documents.
func (c *Client) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	var docs []*models.Document
	if err := c.getJSON(ctx, "/list-docs", &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Status fetches counts and the configuration summary.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	var status models.Status
	if err := c.getJSON(ctx, "/api/v1/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Delete removes a document by id.
func (c *Client) Delete(ctx context.Context, documentID string) error {
	return c.postJSON(ctx, "/delete-doc", &models.DeleteRequest{FileID: documentID}, nil)
}

// Upload sends the file at path as a multipart upload.
func (c *Client) Upload(ctx context.Context, path string) (*models.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/upload-doc", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var res models.UploadResult
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
