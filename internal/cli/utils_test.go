package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/docchat/internal/indexer"
	"github.com/hyperjump/docchat/internal/models"
)

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"json", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteChat_text(t *testing.T) {
	resp := &models.ChatResponse{
		Answer:    "Refunds are issued within 30 days.",
		SessionID: "s-1",
		Model:     "gemini-2.5-flash",
		Sources: []*models.ScoredPassage{
			{Passage: &models.Passage{ID: "p", DocumentID: "doc-1", ChunkIndex: 2, Text: "Refund\npolicy"}, Score: 0.91},
		},
	}
	var buf bytes.Buffer
	if err := WriteChat(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Refunds are issued", "doc doc-1 #2", "Refund policy", "session: s-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteDocuments(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDocuments(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty JSON list = %q", buf.String())
	}

	buf.Reset()
	docs := []*models.Document{{ID: "d1", Filename: "policy.pdf", UploadedAt: time.Now()}}
	if err := WriteDocuments(&buf, docs, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "d1") || !strings.Contains(buf.String(), "policy.pdf") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestWriteReconcileReport(t *testing.T) {
	var buf bytes.Buffer
	clean := &indexer.ReconcileReport{}
	if err := WriteReconcileReport(&buf, clean, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "agree") {
		t.Errorf("clean report = %q", buf.String())
	}

	buf.Reset()
	report := &indexer.ReconcileReport{OrphanRecords: []string{"a"}, OrphanVectors: []string{"b", "c"}}
	if err := WriteReconcileReport(&buf, report, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "orphan_records (1)") || !strings.Contains(out, "orphan_vectors (2)") {
		t.Errorf("report = %q", out)
	}
}

func TestWriteStatus_JSON(t *testing.T) {
	n := int64(1024)
	status := &models.Status{Documents: 2, Passages: 10, Turns: 3, DiskUsageBytes: &n}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, status, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.Status
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Passages != 10 || *decoded.DiskUsageBytes != 1024 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestClient_errorsAndUpload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload-doc", func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(models.UploadResult{DocumentID: "d1", Filename: header.Filename, Passages: 1})
	})
	mux.HandleFunc("/delete-doc", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"metadata deletion failed","code":"metadata_delete_failed","inconsistency":"orphan_record","document_id":"d1"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewClient(ts.URL, 5*time.Second)
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0600); err != nil {
		t.Fatal(err)
	}
	res, err := c.Upload(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Filename != "notes.txt" {
		t.Errorf("filename = %q", res.Filename)
	}

	err = c.Delete(context.Background(), "d1")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Code != "metadata_delete_failed" || apiErr.Inconsistency != "orphan_record" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}
