// Package cli provides output formatting and an HTTP client for the docchat CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/docchat/internal/indexer"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates s as an output format.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteChat writes a chat answer and its sources.
func WriteChat(w io.Writer, resp *models.ChatResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "%s\n\n", resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Fprintln(w, "Sources:")
		for i, src := range resp.Sources {
			fmt.Fprintf(w, "  [%d] %.4f  doc %s #%d  %s\n",
				i+1, src.Score, src.Passage.DocumentID, src.Passage.ChunkIndex, utils.Truncate(utils.OneLine(src.Passage.Text), 80))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "session: %s  model: %s\n", resp.SessionID, resp.Model)
	return nil
}

// WriteDocuments writes the document list, most recent first.
func WriteDocuments(w io.Writer, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []*models.Document{}
		}
		return writeJSON(w, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return nil
	}
	for _, d := range docs {
		fmt.Fprintf(w, "%s  %s  %s\n", d.ID, d.UploadedAt.Local().Format(time.DateTime), d.Filename)
	}
	return nil
}

// WriteHistory writes the turns of a session in order.
func WriteHistory(w io.Writer, turns []*models.ConversationTurn, format OutputFormat) error {
	if format == OutputJSON {
		if turns == nil {
			turns = []*models.ConversationTurn{}
		}
		return writeJSON(w, turns)
	}
	for _, t := range turns {
		fmt.Fprintf(w, "[%s] %s\n> %s\n%s\n\n", t.CreatedAt.Local().Format(time.DateTime), t.Model, t.Question, t.Answer)
	}
	return nil
}

// WriteStatus writes counts and the configuration summary.
func WriteStatus(w io.Writer, status *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "documents:          %d   # uploaded documents\n", status.Documents)
	fmt.Fprintf(w, "passages:           %d   # vectors in the index\n", status.Passages)
	fmt.Fprintf(w, "turns:              %d   # stored conversation turns\n", status.Turns)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # database + vector index on disk\n", *status.DiskUsageBytes)
	}
	if c := status.Config; c != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		fmt.Fprintf(w, "vector_index_type:  %s\n", c.VectorIndexType)
		fmt.Fprintf(w, "embedding:          %s (%d dims)\n", c.EmbeddingProvider, c.EmbeddingDimensions)
		fmt.Fprintf(w, "chunk_size:         %d\n", c.ChunkSize)
		fmt.Fprintf(w, "chunk_overlap:      %d\n", c.ChunkOverlap)
		fmt.Fprintf(w, "retrieval_k:        %d\n", c.RetrievalK)
		fmt.Fprintf(w, "default_model:      %s\n", c.DefaultModel)
		if c.DatabasePath != "" {
			fmt.Fprintf(w, "database_path:      %s\n", c.DatabasePath)
		}
		if c.VectorIndexPath != "" {
			fmt.Fprintf(w, "vector_index_path:  %s\n", c.VectorIndexPath)
		}
	}
	return nil
}

// WriteReconcileReport writes the orphans found by a reconciliation scan.
func WriteReconcileReport(w io.Writer, report *indexer.ReconcileReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	if report.Clean() {
		fmt.Fprintln(w, "Metadata store and vector index agree.")
		return nil
	}
	if len(report.OrphanRecords) > 0 {
		fmt.Fprintf(w, "orphan_records (%d): documents without passages\n", len(report.OrphanRecords))
		for _, id := range report.OrphanRecords {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
	if len(report.OrphanVectors) > 0 {
		fmt.Fprintf(w, "orphan_vectors (%d): passages without a document\n", len(report.OrphanVectors))
		for _, id := range report.OrphanVectors {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
	return nil
}
