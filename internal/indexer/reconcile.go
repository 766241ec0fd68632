package indexer

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ReconcileReport lists divergence between the metadata store and the vector index.
type ReconcileReport struct {
	// OrphanRecords are documents with no passages in the index.
	OrphanRecords []string `json:"orphan_records"`
	// OrphanVectors are document ids that own passages but have no record.
	OrphanVectors []string `json:"orphan_vectors"`
}

// Clean reports whether both stores agree.
func (r *ReconcileReport) Clean() bool {
	return len(r.OrphanRecords) == 0 && len(r.OrphanVectors) == 0
}

// Reconcile compares the two stores and reports orphans. It changes nothing.
func (p *Pipeline) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	recordIDs, err := p.store.ListDocumentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list document records: %w", err)
	}
	vectorIDs, err := p.index.DocumentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexed documents: %w", err)
	}

	records := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		records[id] = true
	}
	indexed := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		indexed[id] = true
	}

	report := &ReconcileReport{OrphanRecords: []string{}, OrphanVectors: []string{}}
	for _, id := range recordIDs {
		if !indexed[id] {
			report.OrphanRecords = append(report.OrphanRecords, id)
		}
	}
	for _, id := range vectorIDs {
		if !records[id] {
			report.OrphanVectors = append(report.OrphanVectors, id)
		}
	}
	sort.Strings(report.OrphanRecords)
	sort.Strings(report.OrphanVectors)

	if !report.Clean() {
		p.logger.Warn("stores diverge",
			zap.Int("orphan_records", len(report.OrphanRecords)),
			zap.Int("orphan_vectors", len(report.OrphanVectors)))
	}
	return report, nil
}

// Prune removes the orphans listed in report: passages without a record and records
// without passages. It stops at the first error.
func (p *Pipeline) Prune(ctx context.Context, report *ReconcileReport) error {
	for _, id := range report.OrphanVectors {
		n, err := p.index.DeleteByDocument(ctx, id)
		if err != nil {
			return fmt.Errorf("prune passages of %s: %w", id, err)
		}
		p.logger.Info("pruned orphan passages", zap.String("document_id", id), zap.Int("passages", n))
	}
	for _, id := range report.OrphanRecords {
		if _, err := p.store.DeleteDocument(ctx, id); err != nil {
			return fmt.Errorf("prune record %s: %w", id, err)
		}
		p.logger.Info("pruned orphan record", zap.String("document_id", id))
	}
	return nil
}
