package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// archiveBatchSize bounds how many executions one archive pass reads.
const archiveBatchSize = 5000

// OutcomeArchiveStore is the read access the archiver needs from the outcome
// store.
type OutcomeArchiveStore interface {
	ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ExecutionTransaction, error)
}

// Archiver copies aged execution outcomes from the database to object
// storage as JSONL, partitioned by the cutoff date. It never deletes from the
// primary store; retention there is an operator decision taken after the
// archive is verified.
type Archiver struct {
	writer domain.BlobWriter
	store  OutcomeArchiveStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, store OutcomeArchiveStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		store:  store,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveOutcomes uploads executions completed before the cutoff and returns
// how many were archived.
func (a *Archiver) ArchiveOutcomes(ctx context.Context, before time.Time) (int64, error) {
	txs, err := a.store.ListCompletedBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes query: %w", err)
	}
	if len(txs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(txs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes marshal: %w", err)
	}

	path := archivePath(before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes upload: %w", err)
	}

	count := int64(len(txs))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.outcomes", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive outcomes audit log: %w", err)
		}
	}
	return count, nil
}

// Run archives outcomes older than maxAge every interval until ctx ends.
func (a *Archiver) Run(ctx context.Context, interval, maxAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	a.logger.Info("archiver started",
		slog.Duration("interval", interval),
		slog.Duration("max_age", maxAge),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := a.ArchiveOutcomes(ctx, time.Now().Add(-maxAge))
			if err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
				continue
			}
			if count > 0 {
				a.logger.Info("archive pass complete", slog.Int64("count", count))
			}
		}
	}
}

// archivePath partitions archives by the cutoff date:
//
//	archive/executions/2026-08-28.jsonl
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/executions/%s.jsonl", before.Format("2006-01-02"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
