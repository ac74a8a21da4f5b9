package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// multipartPutter is implemented by writers that support chunked uploads.
// Large exports go through it; small ones use a single PutObject.
type multipartPutter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver exports aged trade and price history to object storage as JSONL
// and prunes the exported rows from the primary store. Pruning happens only
// after the upload succeeded, so a failed upload never loses data.
type Archiver struct {
	writer domain.BlobWriter
	store  domain.Store
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, store domain.Store, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		store:  store,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades exports all trades created before the cutoff to
// archive/trades/YYYY-MM.jsonl and deletes them. Returns the number of
// archived records.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.store.Trades().ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.store.Trades().DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(trades)), fmt.Errorf("s3blob: archive trades prune: %w", err)
	}

	a.logAudit(ctx, "archive.trades", path, deleted, before)
	return deleted, nil
}

// ArchivePriceHistory exports all price updates recorded before the cutoff
// to archive/price_history/YYYY-MM.jsonl and deletes them.
func (a *Archiver) ArchivePriceHistory(ctx context.Context, before time.Time) (int64, error) {
	updates, err := a.store.Prices().ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive price history query: %w", err)
	}
	if len(updates) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(updates)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive price history marshal: %w", err)
	}

	path := archivePath("price_history", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive price history upload: %w", err)
	}

	deleted, err := a.store.Prices().DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(updates)), fmt.Errorf("s3blob: archive price history prune: %w", err)
	}

	a.logAudit(ctx, "archive.price_history", path, deleted, before)
	return deleted, nil
}

// Run archives both histories with a shared cutoff. Errors from one export
// do not stop the other.
func (a *Archiver) Run(ctx context.Context, retention time.Duration) error {
	before := time.Now().UTC().Add(-retention)

	var firstErr error
	if n, err := a.ArchiveTrades(ctx, before); err != nil {
		firstErr = err
		a.logger.ErrorContext(ctx, "trade archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.InfoContext(ctx, "trades archived", slog.Int64("count", n))
	}

	if n, err := a.ArchivePriceHistory(ctx, before); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		a.logger.ErrorContext(ctx, "price history archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.InfoContext(ctx, "price history archived", slog.Int64("count", n))
	}

	return firstErr
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if mp, ok := a.writer.(multipartPutter); ok && int64(len(buf)) >= minPartSize {
		return mp.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

func (a *Archiver) logAudit(ctx context.Context, event, path string, count int64, before time.Time) {
	err := a.store.Audit().Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	})
	if err != nil {
		a.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// archivePath partitions archive objects by the cutoff's year-month:
//
//	archive/trades/2026-08.jsonl
//	archive/price_history/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes records as newline-delimited JSON.
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
