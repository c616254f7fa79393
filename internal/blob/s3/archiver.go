package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

const (
	transcriptPrefix = "transcripts/"
	jsonContentType  = "application/json"
)

// Transcript is the archived record of a resolved market: the full thread
// with final scores and the settled pool.
type Transcript struct {
	Market     domain.Market `json:"market"`
	Pool       domain.Pool   `json:"pool"`
	ArchivedAt time.Time     `json:"archivedAt"`
}

// Archiver implements domain.TranscriptArchive on top of a blob writer and
// reader. Each market is written once to transcripts/<marketId>.json.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	now    func() time.Time
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, reader: reader, audit: audit, now: time.Now}
}

// TranscriptPath returns the object key for a market's transcript.
func TranscriptPath(marketID string) string {
	return transcriptPrefix + marketID + ".json"
}

// Archive uploads the transcript. Large transcripts go through the
// multipart uploader. The upload is recorded in the audit log.
func (a *Archiver) Archive(ctx context.Context, market domain.Market, pool domain.Pool) (string, error) {
	buf, err := json.MarshalIndent(Transcript{
		Market:     market,
		Pool:       pool,
		ArchivedAt: a.now().UTC(),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal transcript %s: %w", market.ID, err)
	}

	path := TranscriptPath(market.ID)
	if int64(len(buf)) > MinPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive transcript %s: %w", market.ID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.transcript", map[string]any{
			"market_id": market.ID,
			"path":      path,
			"bytes":     len(buf),
			"messages":  len(market.Messages),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive transcript audit log: %w", err)
		}
	}
	return path, nil
}

// Open returns the archived transcript body.
func (a *Archiver) Open(ctx context.Context, marketID string) (io.ReadCloser, error) {
	return a.reader.Get(ctx, TranscriptPath(marketID))
}

// List returns every archived transcript object.
func (a *Archiver) List(ctx context.Context) ([]domain.BlobInfo, error) {
	return a.reader.List(ctx, transcriptPrefix)
}

var _ domain.TranscriptArchive = (*Archiver)(nil)
