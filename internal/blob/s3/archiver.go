package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/scoring"
)

// ContentTypeJSONL is the content type of archive objects.
const ContentTypeJSONL = "application/x-ndjson"

// SnapshotRange is the slice of domain.SnapshotStore the archiver reads.
type SnapshotRange interface {
	ListRange(ctx context.Context, fromBucket, toBucket int64) ([]domain.Snapshot, error)
}

// ObjectStore is the blob surface the archiver needs.
type ObjectStore interface {
	domain.BlobWriter
	Exists(ctx context.Context, path string) (bool, error)
}

// SnapshotArchiver exports one calendar month of snapshots to
// archive/snapshots/YYYY-MM.jsonl. Rows are never deleted.
type SnapshotArchiver struct {
	objects   ObjectStore
	snapshots SnapshotRange
	audit     domain.AuditStore
	logger    *slog.Logger

	// Bodies larger than this go through the multipart uploader.
	MultipartThreshold int64
}

func NewSnapshotArchiver(objects ObjectStore, snapshots SnapshotRange, audit domain.AuditStore, logger *slog.Logger) *SnapshotArchiver {
	return &SnapshotArchiver{
		objects:            objects,
		snapshots:          snapshots,
		audit:              audit,
		logger:             logger.With(slog.String("component", "archiver")),
		MultipartThreshold: MinPartSize,
	}
}

type archiveRow struct {
	MarketID  string             `json:"market_id"`
	TsBucket  int64              `json:"ts_bucket"`
	P         float64            `json:"p"`
	PJSON     map[string]float64 `json:"p_json,omitempty"`
	Volume24h *float64           `json:"volume_24h"`
	Liquidity *float64           `json:"liquidity"`
	CreatedAt time.Time          `json:"created_at"`
}

// ArchivePath is the object path for the month containing t.
func ArchivePath(t time.Time) string {
	return fmt.Sprintf("archive/snapshots/%s.jsonl", t.UTC().Format("2006-01"))
}

// MonthBounds returns the bucket range [from, to) covering t's UTC month.
func MonthBounds(t time.Time) (from, to int64) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return scoring.TsBucket(start), scoring.TsBucket(start.AddDate(0, 1, 0))
}

// ArchiveSnapshots exports the month containing month. An existing object
// or an empty month returns 0 without writing.
func (a *SnapshotArchiver) ArchiveSnapshots(ctx context.Context, month time.Time) (int64, error) {
	p := ArchivePath(month)
	exists, err := a.objects.Exists(ctx, p)
	if err != nil {
		return 0, err
	}
	if exists {
		a.logger.InfoContext(ctx, "archive already present", slog.String("path", p))
		return 0, nil
	}

	from, to := MonthBounds(month)
	snaps, err := a.snapshots.ListRange(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, s := range snaps {
		if err := enc.Encode(archiveRow{
			MarketID:  s.MarketID,
			TsBucket:  s.TsBucket,
			P:         s.P,
			PJSON:     s.PJSON,
			Volume24h: s.Volume24h,
			Liquidity: s.Liquidity,
			CreatedAt: s.CreatedAt,
		}); err != nil {
			return 0, fmt.Errorf("s3blob: encode snapshot %s@%d: %w", s.MarketID, s.TsBucket, err)
		}
	}

	size := int64(buf.Len())
	if size > a.MultipartThreshold {
		err = a.objects.PutMultipart(ctx, p, &buf, MinPartSize)
	} else {
		err = a.objects.Put(ctx, p, &buf, ContentTypeJSONL)
	}
	if err != nil {
		return 0, err
	}

	n := int64(len(snaps))
	a.logger.InfoContext(ctx, "snapshots archived",
		slog.String("path", p),
		slog.Int64("rows", n),
		slog.Int64("bytes", size),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.snapshots", map[string]any{
			"path":  p,
			"rows":  n,
			"bytes": size,
		}); err != nil {
			return n, fmt.Errorf("s3blob: archive audit: %w", err)
		}
	}
	return n, nil
}

var _ domain.Archiver = (*SnapshotArchiver)(nil)
