package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// ArchiveMonth is one exported month.
type ArchiveMonth struct {
	Month string `json:"month"`
	Rows  int64  `json:"rows"`
}

// ArchiveResult is the job result.
type ArchiveResult struct {
	Months []ArchiveMonth `json:"months"`
}

// SnapshotArchive exports completed months of snapshots to object storage.
// opts.Limit is the number of past months to cover (default 1, the
// previous month); months already archived are skipped by the archiver.
type SnapshotArchive struct {
	archiver domain.Archiver
	now      func() time.Time
}

// NewSnapshotArchive accepts a nil archiver; runs then fail with
// domain.ErrNotConfigured.
func NewSnapshotArchive(archiver domain.Archiver) *SnapshotArchive {
	return &SnapshotArchive{archiver: archiver, now: time.Now}
}

func (a *SnapshotArchive) Name() string { return JobArchive }

func (a *SnapshotArchive) Run(ctx context.Context, opts RunOpts) (any, error) {
	if a.archiver == nil {
		return nil, fmt.Errorf("archive: object storage: %w", domain.ErrNotConfigured)
	}
	now := a.now().UTC()
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	months := orDefault(opts.Limit, 1)
	var res ArchiveResult
	for back := months; back >= 1; back-- {
		month := current.AddDate(0, -back, 0)
		n, err := a.archiver.ArchiveSnapshots(ctx, month)
		if err != nil {
			return res, fmt.Errorf("archive %s: %w", month.Format("2006-01"), err)
		}
		res.Months = append(res.Months, ArchiveMonth{Month: month.Format("2006-01"), Rows: n})
	}
	return res, nil
}
