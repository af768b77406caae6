package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prenews/internal/domain"
)

type memObjects struct {
	objects   map[string][]byte
	multipart int
}

func (m *memObjects) Put(_ context.Context, p string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	m.objects[p] = b
	return err
}

func (m *memObjects) PutMultipart(ctx context.Context, p string, data io.Reader, _ int64) error {
	m.multipart++
	return m.Put(ctx, p, data, ContentTypeJSONL)
}

func (m *memObjects) Exists(_ context.Context, p string) (bool, error) {
	_, ok := m.objects[p]
	return ok, nil
}

type rangeStore struct {
	snaps    []domain.Snapshot
	from, to int64
}

func (r *rangeStore) ListRange(_ context.Context, from, to int64) ([]domain.Snapshot, error) {
	r.from, r.to = from, to
	return r.snaps, nil
}

type auditRecorder struct{ events []string }

func (a *auditRecorder) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}
func (a *auditRecorder) List(context.Context, domain.AuditFilter) ([]domain.AuditEntry, error) {
	return nil, nil
}
func (a *auditRecorder) Latest(context.Context, string) (domain.AuditEntry, error) {
	return domain.AuditEntry{}, domain.ErrNotFound
}

func TestMonthBounds(t *testing.T) {
	from, to := MonthBounds(time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC).Unix(), from)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Unix(), to)
	assert.Equal(t, "archive/snapshots/2026-02.jsonl", ArchivePath(time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)))
}

func TestArchiveSnapshots(t *testing.T) {
	month := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	vol := 100.0
	objects := &memObjects{objects: map[string][]byte{}}
	snaps := &rangeStore{snaps: []domain.Snapshot{
		{MarketID: "m1", TsBucket: 1_788_000_000, P: 0.4, Volume24h: &vol},
		{MarketID: "m1", TsBucket: 1_788_000_300, P: 0.45},
	}}
	audit := &auditRecorder{}
	a := NewSnapshotArchiver(objects, snaps, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveSnapshots(context.Background(), month)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"archive.snapshots"}, audit.events)
	assert.Zero(t, objects.multipart)

	body := objects.objects["archive/snapshots/2026-09.jsonl"]
	sc := bufio.NewScanner(bytes.NewReader(body))
	var rows []archiveRow
	for sc.Scan() {
		var r archiveRow
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		rows = append(rows, r)
	}
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1_788_000_300), rows[1].TsBucket)
	assert.Nil(t, rows[1].Volume24h)

	t.Run("existing object is skipped", func(t *testing.T) {
		n, err := a.ArchiveSnapshots(context.Background(), month)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Len(t, audit.events, 1)
	})

	t.Run("large bodies use multipart", func(t *testing.T) {
		a.MultipartThreshold = 10
		n, err := a.ArchiveSnapshots(context.Background(), month.AddDate(0, 1, 0))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, 1, objects.multipart)
	})
}

func TestArchiveSnapshots_EmptyMonthWritesNothing(t *testing.T) {
	objects := &memObjects{objects: map[string][]byte{}}
	a := NewSnapshotArchiver(objects, &rangeStore{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := a.ArchiveSnapshots(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, objects.objects)
}

func TestClientKeyPrefix(t *testing.T) {
	c := NewFromSDK(nil, "bucket", "/env/prod/")
	assert.Equal(t, "env/prod/archive/snapshots/2026-01.jsonl", c.key("archive/snapshots/2026-01.jsonl"))
	assert.Equal(t, "archive/x", c.logical("env/prod/archive/x"))

	bare := NewFromSDK(nil, "bucket", "")
	assert.Equal(t, "archive/x", bare.key("/archive/x"))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "https://e2.example.com", withScheme("https://e2.example.com", true))
}
