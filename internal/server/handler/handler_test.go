package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/pipeline"
	"github.com/alanyoungcy/prenews/internal/service"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeFeeds struct {
	gotFeed     domain.FeedName
	gotCategory string
	gotLimit    int
	err         error
}

func (f *fakeFeeds) Feed(_ context.Context, feed domain.FeedName, category string, limit int) (service.FeedResponse, error) {
	f.gotFeed, f.gotCategory, f.gotLimit = feed, category, limit
	if f.err != nil {
		return service.FeedResponse{}, f.err
	}
	return service.FeedResponse{
		Feed:  feed,
		Items: []service.FeedCard{{Rank: 1, Score: 0.8, Market: service.MarketCard{Slug: "btc"}}},
	}, nil
}

type fakeMarkets struct {
	calls map[string][]any
	err   error
}

func (f *fakeMarkets) record(name string, args ...any) {
	if f.calls == nil {
		f.calls = make(map[string][]any)
	}
	f.calls[name] = args
}

func (f *fakeMarkets) Top(_ context.Context, category string, limit, maxDays int) ([]service.MarketCard, error) {
	f.record("top", category, limit, maxDays)
	return []service.MarketCard{{Slug: "a"}, {Slug: "b"}}, f.err
}

func (f *fakeMarkets) Search(_ context.Context, query string, limit int) ([]service.MarketCard, error) {
	f.record("search", query, limit)
	if f.err != nil {
		return nil, f.err
	}
	return []service.MarketCard{{Slug: "a"}}, nil
}

func (f *fakeMarkets) Detail(_ context.Context, slug string) (service.MarketDetail, error) {
	f.record("detail", slug)
	if f.err != nil {
		return service.MarketDetail{}, f.err
	}
	return service.MarketDetail{MarketCard: service.MarketCard{Slug: slug}, Body: "body"}, nil
}

func (f *fakeMarkets) Series(_ context.Context, slug string, span time.Duration, limit int) ([]service.SnapshotPoint, error) {
	f.record("series", slug, span, limit)
	return []service.SnapshotPoint{{TsBucket: 300, P: 0.5}}, f.err
}

func (f *fakeMarkets) Sparklines(_ context.Context, ids []string) (map[string][]float64, error) {
	f.record("sparklines", ids)
	return map[string][]float64{"a": {0.1, 0.2}}, f.err
}

func serve(t *testing.T, pattern string, h http.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound},
		{service.ErrInvalidArgument, http.StatusBadRequest},
		{fmt.Errorf("%w: bad limit", pipeline.ErrUsage), http.StatusBadRequest},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrNotConfigured, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{"postgres": pinger{}, "redis": pinger{}}, discard)
	rec := serve(t, "GET /api/health", h.HealthCheck, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"postgres": "ok", "redis": "ok"}, body["checks"])

	h = NewHealthHandler(map[string]Pinger{"postgres": pinger{}, "redis": pinger{errors.New("down")}}, discard)
	rec = serve(t, "GET /api/health", h.HealthCheck, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "down", body["checks"].(map[string]any)["redis"])
}

func TestGetFeed(t *testing.T) {
	feeds := &fakeFeeds{}
	h := NewFeedHandler(feeds, discard)

	rec := serve(t, "GET /api/feeds/{feed}", h.GetFeed, http.MethodGet, "/api/feeds/likely?category=crypto&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.FeedLikely, feeds.gotFeed)
	assert.Equal(t, "crypto", feeds.gotCategory)
	assert.Equal(t, 5, feeds.gotLimit)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var resp service.FeedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "btc", resp.Items[0].Market.Slug)
}

func TestGetFeed_Errors(t *testing.T) {
	h := NewFeedHandler(&fakeFeeds{}, discard)
	rec := serve(t, "GET /api/feeds/{feed}", h.GetFeed, http.MethodGet, "/api/feeds/likely?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h = NewFeedHandler(&fakeFeeds{err: fmt.Errorf("service: feed %q: %w", "nope", domain.ErrNotFound)}, discard)
	rec = serve(t, "GET /api/feeds/{feed}", h.GetFeed, http.MethodGet, "/api/feeds/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h = NewFeedHandler(&fakeFeeds{err: errors.New("connection refused")}, discard)
	rec = serve(t, "GET /api/feeds/{feed}", h.GetFeed, http.MethodGet, "/api/feeds/likely")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestMarketEndpoints(t *testing.T) {
	markets := &fakeMarkets{}
	h := NewMarketHandler(markets, discard)

	rec := serve(t, "GET /api/markets/top", h.Top, http.MethodGet, "/api/markets/top?category=sports&limit=2&max_days=30")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"sports", 2, 30}, markets.calls["top"])
	assert.EqualValues(t, 2, decode(t, rec)["count"])

	rec = serve(t, "GET /api/markets/search", h.Search, http.MethodGet, "/api/markets/search?q=bitcoin+etf")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"bitcoin etf", 0}, markets.calls["search"])

	rec = serve(t, "GET /api/markets/{slug}", h.GetMarket, http.MethodGet, "/api/markets/will-btc-hit-100k")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "will-btc-hit-100k", body["slug"])
	assert.Equal(t, "body", body["body"])

	rec = serve(t, "GET /api/markets/{slug}/snapshots", h.Snapshots, http.MethodGet, "/api/markets/x/snapshots?hours=48&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"x", 48 * time.Hour, 10}, markets.calls["series"])

	rec = serve(t, "GET /api/markets/sparklines", h.Sparklines, http.MethodGet, "/api/markets/sparklines?ids=a,+b,,c")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{[]string{"a", "b", "c"}}, markets.calls["sparklines"])
}

func TestMarketEndpoints_Errors(t *testing.T) {
	h := NewMarketHandler(&fakeMarkets{err: domain.ErrNotFound}, discard)
	rec := serve(t, "GET /api/markets/{slug}", h.GetMarket, http.MethodGet, "/api/markets/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h = NewMarketHandler(&fakeMarkets{err: fmt.Errorf("%w: empty query", service.ErrInvalidArgument)}, discard)
	rec = serve(t, "GET /api/markets/search", h.Search, http.MethodGet, "/api/markets/search")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "empty query")

	h = NewMarketHandler(&fakeMarkets{}, discard)
	rec = serve(t, "GET /api/markets/top", h.Top, http.MethodGet, "/api/markets/top?max_days=soon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeTrigger struct {
	name, limit string
	result      any
	err         error
	done        chan struct{}
}

func (f *fakeTrigger) Trigger(_ context.Context, name, limitArg string) (any, error) {
	f.name, f.limit = name, limitArg
	if f.done != nil {
		close(f.done)
	}
	return f.result, f.err
}

type fakeHistory struct {
	msgs []domain.StreamMessage
	err  error
}

func (f fakeHistory) StreamLatest(_ context.Context, stream string, count int) ([]domain.StreamMessage, error) {
	if stream != domain.StreamJobs {
		return nil, errors.New("wrong stream")
	}
	if len(f.msgs) > count {
		return f.msgs[:count], f.err
	}
	return f.msgs, f.err
}

type fakeAudit struct {
	filter domain.AuditFilter
}

func (f *fakeAudit) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	f.filter = filter
	return []domain.AuditEntry{{ID: 7, Event: filter.Event, Detail: map[string]any{"status": "succeeded"}}}, nil
}

func TestTriggerJob(t *testing.T) {
	trig := &fakeTrigger{result: map[string]int{"snapshots": 3}}
	h := NewJobHandler(context.Background(), []string{"pricing"}, trig, nil, nil, discard)

	rec := serve(t, "POST /api/jobs/{name}", h.Trigger, http.MethodPost, "/api/jobs/pricing?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pricing", trig.name)
	assert.Equal(t, "10", trig.limit)

	body := decode(t, rec)
	assert.Equal(t, "succeeded", body["status"])
	assert.Len(t, body["run_id"], 36)
	assert.Equal(t, map[string]any{"snapshots": float64(3)}, body["result"])
}

func TestTriggerJob_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: unknown job", pipeline.ErrUsage), http.StatusBadRequest},
		{domain.ErrLockHeld, http.StatusConflict},
		{fmt.Errorf("enrich: %w", domain.ErrNotConfigured), http.StatusServiceUnavailable},
		{errors.New("upstream 502"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewJobHandler(context.Background(), nil, &fakeTrigger{err: tc.err}, nil, nil, discard)
		rec := serve(t, "POST /api/jobs/{name}", h.Trigger, http.MethodPost, "/api/jobs/x")
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestTriggerJob_Async(t *testing.T) {
	trig := &fakeTrigger{done: make(chan struct{})}
	h := NewJobHandler(context.Background(), nil, trig, nil, nil, discard)

	rec := serve(t, "POST /api/jobs/{name}", h.Trigger, http.MethodPost, "/api/jobs/feeds?async=true")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "accepted", decode(t, rec)["status"])

	select {
	case <-trig.done:
	case <-time.After(2 * time.Second):
		t.Fatal("async job never ran")
	}
}

func TestListJobs(t *testing.T) {
	ev, err := json.Marshal(domain.JobEvent{Job: "pricing", Status: pipeline.StatusSucceeded, Attempts: 1})
	require.NoError(t, err)
	history := fakeHistory{msgs: []domain.StreamMessage{
		{ID: "2-0", Payload: ev},
		{ID: "1-0", Payload: []byte("not json")},
	}}
	h := NewJobHandler(context.Background(), []string{"discovery", "pricing"}, &fakeTrigger{}, history, nil, discard)

	rec := serve(t, "GET /api/jobs", h.List, http.MethodGet, "/api/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []any{"discovery", "pricing"}, body["jobs"])
	recent := body["recent"].([]any)
	require.Len(t, recent, 1)
	assert.Equal(t, "pricing", recent[0].(map[string]any)["job"])

	// Without a history source the list is still served.
	h = NewJobHandler(context.Background(), []string{"pricing"}, &fakeTrigger{}, nil, nil, discard)
	rec = serve(t, "GET /api/jobs", h.List, http.MethodGet, "/api/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["recent"])
}

func TestJobRuns(t *testing.T) {
	audit := &fakeAudit{}
	h := NewJobHandler(context.Background(), nil, &fakeTrigger{}, nil, audit, discard)

	rec := serve(t, "GET /api/jobs/{name}/runs", h.Runs, http.MethodGet, "/api/jobs/pricing/runs?limit=5&offset=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "job.pricing", audit.filter.Event)
	assert.Equal(t, 5, audit.filter.Limit)
	assert.Equal(t, 10, audit.filter.Offset)
	runs := decode(t, rec)["runs"].([]any)
	require.Len(t, runs, 1)
	assert.EqualValues(t, 7, runs[0].(map[string]any)["id"])

	h = NewJobHandler(context.Background(), nil, &fakeTrigger{}, nil, nil, discard)
	rec = serve(t, "GET /api/jobs/{name}/runs", h.Runs, http.MethodGet, "/api/jobs/pricing/runs")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
