package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

// stubRecord is the raw listing shape understood by stubAdapter.
type stubRecord struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Event  string  `json:"event,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

func raw(recs ...stubRecord) []json.RawMessage {
	out := make([]json.RawMessage, len(recs))
	for i, r := range recs {
		b, _ := json.Marshal(r)
		out[i] = b
	}
	return out
}

type stubAdapter struct {
	source   domain.Source
	pages    []domain.MarketPage
	pageErr  map[int]error // page index -> error
	states   map[string]domain.StateRecord
	batchErr error

	mu      sync.Mutex
	cursors []string
	batches [][]string
}

func (a *stubAdapter) Source() domain.Source { return a.source }

func (a *stubAdapter) ListMarkets(_ context.Context, cursor string) (domain.MarketPage, error) {
	a.mu.Lock()
	a.cursors = append(a.cursors, cursor)
	a.mu.Unlock()
	idx := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &idx)
	}
	if err := a.pageErr[idx]; err != nil {
		return domain.MarketPage{}, err
	}
	if idx >= len(a.pages) {
		return domain.MarketPage{}, nil
	}
	return a.pages[idx], nil
}

func (a *stubAdapter) GetMarketStates(_ context.Context, ids []string) ([]domain.StateRecord, error) {
	a.mu.Lock()
	a.batches = append(a.batches, ids)
	a.mu.Unlock()
	if a.batchErr != nil {
		return nil, a.batchErr
	}
	var out []domain.StateRecord
	for _, id := range ids {
		if s, ok := a.states[id]; ok {
			s.SourceMarketID = id
			out = append(out, s)
		}
	}
	return out, nil
}

func (a *stubAdapter) Normalize(b json.RawMessage) (domain.Market, error) {
	var r stubRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return domain.Market{}, fmt.Errorf("%w: %v", domain.ErrInvalidRecord, err)
	}
	if r.ID == "" || r.Title == "" {
		return domain.Market{}, fmt.Errorf("%w: missing id or title", domain.ErrInvalidRecord)
	}
	return domain.Market{
		Source:         a.source,
		SourceMarketID: r.ID,
		Slug:           r.ID,
		TitleRaw:       r.Title,
		MarketType:     domain.MarketTypeBinary,
		Outcomes:       []string{"Yes", "No"},
		Status:         domain.MarketStatusActive,
		EventKey:       r.Event,
		ListedVolume:   r.Volume,
	}, nil
}

// page builds a listing page whose cursor is the next page index.
func page(next int, hasMore bool, recs ...stubRecord) domain.MarketPage {
	p := domain.MarketPage{Markets: raw(recs...), HasMore: hasMore}
	if hasMore {
		p.Cursor = fmt.Sprint(next)
	}
	return p
}

// memStore implements the market, state, snapshot, feed and artifact
// stores in memory.
type memStore struct {
	mu        sync.Mutex
	markets   map[string]*domain.Market // by source/source id
	states    map[string]domain.MarketState
	snapshots map[string]domain.Snapshot // by market/bucket
	feeds     map[domain.FeedName][]domain.FeedItem
	artifacts map[string]domain.Artifact
	seq       int

	upsertErr  map[string]error // source id -> error
	stateErr   error
	replaceErr error
	applied    map[string]domain.Article
}

func newMemStore() *memStore {
	return &memStore{
		markets:   map[string]*domain.Market{},
		states:    map[string]domain.MarketState{},
		snapshots: map[string]domain.Snapshot{},
		feeds:     map[domain.FeedName][]domain.FeedItem{},
		artifacts: map[string]domain.Artifact{},
		applied:   map[string]domain.Article{},
	}
}

func (s *memStore) Upsert(_ context.Context, m domain.Market) (domain.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErr[m.SourceMarketID]; err != nil {
		return domain.UpsertResult{}, err
	}
	key := string(m.Source) + "/" + m.SourceMarketID
	if cur, ok := s.markets[key]; ok {
		cur.TitleRaw, cur.Status = m.TitleRaw, m.Status
		return domain.UpsertResult{ID: cur.ID, Inserted: false}, nil
	}
	s.seq++
	m.ID = fmt.Sprintf("id-%03d", s.seq)
	s.markets[key] = &m
	return domain.UpsertResult{ID: m.ID, Inserted: true}, nil
}

func (s *memStore) sortedMarkets() []*domain.Market {
	out := make([]*domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) ListActiveRefs(context.Context) ([]domain.MarketRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MarketRef
	for _, m := range s.sortedMarkets() {
		if m.Status == domain.MarketStatusActive {
			out = append(out, domain.MarketRef{ID: m.ID, Source: m.Source, SourceMarketID: m.SourceMarketID})
		}
	}
	return out, nil
}

func (s *memStore) ListUnenriched(_ context.Context, limit int) ([]domain.EnrichCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EnrichCandidate
	for _, m := range s.sortedMarkets() {
		if m.Article != nil || len(out) >= limit {
			continue
		}
		c := domain.EnrichCandidate{Market: *m}
		if st, ok := s.states[m.ID]; ok {
			c.State = &st
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) ApplyArticle(_ context.Context, id string, a domain.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		if m.ID == id {
			m.Article = &a
			s.applied[id] = a
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memStore) GetBySlug(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (s *memStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}

type stateStore struct{ *memStore }

func (s stateStore) Upsert(_ context.Context, st domain.MarketState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateErr != nil {
		return s.stateErr
	}
	s.states[st.MarketID] = st
	return nil
}

func (s stateStore) Get(_ context.Context, id string) (domain.MarketState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return st, domain.ErrNotFound
	}
	return st, nil
}

func (s stateStore) ListActive(context.Context) ([]domain.ActiveMarketState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ActiveMarketState
	for _, m := range s.sortedMarkets() {
		st, ok := s.states[m.ID]
		if m.Status != domain.MarketStatusActive || !ok {
			continue
		}
		out = append(out, domain.ActiveMarketState{MarketID: m.ID, ResolvesAt: m.ResolvesAt, State: st})
	}
	return out, nil
}

func (s *memStore) Insert(_ context.Context, snap domain.Snapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s/%d", snap.MarketID, snap.TsBucket)
	if _, ok := s.snapshots[key]; ok {
		return false, nil
	}
	s.snapshots[key] = snap
	return true, nil
}

func (s *memStore) sortedSnapshots(keep func(domain.Snapshot) bool) []domain.Snapshot {
	var out []domain.Snapshot
	for _, sn := range s.snapshots {
		if keep(sn) {
			out = append(out, sn)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].TsBucket < out[j].TsBucket
	})
	return out
}

func (s *memStore) ListSince(_ context.Context, since int64) ([]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedSnapshots(func(sn domain.Snapshot) bool { return sn.TsBucket >= since }), nil
}

func (s *memStore) ListForMarket(_ context.Context, id string, since int64, _ int) ([]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedSnapshots(func(sn domain.Snapshot) bool { return sn.MarketID == id && sn.TsBucket >= since }), nil
}

func (s *memStore) ListForMarkets(_ context.Context, ids []string, since int64) ([]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	return s.sortedSnapshots(func(sn domain.Snapshot) bool { return want[sn.MarketID] && sn.TsBucket >= since }), nil
}

func (s *memStore) ListRange(_ context.Context, from, to int64) ([]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedSnapshots(func(sn domain.Snapshot) bool { return sn.TsBucket >= from && sn.TsBucket < to }), nil
}

func (s *memStore) Replace(_ context.Context, feed domain.FeedName, items []domain.FeedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.feeds[feed] = append([]domain.FeedItem(nil), items...)
	return nil
}

func artifactKey(id, typ, in, prompt string) string { return id + "|" + typ + "|" + in + "|" + prompt }

func (s *memStore) Find(_ context.Context, id, typ, in, prompt string) (domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[artifactKey(id, typ, in, prompt)]
	if !ok {
		return a, domain.ErrNotFound
	}
	return a, nil
}

type artifactStore struct{ *memStore }

func (s artifactStore) Upsert(_ context.Context, a domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifactKey(a.MarketID, a.ArtifactType, a.InputHash, a.PromptHash)] = a
	return nil
}

func (s artifactStore) Find(ctx context.Context, id, typ, in, prompt string) (domain.Artifact, error) {
	return s.memStore.Find(ctx, id, typ, in, prompt)
}

// seed inserts an active market with a state and returns its id.
func (s *memStore) seed(source domain.Source, sourceID string, st *domain.MarketState, resolves *time.Time) string {
	res, _ := s.Upsert(context.Background(), domain.Market{
		Source: source, SourceMarketID: sourceID, TitleRaw: "Will " + sourceID + " happen?",
		Outcomes: []string{"Yes", "No"}, Status: domain.MarketStatusActive, ResolvesAt: resolves,
		Category: ptr("events"),
	})
	if st != nil {
		st.MarketID = res.ID
		s.states[res.ID] = *st
	}
	return res.ID
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAlerter) Alert(_ context.Context, event, _, _ string) {
	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()
}

func (a *recordingAlerter) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

var errUpstream = errors.New("upstream down")

type memCache struct {
	mu          sync.Mutex
	invalidated []string
	err         error
}

func (c *memCache) Get(context.Context, string) ([]byte, error) { return nil, domain.ErrNotFound }
func (c *memCache) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (c *memCache) InvalidatePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, prefix)
	return c.err
}

type published struct {
	channel string
	payload []byte
}

type memBus struct {
	mu      sync.Mutex
	pubs    []published
	streams map[string][][]byte
	err     error
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.pubs = append(b.pubs, published{channel, payload})
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams == nil {
		b.streams = map[string][][]byte{}
	}
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) jobEvents(t interface{ Helper() }) []domain.JobEvent {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.JobEvent
	for _, raw := range b.streams[domain.StreamJobs] {
		var ev domain.JobEvent
		if err := json.Unmarshal(raw, &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (a *memAudit) List(context.Context, domain.AuditFilter) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

func (a *memAudit) Latest(_ context.Context, event string) (domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].Event == event {
			return a.entries[i], nil
		}
	}
	return domain.AuditEntry{}, domain.ErrNotFound
}

func (a *memAudit) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Event
	}
	return out
}
