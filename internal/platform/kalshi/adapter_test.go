package kalshi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/platform/fetch"
)

func ptr[T any](v T) *T { return &v }

func newTestAdapter(url, apiKey string) (*Adapter, *Client) {
	client := NewClient(url, apiKey, fetch.NewClient(fetch.WithPolicy(fetch.Policy{MaxRetries: 0})))
	return NewAdapter(client, slog.Default()), client
}

func TestListMarkets_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "100", q.Get("limit"))
		assert.Equal(t, "open", q.Get("status"))

		if q.Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"markets":[{"ticker":"A"},{"ticker":"B"}],"cursor":"next-1"}`))
			return
		}
		assert.Equal(t, "next-1", q.Get("cursor"))
		_, _ = w.Write([]byte(`{"markets":[{"ticker":"C"}],"cursor":""}`))
	}))
	defer srv.Close()

	a, _ := newTestAdapter(srv.URL, "secret")

	page, err := a.ListMarkets(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, page.Markets, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "next-1", page.Cursor)

	page, err = a.ListMarkets(context.Background(), page.Cursor)
	require.NoError(t, err)
	assert.Len(t, page.Markets, 1)
	assert.False(t, page.HasMore)
}

func TestNormalize(t *testing.T) {
	a, _ := newTestAdapter("http://unused", "")

	m, err := a.Normalize(json.RawMessage(`{
		"ticker": "KXFED-26JUN-T4.25",
		"event_ticker": "KXFED-26JUN",
		"title": "Fed funds rate above 4.25% in June?",
		"market_type": "binary",
		"status": "active",
		"category": "Economics",
		"close_time": "2026-06-17T18:00:00Z",
		"volume": 5400,
		"rules_primary": "If the upper bound..."
	}`))
	require.NoError(t, err)

	assert.Equal(t, domain.SourceKalshi, m.Source)
	assert.Equal(t, "KXFED-26JUN-T4.25", m.SourceMarketID)
	assert.Equal(t, "KXFED-26JUN", m.EventKey)
	assert.Equal(t, domain.MarketTypeBinary, m.MarketType)
	assert.Equal(t, []string{"Yes", "No"}, m.Outcomes)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
	assert.Equal(t, "fed-funds-rate-above-425-in-june", m.Slug)
	assert.Equal(t, "https://kalshi.com/markets/kxfed-26jun", m.SourceURL)
	require.NotNil(t, m.Category)
	assert.Equal(t, "economics", *m.Category)
	require.NotNil(t, m.ResolvesAt)
	assert.True(t, m.ResolvesAt.Equal(time.Date(2026, 6, 17, 18, 0, 0, 0, time.UTC)))
	assert.InDelta(t, 5400.0, m.ListedVolume, 1e-9)
	require.NotNil(t, m.RulesPrimary)
}

func TestNormalize_Fallbacks(t *testing.T) {
	a, _ := newTestAdapter("http://unused", "")

	m, err := a.Normalize(json.RawMessage(`{
		"ticker": "SOLO",
		"subtitle": "Solo market",
		"market_type": "multiple_choice",
		"status": "settled",
		"expiration_time": "2026-02-01T00:00:00Z"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Solo market", m.TitleRaw)
	assert.Equal(t, domain.MarketTypeMulti, m.MarketType)
	assert.Empty(t, m.Outcomes)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, "https://kalshi.com/markets/solo", m.SourceURL)
	require.NotNil(t, m.ResolvesAt)
	assert.Equal(t, time.February, m.ResolvesAt.Month())
}

func TestNormalize_Invalid(t *testing.T) {
	a, _ := newTestAdapter("http://unused", "")
	for _, raw := range []string{`{"title":"x"}`, `{"ticker":"T"}`, `[1,2]`} {
		_, err := a.Normalize(json.RawMessage(raw))
		assert.ErrorIs(t, err, domain.ErrInvalidRecord, raw)
	}
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, domain.MarketStatusActive, mapStatus("open"))
	assert.Equal(t, domain.MarketStatusClosed, mapStatus("closed"))
	assert.Equal(t, domain.MarketStatusResolved, mapStatus("finalized"))
	assert.Equal(t, domain.MarketStatusUnknown, mapStatus("initialized"))
}

func TestState(t *testing.T) {
	tests := []struct {
		name       string
		m          KalshiMarket
		wantP      float64
		wantSpread *float64
	}{
		{"mid", KalshiMarket{YesBid: ptr(40.0), YesAsk: ptr(44.0), LastPrice: ptr(10.0)}, 0.42, ptr(0.04)},
		{"last trade", KalshiMarket{YesBid: ptr(40.0), LastPrice: ptr(37.0)}, 0.37, nil},
		{"default", KalshiMarket{}, 0.5, nil},
		{"clamped", KalshiMarket{LastPrice: ptr(150.0)}, 1.0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := tt.m.State()
			assert.InDelta(t, tt.wantP, st.P, 1e-9)
			if tt.wantSpread == nil {
				assert.Nil(t, st.Spread)
			} else {
				require.NotNil(t, st.Spread)
				assert.InDelta(t, *tt.wantSpread, *st.Spread, 1e-9)
			}
			assert.GreaterOrEqual(t, st.P, 0.0)
			assert.LessOrEqual(t, st.P, 1.0)
		})
	}
}

func TestGetMarketStates_SkipsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets/OK":
			_, _ = w.Write([]byte(`{"market":{"ticker":"OK","yes_bid":60,"yes_ask":62,"volume":900,"volume_24h":120,"open_interest":3000}}`))
		case "/markets/GONE":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"market not found"}}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	a, _ := newTestAdapter(srv.URL, "")
	states, err := a.GetMarketStates(context.Background(), []string{"OK", "GONE", "BROKEN"})
	require.NoError(t, err)
	require.Len(t, states, 1)

	st := states[0]
	assert.Equal(t, "OK", st.SourceMarketID)
	assert.InDelta(t, 0.61, st.P, 1e-9)
	require.NotNil(t, st.Liquidity)
	assert.InDelta(t, 3000.0, *st.Liquidity, 1e-9)
	require.NotNil(t, st.Volume24h)
	assert.InDelta(t, 120.0, *st.Volume24h, 1e-9)
	require.NotNil(t, st.BestBid)
	assert.InDelta(t, 0.60, *st.BestBid, 1e-9)
}

func TestGetMarket_NotFoundMapsToDomainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"market not found"}}`))
	}))
	defer srv.Close()

	_, client := newTestAdapter(srv.URL, "")
	_, err := client.GetMarket(context.Background(), "X")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "market not found")
}

func TestSignedRequest(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-id", r.Header.Get("KALSHI-ACCESS-KEY"))
		assert.Empty(t, r.Header.Get("Authorization"))

		ts := r.Header.Get("KALSHI-ACCESS-TIMESTAMP")
		sig, err := base64.StdEncoding.DecodeString(r.Header.Get("KALSHI-ACCESS-SIGNATURE"))
		assert.NoError(t, err)

		hash := sha256.Sum256([]byte(ts + r.Method + r.URL.Path))
		assert.NoError(t, rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, hash[:], sig, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
		}))
		_, _ = w.Write([]byte(`{"market":{"ticker":"T","title":"t"}}`))
	}))
	defer srv.Close()

	_, client := newTestAdapter(srv.URL+"/trade-api/v2", "ignored-when-signing")
	require.NoError(t, client.SetRSAPrivateKey("key-id", pemBytes))

	m, err := client.GetMarket(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, "T", m.Ticker)
}

func TestSignedRequest_ResignsOnRetry(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	var stamps []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts := r.Header.Get("KALSHI-ACCESS-TIMESTAMP")
		stamps = append(stamps, ts)
		sig, err := base64.StdEncoding.DecodeString(r.Header.Get("KALSHI-ACCESS-SIGNATURE"))
		assert.NoError(t, err)
		hash := sha256.Sum256([]byte(ts + r.Method + r.URL.Path))
		assert.NoError(t, rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, hash[:], sig, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
		}))
		if len(stamps) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"market":{"ticker":"T","title":"t"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", fetch.NewClient(fetch.WithPolicy(fetch.Policy{MaxRetries: 1})))
	require.NoError(t, client.SetRSAPrivateKey("key-id", pemBytes))
	clock := time.UnixMilli(1_700_000_000_000)
	client.now = func() time.Time {
		clock = clock.Add(5 * time.Second)
		return clock
	}

	_, err = client.GetMarket(context.Background(), "T")
	require.NoError(t, err)
	require.Len(t, stamps, 2)
	assert.Equal(t, "1700000005000", stamps[0])
	assert.Equal(t, "1700000010000", stamps[1])
}

func TestSetRSAPrivateKey_Invalid(t *testing.T) {
	_, client := newTestAdapter("http://unused", "")
	assert.Error(t, client.SetRSAPrivateKey("id", []byte("not pem")))
}
