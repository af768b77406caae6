package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/prenews/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Top(ctx context.Context, category string, limit, maxDays int) ([]service.MarketCard, error)
	Search(ctx context.Context, query string, limit int) ([]service.MarketCard, error)
	Detail(ctx context.Context, slug string) (service.MarketDetail, error)
	Series(ctx context.Context, slug string, span time.Duration, limit int) ([]service.SnapshotPoint, error)
	Sparklines(ctx context.Context, ids []string) (map[string][]float64, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

type marketsResponse struct {
	Markets []service.MarketCard `json:"markets"`
	Count   int                  `json:"count"`
}

// Top returns active markets by volume.
// GET /api/markets/top?category=politics&limit=20&max_days=365
func (h *MarketHandler) Top(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, h.logger, "invalid limit", err)
		return
	}
	maxDays, err := queryInt(r, "max_days")
	if err != nil {
		fail(w, r, h.logger, "invalid max_days", err)
		return
	}
	cards, err := h.markets.Top(r.Context(), r.URL.Query().Get("category"), limit, maxDays)
	if err != nil {
		fail(w, r, h.logger, "failed to list markets", err)
		return
	}
	writeJSON(w, http.StatusOK, marketsResponse{Markets: cards, Count: len(cards)})
}

// Search runs a full-text search.
// GET /api/markets/search?q=bitcoin&limit=20
func (h *MarketHandler) Search(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, h.logger, "invalid limit", err)
		return
	}
	cards, err := h.markets.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		fail(w, r, h.logger, "search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, marketsResponse{Markets: cards, Count: len(cards)})
}

// GetMarket returns the detail page for a slug.
// GET /api/markets/{slug}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	d, err := h.markets.Detail(r.Context(), r.PathValue("slug"))
	if err != nil {
		fail(w, r, h.logger, "failed to get market", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Snapshots returns the probability series for a slug.
// GET /api/markets/{slug}/snapshots?hours=24&limit=500
func (h *MarketHandler) Snapshots(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours")
	if err != nil {
		fail(w, r, h.logger, "invalid hours", err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, h.logger, "invalid limit", err)
		return
	}
	slug := r.PathValue("slug")
	pts, err := h.markets.Series(r.Context(), slug, time.Duration(hours)*time.Hour, limit)
	if err != nil {
		fail(w, r, h.logger, "failed to load snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slug": slug, "snapshots": pts})
}

// Sparklines returns downsampled seven-day series for a batch of market ids.
// GET /api/markets/sparklines?ids=a,b,c
func (h *MarketHandler) Sparklines(w http.ResponseWriter, r *http.Request) {
	series, err := h.markets.Sparklines(r.Context(), queryList(r, "ids"))
	if err != nil {
		fail(w, r, h.logger, "failed to load sparklines", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sparklines": series})
}
