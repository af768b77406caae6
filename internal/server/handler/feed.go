package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/service"
)

// FeedService is what the feed handler needs from the service layer.
type FeedService interface {
	Feed(ctx context.Context, feed domain.FeedName, category string, limit int) (service.FeedResponse, error)
}

// FeedHandler serves the published feeds.
type FeedHandler struct {
	feeds  FeedService
	logger *slog.Logger
}

func NewFeedHandler(feeds FeedService, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{feeds: feeds, logger: logger}
}

// GetFeed returns one feed in rank order.
// GET /api/feeds/{feed}?category=crypto&limit=50
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, h.logger, "invalid limit", err)
		return
	}
	resp, err := h.feeds.Feed(r.Context(), domain.FeedName(r.PathValue("feed")), r.URL.Query().Get("category"), limit)
	if err != nil {
		fail(w, r, h.logger, "failed to load feed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
