package domain

import (
	"context"
	"encoding/json"
)

// MarketPage is one page of a source's market listing. Cursor is empty when
// the listing is exhausted.
type MarketPage struct {
	Markets []json.RawMessage
	Cursor  string
	HasMore bool
}

// MarketAdapter is the uniform contract every market source implements.
type MarketAdapter interface {
	Source() Source
	// ListMarkets fetches the page starting at cursor ("" for the first page).
	ListMarkets(ctx context.Context, cursor string) (MarketPage, error)
	// GetMarketStates returns states for the ids it could fetch. Per-id
	// failures are skipped, so the result may be shorter than ids.
	GetMarketStates(ctx context.Context, ids []string) ([]StateRecord, error)
	// Normalize converts one raw listing record. It returns ErrInvalidRecord
	// when required identity fields are missing.
	Normalize(raw json.RawMessage) (Market, error)
}
