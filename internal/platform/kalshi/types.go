package kalshi

// KalshiMarket represents a market as returned by the Kalshi REST API.
// Prices are in cents; pointer fields are nil when the API omits them.
type KalshiMarket struct {
	Ticker         string   `json:"ticker"`
	EventTicker    string   `json:"event_ticker"`
	Title          string   `json:"title"`
	Subtitle       string   `json:"subtitle"`
	MarketType     string   `json:"market_type"` // "binary", "multiple_choice"
	Status         string   `json:"status"`      // "open", "active", "closed", "settled", ...
	Category       string   `json:"category"`
	YesBid         *float64 `json:"yes_bid"`
	YesAsk         *float64 `json:"yes_ask"`
	LastPrice      *float64 `json:"last_price"`
	Volume         *float64 `json:"volume"`
	Volume24H      *float64 `json:"volume_24h"`
	OpenInterest   *float64 `json:"open_interest"`
	CloseTime      string   `json:"close_time"`
	ExpirationTime string   `json:"expiration_time"`
	RulesPrimary   string   `json:"rules_primary"`
	Result         string   `json:"result"` // "yes", "no", "" (unsettled)
}

// marketsResponse is the body of GET /markets.
type marketsResponse[T any] struct {
	Markets []T    `json:"markets"`
	Cursor  string `json:"cursor"`
}

// marketResponse is the body of GET /markets/{ticker}.
type marketResponse struct {
	Market KalshiMarket `json:"market"`
}

// KalshiErrorResponse is the error body returned by the Kalshi API.
type KalshiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e KalshiErrorResponse) code() string {
	if e.Error.Code != "" {
		return e.Error.Code
	}
	return e.Code
}

func (e KalshiErrorResponse) message() string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return e.Message
}
