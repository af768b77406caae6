package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// optBool remembers whether the field was present at all.
type optBool struct {
	val flexBool
	ok  bool
}

func (o *optBool) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := o.val.UnmarshalJSON(data); err != nil {
		return err
	}
	o.ok = true
	return nil
}

// optFloat accepts a JSON number or a numeric string. Null, empty or
// unparseable values leave it unset rather than failing the whole record.
type optFloat struct {
	val float64
	ok  bool
}

func (o *optFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		o.val, o.ok = n, true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		o.val, o.ok = v, true
	}
	return nil
}

func (o optFloat) ptr() *float64 {
	if !o.ok {
		return nil
	}
	v := o.val
	return &v
}

// flexStrings accepts a JSON array of strings/numbers or a string holding a
// JSON-encoded array, which is how Gamma sends outcomes and outcomePrices.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		data = []byte(s)
	}
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		// A malformed list is treated as absent.
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	*f = out
	return nil
}

// GammaEvent is the parent event embedded in a Gamma market.
type GammaEvent struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// GammaMarket is a market as returned by the Gamma API. Field names differ
// between endpoint versions, so several aliases are decoded.
type GammaMarket struct {
	ID               string       `json:"id"`
	ConditionID      string       `json:"conditionId"`
	ConditionIDSnake string       `json:"condition_id"`
	Question         string       `json:"question"`
	Title            string       `json:"title"`
	Slug             string       `json:"slug"`
	Description      string       `json:"description"`
	Category         string       `json:"category"`
	Image            string       `json:"image"`
	Outcomes         flexStrings  `json:"outcomes"`
	OutcomePrices    flexStrings  `json:"outcomePrices"`
	EndDateISO       string       `json:"end_date_iso"`
	EndDateIso       string       `json:"endDateIso"`
	EndDate          string       `json:"endDate"`
	Active           optBool      `json:"active"`
	Closed           flexBool     `json:"closed"`
	VolumeNum        optFloat     `json:"volumeNum"`
	Volume           optFloat     `json:"volume"`
	Volume24hr       optFloat     `json:"volume24hr"`
	LiquidityNum     optFloat     `json:"liquidityNum"`
	Liquidity        optFloat     `json:"liquidity"`
	BestBid          optFloat     `json:"bestBid"`
	BestAsk          optFloat     `json:"bestAsk"`
	Spread           optFloat     `json:"spread"`
	LastTradePrice   optFloat     `json:"lastTradePrice"`
	Events           []GammaEvent `json:"events"`
}

func (m *GammaMarket) marketID() string {
	switch {
	case m.ID != "":
		return m.ID
	case m.ConditionID != "":
		return m.ConditionID
	default:
		return m.ConditionIDSnake
	}
}

func (m *GammaMarket) title() string {
	if m.Question != "" {
		return m.Question
	}
	return m.Title
}

func (m *GammaMarket) endDate() string {
	for _, s := range []string{m.EndDateISO, m.EndDateIso, m.EndDate} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (m *GammaMarket) volumeTotal() optFloat {
	if m.VolumeNum.ok {
		return m.VolumeNum
	}
	return m.Volume
}

func (m *GammaMarket) liquidity() optFloat {
	if m.LiquidityNum.ok {
		return m.LiquidityNum
	}
	return m.Liquidity
}

// prices parses outcomePrices, dropping entries that are not numbers.
func (m *GammaMarket) prices() []float64 {
	out := make([]float64, 0, len(m.OutcomePrices))
	for _, s := range m.OutcomePrices {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return out
		}
		out = append(out, v)
	}
	return out
}
