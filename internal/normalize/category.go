package normalize

import "strings"

// News categories used for navigation and feed filtering.
const (
	CategoryPolitics  = "politics"
	CategorySports    = "sports"
	CategoryCrypto    = "crypto"
	CategoryEconomics = "economics"
	CategoryWorld     = "world"
	CategoryEvents    = "events"
)

// Categories lists every news category in navigation order.
var Categories = []string{
	CategoryPolitics, CategorySports, CategoryCrypto,
	CategoryEconomics, CategoryWorld, CategoryEvents,
}

// keyword lists are checked in this order; the first hit wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategorySports, []string{"nfl", "nba", "mlb", "nhl", "soccer", "football", "basketball", "baseball", "olympic", "world cup", "super bowl"}},
	{CategoryCrypto, []string{"crypto", "bitcoin", "btc", "ethereum", "eth", "solana", "doge", "ripple", "xrp"}},
	{CategoryPolitics, []string{"election", "president", "senate", "congress", "governor", "democrat", "republican", "scotus", "supreme court", "white house", "trump", "biden"}},
	{CategoryEconomics, []string{"fed", "inflation", "cpi", "gdp", "recession", "rates", "rate cut", "unemployment", "treasury", "revenue", "deficit"}},
	{CategoryWorld, []string{"ukraine", "russia", "china", "taiwan", "israel", "iran", "nato", "europe", "eu", "united nations"}},
}

// CategoryInput is what InferCategory looks at.
type CategoryInput struct {
	Declared string
	Title    string
	Slug     string
	Tags     []string
}

// IsCategory reports whether c is a known news category.
func IsCategory(c string) bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// InferCategory maps a market onto a news category. A declared source
// category wins when it is recognisable; otherwise title, slug and tags are
// scanned for keywords. Anything unmatched is "events".
func InferCategory(in CategoryInput) string {
	declared := strings.ToLower(strings.TrimSpace(in.Declared))
	switch {
	case strings.Contains(declared, "politic"):
		return CategoryPolitics
	case strings.Contains(declared, "sport"):
		return CategorySports
	case strings.Contains(declared, "crypto"):
		return CategoryCrypto
	case strings.Contains(declared, "economic"), strings.Contains(declared, "finance"):
		return CategoryEconomics
	case strings.Contains(declared, "world"), strings.Contains(declared, "international"), strings.Contains(declared, "geopolit"):
		return CategoryWorld
	case declared != "" && declared != "uncategorized" && declared != "general":
		return CategoryEvents
	}

	words := append([]string{in.Title, in.Slug}, in.Tags...)
	haystack := " " + tokenize(strings.Join(words, " ")) + " "
	for _, group := range categoryKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(haystack, " "+kw+" ") {
				return group.category
			}
		}
	}
	return CategoryEvents
}

// tokenize lowercases s and replaces every non-alphanumeric run with a
// single space, so keywords match whole words only.
func tokenize(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
