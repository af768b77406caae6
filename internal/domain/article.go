package domain

import "context"

// Article is the editorial content generated for a market.
type Article struct {
	Headline        string   `json:"headline"`
	HeadlineShort   string   `json:"headline_short"`
	Body            string   `json:"body"`
	MetaDescription string   `json:"meta_description"`
	ImagePrompt     string   `json:"image_prompt"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
}

// ArticleInput is the market context handed to an enricher.
type ArticleInput struct {
	Title       string   `json:"title"`
	Outcomes    []string `json:"outcomes"`
	ResolvesAt  *string  `json:"resolves_at"`
	Source      Source   `json:"source"`
	Probability *float64 `json:"probability"`
	Volume24h   *float64 `json:"volume_24h"`
	Liquidity   *float64 `json:"liquidity"`
	Delta24h    *float64 `json:"delta_24h"`
	TrustTier   string   `json:"trust_tier"`
	Rules       *string  `json:"rules"`
}

// Enricher turns market context into an article. Implementations are
// external collaborators and may fail or return unusable output.
type Enricher interface {
	Generate(ctx context.Context, in ArticleInput) (Article, error)
	Model() string
}

// Artifact is a cached enricher output.
type Artifact struct {
	MarketID     string
	ArtifactType string
	Model        string
	InputHash    string
	PromptHash   string
	Input        []byte
	Output       []byte
}

// EnrichCandidate is a market lacking a headline together with its pricing context.
type EnrichCandidate struct {
	Market Market
	State  *MarketState
}
