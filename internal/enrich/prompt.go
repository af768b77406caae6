package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/normalize"
)

// SystemPrompt instructs the model. Changing it changes PromptHash and so
// invalidates every cached artifact.
const SystemPrompt = `You are a senior editorial writer for ` + SiteName + `, a market-probability news platform. Turn raw prediction market data into a short, factual news article.

STYLE:
- Neutral wire-service register. No opinion, no clickbait.
- The headline is declarative with no question marks.
- The body is 100-200 words: lead with what the market prices and at what probability, give brief widely known background, close with the market data and resolution timeline.
- Do not fabricate specific events, quotes or statistics.
- Mention "` + SiteName + `" once in the body.

Adjust tone using the FRAMING line and hedge according to the TRUST line below the market data. If resolution rules are provided, explain how the market resolves. For markets with more than two outcomes, focus on the leader and its nearest competitor.

The image prompt describes a photorealistic editorial photograph relevant to the story: no abstract art, no data visualizations, no text overlays, no watermarks.

Respond with strict JSON:
{
  "headline": "max 80 chars",
  "headline_short": "max 50 chars",
  "meta_description": "max 320 chars, mentions ` + SiteName + ` and the key probability",
  "category": "one of: politics, sports, crypto, economics, world, events",
  "tags": ["1-5 lowercase tags"],
  "body": "100-200 word markdown body",
  "image_prompt": "max 500 chars"
}

Never use sensational terms such as shocking, breaking, bombshell, explosive or devastating.`

// PromptHash identifies SystemPrompt in the artifact cache.
var PromptHash = Hash([]byte(SystemPrompt))

// Hash is the hex sha256 of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CanonicalInput returns the JSON encoding of in and its hash. Field order
// is fixed by the struct, so equal inputs hash equally.
func CanonicalInput(in domain.ArticleInput) ([]byte, string, error) {
	if in.Outcomes == nil {
		in.Outcomes = []string{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, "", fmt.Errorf("enrich: encode input: %w", err)
	}
	return b, Hash(b), nil
}

// Framing picks the tone instruction for probability p.
func Framing(p float64) string {
	pct := normalize.FormatProbability(p)
	switch {
	case p >= 0.8:
		return fmt.Sprintf("The probability is high (%s). Use a declarative, confident tone while noting remaining uncertainty.", pct)
	case p <= 0.2:
		return fmt.Sprintf("The probability is low (%s). Use contra-narrative framing and explore why markets are skeptical.", pct)
	default:
		return fmt.Sprintf("The probability is near the middle (%s). Use an analytical, balanced tone covering both sides.", pct)
	}
}

// TrustContext explains the trust tier to the model.
func TrustContext(tier string) string {
	switch domain.TrustTier(tier) {
	case domain.TrustTierHigh:
		return "This market has HIGH trust (strong liquidity, tight spread, significant volume). The probability signal is reliable."
	case domain.TrustTierMedium:
		return "This market has MEDIUM trust (moderate liquidity and volume). Interpret the probability with some caution."
	default:
		return "This market has LOW trust (thin liquidity, wide spread or low volume). Thin markets can be moved cheaply; hedge accordingly."
	}
}

// UserMessage renders the market data block sent with SystemPrompt.
func UserMessage(in domain.ArticleInput) (string, error) {
	p := 0.5
	if in.Probability != nil {
		p = *in.Probability
	}
	data := map[string]any{
		"title":               in.Title,
		"outcomes":            in.Outcomes,
		"resolves_at":         in.ResolvesAt,
		"source":              in.Source,
		"current_probability": normalize.FormatProbability(p),
		"volume_24h":          dollars(in.Volume24h),
		"liquidity":           dollars(in.Liquidity),
		"delta_24h":           "N/A",
	}
	if in.Delta24h != nil {
		data["delta_24h"] = normalize.FormatDelta(in.Delta24h)
	}
	if in.Rules != nil && *in.Rules != "" {
		data["resolution_rules"] = *in.Rules
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("enrich: encode market data: %w", err)
	}
	return strings.Join([]string{
		string(b),
		"",
		"FRAMING: " + Framing(p),
		"TRUST: " + TrustContext(in.TrustTier),
	}, "\n"), nil
}

// dollars formats v as "$1,234" or "N/A" when nil or zero.
func dollars(v *float64) string {
	if v == nil || *v == 0 {
		return "N/A"
	}
	n := int64(math.Floor(*v + 0.5))
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-$" + b.String()
	}
	return "$" + b.String()
}
