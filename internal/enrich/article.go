// Package enrich produces editorial articles for markets: prompt assembly,
// an OpenAI-compatible chat client, output validation and the deterministic
// fallback used whenever the model is unavailable or misbehaves.
package enrich

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/normalize"
)

// SiteName appears in generated copy.
const SiteName = "PreNews"

// ArtifactType is the llm_artifact type for articles.
const ArtifactType = "article"

const (
	maxHeadline      = 120
	maxHeadlineShort = 60
	maxMeta          = 320
	maxImagePrompt   = 800
	maxTags          = 5
	minBody          = 50
)

// BannedWords never appear in an accepted headline.
var BannedWords = []string{
	"shocking", "breaking", "bombshell", "explosive", "devastating",
	"sensational", "unbelievable", "insane", "crazy", "wild",
	"jaw-dropping", "mind-blowing", "game-changer",
}

// Validate reports whether a is publishable: a headline without '?' of at
// most 120 characters, a body of at least 50 characters and no banned word
// in the headline.
func Validate(a domain.Article) bool {
	if a.Headline == "" || strings.Contains(a.Headline, "?") {
		return false
	}
	if utf8.RuneCountInString(a.Headline) > maxHeadline {
		return false
	}
	if utf8.RuneCountInString(a.Body) < minBody {
		return false
	}
	lower := strings.ToLower(a.Headline)
	for _, w := range BannedWords {
		if strings.Contains(lower, w) {
			return false
		}
	}
	return true
}

var trailingQuestion = regexp.MustCompile(`\?+$`)

// Sanitize trims model output to storage limits. An unknown category is
// replaced by fallbackCategory.
func Sanitize(a domain.Article, fallbackCategory string) domain.Article {
	a.Headline = truncate(strings.TrimSpace(trailingQuestion.ReplaceAllString(strings.TrimSpace(a.Headline), "")), maxHeadline)
	a.HeadlineShort = truncate(strings.TrimSpace(a.HeadlineShort), maxHeadlineShort)
	a.MetaDescription = truncate(strings.TrimSpace(a.MetaDescription), maxMeta)
	a.ImagePrompt = truncate(strings.TrimSpace(a.ImagePrompt), maxImagePrompt)
	a.Body = strings.TrimSpace(a.Body)

	cat := strings.ToLower(strings.TrimSpace(a.Category))
	if !normalize.IsCategory(cat) {
		cat = fallbackCategory
	}
	a.Category = cat

	tags := make([]string, 0, maxTags)
	for _, t := range a.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		tags = append(tags, t)
		if len(tags) == maxTags {
			break
		}
	}
	a.Tags = tags
	return a
}

var leadingWill = regexp.MustCompile(`(?i)^will\s+`)

// Fallback builds a template article from the market title and probability.
func Fallback(title string, p float64, category string) domain.Article {
	prob := normalize.FormatProbability(p)

	plain := strings.TrimSpace(trailingQuestion.ReplaceAllString(strings.Join(strings.Fields(title), " "), ""))
	headline := strings.TrimSpace(leadingWill.ReplaceAllString(plain, ""))
	if headline == "" {
		headline = plain
	}
	if headline == "" {
		headline = "Prediction market prices outcome at " + prob
	}
	headline = cut(headline, 80)
	return domain.Article{
		Headline:        headline,
		HeadlineShort:   cut(headline, 50),
		MetaDescription: fmt.Sprintf("%s: currently at %s probability according to prediction market data tracked by %s.", headline, prob, SiteName),
		Body: fmt.Sprintf("Prediction markets currently place the probability of this outcome at **%s**.\n\n"+
			"%s tracks this market in real time. Visit the market page for live probability updates, historical charts, and source links.", prob, SiteName),
		ImagePrompt: "hyper-photorealistic editorial photograph of a modern newsroom with multiple screens showing financial data, " +
			"cinematic lighting, shallow depth of field, natural color grading, landscape orientation, no text overlays, no watermarks",
		Category: category,
		Tags:     []string{},
	}
}

// truncate shortens s to max runes, ending in "..." when cut.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimRightFunc(string(r[:max-3]), isSpace) + "..."
}

// cut is truncate without trimming the kept prefix.
func cut(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' }
