// Package normalize holds the text and number helpers shared by source
// adapters and the read API.
package normalize

import (
	"regexp"
	"strings"
)

// MaxSlugLen bounds generated slugs.
const MaxSlugLen = 120

var (
	slugStrip  = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpace  = regexp.MustCompile(`\s+`)
	slugDashes = regexp.MustCompile(`-+`)
)

// Slugify lowercases text, drops everything but ASCII letters, digits,
// whitespace and hyphens, hyphenates whitespace, collapses hyphen runs,
// trims edge hyphens, and truncates to MaxSlugLen.
func Slugify(text string) string {
	s := strings.ToLower(text)
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpace.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimSuffix(s, "-")
	if len(s) > MaxSlugLen {
		s = s[:MaxSlugLen]
	}
	return s
}
