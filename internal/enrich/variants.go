package enrich

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// Applied in order to derive the base title used for searching.
	markerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\s*[:\-–]\s*(?:chapter|episode|ep|part)\s*\d+`),
		regexp.MustCompile(`(?i)\bS\d+\b`),
		regexp.MustCompile(`(?i)\bseason\s*\d+\b`),
		regexp.MustCompile(`(?i)\bpart\s*\d+\b`),
		regexp.MustCompile(`파트\s*\d+`),
		regexp.MustCompile(`시즌\s*\d+`),
		regexp.MustCompile(`(?i)\b(?:II|III|IV|V|VI|VII|VIII|IX|X)\b`),
		regexp.MustCompile(`\([^)]*\)`),
		regexp.MustCompile(`[\[\]『』〈〉「」【】]`),
		regexp.MustCompile(`\s+\d+$`),
	}
	spaceRun          = regexp.MustCompile(`\s+`)
	trailingSeparator = regexp.MustCompile(`[\s:\-–,]+$`)
	punctuation       = regexp.MustCompile(`[!?:;,.]`)
	subtitleTail      = regexp.MustCompile(`\s*[\-–:].*$`)
)

// BaseTitle strips season, part and episode markers, roman numeral
// sequels, trailing numbers, parentheticals and bracket glyphs.
func BaseTitle(title string) string {
	base := norm.NFC.String(title)
	for _, pattern := range markerPatterns {
		base = pattern.ReplaceAllString(base, " ")
		base = collapse(base)
	}
	return trailingSeparator.ReplaceAllString(base, "")
}

// QueryVariants lists search queries for a title from most to least
// specific, without duplicates or blanks.
func QueryVariants(title string) []string {
	raw := collapse(norm.NFC.String(title))
	base := BaseTitle(raw)
	candidates := []string{
		raw,
		base,
		collapse(strings.ReplaceAll(base, "&", " and ")),
		collapse(punctuation.ReplaceAllString(base, "")),
		collapse(subtitleTail.ReplaceAllString(base, "")),
	}

	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		out = append(out, candidate)
	}
	return out
}

func collapse(value string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(value, " "))
}
