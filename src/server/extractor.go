package server

import (
	"regexp"
	"strings"
)

// -----------------------------------------------------------------------------
// Ticker Extraction
// -----------------------------------------------------------------------------

// tickerPatterns are tried in order against accumulated AI text; the
// first allow-listed capture wins. The candidate is always 1-5
// uppercase letters, the surrounding phrasing is case-insensitive.
var tickerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?i:for)\s+([A-Z]{1,5})\b`),
	regexp.MustCompile(`\b(?i:about)\s+([A-Z]{1,5})\b`),
	regexp.MustCompile(`\b([A-Z]{1,5})\s+(?i:stock|ticker|price|shares)\b`),
	regexp.MustCompile(`\b([A-Z]{1,5})\s+(?i:is\s+(?:trading|priced|currently))\b`),
	regexp.MustCompile(`\b(?i:stock\s+(?:symbol|ticker))\s+([A-Z]{1,5})\b`),
	regexp.MustCompile(`\b(?i:ticker\s+symbol)\s+([A-Z]{1,5})\b`),
	regexp.MustCompile(`\b(?i:price\s+of|looking\s+at)\s+([A-Z]{1,5})\b`),
}

// -----------------------------------------------------------------------------

// TickerExtractor is a pure text -> optional ticker heuristic. The
// allow-list comes from configuration, not embedded literals.
type TickerExtractor struct {
	allowed map[string]struct{}
}

// -----------------------------------------------------------------------------

func NewTickerExtractor(allowList []string) *TickerExtractor {
	allowed := make(map[string]struct{}, len(allowList))
	for _, t := range allowList {
		allowed[strings.ToUpper(t)] = struct{}{}
	}
	return &TickerExtractor{allowed: allowed}
}

// -----------------------------------------------------------------------------

// Allowed reports whether ticker is on the allow-list.
func (e *TickerExtractor) Allowed(ticker string) bool {
	_, ok := e.allowed[strings.ToUpper(ticker)]
	return ok
}

// -----------------------------------------------------------------------------

// Extract scans text with the ordered patterns and returns the first
// allow-listed match.
func (e *TickerExtractor) Extract(text string) (string, bool) {
	for _, pattern := range tickerPatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			candidate := match[1]
			if e.Allowed(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}
