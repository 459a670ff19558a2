package search

import (
	"fmt"
	"strings"
)

// Deduplicate drops results whose URL was already seen, keeping the first.
// Results without a URL are keyed by lower-cased title.
func Deduplicate(in []Result) []Result {
	seen := make(map[string]struct{}, len(in))
	out := make([]Result, 0, len(in))
	for _, r := range in {
		key := r.URL
		if key == "" {
			key = strings.ToLower(strings.TrimSpace(r.Title))
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// FormatSources renders results as the context string handed to the writer.
// Raw page content is included when includeRaw is set and truncated to
// roughly maxTokensPerSource tokens (four characters per token).
func FormatSources(results []Result, maxTokensPerSource int, includeRaw bool) string {
	var b strings.Builder
	b.WriteString("Sources:\n\n")
	charLimit := maxTokensPerSource * 4
	for _, r := range Deduplicate(results) {
		fmt.Fprintf(&b, "Source %s:\n===\n", r.Title)
		fmt.Fprintf(&b, "URL: %s\n===\n", r.URL)
		fmt.Fprintf(&b, "Most relevant content from source: %s\n===\n", r.Content)
		if includeRaw {
			raw := r.RawContent
			if cut, ok := truncateRunes(raw, charLimit); ok {
				raw = cut + "... [truncated]"
			}
			fmt.Fprintf(&b, "Full source content limited to %d tokens: %s\n\n", maxTokensPerSource, raw)
		}
	}
	return strings.TrimSpace(b.String())
}

// truncateRunes cuts s to at most n characters and reports whether it did.
func truncateRunes(s string, n int) (string, bool) {
	if n <= 0 || len(s) <= n {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
