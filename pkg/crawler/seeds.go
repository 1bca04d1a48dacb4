package crawler

import (
	"net/url"
	"strings"
)

// DedupeSeeds drops unparseable and repeated start URLs, keeping the
// first occurrence. URLs that differ only by fragment or a trailing slash
// are the same seed.
func DedupeSeeds(seeds []string) []string {
	seen := make(map[string]bool, len(seeds))
	out := make([]string, 0, len(seeds))
	for _, s := range seeds {
		normalized := normalizeURL(s)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}

// normalizeURL normalizes a URL for comparison.
func normalizeURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return ""
	}

	parsed.Fragment = ""
	parsed.Host = strings.ToLower(parsed.Host)

	// Remove trailing slash from path (unless it's just "/")
	if len(parsed.Path) > 1 && strings.HasSuffix(parsed.Path, "/") {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}

	return parsed.String()
}
