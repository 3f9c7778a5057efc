package restriction

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// NormalizePath collapses "./" segments and resolves ".." lexically,
// without touching the filesystem, per spec.md §4.2. Inputs are treated as
// "/"-separated regardless of host OS.
func NormalizePath(p string) string {
	if p == "" {
		return p
	}
	cleaned := path.Clean(p)
	// path.Clean turns "" into ".", which is not a useful normal form here.
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// MatchPath reports whether the normalized path matches a glob using "*"
// (single path segment), "**" (zero or more segments), and "?" (single
// non-"/" character) — doublestar's native semantics, which is exactly
// spec.md §4.2's grammar.
func MatchPath(globPattern, candidatePath string) bool {
	normGlob := NormalizePath(globPattern)
	normPath := NormalizePath(candidatePath)
	matched, err := doublestar.Match(normGlob, normPath)
	if err != nil {
		return false
	}
	return matched
}

// MatchHost reports whether host matches a host glob pattern. Only a
// single leading "*." wildcard is supported, matching any strict
// subdomain (one or more labels to the left) but never the apex domain
// itself — "*.example.com" matches "api.example.com" but not
// "example.com" (spec.md §4.2).
func MatchHost(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)

	if !strings.HasPrefix(pattern, "*.") {
		return pattern == host
	}

	apex := pattern[2:]
	if !strings.HasSuffix(host, "."+apex) {
		return false
	}
	// Must have at least one label to the left of the apex.
	prefix := strings.TrimSuffix(host, "."+apex)
	return prefix != ""
}
