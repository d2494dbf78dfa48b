package utils

import "strings"

// Permission identifiers are "<resource>.<action>" keys. These helpers parse
// and group them for the grant-editing surface and expand config patterns.

// ResourceOf returns the resource segment of a permission key
// ("agents.create" -> "agents"). Keys without a dot are their own resource.
func ResourceOf(key string) string {
	if i := strings.IndexByte(key, '.'); i != -1 {
		return key[:i]
	}
	return key
}

// ActionOf returns the action segment of a permission key
// ("agents.create" -> "create"), or "" when the key has no dot.
func ActionOf(key string) string {
	if i := strings.IndexByte(key, '.'); i != -1 {
		return key[i+1:]
	}
	return ""
}

// IsPattern reports whether s contains a wildcard.
func IsPattern(s string) bool {
	return strings.ContainsRune(s, '*')
}

// MatchKey matches a permission key against a pattern. '*' matches any
// sequence of characters within a segment; a trailing ".*" matches every
// action under a resource. A bare "*" matches everything.
func MatchKey(key, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if suffix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return ResourceOf(key) == suffix
	}
	return matchSegments(key, pattern)
}

// matchSegments matches dot-separated segments pairwise, where a segment of
// "*" matches any single segment.
func matchSegments(key, pattern string) bool {
	kParts := strings.Split(key, ".")
	pParts := strings.Split(pattern, ".")
	if len(kParts) != len(pParts) {
		return false
	}
	for i := range pParts {
		if pParts[i] == "*" {
			continue
		}
		if pParts[i] != kParts[i] {
			return false
		}
	}
	return true
}

// GroupByResource buckets sorted permission keys by resource, preserving the
// input order within each bucket. The editor renders one section per bucket.
func GroupByResource(keys []string) map[string][]string {
	out := make(map[string][]string)
	for _, k := range keys {
		res := ResourceOf(k)
		out[res] = append(out[res], k)
	}
	return out
}
