package server

import "strings"

// sanitizeSearchQuery strips characters usable for SQL/HTML/path injection
// from a user-supplied search query, trims whitespace, and clamps the length.
func sanitizeSearchQuery(query string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'', ';', '(', ')', '{', '}', '\\':
			return -1
		}
		return r
	}, query)

	sanitized = strings.TrimSpace(sanitized)
	if len(sanitized) > 255 {
		sanitized = sanitized[:255]
	}
	return sanitized
}
