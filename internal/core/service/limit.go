package service

import "strconv"

const (
	// DefaultListLimit is the standard default page size used across services.
	DefaultListLimit = 25
	// MaxListLimit is the standard maximum page size used across services.
	MaxListLimit = 500
)

// ClampLimit returns a sane list limit using the provided default and maximum.
// Non-positive values yield the default; values above max clamp to max.
func ClampLimit(limit, defaultLimit, max int) int {
	if defaultLimit <= 0 {
		defaultLimit = DefaultListLimit
	}
	if max <= 0 {
		max = defaultLimit
	}
	if limit <= 0 {
		return defaultLimit
	}
	if limit > max {
		return max
	}
	return limit
}

// LimitFromQuery parses raw (an HTTP query parameter value) as a list
// limit, treating an empty or unparseable value the same as a
// non-positive one: it falls back to defaultLimit via ClampLimit rather
// than rejecting the request.
func LimitFromQuery(raw string, defaultLimit, max int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		n = 0
	}
	return ClampLimit(n, defaultLimit, max)
}
