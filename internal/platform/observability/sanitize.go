package observability

import (
	"strings"
	"unicode"
)

const (
	routeLimit  = 180
	userIDLimit = 64
	methodLimit = 10
)

// sanitizeString drops control characters and keeps at most limit runes.
func sanitizeString(value string, limit int) string {
	kept := 0
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || kept >= limit {
			return -1
		}
		kept++
		return r
	}, value)
}

// SanitizeRoute prepares a request path for logs and span names. An empty path logs as "/".
func SanitizeRoute(route string) string {
	if cleaned := sanitizeString(route, routeLimit); cleaned != "" {
		return cleaned
	}
	return "/"
}

// SanitizeUserID bounds a uid before it reaches a log line.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, userIDLimit)
}
