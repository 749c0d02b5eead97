// Package textutil cleans untrusted text that arrives from intents and remote rows.
package textutil

import (
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
)

const (
	maxNameLength = 200
	maxSKULength  = 64
	maxURLLength  = 2048
)

var plainTextPolicy = bluemonday.StrictPolicy()

// PlainText strips markup from value, collapses whitespace and caps it at limit runes.
func PlainText(value string, limit int) string {
	cleaned := html.UnescapeString(plainTextPolicy.Sanitize(value))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if limit > 0 && utf8.RuneCountInString(cleaned) > limit {
		cleaned = string([]rune(cleaned)[:limit])
	}
	return cleaned
}

// SafeURL keeps absolute http(s) URLs and drops everything else.
func SafeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxURLLength {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.String()
	}
	return ""
}

// SanitizeDisplay returns display metadata that is safe to render verbatim.
func SanitizeDisplay(display domain.EntryDisplay) domain.EntryDisplay {
	return domain.EntryDisplay{
		Name:     PlainText(display.Name, maxNameLength),
		SKU:      PlainText(display.SKU, maxSKULength),
		ImageURL: SafeURL(display.ImageURL),
	}
}
