package observability

import (
	"strings"
	"unicode"
)

const (
	routeLimit     = 180
	methodLimit    = 10
	accountIDLimit = 64
	defaultLimit   = 256
)

// bounded strips control characters except tab and keeps at most limit runes.
func bounded(value string, limit int) string {
	if limit <= 0 {
		limit = defaultLimit
	}
	var b strings.Builder
	kept := 0
	for _, r := range value {
		if kept == limit {
			break
		}
		if r != '\t' && unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}

// SanitizeRoute is applied to paths and route patterns before they reach logs or spans.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return bounded(route, routeLimit)
}

func SanitizeMethod(method string) string { return bounded(method, methodLimit) }

func SanitizeAccountID(id string) string { return bounded(id, accountIDLimit) }
