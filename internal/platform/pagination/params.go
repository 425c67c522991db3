package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 24
	DefaultMaxPageSize = 100
)

// Query keys accepted by FromRequest. The short aliases are used by the storefront client.
var (
	sizeKeys  = []string{"pageSize", "limit"}
	tokenKeys = []string{"pageToken", "cursor"}
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params is a validated page request. Cursor is the decoded form of PageToken.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options sets per-listing bounds. Zero values fall back to the package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) bounds() (def, ceiling int) {
	ceiling = o.MaxPageSize
	if ceiling <= 0 {
		ceiling = DefaultMaxPageSize
	}
	def = o.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	return min(def, ceiling), ceiling
}

// FromRequest reads the page request from r's query string.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil || r.URL == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse validates the page size and token found in values. Oversized pages are clamped rather
// than rejected; a token that does not decode is an error.
func Parse(values url.Values, opts Options) (Params, error) {
	def, ceiling := opts.bounds()
	size := def
	if raw := first(values, sizeKeys); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Params{}, fmt.Errorf("%w: %q is not a number", ErrInvalidPageSize, raw)
		case n < 1:
			return Params{}, fmt.Errorf("%w: must be at least 1", ErrInvalidPageSize)
		}
		size = min(n, ceiling)
	}

	token := first(values, tokenKeys)
	cursor, err := DecodeToken(token)
	if err != nil {
		return Params{}, err
	}
	return Params{PageSize: size, PageToken: token, Cursor: cursor}, nil
}

func first(values url.Values, keys []string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			return v
		}
	}
	return ""
}
