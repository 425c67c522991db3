package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor marks the last document of the previous page. Listings order by CreatedAt then ID.
type Cursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

// IsZero reports whether the cursor points at the first page.
func (c Cursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}

// EncodeToken renders cursor as unpadded URL-safe base64 JSON. The zero cursor encodes to "".
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	var sb strings.Builder
	enc := base64.NewEncoder(base64.RawURLEncoding, &sb)
	if err := json.NewEncoder(enc).Encode(cursor); err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return sb.String(), nil
}

// DecodeToken accepts "" as the first page. Anything else must carry an id.
func DecodeToken(token string) (Cursor, error) {
	var cursor Cursor
	if token = strings.TrimSpace(token); token == "" {
		return cursor, nil
	}
	dec := json.NewDecoder(base64.NewDecoder(base64.RawURLEncoding, strings.NewReader(token)))
	switch err := dec.Decode(&cursor); {
	case err != nil:
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	case cursor.ID == "":
		return Cursor{}, fmt.Errorf("%w: missing id", ErrInvalidPageToken)
	}
	return cursor, nil
}

// Trim cuts items fetched with a one-item lookahead down to limit and returns the token for the
// page after it. The token is empty when items fit within limit.
func Trim[T any](items []T, limit int, key func(T) Cursor) ([]T, string, error) {
	if limit <= 0 || len(items) <= limit {
		return items, "", nil
	}
	items = items[:limit]
	token, err := EncodeToken(key(items[limit-1]))
	if err != nil {
		return nil, "", err
	}
	return items, token, nil
}
