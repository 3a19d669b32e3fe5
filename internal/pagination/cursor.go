// Package pagination implements opaque keyset cursors for list endpoints.
//
// A cursor encodes the (created_at, id) position of the last item on a page.
// Stores order rows by that tuple descending, so fetching "strictly older
// than the cursor" yields stable pages even while new rows are appended.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned by Decode for any malformed cursor string.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is a decoded page position.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode packs a position into an opaque URL-safe string.
func Encode(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode unpacks a cursor produced by Encode. An empty string decodes to a
// nil cursor, meaning "start from the newest item".
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanosStr, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(nanosStr, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ComputePage trims a slice fetched with limit+1 rows down to one page.
// key extracts the (createdAt, id) position of an item. When more rows
// exist it returns the cursor for the next page and hasMore true.
func ComputePage[T any](items []T, limit int, key func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	page := items[:limit]
	createdAt, id := key(page[len(page)-1])
	return page, Encode(createdAt, id), true
}
