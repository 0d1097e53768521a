// Package pagination pages through result sets ordered by (timestamp, id)
// with opaque cursors.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxLimit caps a single page.
const MaxLimit = 500

// ErrInvalidCursor is returned for cursors this package did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the position of the last item of a page.
type Cursor struct {
	At time.Time
	ID string
}

// Encode returns an opaque cursor string for (at, id).
func Encode(at time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", at.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a cursor. An empty string yields nil.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{At: time.Unix(0, n).UTC(), ID: id}, nil
}

// after reports whether (at, id) sorts strictly after c.
func (c *Cursor) after(at time.Time, id string) bool {
	if c == nil {
		return true
	}
	if !at.Equal(c.At) {
		return at.After(c.At)
	}
	return id > c.ID
}

// Page returns up to limit items that sort after cursor, plus the cursor of
// the next page ("" on the last page). items must be sorted ascending by key.
// A non-positive limit means MaxLimit.
func Page[T any](items []T, cursor *Cursor, limit int, key func(T) (time.Time, string)) ([]T, string) {
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}

	start := len(items)
	for i, it := range items {
		if cursor.after(key(it)) {
			start = i
			break
		}
	}
	rest := items[start:]
	if len(rest) <= limit {
		return rest, ""
	}
	page := rest[:limit]
	at, id := key(page[len(page)-1])
	return page, Encode(at, id)
}
