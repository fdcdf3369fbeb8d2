package audit

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

var ErrInvalidCursor = errors.New("audit: invalid cursor")

// Cursor is the keyset position after the last entry of a page.
type Cursor struct {
	CreatedAt int64
	ID        string
}

func CursorOf(e Entry) Cursor { return Cursor{CreatedAt: e.CreatedAt, ID: e.ID} }

// Encode returns the opaque form handed to clients.
func (c Cursor) Encode() string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(c.CreatedAt, 10) + ":" + c.ID))
}

func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return Cursor{}, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || n < 0 {
		return Cursor{}, ErrInvalidCursor
	}
	return Cursor{CreatedAt: n, ID: id}, nil
}

// Before reports whether e sorts strictly after the cursor position in
// (created_at desc, id desc) order.
func (c Cursor) Before(e Entry) bool {
	if e.CreatedAt != c.CreatedAt {
		return e.CreatedAt < c.CreatedAt
	}
	return e.ID < c.ID
}
