package storage

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tripledger/internal/core"
)

// Cursor marks the last expense of a page in (date desc, id desc) order.
type Cursor struct {
	Date time.Time
	ID   string
}

// CursorAfter returns the cursor positioned on e.
func CursorAfter(e core.Expense) *Cursor {
	return &Cursor{Date: e.Date, ID: e.ID}
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.Date.UnixMilli(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, core.Invalidf("malformed cursor")
	}
	ms, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, core.Invalidf("malformed cursor")
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: cursor timestamp", core.ErrValidation)
	}
	return &Cursor{Date: time.UnixMilli(n).UTC(), ID: id}, nil
}

// Admits reports whether e comes after the cursor position in listing order.
func (c Cursor) Admits(e core.Expense) bool {
	if !e.Date.Equal(c.Date) {
		return e.Date.Before(c.Date)
	}
	return e.ID < c.ID
}

// CompareListOrder orders expenses by date descending, then id descending.
func CompareListOrder(a, b core.Expense) int {
	if c := b.Date.Compare(a.Date); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}
