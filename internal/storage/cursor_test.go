package storage

import (
	"errors"
	"testing"
	"time"

	"tripledger/internal/core"
)

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{Date: time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC), ID: "5f1c:odd-id"}
	got, err := DecodeCursor(c.Encode())
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if !got.Date.Equal(c.Date) || got.ID != c.ID {
		t.Fatalf("DecodeCursor = %+v, want %+v", got, c)
	}
	if none, err := DecodeCursor(""); none != nil || err != nil {
		t.Fatalf("empty token = %v, %v", none, err)
	}
	for _, bad := range []string{"!!!", "bm9jb2xvbg"} {
		if _, err := DecodeCursor(bad); !errors.Is(err, core.ErrValidation) {
			t.Errorf("DecodeCursor(%q) err = %v, want validation error", bad, err)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: Postgres}
	if got := pg.rebind("a = ? AND b IN (?, ?)"); got != "a = $1 AND b IN ($2, $3)" {
		t.Fatalf("rebind = %q", got)
	}
	lite := &SQLStore{dialect: SQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}
