package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"tripledger/internal/core"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// parseDate accepts a calendar date (YYYY-MM-DD) or an RFC 3339 timestamp.
// An empty string yields the zero time so the service can default it.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, core.Invalidf("date %q must be YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

// parseLimit reads a positive integer query parameter, capped at max.
func parseLimit(r *http.Request, key string, def, max int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, core.Invalidf("%s must be a positive integer", key)
	}
	return min(n, max), nil
}

// ifMatchVersion reads the expected expense version from If-Match. Both
// bare numbers and quoted entity tags are accepted.
func ifMatchVersion(r *http.Request) (int64, bool, error) {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	if v == "" {
		return 0, false, nil
	}
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 1 {
		return 0, false, core.Invalidf("If-Match must carry an expense version")
	}
	return n, true, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func sanitizeAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, sanitizeInput(s))
	}
	return out
}
