package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tripledger/internal/cache"
	"tripledger/internal/core"
)

// HTTPResolver asks the trips service for members:
// GET {base}/trips/{id}/members returning [{"userId": "...", "name": "..."}].
// Answers are cached for ttl.
type HTTPResolver struct {
	base   string
	client *http.Client
	cache  *cache.LRUCache[[]core.Member]
}

func NewHTTPResolver(base string, client *http.Client, ttl time.Duration) *HTTPResolver {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPResolver{
		base:   strings.TrimRight(base, "/"),
		client: client,
		cache:  cache.NewLRUCache[[]core.Member](1024, ttl),
	}
}

func (r *HTTPResolver) GetMembers(ctx context.Context, tripID string) ([]core.Member, error) {
	if members, ok := r.cache.Get(tripID); ok {
		return append([]core.Member(nil), members...), nil
	}

	endpoint := r.base + "/trips/" + url.PathEscape(tripID) + "/members"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build members request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch members of %s: %w", tripID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", core.ErrTripNotFound, tripID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch members of %s: unexpected status %d", tripID, resp.StatusCode)
	}

	var members []core.Member
	if err := json.NewDecoder(resp.Body).Decode(&members); err != nil {
		return nil, fmt.Errorf("decode members of %s: %w", tripID, err)
	}
	r.cache.Set(tripID, members)
	slog.DebugContext(ctx, "Trip members resolved", "trip_id", tripID, "members", len(members))
	return append([]core.Member(nil), members...), nil
}

// Cleaner exposes the member cache for periodic cleanup.
func (r *HTTPResolver) Cleaner() cache.Cleaner { return r.cache }
