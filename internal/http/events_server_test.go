package http

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tripledger/internal/log"
	"tripledger/internal/notify"
	"tripledger/internal/realtime"
)

func TestEventsServerStreamsHubBroadcasts(t *testing.T) {
	logger := log.New(log.Config{Output: io.Discard})
	hub := realtime.NewHub(4, logger)
	srv, err := NewEventsServer(Config{Logger: logger}, hub)
	if err != nil {
		t.Fatalf("NewEventsServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/expenses/trip/porto/events", nil)
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stream.Body.Close()

	room := notify.RoomID("porto")
	for hub.ClientCount(room) == 0 {
		if ctx.Err() != nil {
			t.Fatal("subscriber never joined")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := hub.Broadcast(ctx, room, "expenseDeleted", []byte(`{"sequenceNumber":9}`)); err != nil {
		t.Fatal(err)
	}

	sc := bufio.NewScanner(stream.Body)
	for sc.Scan() {
		if sc.Text() == "event: expenseDeleted" {
			return
		}
	}
	t.Fatalf("frame not received: %v", sc.Err())
}

func TestEventsServerRejectsBadProxy(t *testing.T) {
	if _, err := NewEventsServer(Config{TrustedProxies: []string{"not-a-cidr"}}, realtime.NewHub(1, nil)); err == nil {
		t.Fatal("expected an error for an invalid proxy range")
	}
}
