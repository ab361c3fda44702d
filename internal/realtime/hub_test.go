package realtime

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHubBroadcastReachesRoomOnly(t *testing.T) {
	hub := NewHub(4, nil)
	lisbon, unsubL := hub.Subscribe("trip:lisbon")
	defer unsubL()
	porto, unsubP := hub.Subscribe("trip:porto")
	defer unsubP()

	payload := []byte(`{"type":"newExpense","tripId":"lisbon","sequenceNumber":7}`)
	if err := hub.Broadcast(context.Background(), "trip:lisbon", "newExpense", payload); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case f := <-lisbon:
		if f.Event != "newExpense" || f.ID != "7" || string(f.Data) != string(payload) {
			t.Fatalf("frame = %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
	}
	select {
	case f := <-porto:
		t.Fatalf("other room received %+v", f)
	default:
	}
}

func TestHubDropsForSlowClients(t *testing.T) {
	hub := NewHub(1, nil)
	ch, unsub := hub.Subscribe("r")
	defer unsub()
	for range 3 {
		hub.Broadcast(context.Background(), "r", "x", []byte(`{}`))
	}
	if len(ch) != 1 {
		t.Fatalf("buffered %d frames, want 1", len(ch))
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(1, nil)
	_, unsub := hub.Subscribe("r")
	if hub.ClientCount("r") != 1 {
		t.Fatalf("expected 1 client")
	}
	unsub()
	unsub()
	if hub.ClientCount("r") != 0 || len(hub.Rooms()) != 0 {
		t.Fatalf("room not cleaned up")
	}
}

func TestHubLeaveRoomClosesSubscribers(t *testing.T) {
	hub := NewHub(1, nil)
	ch, unsub := hub.Subscribe("r")
	hub.LeaveRoom(context.Background(), "r")
	if _, open := <-ch; open {
		t.Fatalf("channel still open after LeaveRoom")
	}
	unsub()
}

func TestHubCloseDisconnectsEveryRoom(t *testing.T) {
	hub := NewHub(1, nil)
	a, _ := hub.Subscribe("a")
	b, _ := hub.Subscribe("b")
	hub.Close()
	for name, ch := range map[string]<-chan Frame{"a": a, "b": b} {
		if _, open := <-ch; open {
			t.Errorf("room %s still open after Close", name)
		}
	}
	if len(hub.Rooms()) != 0 {
		t.Errorf("rooms = %v, want none", hub.Rooms())
	}
}

func TestHubStream(t *testing.T) {
	hub := NewHub(4, nil)
	hub.SetHeartbeat(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Stream(w, r, "trip:t1")
	}))
	defer srv.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount("trip:t1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	hub.Broadcast(ctx, "trip:t1", "expenseDeleted", []byte(`{"sequenceNumber":3}`))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if line = strings.TrimRight(line, "\n"); line != "" {
			lines = append(lines, line)
		}
	}
	want := []string{"event: expenseDeleted", "id: 3", `data: {"sequenceNumber":3}`}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
