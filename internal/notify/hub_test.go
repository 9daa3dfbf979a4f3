package notify

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"veledger/internal/domain"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()

	hub := NewHub(DefaultHubConfig(), nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close(context.Background())
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	sent := domain.LockEvent{
		EventID: "abc123",
		Kind:    domain.EventDeposit,
		LockID:  7,
		Owner:   "alice",
		Amount:  500,
		Ts:      1000,
		Ordinal: 1,
	}
	hub.Publish(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got domain.LockEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got != sent {
		t.Errorf("received %+v, want %+v", got, sent)
	}
}

func TestHub_BroadcastToAllClients(t *testing.T) {
	hub, url := newTestHub(t)
	c1 := dial(t, url)
	c2 := dial(t, url)
	waitForClients(t, hub, 2)

	hub.Publish(domain.LockEvent{EventID: "ev1", Kind: domain.EventSupply})

	for i, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got domain.LockEvent
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		if got.EventID != "ev1" {
			t.Errorf("client %d got event %q", i, got.EventID)
		}
	}
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub, _ := newTestHub(t)

	// Must not block or panic.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(domain.LockEvent{EventID: "noop"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with no subscribers")
	}
}

func TestHub_DisconnectUpdatesCount(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_CloseRejectsNewClients(t *testing.T) {
	hub, url := newTestHub(t)
	dial(t, url)
	waitForClients(t, hub, 1)

	if err := hub.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("clients after close = %d", hub.ClientCount())
	}

	// A post-close dial may connect at the HTTP layer but is dropped
	// immediately; it never becomes a tracked client.
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		defer conn.Close()
	}
	time.Sleep(50 * time.Millisecond)
	if hub.ClientCount() != 0 {
		t.Errorf("closed hub accepted a client")
	}
}
