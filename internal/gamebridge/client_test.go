package gamebridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// serverConn returns the server side of a real upgraded connection.
func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()
	ch := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ch <- c
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	return <-ch
}

func TestClientQueueAfterCloseIsRejected(t *testing.T) {
	client := NewClient("c1", serverConn(t))
	client.Close()

	if client.Queue(ServerMessage{Type: ServerMessageTypePong}) {
		t.Fatal("expected Queue to report false on a closed client")
	}
	// Close is idempotent.
	client.Close()
}

func TestBroadcastDuringDisconnect(t *testing.T) {
	hub := NewHub(nil)
	client := NewClient("c1", serverConn(t))
	hub.Register(client)
	hub.Subscribe("c1", []string{TopicAll})
	go client.WriteLoop()

	// An unregister landing mid-broadcast must not crash the broadcaster:
	// Queue refuses once the client is closed instead of hitting the closed
	// channel.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			hub.Broadcast(Event{Type: "fireworks", ChannelID: "999"})
		}
	}()
	go func() {
		defer wg.Done()
		hub.Unregister("c1")
	}()
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Errorf("expected empty hub, got %d clients", hub.ClientCount())
	}
}
