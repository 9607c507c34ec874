package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// Registration races the broadcast, so retry briefly.
	deadline := time.Now().Add(2 * time.Second)
	got := make(chan []byte, 1)
	go func() {
		conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err == nil {
			got <- msg
		}
	}()

	payload := []byte(`{"pollId":"p1","kind":"emoji"}`)
	for time.Now().Before(deadline) {
		hub.Broadcast <- payload
		select {
		case msg := <-got:
			if string(msg) != string(payload) {
				t.Fatalf("Expected %s, got %s", payload, msg)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("Client never received the broadcast")
}
