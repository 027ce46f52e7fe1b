package dispatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialSession connects a test client and registers it under userID.
func dialSession(t *testing.T, r *Registry, userID string) (*websocket.Conn, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		r.Add(userID, conn)
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	// registration happens in the server handler; wait for it to land
	deadline := time.Now().Add(2 * time.Second)
	for !r.Connected(userID) {
		if time.Now().After(deadline) {
			t.Fatalf("session for %s never registered", userID)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return client, func() {
		client.Close()
		srv.Close()
	}
}

func TestPushToConnectedUser(t *testing.T) {
	r := NewRegistry(time.Second)
	client, cleanup := dialSession(t, r, "donor1")
	defer cleanup()

	if !r.Connected("donor1") {
		t.Fatal("expected donor1 to be connected")
	}
	if !r.Push("donor1", "emergencyRequest", map[string]string{"blood_group": "O-"}) {
		t.Fatal("push to connected user must succeed")
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	_, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Event != "emergencyRequest" {
		t.Fatalf("expected emergencyRequest event, got %q", ev.Event)
	}
}

func TestPushToDisconnectedUserIsNoop(t *testing.T) {
	r := NewRegistry(time.Second)
	if r.Push("ghost", "emergencyRequest", nil) {
		t.Fatal("push to unknown user must report false")
	}
}

func TestRemoveClearsPresence(t *testing.T) {
	r := NewRegistry(time.Second)
	client, cleanup := dialSession(t, r, "donor2")
	defer cleanup()
	_ = client

	r.mu.RLock()
	s := r.sessions["donor2"]
	r.mu.RUnlock()
	r.Remove("donor2", s.conn)

	if r.Connected("donor2") {
		t.Fatal("expected donor2 to be gone after Remove")
	}
	if r.Push("donor2", "emergencyRequest", nil) {
		t.Fatal("push after disconnect must report false")
	}
}

func TestPushBoundedWhenPeerStopsReading(t *testing.T) {
	r := NewRegistry(100 * time.Millisecond)
	client, cleanup := dialSession(t, r, "stalled")
	defer cleanup()
	_ = client // never reads; socket buffers eventually fill

	payload := strings.Repeat("x", 1<<18)
	start := time.Now()
	blocked := false
	for i := 0; i < 200; i++ {
		if !r.Push("stalled", "emergencyRequest", payload) {
			blocked = true
			break
		}
	}
	if !blocked {
		t.Fatal("expected push to fail once the non-reading peer's buffers filled")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("push must be cut off by the write deadline, took %s", elapsed)
	}
}

func TestAddReplacesPriorSession(t *testing.T) {
	r := NewRegistry(time.Second)
	_, cleanup1 := dialSession(t, r, "donor3")
	defer cleanup1()
	_, cleanup2 := dialSession(t, r, "donor3")
	defer cleanup2()

	if !r.Connected("donor3") {
		t.Fatal("expected donor3 to stay connected through reconnect")
	}
	if !r.Push("donor3", "emergencyRequest", nil) {
		t.Fatal("push after reconnect must reach the new session")
	}
}
