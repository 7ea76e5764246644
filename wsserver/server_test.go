package wsserver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startTestServer(t *testing.T) (*Server, string, func()) {
	t.Helper()
	ln, port, err := Listen(PortStrategy{Kind: NoPort})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := NewServer(ln)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Serve(ctx)
		close(done)
	}()

	url := fmt.Sprintf("ws://127.0.0.1:%d/?elmWatchVersion=1.0.0&output=main&compiledTimestamp=123", port)
	cleanup := func() {
		cancel()
		<-done
	}
	return s, url, cleanup
}

func TestServer_DispatchQueuesUntilAttached(t *testing.T) {
	s, url, cleanup := startTestServer(t)
	defer cleanup()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Give the read pump a moment to push the Connected event before any
	// dispatch is attached, exercising the queue.
	time.Sleep(50 * time.Millisecond)

	received := make(chan Event, 4)
	s.SetDispatch(func(e Event) { received <- e })

	select {
	case e := <-received:
		if e.Kind != EventConnected {
			t.Fatalf("expected EventConnected, got %v", e.Kind)
		}
		if e.URLString == "" {
			t.Fatal("expected non-empty URLString")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued Connected event")
	}
}

func TestServer_MessageAndCloseEvents(t *testing.T) {
	s, url, cleanup := startTestServer(t)
	defer cleanup()

	received := make(chan Event, 8)
	s.SetDispatch(func(e Event) { received <- e })

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"tag":"ChangeCompilationMode","compilationMode":"debug"}`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	var gotConnected, gotMessage bool
	deadline := time.After(2 * time.Second)
	for !gotConnected || !gotMessage {
		select {
		case e := <-received:
			switch e.Kind {
			case EventConnected:
				gotConnected = true
			case EventMessageReceived:
				gotMessage = true
				if e.Data == "" {
					t.Fatal("expected non-empty message data")
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for connected+message events")
		}
	}

	conn.Close()

	select {
	case e := <-received:
		if e.Kind != EventClosed {
			t.Fatalf("expected EventClosed, got %v", e.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for closed event")
	}
}

func TestListen_PersistedPortDegradesOnConflict(t *testing.T) {
	holder, port, err := Listen(PortStrategy{Kind: NoPort})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer holder.Close()

	ln, got, err := Listen(PortStrategy{Kind: PersistedPort, Port: port})
	if err != nil {
		t.Fatalf("expected silent degrade, got error: %v", err)
	}
	defer ln.Close()
	if got == port {
		t.Fatalf("expected a different ephemeral port, got the same conflicting port %d", port)
	}
}

func TestListen_PortFromConfigSurfacesConflict(t *testing.T) {
	holder, port, err := Listen(PortStrategy{Kind: NoPort})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer holder.Close()

	_, _, err = Listen(PortStrategy{Kind: PortFromConfig, Port: port})
	if err == nil {
		t.Fatal("expected fatal error for configured-port conflict")
	}
}
