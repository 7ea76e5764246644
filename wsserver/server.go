// Package wsserver implements the browser-facing WebSocket transport: port
// selection, connect-URL shape, and a dispatch-detachable event queue so
// connections accepted before the orchestrator attaches are never dropped.
package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// EventKind discriminates the Event union fed to the orchestrator.
type EventKind int

const (
	EventConnected EventKind = iota
	EventMessageReceived
	EventClosed
	EventUnsupportedDataType
)

// Event is one of the three (plus one diagnostic) occurrences the hot
// orchestrator's update loop reacts to.
type Event struct {
	Kind      EventKind
	Date      time.Time
	Client    *Client
	URLString string // EventConnected only: the raw request URI, unvalidated
	Data      string // EventMessageReceived only: the raw JSON text frame
}

// Dispatch receives queued or live events in arrival order.
type Dispatch func(Event)

// Client is one accepted WebSocket connection.
type Client struct {
	ID   uuid.UUID
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *Client) sendBytes(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Server accepts WebSocket connections and queues their events until an
// orchestrator attaches a Dispatch via SetDispatch.
type Server struct {
	mu       sync.Mutex
	dispatch Dispatch
	queue    []Event
	clients  map[*Client]struct{}

	listener   net.Listener
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer wraps an already-bound listener (see Listen) in an HTTP/
// WebSocket accept loop.
func NewServer(ln net.Listener) *Server {
	s := &Server{
		clients:  make(map[*Client]struct{}),
		listener: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpServer = &http.Server{Handler: mux}
	return s
}

// Serve runs the accept loop until the listener closes or ctx is canceled.
// It returns once http.Server.Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.httpServer.Close()
	}()
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{ID: uuid.New(), conn: conn, send: make(chan []byte, 16)}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	go s.writePump(client)
	go s.readPump(client, r.RequestURI)
}

func (s *Server) readPump(c *Client, requestURI string) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.closeSend()
		_ = c.conn.Close()
		s.pushEvent(Event{Kind: EventClosed, Date: now(), Client: c})
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.pushEvent(Event{Kind: EventConnected, Date: now(), Client: c, URLString: requestURI})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			s.pushEvent(Event{Kind: EventUnsupportedDataType, Date: now(), Client: c})
			continue
		}
		s.pushEvent(Event{Kind: EventMessageReceived, Date: now(), Client: c, Data: string(data)})
	}
}

func (s *Server) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// pushEvent delivers to the attached dispatch, or queues it until one is
// attached.
func (s *Server) pushEvent(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatch != nil {
		s.dispatch(e)
		return
	}
	s.queue = append(s.queue, e)
}

// SetDispatch attaches the orchestrator's callback and drains any events
// queued since the server started (or since UnsetDispatch).
func (s *Server) SetDispatch(d Dispatch) {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.dispatch = d
	s.mu.Unlock()

	for _, e := range pending {
		d(e)
	}
}

// UnsetDispatch detaches the callback; subsequent events queue again. Used
// across a hot-mode restart so in-flight events are not lost.
func (s *Server) UnsetDispatch() {
	s.mu.Lock()
	s.dispatch = nil
	s.mu.Unlock()
}

// Send delivers a JSON text frame to one client. Returns false if the
// client's send buffer is full or it already disconnected.
func (s *Server) Send(c *Client, msg ServerMessage) (bool, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	return c.sendBytes(data), nil
}

// Broadcast delivers a JSON text frame to every currently connected client.
func (s *Server) Broadcast(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.sendBytes(data)
	}
	return nil
}

// Close shuts down the listener and every active connection.
func (s *Server) Close() error {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
	return s.httpServer.Close()
}

func now() time.Time { return time.Now() }
