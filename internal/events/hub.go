// Package events pushes committed invocations to WebSocket subscribers.
package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/auction-pool/internal/agent"
	"github.com/atmx/auction-pool/internal/metrics"
	"github.com/atmx/auction-pool/internal/model"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

// Message is a JSON message sent to WebSocket clients.
type Message struct {
	Type       string              `json:"type"`
	ID         string              `json:"id"`
	Command    string              `json:"command"`
	Sender     string              `json:"sender"`
	Attributes map[string]string   `json:"attributes,omitempty"`
	Events     []model.Event       `json:"events,omitempty"`
	Ledger     *model.GlobalLedger `json:"ledger,omitempty"`
}

// subscriber owns one connection. Only its writer goroutine writes to conn.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans committed invocations out to subscribers. A subscriber whose
// queue is full is disconnected rather than slowing the others.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	publish chan []byte
	join    chan *subscriber
	leave   chan *subscriber
	stopped chan struct{}
}

var _ agent.Observer = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		subs:    make(map[*subscriber]struct{}),
		publish: make(chan []byte, 256),
		join:    make(chan *subscriber),
		leave:   make(chan *subscriber),
		stopped: make(chan struct{}),
	}
}

// Run owns the subscriber set until done is closed. Must be called in a
// goroutine.
func (h *Hub) Run(done <-chan struct{}) {
	defer close(h.stopped)
	for {
		select {
		case <-done:
			h.mu.Lock()
			for s := range h.subs {
				h.drop(s)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case s := <-h.join:
			h.mu.Lock()
			h.subs[s] = struct{}{}
			n := len(h.subs)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws subscriber joined", "total", n)

		case s := <-h.leave:
			h.mu.Lock()
			if _, ok := h.subs[s]; ok {
				h.drop(s)
			}
			n := len(h.subs)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case msg := <-h.publish:
			h.mu.Lock()
			for s := range h.subs {
				select {
				case s.send <- msg:
				default:
					slog.Warn("ws subscriber too slow, disconnecting")
					h.drop(s)
				}
			}
			n := len(h.subs)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
		}
	}
}

// drop must be called with mu held.
func (h *Hub) drop(s *subscriber) {
	delete(h.subs, s)
	close(s.send)
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast queues msg for every subscriber. It never blocks; when the hub
// is backlogged the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws encode failed", "err", err)
		return
	}
	select {
	case h.publish <- data:
	default:
		slog.Warn("ws hub backlogged, dropping message", "type", msg.Type, "id", msg.ID)
	}
}

func (h *Hub) InvocationCommitted(res *agent.Result, _ time.Duration) {
	h.Broadcast(Message{
		Type:       "invocation",
		ID:         res.ID,
		Command:    res.Command,
		Sender:     res.Sender,
		Attributes: res.Attributes,
		Events:     res.Events,
		Ledger:     res.Ledger,
	})
}

// InvocationAborted is a no-op: aborted invocations leave no state to report.
func (h *Hub) InvocationAborted(string, error, time.Duration) {}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleWS upgrades GET /api/v1/ws. Subscribers only receive; anything they
// send is discarded.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	s := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}

	select {
	case h.join <- s:
	case <-h.stopped:
		conn.Close()
		return
	}

	go s.write()
	go h.read(s)
}

// write drains the subscriber's queue and keeps the connection alive. It
// closes the connection once the hub closes the queue.
func (s *subscriber) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// read detects disconnects and unregisters the subscriber.
func (h *Hub) read(s *subscriber) {
	defer func() {
		select {
		case h.leave <- s:
		case <-h.stopped:
		}
	}()
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
