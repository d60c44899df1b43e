package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/economy-engine/internal/metrics"
	"github.com/atmx/economy-engine/internal/model"
	"github.com/atmx/economy-engine/internal/wire"
)

// Message is a JSON event pushed to WebSocket clients.
type Message struct {
	Type        string             `json:"type"`
	UID         string             `json:"uid"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Wire        *WireView          `json:"wire,omitempty"`
}

// Event types.
const (
	EventTransaction = "transaction"
	EventWirePreview = "wire_preview"
	EventWireOutcome = "wire_outcome"
)

type outbound struct {
	uid  string
	data []byte
}

// Hub fans committed transactions and wire prompts out to WebSocket
// clients. A client connected with ?uid=X only receives X's events.
type Hub struct {
	clients    map[*websocket.Conn]string
	broadcast  chan outbound
	register   chan subscription
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	log        *slog.Logger
}

type subscription struct {
	conn *websocket.Conn
	uid  string
}

// NewHub creates a hub. Call Run before serving clients.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan outbound, 256),
		register:   make(chan subscription),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		log:        logger,
	}
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.clients[sub.conn] = sub.uid
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			h.log.Info("ws client connected", "uid", sub.uid, "total", n)

		case conn := <-h.unregister:
			h.drop(conn)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn, uid := range h.clients {
				if uid != "" && uid != msg.uid {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
					metrics.WebSocketClients.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
		metrics.WebSocketClients.Dec()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send queues msg for delivery. Messages are dropped when the buffer is
// full so ledger operations never block on slow clients.
func (h *Hub) Send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("ws encode failed", "type", msg.Type, "err", err)
		return
	}
	select {
	case h.broadcast <- outbound{uid: msg.UID, data: data}:
	default:
		h.log.Warn("ws buffer full, dropping event", "type", msg.Type, "uid", msg.UID)
	}
}

// Publish implements ledger.Publisher.
func (h *Hub) Publish(t model.Transaction) {
	h.Send(Message{Type: EventTransaction, UID: t.UID, Transaction: &t})
}

// Prompt implements wire.Prompter by pushing the preview to the sender.
func (h *Hub) Prompt(_ context.Context, s *wire.Session, _ wire.Preview) error {
	v := viewOf(s)
	h.Send(Message{Type: EventWirePreview, UID: s.From, Wire: &v})
	return nil
}

// Report implements wire.Prompter by pushing the outcome to the sender.
func (h *Hub) Report(_ context.Context, s *wire.Session, o wire.Outcome) {
	v := outcomeView(s, o)
	h.Send(Message{Type: EventWireOutcome, UID: s.From, Wire: &v})
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- subscription{conn: conn, uid: r.URL.Query().Get("uid")}:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	// Read pump: keeps the deadline fresh and detects disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()
}
