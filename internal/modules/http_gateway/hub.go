package httpgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mikey-austin/cuebox/internal/metrics"
	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type wsFrame struct {
	key     sessioncore.SessionKey
	payload []byte
}

type wsDirect struct {
	client  *wsClient
	payload []byte
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	key  sessioncore.SessionKey
	send chan []byte
}

// Hub fans session snapshots out to the WebSocket clients watching them.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan wsFrame
	register   chan *wsClient
	unregister chan *wsClient
	direct     chan wsDirect
	done       chan struct{}
	closeOnce  sync.Once
	count      atomic.Int64
	log        *zap.Logger
}

// NewHub returns a hub; call Run to start it.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan wsFrame, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		direct:     make(chan wsDirect),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves the hub until Close.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				if client.conn != nil {
					_ = client.conn.WriteControl(
						websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
						time.Now().Add(2*time.Second),
					)
				}
				close(client.send)
				delete(h.clients, client)
			}
			h.setCount()
			h.log.Debug("ws hub stopped")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.setCount()
			h.log.Debug("ws client connected", zap.String("session", client.key.String()), zap.Int("total", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.setCount()
				h.log.Debug("ws client disconnected", zap.String("session", client.key.String()), zap.Int("total", len(h.clients)))
			}
		case msg := <-h.direct:
			if _, ok := h.clients[msg.client]; !ok {
				continue
			}
			select {
			case msg.client.send <- msg.payload:
			default:
				close(msg.client.send)
				delete(h.clients, msg.client)
				h.setCount()
			}
		case frame := <-h.broadcast:
			for client := range h.clients {
				if client.key != frame.key {
					continue
				}
				select {
				case client.send <- frame.payload:
				default:
					close(client.send)
					delete(h.clients, client)
					h.setCount()
				}
			}
		}
	}
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.clients)))
	metrics.WSClients.Set(float64(len(h.clients)))
}

// Close stops the hub and disconnects every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Push queues state for the clients watching key. A full queue drops the
// update; the next snapshot supersedes it.
func (h *Hub) Push(_ context.Context, key sessioncore.SessionKey, state cue.SessionState) error {
	payload, err := encodeState(state)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- wsFrame{key: key, payload: payload}:
	case <-h.done:
	default:
		h.log.Debug("ws broadcast queue full", zap.String("session", key.String()))
	}
	return nil
}

// sendTo queues payload for one registered client. Clients that already
// left are skipped.
func (h *Hub) sendTo(client *wsClient, payload []byte) {
	select {
	case h.direct <- wsDirect{client: client, payload: payload}:
	case <-h.done:
	}
}

func encodeState(state cue.SessionState) ([]byte, error) {
	return json.Marshal(wsMessage{Type: "state", Data: state})
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
