package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nlink_desk/internal/ipc"
	"nlink_desk/internal/shared/logger"
	"nlink_desk/internal/shared/types"
)

// WebSocket message types.
const (
	MessageNotification  = "notification"
	MessageLogs          = "logs"
	MessageStatusUpdate  = "status_update"
	broadcastQueueLength = 256
	hubWriteWait         = 5 * time.Second
)

// Notification is a user-visible failure pushed to every connected UI.
type Notification struct {
	Time    time.Time `json:"time"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
}

// WebSocketMessage is the envelope of every pushed message.
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
// It is the ipc.Notifier of the shell, so every IPC failure reaches the UI exactly once.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.Mutex
	log        zerolog.Logger

	recentMu sync.Mutex
	recent   []Notification
}

var _ ipc.Notifier = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, broadcastQueueLength),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		clients:    make(map[*websocket.Conn]bool),
		done:       make(chan struct{}),
		log:        logger.WithComponent("Web/Hub"),
	}
}

// Run pumps registrations and broadcasts until ctx is done, then closes every client.
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
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			h.log.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered.")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				h.log.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				_ = conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client.")
					// the read pump unregisters it
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify implements ipc.Notifier.
func (h *Hub) Notify(op ipc.Op, message string) {
	n := Notification{Time: time.Now().UTC(), Op: string(op), Message: message}
	h.recentMu.Lock()
	h.recent = append(h.recent, n)
	if len(h.recent) > 20 {
		h.recent = h.recent[len(h.recent)-20:]
	}
	h.recentMu.Unlock()

	h.log.Warn().Str("op", n.Op).Msg(message)
	h.send(WebSocketMessage{Type: MessageNotification, Data: n}, true)
}

// RecentNotifications returns the last notifications, oldest first.
func (h *Hub) RecentNotifications() []Notification {
	h.recentMu.Lock()
	defer h.recentMu.Unlock()
	return append([]Notification(nil), h.recent...)
}

// BroadcastLogs pushes a freshly buffered log batch.
func (h *Hub) BroadcastLogs(entries []types.LogEntry) {
	if len(entries) == 0 {
		return
	}
	// Do not log a full channel here to avoid log spam.
	h.send(WebSocketMessage{Type: MessageLogs, Data: entries}, false)
}

// BroadcastStatusUpdate tells clients to reload the status.
func (h *Hub) BroadcastStatusUpdate() {
	h.send(WebSocketMessage{Type: MessageStatusUpdate, Data: nil}, true)
}

func (h *Hub) send(msg WebSocketMessage, warnIfFull bool) {
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("Hub: Failed to marshal message")
		return
	}
	select {
	case h.broadcast <- jsonMsg:
	default:
		if warnIfFull {
			h.log.Warn().Str("type", msg.Type).Msg("Hub: Broadcast channel is full, skipping message.")
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all origins
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	select {
	case hub.register <- conn:
	case <-hub.done:
		conn.Close()
		return
	}

	// Read pump: only used to detect when the client goes away.
	go func() {
		defer func() {
			select {
			case hub.unregister <- conn:
			case <-hub.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					hub.log.Warn().Err(err).Msg("Unexpected websocket close error")
				}
				break
			}
		}
	}()
}
