package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nlink_desk/internal/shared/logger"
)

// ErrTransportClosed is returned by calls made after Close.
var ErrTransportClosed = errors.New("ipc transport closed")

const wsWriteWait = 10 * time.Second

// WSTransport multiplexes calls over a single websocket to the backend. The connection
// is dialed on first use and redialed after it breaks; calls pending on a broken
// connection all fail.
type WSTransport struct {
	url    string
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan []byte
	closed  bool

	writeMu sync.Mutex
}

func NewWSTransport(url string) *WSTransport {
	return &WSTransport{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		log:     logger.WithComponent("IPC"),
		pending: make(map[uint64]chan []byte),
	}
}

func (t *WSTransport) RoundTrip(ctx context.Context, req Request) ([]byte, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, 1)
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return nil, errors.New("connection lost before send")
	}
	t.pending[req.ID] = ch
	t.mu.Unlock()
	defer t.forget(req.ID)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	t.writeMu.Unlock()
	if err != nil {
		t.drop(conn, err)
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case data, ok := <-ch:
		if !ok {
			return nil, errors.New("connection to backend lost")
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// connect returns the live connection or dials one. The dial runs without t.mu so Close
// and other calls are not held up by a slow handshake.
func (t *WSTransport) connect(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if t.conn != nil {
		conn := t.conn
		t.mu.Unlock()
		return conn, nil
	}
	t.mu.Unlock()

	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial backend %s: %w", t.url, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		conn.Close()
		return nil, ErrTransportClosed
	}
	if t.conn != nil {
		// a concurrent call connected first
		conn.Close()
		return t.conn, nil
	}
	t.log.Info().Str("url", t.url).Msg("Connected to backend")
	t.conn = conn
	go t.readLoop(conn)
	return conn, nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.drop(conn, err)
			return
		}
		var frame struct {
			ID *uint64 `json:"id"`
		}
		if err := json.Unmarshal(data, &frame); err != nil || frame.ID == nil {
			t.log.Warn().Int("bytes", len(data)).Msg("Discarding uncorrelated frame from backend")
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[*frame.ID]
		delete(t.pending, *frame.ID)
		t.mu.Unlock()
		if ok {
			ch <- data
		}
	}
}

// drop tears down conn if it is still current and fails every call waiting on it.
func (t *WSTransport) drop(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	pending := t.pending
	t.pending = make(map[uint64]chan []byte)
	t.mu.Unlock()

	_ = conn.Close()
	if !t.isClosed() && !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		t.log.Warn().Err(cause).Int("pending", len(pending)).Msg("Backend connection lost")
	}
	for _, ch := range pending {
		close(ch)
	}
}

func (t *WSTransport) forget(id uint64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *WSTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close shuts the connection down. Pending calls fail.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.writeMu.Unlock()
	t.drop(conn, ErrTransportClosed)
	return nil
}
