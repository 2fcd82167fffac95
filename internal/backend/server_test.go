package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlink_desk/internal/ipc"
	"nlink_desk/internal/shared/types"
)

type fixedPicker string

func (p fixedPicker) PickFile(context.Context, string) (string, error) { return string(p), nil }

type countingNotifier struct{ messages []string }

func (n *countingNotifier) Notify(_ ipc.Op, message string) { n.messages = append(n.messages, message) }

func newTestBackend(t *testing.T) (*Server, *LogSink, *httptest.Server) {
	t.Helper()
	sink := NewLogSink(100)
	srv := NewServer(NewService(sink, Options{Heartbeat: 50 * time.Millisecond, Picker: fixedPicker("/tmp/chosen.json")}))
	hs := httptest.NewServer(srv.Router())
	t.Cleanup(hs.Close)
	return srv, sink, hs
}

func TestServeIPCThroughLocalTransport(t *testing.T) {
	srv, sink, _ := newTestBackend(t)
	n := &countingNotifier{}
	c := ipc.NewCaller(ipc.NewLocalTransport(srv), n)
	ctx := context.Background()

	require.NoError(t, c.Restart(ctx, testConfig))
	require.NoError(t, c.Stop(ctx))

	path, err := c.SelectFile(ctx, "Import profile")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/chosen.json", path)

	sink.Push(types.LogEntry{Level: "info", Message: "hello shell"})
	entries, err := c.Logs(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello shell", entries[0].Message)

	entries, err = c.Logs(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = c.Restart(ctx, `{"Net":"tcp","Rules":["match, forward: osaka"]}`)
	require.Error(t, err)
	assert.True(t, ipc.IsApplication(err))
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "osaka")
}

func TestServeIPCUnknownOperation(t *testing.T) {
	srv, _, _ := newTestBackend(t)
	env := srv.ServeIPC(context.Background(), ipc.Request{ID: 1, Op: ipc.Op("reboot")})
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "unknown operation")
}

func TestIPCOverWebsocket(t *testing.T) {
	_, sink, hs := newTestBackend(t)
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ipc"
	c := ipc.NewCaller(ipc.NewWSTransport(url), nil)
	defer c.Close()
	ctx := context.Background()

	// A pending long poll does not hold up restart.
	logsDone := make(chan []types.LogEntry, 1)
	go func() {
		entries, _ := c.Logs(ctx)
		logsDone <- entries
	}()
	require.NoError(t, c.Restart(ctx, testConfig))

	sink.Push(types.LogEntry{Message: "after restart"})
	select {
	case <-logsDone:
	case <-time.After(5 * time.Second):
		t.Fatal("logs call did not return")
	}
}

func TestRawUnknownOpFrame(t *testing.T) {
	_, _, hs := newTestBackend(t)
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ipc"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":9,"op":"format_disk"}`)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	resp, err := ipc.DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), resp.ID)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "format_disk")
}

func TestHealthz(t *testing.T) {
	_, _, hs := newTestBackend(t)
	resp, err := http.Get(hs.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.False(t, st.Running)
}

func TestServeStopsWithContext(t *testing.T) {
	srv, _, _ := newTestBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
