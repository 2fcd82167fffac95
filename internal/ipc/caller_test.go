package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notification struct {
	op      Op
	message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []notification
}

func (r *recordingNotifier) Notify(op Op, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, notification{op: op, message: message})
}

func (r *recordingNotifier) all() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.seen...)
}

// rawTransport answers every request with a fixed frame or error.
type rawTransport struct {
	frame []byte
	err   error
	calls int
	last  Request
}

func (t *rawTransport) RoundTrip(_ context.Context, req Request) ([]byte, error) {
	t.calls++
	t.last = req
	return t.frame, t.err
}

func (t *rawTransport) Close() error { return nil }

func TestCallApplicationFailureNotifiesOnce(t *testing.T) {
	n := &recordingNotifier{}
	h := HandlerFunc(func(_ context.Context, req Request) Envelope {
		return Fail("port in use")
	})
	c := NewCaller(NewLocalTransport(h), n)

	err := c.Restart(context.Background(), "{}")
	require.Error(t, err)

	var ipcErr *Error
	require.True(t, errors.As(err, &ipcErr))
	assert.Equal(t, KindApplication, ipcErr.Kind)
	assert.Equal(t, "port in use", ipcErr.Message)
	assert.True(t, IsApplication(err))
	assert.False(t, IsTransport(err))
	assert.False(t, ipcErr.Retryable())

	assert.Equal(t, []notification{{op: OpRestart, message: "port in use"}}, n.all())
}

func TestCallPassesArgs(t *testing.T) {
	var got RestartArgs
	h := HandlerFunc(func(_ context.Context, req Request) Envelope {
		if req.Op != OpRestart {
			return Fail("wrong op")
		}
		if err := json.Unmarshal(req.Args, &got); err != nil {
			return Fail(err.Error())
		}
		return Envelope{Success: true}
	})
	c := NewCaller(NewLocalTransport(h), nil)

	require.NoError(t, c.Restart(context.Background(), `{"Listen":":7890"}`))
	assert.Equal(t, `{"Listen":":7890"}`, got.Config)
}

func TestLogsEmptyBatchIsNotAFailure(t *testing.T) {
	for name, env := range map[string]Envelope{
		"empty array":   {Success: true, Result: json.RawMessage(`[]`)},
		"null result":   {Success: true, Result: json.RawMessage(`null`)},
		"absent result": {Success: true},
	} {
		t.Run(name, func(t *testing.T) {
			n := &recordingNotifier{}
			h := HandlerFunc(func(context.Context, Request) Envelope { return env })
			c := NewCaller(NewLocalTransport(h), n)

			entries, err := c.Logs(context.Background())
			require.NoError(t, err)
			assert.NotNil(t, entries)
			assert.Empty(t, entries)
			assert.Empty(t, n.all())
		})
	}
}

func TestLogsDecodesEntries(t *testing.T) {
	h := HandlerFunc(func(context.Context, Request) Envelope {
		env, _ := OK([]map[string]string{
			{"level": "info", "message": "listening on :7890"},
			{"level": "warn", "message": "resolver slow"},
		})
		return env
	})
	c := NewCaller(NewLocalTransport(h), nil)

	entries, err := c.Logs(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "listening on :7890", entries[0].Message)
	assert.Equal(t, "warn", entries[1].Level)
}

func TestSelectFile(t *testing.T) {
	h := HandlerFunc(func(_ context.Context, req Request) Envelope {
		var args SelectFileArgs
		_ = json.Unmarshal(req.Args, &args)
		env, _ := OK("/home/me/" + args.Title + ".json")
		return env
	})
	c := NewCaller(NewLocalTransport(h), nil)

	path, err := c.SelectFile(context.Background(), "profile")
	require.NoError(t, err)
	assert.Equal(t, "/home/me/profile.json", path)
}

func TestCallUnknownOperationFailsFast(t *testing.T) {
	n := &recordingNotifier{}
	tr := &rawTransport{frame: []byte(`{"success":true}`)}
	c := NewCaller(tr, n)

	err := c.Call(context.Background(), Op("reboot"), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownOperation)

	var ipcErr *Error
	require.True(t, errors.As(err, &ipcErr))
	assert.Equal(t, KindUnknownOperation, ipcErr.Kind)
	assert.Zero(t, tr.calls)
	assert.Empty(t, n.all())
}

func TestCallTransportFailure(t *testing.T) {
	n := &recordingNotifier{}
	c := NewCaller(&rawTransport{err: errors.New("connection refused")}, n)

	err := c.Stop(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.False(t, IsApplication(err))

	seen := n.all()
	require.Len(t, seen, 1)
	assert.Equal(t, OpStop, seen[0].op)
	assert.Contains(t, seen[0].message, "backend unavailable")
}

func TestCallMalformedResponse(t *testing.T) {
	for name, frame := range map[string]string{
		"garbled":      `{"succ`,
		"no success":   `{"result":[]}`,
		"wrong result": `{"success":true,"result":{"not":"a list"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			n := &recordingNotifier{}
			c := NewCaller(&rawTransport{frame: []byte(frame)}, n)

			_, err := c.Logs(context.Background())
			require.Error(t, err)

			var ipcErr *Error
			require.True(t, errors.As(err, &ipcErr))
			assert.Equal(t, KindMalformed, ipcErr.Kind)
			assert.True(t, ipcErr.Retryable())
			assert.Len(t, n.all(), 1)
		})
	}
}

func TestCallAssignsIncreasingIDs(t *testing.T) {
	tr := &rawTransport{frame: []byte(`{"success":true}`)}
	c := NewCaller(tr, nil)

	require.NoError(t, c.Stop(context.Background()))
	first := tr.last.ID
	require.NoError(t, c.Stop(context.Background()))
	assert.Greater(t, tr.last.ID, first)
	assert.Nil(t, tr.last.Args)
}

func TestLocalTransportHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := HandlerFunc(func(ctx context.Context, _ Request) Envelope {
		cancel()
		<-ctx.Done()
		return Envelope{Success: true}
	})
	n := &recordingNotifier{}
	c := NewCaller(NewLocalTransport(h), n)

	_, err := c.Logs(ctx)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, n.all())
}
