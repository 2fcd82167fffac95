package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Handler serves IPC requests in-process. The backend server implements it.
type Handler interface {
	ServeIPC(ctx context.Context, req Request) Envelope
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) Envelope

func (f HandlerFunc) ServeIPC(ctx context.Context, req Request) Envelope { return f(ctx, req) }

// LocalTransport calls a Handler directly, framing responses exactly like the
// websocket transport does.
type LocalTransport struct {
	handler Handler
}

func NewLocalTransport(h Handler) *LocalTransport {
	return &LocalTransport{handler: h}
}

func (t *LocalTransport) RoundTrip(ctx context.Context, req Request) ([]byte, error) {
	if t.handler == nil {
		return nil, errors.New("no backend attached")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	env := t.handler.ServeIPC(ctx, req)
	// A handler that gave up because ctx ended did not answer.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(Response{ID: req.ID, Envelope: env})
	if err != nil {
		return nil, fmt.Errorf("encode local response: %w", err)
	}
	return data, nil
}

func (t *LocalTransport) Close() error { return nil }
