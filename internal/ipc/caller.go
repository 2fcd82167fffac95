package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nlink_desk/internal/shared/logger"
	"nlink_desk/internal/shared/types"
)

// Transport carries one request to the backend and returns the raw response frame.
// A non-nil error always means the backend was not reached or the connection failed.
type Transport interface {
	RoundTrip(ctx context.Context, req Request) ([]byte, error)
	Close() error
}

// Notifier surfaces a failure to the user.
type Notifier interface {
	Notify(op Op, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(op Op, message string)

func (f NotifierFunc) Notify(op Op, message string) { f(op, message) }

type nopNotifier struct{}

func (nopNotifier) Notify(Op, string) {}

// Caller issues operations over a Transport and turns responses into results or *Error.
// Each failed call is reported to the Notifier exactly once; callers must not notify again.
type Caller struct {
	transport Transport
	notifier  Notifier
	log       zerolog.Logger
	nextID    atomic.Uint64
}

// NewCaller creates a Caller. A nil notifier discards notifications.
func NewCaller(transport Transport, notifier Notifier) *Caller {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Caller{
		transport: transport,
		notifier:  notifier,
		log:       logger.WithComponent("IPC"),
	}
}

// Close closes the underlying transport.
func (c *Caller) Close() error {
	return c.transport.Close()
}

// Call invokes op with args. On success the result payload is decoded into out when
// out is non-nil. Unknown ops fail with KindUnknownOperation before anything is sent.
func (c *Caller) Call(ctx context.Context, op Op, args any, out any) error {
	if !op.Valid() {
		c.log.Error().Str("op", string(op)).Msg("Rejected call to unknown operation")
		return &Error{Op: op, Kind: KindUnknownOperation, Err: fmt.Errorf("%w %q", ErrUnknownOperation, op)}
	}

	req := Request{ID: c.nextID.Add(1), Op: op}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("ipc %s: encode args: %w", op, err)
		}
		req.Args = raw
	}

	start := time.Now()
	err := c.roundTrip(ctx, req, out)
	elapsed := time.Since(start)
	if err == nil {
		ev := c.log.Debug()
		if op == OpLogs {
			// a standalone backend captures this logger too
			ev = c.log.Trace()
		}
		ev.Str("op", string(op)).Uint64("id", req.ID).Dur("took", elapsed).Msg("Call succeeded")
		return nil
	}

	ipcErr := err.(*Error)
	if ctx.Err() != nil {
		// The caller gave up; nobody is waiting for this outcome.
		c.log.Debug().Str("op", string(op)).Uint64("id", req.ID).Err(ctx.Err()).Msg("Call abandoned")
		return ipcErr
	}
	c.log.Warn().
		Str("op", string(op)).
		Uint64("id", req.ID).
		Dur("took", elapsed).
		Str("kind", ipcErr.Kind.String()).
		Err(ipcErr).
		Msg("Call failed")
	c.notifier.Notify(op, ipcErr.UserMessage())
	return ipcErr
}

func (c *Caller) roundTrip(ctx context.Context, req Request, out any) error {
	data, err := c.transport.RoundTrip(ctx, req)
	if err != nil {
		return &Error{Op: req.Op, Kind: KindTransport, Err: err}
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		return &Error{Op: req.Op, Kind: KindMalformed, Message: "malformed response", Err: err}
	}
	if !env.Success {
		return &Error{Op: req.Op, Kind: KindApplication, Message: env.Message}
	}
	if out != nil && env.Result != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &Error{Op: req.Op, Kind: KindMalformed, Message: "unexpected result payload", Err: err}
		}
	}
	return nil
}

// RestartArgs is the payload of the restart operation.
type RestartArgs struct {
	Config string `json:"config"`
}

// SelectFileArgs is the payload of the select_file operation.
type SelectFileArgs struct {
	Title string `json:"title"`
}

// Restart asks the backend to apply configContent and restart.
func (c *Caller) Restart(ctx context.Context, configContent string) error {
	return c.Call(ctx, OpRestart, RestartArgs{Config: configContent}, nil)
}

// Stop asks the backend to stop serving.
func (c *Caller) Stop(ctx context.Context) error {
	return c.Call(ctx, OpStop, nil, nil)
}

// Logs long-polls the backend for the next batch of log entries. A missing or null
// result is an empty batch.
func (c *Caller) Logs(ctx context.Context) ([]types.LogEntry, error) {
	var entries []types.LogEntry
	if err := c.Call(ctx, OpLogs, nil, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []types.LogEntry{}
	}
	return entries, nil
}

// SelectFile asks the backend to show a file picker and returns the chosen path.
func (c *Caller) SelectFile(ctx context.Context, title string) (string, error) {
	var path string
	if err := c.Call(ctx, OpSelectFile, SelectFileArgs{Title: title}, &path); err != nil {
		return "", err
	}
	return path, nil
}
