package logstream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nlink_desk/internal/ipc"
	"nlink_desk/internal/shared/logger"
	"nlink_desk/internal/shared/types"
)

const (
	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second
)

// Fetcher long-polls the backend for the next batch of log entries.
type Fetcher interface {
	Logs(ctx context.Context) ([]types.LogEntry, error)
}

// Option configures a Loop.
type Option func(*Loop)

// WithBackoff sets the retry delay bounds used after a failed fetch.
func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(l *Loop) {
		if minDelay > 0 {
			l.minBackoff = minDelay
		}
		if maxDelay >= l.minBackoff {
			l.maxBackoff = maxDelay
		}
	}
}

// WithOnBatch registers a hook called with every non-empty batch after it is buffered.
func WithOnBatch(fn func([]types.LogEntry)) Option {
	return func(l *Loop) { l.onBatch = fn }
}

// Loop fetches log batches one at a time and appends them to a Buffer. At most one
// fetch is in flight per Loop.
type Loop struct {
	fetcher    Fetcher
	buffer     *Buffer
	onBatch    func([]types.LogEntry)
	minBackoff time.Duration
	maxBackoff time.Duration
	log        zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLoop(fetcher Fetcher, buffer *Buffer, opts ...Option) *Loop {
	l := &Loop{
		fetcher:    fetcher,
		buffer:     buffer,
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
		log:        logger.WithComponent("LogStream"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the loop. It returns false, and does nothing, if the loop is already
// running.
func (l *Loop) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(runCtx, l.done)
	l.log.Info().Msg("Log stream started")
	return true
}

// Running reports whether the loop goroutine is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}

// Stop cancels the loop and waits for the in-flight fetch to return. It is a no-op when
// the loop is not running.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer func() {
		l.mu.Lock()
		if l.done == done {
			l.done = nil
			l.cancel = nil
		}
		l.mu.Unlock()
		close(done)
		l.log.Info().Msg("Log stream stopped")
	}()

	delay := l.minBackoff
	for ctx.Err() == nil {
		entries, err := l.fetcher.Logs(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// The ipc layer has already told the user; just pace the retries.
			l.log.Debug().Err(err).Bool("transport", ipc.IsTransport(err)).Dur("retry_in", delay).Msg("Log fetch failed")
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = min(delay*2, l.maxBackoff)
			continue
		}
		delay = l.minBackoff
		if len(entries) == 0 {
			continue
		}
		l.buffer.Append(entries...)
		if l.onBatch != nil {
			l.onBatch(entries)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
