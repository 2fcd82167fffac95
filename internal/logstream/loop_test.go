package logstream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlink_desk/internal/ipc"
	"nlink_desk/internal/shared/types"
)

type fetchResult struct {
	entries []types.LogEntry
	err     error
}

// scriptedFetcher hands out queued results and blocks once the queue is empty, like a
// long poll with nothing to report.
type scriptedFetcher struct {
	mu       sync.Mutex
	queue    []fetchResult
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *scriptedFetcher) push(r fetchResult) {
	f.mu.Lock()
	f.queue = append(f.queue, r)
	f.mu.Unlock()
}

func (f *scriptedFetcher) Logs(ctx context.Context) ([]types.LogEntry, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxSeen.Load()
		if n <= cur || f.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}

	for {
		f.mu.Lock()
		if len(f.queue) > 0 {
			r := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			return r.entries, r.err
		}
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLoopAppendsBatchesInOrder(t *testing.T) {
	f := &scriptedFetcher{}
	f.push(fetchResult{entries: entries(0, 3)})
	f.push(fetchResult{entries: []types.LogEntry{}})
	f.push(fetchResult{entries: entries(3, 2)})

	var batches atomic.Int32
	b := NewBuffer(10)
	l := NewLoop(f, b, WithOnBatch(func([]types.LogEntry) { batches.Add(1) }))
	require.True(t, l.Start(context.Background()))
	defer l.Stop()

	require.Eventually(t, func() bool { return b.Len() == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"line 0", "line 1", "line 2", "line 3", "line 4"}, messages(b.ReadTail(0)))
	assert.Equal(t, int32(2), batches.Load(), "empty batches are not forwarded")
}

func TestLoopStartIsIdempotent(t *testing.T) {
	f := &scriptedFetcher{}
	l := NewLoop(f, NewBuffer(10))

	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Start(context.Background()) {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	defer l.Stop()

	assert.Equal(t, int32(1), started.Load())
	for i := 0; i < 5; i++ {
		f.push(fetchResult{entries: entries(i, 1)})
	}
	require.Eventually(t, func() bool { return f.calls.Load() >= 6 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), f.maxSeen.Load(), "never more than one fetch in flight")
}

func TestLoopRetriesAfterFailures(t *testing.T) {
	f := &scriptedFetcher{}
	f.push(fetchResult{err: &ipc.Error{Op: ipc.OpLogs, Kind: ipc.KindTransport, Err: errors.New("refused")}})
	f.push(fetchResult{err: &ipc.Error{Op: ipc.OpLogs, Kind: ipc.KindApplication, Message: "log capture disabled"}})
	f.push(fetchResult{entries: entries(0, 1)})

	b := NewBuffer(10)
	l := NewLoop(f, b, WithBackoff(time.Millisecond, 4*time.Millisecond))
	require.True(t, l.Start(context.Background()))
	defer l.Stop()

	require.Eventually(t, func() bool { return b.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, f.calls.Load(), int32(3))
}

func TestLoopStopWaitsAndAllowsRestart(t *testing.T) {
	f := &scriptedFetcher{}
	l := NewLoop(f, NewBuffer(10))

	require.True(t, l.Start(context.Background()))
	require.Eventually(t, func() bool { return f.inFlight.Load() == 1 }, time.Second, time.Millisecond)

	l.Stop()
	assert.False(t, l.Running())
	assert.Equal(t, int32(0), f.inFlight.Load())
	l.Stop()

	require.True(t, l.Start(context.Background()))
	assert.True(t, l.Running())
	l.Stop()
}

func TestLoopEndsWithParentContext(t *testing.T) {
	f := &scriptedFetcher{}
	l := NewLoop(f, NewBuffer(10))
	ctx, cancel := context.WithCancel(context.Background())

	require.True(t, l.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return !l.Running() }, time.Second, time.Millisecond)
}
