package backend

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlink_desk/internal/shared/types"
)

func TestLogSinkCapturesZerologEvents(t *testing.T) {
	sink := NewLogSink(10)
	log := zerolog.New(sink).With().Timestamp().Str("component", "Backend").Logger()

	log.Warn().Msg("resolver slow")
	log.Error().Err(assert.AnError).Msg("dial failed")

	got := sink.Next(nil, time.Second, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "warn", got[0].Level)
	assert.Equal(t, "Backend", got[0].Component)
	assert.Equal(t, "resolver slow", got[0].Message)
	assert.False(t, got[0].Time.IsZero())
	assert.Equal(t, "error", got[1].Level)
	assert.Contains(t, got[1].Message, assert.AnError.Error())
}

func TestLogSinkKeepsUnstructuredLines(t *testing.T) {
	sink := NewLogSink(10)
	n, err := sink.Write([]byte("plain text line\n"))
	require.NoError(t, err)
	assert.Equal(t, len("plain text line\n"), n)

	got := sink.Next(nil, time.Second, 10)
	require.Len(t, got, 1)
	assert.Equal(t, "plain text line", got[0].Message)
	assert.Equal(t, "info", got[0].Level)
}

func TestLogSinkDropsWhenFull(t *testing.T) {
	sink := NewLogSink(3)
	for i := 0; i < 5; i++ {
		sink.Push(types.LogEntry{Message: "x"})
	}
	assert.Equal(t, uint64(2), sink.Dropped())
	assert.Len(t, sink.Next(nil, time.Second, 10), 3)
}

func TestLogSinkNextBoundsBatch(t *testing.T) {
	sink := NewLogSink(50)
	for i := 0; i < 20; i++ {
		sink.Push(types.LogEntry{Message: "x"})
	}
	// First entry plus up to the limit more.
	assert.Len(t, sink.Next(nil, time.Second, 5), 6)
	assert.Len(t, sink.Next(nil, time.Second, 100), 14)
}
