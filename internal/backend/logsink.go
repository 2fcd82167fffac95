package backend

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nlink_desk/internal/shared/types"
)

// SinkCapacity is the number of entries held for the next logs call before new ones
// are dropped.
const SinkCapacity = 1000

// LogSink captures the backend's own zerolog output so it can be handed to the shell
// through the logs operation. Pass it to logger.Init as an extra writer.
type LogSink struct {
	entries chan types.LogEntry
	dropped atomic.Uint64
}

func NewLogSink(capacity int) *LogSink {
	if capacity <= 0 {
		capacity = SinkCapacity
	}
	return &LogSink{entries: make(chan types.LogEntry, capacity)}
}

type zerologLine struct {
	Time      string `json:"time"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

// Write receives one JSON-encoded zerolog event. It never blocks and never fails, so a
// slow shell cannot stall logging.
func (s *LogSink) Write(p []byte) (int, error) {
	var line zerologLine
	entry := types.LogEntry{Time: time.Now().UTC(), Level: zerolog.InfoLevel.String()}
	if err := json.Unmarshal(p, &line); err != nil {
		entry.Message = strings.TrimSpace(string(p))
	} else {
		if t, err := time.Parse(zerolog.TimeFieldFormat, line.Time); err == nil {
			entry.Time = t.UTC()
		}
		if line.Level != "" {
			entry.Level = line.Level
		}
		entry.Component = line.Component
		entry.Message = line.Message
		if line.Error != "" {
			entry.Message = strings.TrimSpace(entry.Message + " error=" + line.Error)
		}
	}
	s.Push(entry)
	return len(p), nil
}

// Push queues an entry, dropping it when the sink is full.
func (s *LogSink) Push(e types.LogEntry) {
	select {
	case s.entries <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many entries were discarded because nobody was reading.
func (s *LogSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Next waits up to wait for at least one entry, then drains up to limit more without
// blocking. The result is empty, never nil, when nothing arrived.
func (s *LogSink) Next(done <-chan struct{}, wait time.Duration, limit int) []types.LogEntry {
	out := []types.LogEntry{}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case e := <-s.entries:
		out = append(out, e)
	case <-timer.C:
		return out
	case <-done:
		return out
	}
	for len(out) <= limit {
		select {
		case e := <-s.entries:
			out = append(out, e)
		default:
			return out
		}
	}
	return out
}
