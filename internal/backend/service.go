// Package backend is the reference backend process: it applies routing profiles and
// streams its own logs to the shell over IPC.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nlink_desk/internal/rules"
	"nlink_desk/internal/shared/logger"
	"nlink_desk/internal/shared/types"
)

const (
	DefaultHeartbeat = 25 * time.Second
	maxBatch         = 1000
)

// ErrNoDialog is returned by the default picker when no file dialog can be shown.
var ErrNoDialog = errors.New("no file dialog available on this backend")

// FilePicker shows a native file dialog.
type FilePicker interface {
	PickFile(ctx context.Context, title string) (string, error)
}

type noDialog struct{}

func (noDialog) PickFile(context.Context, string) (string, error) { return "", ErrNoDialog }

// Status describes the active routing setup.
type Status struct {
	Running  bool   `json:"running"`
	Listen   string `json:"listen,omitempty"`
	Rules    int    `json:"rules"`
	Servers  int    `json:"servers"`
	Restarts int    `json:"restarts"`
	Dropped  uint64 `json:"dropped_logs"`
}

// Options configures a Service.
type Options struct {
	Heartbeat time.Duration
	Picker    FilePicker
	Geo       rules.CountryLookup
	// ProbeListen checks that the config's listen address can be bound before applying it.
	ProbeListen bool
}

// Service implements the backend operations.
type Service struct {
	sink      *LogSink
	picker    FilePicker
	geo       rules.CountryLookup
	heartbeat time.Duration
	probe     bool
	log       zerolog.Logger

	mu       sync.RWMutex
	engine   *rules.Engine
	config   *rules.RoutingConfig
	running  bool
	restarts int
}

func NewService(sink *LogSink, opts Options) *Service {
	if sink == nil {
		sink = NewLogSink(SinkCapacity)
	}
	s := &Service{
		sink:      sink,
		picker:    opts.Picker,
		geo:       opts.Geo,
		heartbeat: opts.Heartbeat,
		probe:     opts.ProbeListen,
		log:       logger.WithComponent("Backend"),
	}
	if s.picker == nil {
		s.picker = noDialog{}
	}
	if s.heartbeat <= 0 {
		s.heartbeat = DefaultHeartbeat
	}
	return s
}

// Restart parses, validates and compiles content, then swaps it in. On failure the
// previous configuration stays active and the error text is meant for the user.
func (s *Service) Restart(content string) error {
	cfg, err := rules.Decode([]byte(content))
	if err != nil {
		s.log.Error().Err(err).Msg("Rejected configuration")
		return err
	}
	engine, err := rules.Compile(cfg, s.geo)
	if err != nil {
		s.log.Error().Err(err).Msg("Rejected configuration")
		return err
	}
	if s.probe && cfg.Listen != "" {
		if err := probeListen(string(cfg.Net), cfg.Listen); err != nil {
			s.log.Error().Err(err).Str("listen", cfg.Listen).Msg("Listen address unavailable")
			return err
		}
	}

	s.mu.Lock()
	s.engine = engine
	s.config = cfg
	s.running = true
	s.restarts++
	s.mu.Unlock()

	s.log.Info().
		Str("listen", cfg.Listen).
		Str("net", string(cfg.Net)).
		Int("rules", engine.Len()).
		Int("servers", len(cfg.Servers)).
		Int("resolvers", len(cfg.Resolvers)).
		Msg("Routing configuration applied")
	return nil
}

func probeListen(network, addr string) error {
	if network == string(rules.NetworkUDP) {
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: port in use or not permitted: %w", addr, err)
		}
		return pc.Close()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: port in use or not permitted: %w", addr, err)
	}
	return ln.Close()
}

// Stop deactivates routing. Stopping an idle backend is not an error.
func (s *Service) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.engine = nil
	s.mu.Unlock()
	if wasRunning {
		s.log.Info().Msg("Routing stopped")
	}
}

// Logs blocks until at least one log entry is available or the heartbeat elapses,
// then returns what is queued, up to a bounded batch.
func (s *Service) Logs(ctx context.Context) []types.LogEntry {
	return s.sink.Next(ctx.Done(), s.heartbeat, maxBatch)
}

// SelectFile asks the picker for a file.
func (s *Service) SelectFile(ctx context.Context, title string) (string, error) {
	return s.picker.PickFile(ctx, title)
}

// Route evaluates the active rule set. ok is false when routing is stopped.
func (s *Service) Route(meta rules.Meta) (d rules.Decision, ok bool) {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()
	if engine == nil {
		return rules.Decision{}, false
	}
	return engine.Match(meta), true
}

func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{Running: s.running, Restarts: s.restarts, Dropped: s.sink.Dropped()}
	if s.config != nil {
		st.Listen = s.config.Listen
		st.Servers = len(s.config.Servers)
	}
	if s.engine != nil {
		st.Rules = s.engine.Len()
	}
	return st
}
