package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nlink_desk/internal/ipc"
	"nlink_desk/internal/logstream"
	"nlink_desk/internal/profile"
	"nlink_desk/internal/service/web"
	"nlink_desk/internal/shared/logger"
	"nlink_desk/internal/shared/types"
)

// Shell holds all UI-side state. It is created once per process and torn down with Close.
type Shell struct {
	cfg     *types.Config
	buffer  *logstream.Buffer
	loop    *logstream.Loop
	store   *profile.Store
	fetcher *profile.Fetcher
	caller  *ipc.Caller
	hub     *web.Hub
	web     *web.Server
	log     zerolog.Logger

	startedAt time.Time
	closeOnce sync.Once
}

var _ web.ShellController = (*Shell)(nil)

// NewShell wires a shell around transport. The profile store is opened from the
// configured storage.
func NewShell(cfg *types.Config, transport ipc.Transport) (*Shell, error) {
	storage, err := profile.OpenStorage(cfg.ProfileConf.Storage, cfg.ProfileConf.Path)
	if err != nil {
		return nil, err
	}
	store, err := profile.Open(storage)
	if err != nil {
		storage.Close()
		return nil, err
	}

	hub := web.NewHub()
	caller := ipc.NewCaller(transport, hub)
	buffer := logstream.NewBuffer(cfg.UIConf.LogCapacity)

	s := &Shell{
		cfg:       cfg,
		buffer:    buffer,
		store:     store,
		fetcher:   profile.NewFetcher(15 * time.Second),
		caller:    caller,
		hub:       hub,
		log:       logger.WithComponent("Shell"),
		startedAt: time.Now().UTC(),
	}
	s.loop = logstream.NewLoop(caller, buffer, logstream.WithOnBatch(hub.BroadcastLogs))
	s.web = web.NewServer(cfg.UIConf, s, hub)
	store.Register(s)
	return s, nil
}

// Router returns the web API routes of this shell.
func (s *Shell) Router() http.Handler { return s.web.Router() }

// Run starts the log stream, the hub and the web server, and blocks until ctx is done
// or the web server fails.
func (s *Shell) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return s.web.Run(ctx)
	})
	s.loop.Start(ctx)
	s.log.Info().Str("backend", s.cfg.BackendConf.URL).Str("current_profile", s.store.Current().Name).Msg("Shell started")

	err := g.Wait()
	s.loop.Stop()
	return err
}

// Close stops the log stream and releases the transport and profile storage.
func (s *Shell) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.loop.Stop()
		if cerr := s.caller.Close(); cerr != nil {
			err = cerr
		}
		if cerr := s.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.log.Info().Msg("Shell closed")
	})
	return err
}

// StartLogStream starts the log loop without the web server. It reports false when the
// loop is already running.
func (s *Shell) StartLogStream(ctx context.Context) bool {
	return s.loop.Start(ctx)
}

// OnCurrentProfileChanged implements profile.CurrentListener.
func (s *Shell) OnCurrentProfileChanged(p profile.Profile) {
	s.log.Debug().Str("id", p.ID).Msg("Current profile changed, pushing status update.")
	s.hub.BroadcastStatusUpdate()
}

// ApplyCurrent hands the current profile's content to the backend. A failure stops the
// action; it is not retried.
func (s *Shell) ApplyCurrent(ctx context.Context) error {
	return s.applyProfile(ctx, s.store.Current())
}

func (s *Shell) applyProfile(ctx context.Context, p profile.Profile) error {
	if err := s.caller.Restart(ctx, p.Content); err != nil {
		return err
	}
	s.log.Info().Str("id", p.ID).Str("name", p.Name).Msg("Profile applied")
	return nil
}

func (s *Shell) StopBackend(ctx context.Context) error {
	return s.caller.Stop(ctx)
}

func (s *Shell) SelectFile(ctx context.Context, title string) (string, error) {
	return s.caller.SelectFile(ctx, title)
}

// ImportFile lets the user pick a file through the backend and adds it as a local profile.
func (s *Shell) ImportFile(ctx context.Context, title string) (profile.Profile, error) {
	path, err := s.caller.SelectFile(ctx, title)
	if err != nil {
		return profile.Profile{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("read profile file: %w", err)
	}
	return s.CreateLocal(filepath.Base(path), string(data))
}

// ImportRemote fetches url into a new profile and optionally makes it current.
func (s *Shell) ImportRemote(ctx context.Context, url string, makeCurrent bool) (profile.Profile, error) {
	p, err := s.fetcher.FetchRemote(ctx, url)
	if err != nil {
		return profile.Profile{}, err
	}
	if err := s.store.Add(p); err != nil {
		return profile.Profile{}, err
	}
	if makeCurrent {
		return s.store.SetCurrent(p.ID)
	}
	return p, nil
}

// CreateLocal adds a local profile. Empty content yields the default configuration.
func (s *Shell) CreateLocal(name, content string) (profile.Profile, error) {
	p := profile.NewLocalDefault(time.Now())
	if strings.TrimSpace(content) != "" {
		p = profile.New(p.Name, content, p.Origin, p.CreatedAt)
	}
	if name = strings.TrimSpace(name); name != "" {
		p.Name = name
	}
	if err := s.store.Add(p); err != nil {
		return profile.Profile{}, err
	}
	return p, nil
}

// SetCurrent switches the current profile and, when apply is set, restarts the backend
// with it.
func (s *Shell) SetCurrent(ctx context.Context, id string, apply bool) (profile.Profile, error) {
	p, err := s.store.SetCurrent(id)
	if err != nil {
		return profile.Profile{}, err
	}
	if apply {
		if err := s.applyProfile(ctx, p); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (s *Shell) UpdateContent(id, content string) (profile.Profile, error) {
	return s.store.UpdateContent(id, content)
}

func (s *Shell) RefreshProfile(ctx context.Context, id string) (profile.Profile, error) {
	return s.store.Refresh(ctx, id, s.fetcher)
}

func (s *Shell) RemoveProfile(id string) error {
	return s.store.Remove(id)
}

func (s *Shell) Profiles() []profile.Profile {
	return s.store.List()
}

func (s *Shell) CurrentProfile() profile.Profile {
	return s.store.Current()
}

func (s *Shell) TailLogs(n int) []types.LogEntry {
	if n <= 0 {
		n = s.cfg.UIConf.LogTail
	}
	return s.buffer.ReadTail(n)
}

func (s *Shell) HeadLogs(n int) []types.LogEntry {
	if n <= 0 {
		n = s.cfg.UIConf.LogTail
	}
	return s.buffer.ReadHead(n)
}

func (s *Shell) Status() web.ShellStatus {
	cur := s.store.Current()
	return web.ShellStatus{
		BackendURL:       s.cfg.BackendConf.URL,
		LogStreamRunning: s.loop.Running(),
		LogCount:         s.buffer.Len(),
		LogCapacity:      s.buffer.Cap(),
		LogTotal:         s.buffer.Total(),
		CurrentProfileID: cur.ID,
		CurrentProfile:   cur.Name,
		Profiles:         len(s.store.List()),
		StartedAt:        s.startedAt,
	}
}
