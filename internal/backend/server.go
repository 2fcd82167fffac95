package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nlink_desk/internal/ipc"
	"nlink_desk/internal/shared/logger"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Only local shells connect; the IPC endpoint is bound to loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes a Service over IPC. It serves websocket clients on /ipc and, through
// ServeIPC, in-process callers.
type Server struct {
	svc *Service
	log zerolog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewServer(svc *Service) *Server {
	return &Server{
		svc:   svc,
		log:   logger.WithComponent("Backend/IPC"),
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeIPC dispatches one request. Unknown operations are answered with a failure
// rather than an empty result.
func (s *Server) ServeIPC(ctx context.Context, req ipc.Request) ipc.Envelope {
	switch req.Op {
	case ipc.OpRestart:
		var args ipc.RestartArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return ipc.Fail("invalid restart arguments: " + err.Error())
		}
		if err := s.svc.Restart(args.Config); err != nil {
			return ipc.Fail(err.Error())
		}
		return ipc.Envelope{Success: true}

	case ipc.OpStop:
		s.svc.Stop()
		return ipc.Envelope{Success: true}

	case ipc.OpLogs:
		env, err := ipc.OK(s.svc.Logs(ctx))
		if err != nil {
			return ipc.Fail(err.Error())
		}
		return env

	case ipc.OpSelectFile:
		var args ipc.SelectFileArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return ipc.Fail("invalid select_file arguments: " + err.Error())
		}
		path, err := s.svc.SelectFile(ctx, args.Title)
		if err != nil {
			return ipc.Fail(err.Error())
		}
		env, err := ipc.OK(path)
		if err != nil {
			return ipc.Fail(err.Error())
		}
		return env

	default:
		s.log.Warn().Str("op", string(req.Op)).Msg("Unknown operation requested")
		return ipc.Fail(ipc.ErrUnknownOperation.Error() + ": " + string(req.Op))
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Router returns the HTTP handler with /ipc and /healthz.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ipc", s.handleIPC)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.svc.Status())
}

func (s *Server) handleIPC(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	s.log.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("Shell connected")
	s.track(conn, true)

	// Requests in flight are abandoned when the shell goes away.
	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg      sync.WaitGroup
		writeMu sync.Mutex
	)
	defer func() {
		cancel()
		wg.Wait()
		s.track(conn, false)
		conn.Close()
		s.log.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("Shell disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected websocket close error")
			}
			return
		}
		var req ipc.Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.log.Warn().Err(err).Msg("Discarding undecodable request")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			env := s.ServeIPC(ctx, req)
			out, err := json.Marshal(ipc.Response{ID: req.ID, Envelope: env})
			if err != nil {
				s.log.Error().Err(err).Str("op", string(req.Op)).Msg("Failed to encode response")
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				s.log.Warn().Err(err).Str("op", string(req.Op)).Msg("Failed to write response")
			}
		}()
	}
}

// Run serves the router on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the router on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	s.log.Info().Msgf("SUCCESS: Backend IPC is listening on ws://%s/ipc", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeConns()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) track(conn *websocket.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// closeConns closes hijacked websocket connections, which http.Server.Shutdown does not track.
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
