package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"nlink_desk/internal/shared/logger"
	"nlink_desk/internal/shared/types"
)

// loggingListener logs accepted connections at debug level.
type loggingListener struct {
	net.Listener
	log *zerolog.Logger
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.log.Debug().Msgf("Connection accepted from: %s", conn.RemoteAddr())
	}
	return conn, err
}

// basicAuthMiddleware enforces HTTP basic auth when both user and password are set.
// Otherwise requests pass through unchanged.
func basicAuthMiddleware(user, pass string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if user == "" || pass == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || u != user || p != pass {
				w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte("Unauthorized.\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Server is the shell's HTTP API and websocket endpoint.
type Server struct {
	conf    types.UIConf
	handler *Handler
	hub     *Hub
	log     zerolog.Logger
}

func NewServer(conf types.UIConf, shell ShellController, hub *Hub) *Server {
	return &Server{
		conf:    conf,
		handler: NewHandler(shell, hub),
		hub:     hub,
		log:     logger.WithComponent("Web"),
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	h := s.handler
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public: status and the websocket feed.
	r.Get("/api/status", h.HandleStatus)
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(s.hub, w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(basicAuthMiddleware(s.conf.WebUser, s.conf.WebPassword))

		r.Get("/api/logs", h.HandleTailLogs)
		r.Get("/api/logs/head", h.HandleHeadLogs)

		r.Route("/api/profiles", func(r chi.Router) {
			r.Get("/", h.HandleListProfiles)
			r.Post("/", h.HandleCreateProfile)
			r.Post("/remote", h.HandleImportRemote)
			r.Get("/current", h.HandleGetCurrent)
			r.Put("/current", h.HandleSetCurrent)
			r.Put("/{id}/content", h.HandleUpdateContent)
			r.Post("/{id}/refresh", h.HandleRefreshProfile)
			r.Delete("/{id}", h.HandleDeleteProfile)
		})

		r.Route("/api/backend", func(r chi.Router) {
			r.Post("/restart", h.HandleRestart)
			r.Post("/stop", h.HandleStop)
			r.Post("/select_file", h.HandleSelectFile)
		})
	})
	return r
}

// Run serves the API until ctx is done. A non-positive web port disables the server.
func (s *Server) Run(ctx context.Context) error {
	if s.conf.WebPort <= 0 {
		s.log.Info().Msg("Web UI is disabled (web_port is 0 or not set).")
		<-ctx.Done()
		return nil
	}
	addr := fmt.Sprintf("127.0.0.1:%d", s.conf.WebPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start web UI on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	s.log.Info().Msgf("SUCCESS: Web UI is listening on http://%s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(loggingListener{Listener: ln, log: &s.log})
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.log.Info().Msg("Web server stopped.")
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
