package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nlink_desk/internal/app"
	"nlink_desk/internal/backend"
	"nlink_desk/internal/ipc"
	"nlink_desk/internal/rules"
	"nlink_desk/internal/shared/config"
	"nlink_desk/internal/shared/logger"
	"nlink_desk/internal/shared/types"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:           "nlink",
	Short:         "Desktop shell and backend for the nlink routing proxy",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Run the UI shell against a backend reachable over websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer logger.Close()
		return runShell(cmd.Context(), cfg, ipc.NewWSTransport(cfg.BackendConf.URL))
	},
}

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run the backend and serve IPC on the configured listen address",
	RunE: func(cmd *cobra.Command, args []string) error {
		sink := backend.NewLogSink(backend.SinkCapacity)
		cfg, err := setup(sink)
		if err != nil {
			return err
		}
		defer logger.Close()

		svc, closeGeo, err := newService(cfg, sink)
		if err != nil {
			return err
		}
		defer closeGeo()
		return backend.NewServer(svc).Run(cmd.Context(), cfg.BackendConf.Listen)
	},
}

var standaloneCmd = &cobra.Command{
	Use:   "standalone",
	Short: "Run the shell with an in-process backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		sink := backend.NewLogSink(backend.SinkCapacity)
		cfg, err := setup(sink)
		if err != nil {
			return err
		}
		defer logger.Close()

		svc, closeGeo, err := newService(cfg, sink)
		if err != nil {
			return err
		}
		defer closeGeo()
		return runShell(cmd.Context(), cfg, ipc.NewLocalTransport(backend.NewServer(svc)))
	},
}

var applyOnStart bool

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "configdir", "configs", "Path to config directory")
	shellCmd.Flags().BoolVar(&applyOnStart, "apply", true, "Apply the current profile once at startup")
	standaloneCmd.Flags().BoolVar(&applyOnStart, "apply", true, "Apply the current profile once at startup")
	rootCmd.AddCommand(shellCmd, backendCmd, standaloneCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// logger may not be initialized yet
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}

// setup loads nlink.ini and initializes the logger. Extra writers also receive every
// log line as JSON.
func setup(extra ...io.Writer) (*types.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from '%s': %w", configDir, err)
	}
	if err := logger.Init(cfg.LogConf, extra...); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func newService(cfg *types.Config, sink *backend.LogSink) (*backend.Service, func(), error) {
	opts := backend.Options{
		Heartbeat:   time.Duration(cfg.BackendConf.Heartbeat) * time.Second,
		ProbeListen: true,
	}
	closeGeo := func() {}
	if cfg.BackendConf.GeoIPDB != "" {
		geo, err := rules.OpenGeoIP(cfg.BackendConf.GeoIPDB)
		if err != nil {
			return nil, nil, err
		}
		opts.Geo = geo
		closeGeo = func() { geo.Close() }
	}
	return backend.NewService(sink, opts), closeGeo, nil
}

func runShell(ctx context.Context, cfg *types.Config, transport ipc.Transport) error {
	shell, err := app.NewShell(cfg, transport)
	if err != nil {
		return err
	}
	defer shell.Close()

	l := logger.WithComponent("Main")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return shell.Run(ctx) })
	if applyOnStart {
		g.Go(func() error {
			// failures already reach the UI as notifications
			if err := shell.ApplyCurrent(ctx); err != nil {
				l.Warn().Err(err).Msg("Initial profile apply failed")
			}
			return nil
		})
	}
	return g.Wait()
}
