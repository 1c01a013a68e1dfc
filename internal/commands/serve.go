package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shuklalaw/sitecms/internal/auth"
	"github.com/shuklalaw/sitecms/internal/backend"
	"github.com/shuklalaw/sitecms/internal/broadcast"
	"github.com/shuklalaw/sitecms/internal/clock"
	"github.com/shuklalaw/sitecms/internal/config"
	"github.com/shuklalaw/sitecms/internal/content"
	"github.com/shuklalaw/sitecms/internal/deploy"
	"github.com/shuklalaw/sitecms/internal/insights"
	"github.com/shuklalaw/sitecms/internal/logging"
	"github.com/shuklalaw/sitecms/internal/server"
	"github.com/shuklalaw/sitecms/internal/service"
	"github.com/shuklalaw/sitecms/internal/state"
	"github.com/shuklalaw/sitecms/pkg/version"
)

// busBuffer is how many events a slow websocket subscriber may fall behind
const busBuffer = 32

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the content server",
	Long: `Run the HTTP server for the public site and the admin panel.

Saves are written to the data directory first and answered immediately.
When a mirror is configured each save is then committed to the repository
in the background and the configured hosting platforms are notified.

The server shuts down gracefully on SIGINT or SIGTERM, waiting for
in-flight mirror commits up to server.shutdown_timeout.

Examples:
  # Use ./sitecms.toml
  sitecms serve

  # Override the listen address
  sitecms serve --addr :8080`,
	RunE: serveRun,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")

	rootCmd.AddCommand(serveCmd)
}

func serveRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	level := cfg.Log.Level
	if IsVerbose() {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := buildServer(cfg, afero.NewOsFs(), clock.Real{}, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("starting sitecms",
		zap.String("version", version.Short()),
		zap.String("addr", cfg.Server.Addr),
		zap.String("data_dir", cfg.Content.DataDir),
		zap.String("mirror", cfg.Git.Backend))

	if err := srv.ListenAndRun(ctx, cfg.Server.Addr); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	PrintInfo("Server stopped")
	return nil
}

// buildServer wires every component from cfg. cleanup releases the state
// database and must run after the server has stopped.
func buildServer(cfg *config.Config, fs afero.Fs, clk clock.Clock, logger *zap.Logger) (*server.Server, func(), error) {
	if err := fs.MkdirAll(cfg.Content.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	store := content.NewStore(fs, cfg.Content.ContentDir())

	mirror, err := backend.NewMirror(&cfg.Git)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create mirror: %w", err)
	}

	trigger, err := deploy.New(cfg.Deploy, logger.Named("deploy"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure deploy channels: %w", err)
	}

	db, err := state.Open(cfg.Content.StatePath())
	if err != nil {
		return nil, nil, err
	}

	bus := broadcast.New(clk, logger.Named("broadcast"), busBuffer)

	creds := auth.NewCredentialStore(fs, cfg.Content.CredentialsPath(), auth.Bootstrap{
		Email:    cfg.Auth.BootstrapEmail,
		Password: cfg.Auth.BootstrapPassword,
	}, logger.Named("auth"), auth.WithClock(clk))
	reset := auth.NewResetService(creds, db, auth.LogMailer{Logger: logger.Named("mail")}, clk,
		cfg.Server.SiteURL, cfg.Auth.TokenTTL, logger.Named("auth"))

	svc := service.New(service.Deps{
		Store:          store,
		Mirror:         mirror,
		Trigger:        trigger,
		Publisher:      bus,
		Journal:        db,
		Clock:          clk,
		Logger:         logger.Named("service"),
		Uploads:        fs,
		UploadsDir:     cfg.Content.UploadsDir(),
		MaxUploadBytes: cfg.Content.MaxUploadBytes,
		RemoteTimeout:  cfg.Git.Timeout,
		CommitMessage:  cfg.Git.CommitMessage,
	})

	var tasks []server.Task
	if cfg.Content.Watch {
		w := content.NewWatcher(store, logger.Named("watcher"), bus.Publish)
		tasks = append(tasks, func(ctx context.Context) error { return w.Run(ctx, nil) })
	}

	var tracker insights.Service
	if cfg.Insights.Enabled {
		t := insights.NewTracker(fs, cfg.Content.InsightsPath(), clk, logger.Named("insights"))
		if err := t.Load(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("load insights: %w", err)
		}
		tracker = t
		tasks = append(tasks, func(ctx context.Context) error { return t.Run(ctx, cfg.Insights.FlushInterval) })
	}

	srv := server.New(server.Deps{
		Service:         svc,
		Credentials:     creds,
		Reset:           reset,
		Bus:             bus,
		Insights:        tracker,
		Clock:           clk,
		Logger:          logger.Named("http"),
		Uploads:         fs,
		UploadsDir:      cfg.Content.UploadsDir(),
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxBodyBytes:    2*cfg.Content.MaxUploadBytes + 1<<20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Tasks:           tasks,
	})

	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Warn("failed to close state database", zap.Error(err))
		}
	}
	return srv, cleanup, nil
}
