package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/webtuner/webtuner/internal/catalog"
	"github.com/webtuner/webtuner/internal/config"
	"github.com/webtuner/webtuner/internal/guide"
	internalhttp "github.com/webtuner/webtuner/internal/http"
	"github.com/webtuner/webtuner/internal/http/handlers"
	"github.com/webtuner/webtuner/internal/manager"
	"github.com/webtuner/webtuner/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webtuner gateway",
	Long: `Start the webtuner HTTP gateway.

The gateway provides:
- /playlist.m3u and /stream/{channel} for IPTV clients
- /hls/{tuner}/ rolling playlists for HLS clients
- JSON status and admin API, with OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().Int("tuners", 1, "Number of tuners to provision")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("tuners.count", serveCmd.Flags().Lookup("tuners"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// The credential bundle is an input; without it no browser can sign in
	// and the pool is useless.
	if _, err := os.Stat(cfg.Browser.CredentialsPath); err != nil {
		return fmt.Errorf("credential bundle %s: %w", cfg.Browser.CredentialsPath, err)
	}

	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.SeedStatic(ctx, catalog.StaticLineup()); err != nil {
		return fmt.Errorf("seeding catalog: %w", err)
	}
	resolver := catalog.NewResolver(store)

	guideSvc := guide.NewService(cfg.Guide.Endpoint, store, logger)
	if guideSvc.Enabled() {
		// Best effort; the static lineup already serves if this fails.
		go func() {
			if err := guideSvc.ImportLineup(ctx); err != nil {
				logger.Warn("initial lineup import failed", slog.String("error", err.Error()))
			}
		}()
		if err := guideSvc.StartSchedule(cfg.Guide.RefreshCron); err != nil {
			return fmt.Errorf("starting guide schedule: %w", err)
		}
		defer guideSvc.StopSchedule()
	}

	pool := manager.Provision(&cfg, logger)
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("starting tuner pool: %w", err)
	}
	defer pool.Shutdown()

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	handlers.NewStatusHandler(version.Version, pool, guideSvc).Register(server.API())
	handlers.NewAdminHandler(pool, guideSvc, logger).Register(server.API())
	handlers.NewStreamHandler(pool, resolver, logger).RegisterChiRoutes(server.Router())
	handlers.NewHLSHandler(pool).RegisterChiRoutes(server.Router())
	handlers.NewPlaylistHandler(resolver).RegisterChiRoutes(server.Router())
	handlers.NewSettingsHandler(cfg.Settings.Path, logger).RegisterChiRoutes(server.Router())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting webtuner",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Int("tuners", cfg.Tuners.Count),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}
