package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okizar/swarmtap/internal/config"
	"github.com/okizar/swarmtap/internal/metrics"
	"github.com/okizar/swarmtap/internal/tracing"
	"github.com/okizar/swarmtap/pkg/client"
	"github.com/okizar/swarmtap/pkg/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge gateway",
	Long: `Run the bridge gateway: an HTTP server that launches orchestrator
sessions on behalf of consumers, relays stream events to websocket
subscribers, and serves state snapshots, health, and metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, lg, err := setup()
	if err != nil {
		return err
	}
	defer lg.Close()
	defer tracing.Shutdown(context.Background())

	log := lg.Get()
	m := metrics.New()

	ctrl, err := client.NewController(client.Config{
		StreamURL:         cfg.Orchestrator.StreamURL,
		FallbackURL:       cfg.Orchestrator.FallbackURL,
		RequestTimeout:    cfg.Orchestrator.RequestTimeout,
		StreamIdleTimeout: cfg.Orchestrator.StreamIdleTimeout,
		Logger:            log,
		Metrics:           m,
	})
	if err != nil {
		return err
	}

	srv := gateway.NewServer(gateway.Config{
		Host:       cfg.Gateway.Host,
		Port:       cfg.Gateway.Port,
		Controller: ctrl,
		Metrics:    m,
		Logger:     log,
	})

	// Hot-reload endpoint config on file changes; gateway addr changes
	// still need a restart.
	loader := config.NewLoader(cfgFile)
	if path, perr := loader.GetConfigPath(); perr == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			watcher, werr := config.NewWatcher(loader, func(updated *config.Config) {
				ctrl.Reconfigure(client.Endpoints{
					StreamURL:         updated.Orchestrator.StreamURL,
					FallbackURL:       updated.Orchestrator.FallbackURL,
					RequestTimeout:    updated.Orchestrator.RequestTimeout,
					StreamIdleTimeout: updated.Orchestrator.StreamIdleTimeout,
				})
				log.Info().
					Str("stream_url", updated.Orchestrator.StreamURL).
					Msg("Applying updated endpoints")
			})
			if werr != nil {
				log.Warn().Err(werr).Msg("Config watcher unavailable")
			} else if err := watcher.Start(); err != nil {
				log.Warn().Err(err).Msg("Failed to start config watcher")
			} else {
				defer watcher.Stop()
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
