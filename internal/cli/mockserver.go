package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okizar/swarmtap/pkg/mockserver"
)

var (
	mockHost  string
	mockPort  int
	mockDelay float64
)

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Run a scripted mock orchestrator",
	Long: `Run a scripted mock orchestrator for local development: a canned
multi-agent event stream on /stream and a minimal A2A endpoint on /a2a.`,
	RunE: runMockServer,
}

func init() {
	mockServerCmd.Flags().StringVar(&mockHost, "host", "127.0.0.1", "host to listen on")
	mockServerCmd.Flags().IntVar(&mockPort, "port", 8000, "port to listen on")
	mockServerCmd.Flags().Float64Var(&mockDelay, "delay-scale", 1.0, "scale scripted pauses (0 disables)")
	rootCmd.AddCommand(mockServerCmd)
}

func runMockServer(cmd *cobra.Command, args []string) error {
	_, lg, err := setup()
	if err != nil {
		return err
	}
	defer lg.Close()
	log := lg.Get()

	srv := mockserver.NewServer(mockserver.Config{
		Host:       mockHost,
		Port:       mockPort,
		Logger:     log,
		DelayScale: mockDelay,
	})

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
