package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okizar/swarmtap/internal/metrics"
	"github.com/okizar/swarmtap/internal/tracing"
	"github.com/okizar/swarmtap/pkg/client"
	"github.com/okizar/swarmtap/pkg/events"
	"github.com/okizar/swarmtap/pkg/stream"
)

var queryShowEvents bool

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Run one query against the orchestrator and print the response",
	Long: `Run one query end to end: stream events from the orchestrator into
session state and print the final response. If streaming fails, a single
synchronous fallback request is made. Ctrl-C cancels the session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&queryShowEvents, "events", false, "print agent output as it streams")
	rootCmd.AddCommand(queryCmd)
}

// outputPrinter prints incremental agent output to stdout as it arrives
type outputPrinter struct{}

func (outputPrinter) EventApplied(frame stream.Frame) {
	if events.Type(frame.Type) != events.TypeAgentOutput {
		return
	}
	var p events.AgentOutputPayload
	if err := frameInto(frame, &p); err != nil {
		return
	}
	fmt.Printf("[%s] %s", p.Agent, p.Content)
	if !strings.HasSuffix(p.Content, "\n") {
		fmt.Println()
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, lg, err := setup()
	if err != nil {
		return err
	}
	defer lg.Close()
	defer tracing.Shutdown(context.Background())

	ctrl, err := client.NewController(client.Config{
		StreamURL:         cfg.Orchestrator.StreamURL,
		FallbackURL:       cfg.Orchestrator.FallbackURL,
		RequestTimeout:    cfg.Orchestrator.RequestTimeout,
		StreamIdleTimeout: cfg.Orchestrator.StreamIdleTimeout,
		Logger:            lg.Get(),
		Metrics:           metrics.New(),
	})
	if err != nil {
		return err
	}

	if queryShowEvents {
		ctrl.AddObserver(outputPrinter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		ctrl.Cancel()
	}()

	query := strings.Join(args, " ")
	if err := ctrl.Run(context.Background(), query); err != nil {
		if errors.Is(err, client.ErrCancelled) {
			fmt.Println("\nCancelled.")
			return nil
		}
		return err
	}

	snap := ctrl.Store().Snapshot()
	if snap.Response == nil {
		fmt.Println("No response received.")
		return nil
	}

	fmt.Println(snap.Response.Content)
	if len(snap.Response.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range snap.Response.Sources {
			fmt.Printf("  - %s\n", src)
		}
	}
	if snap.Response.Duration > 0 {
		fmt.Printf("\n(%.1fs)\n", snap.Response.Duration)
	}
	return nil
}
