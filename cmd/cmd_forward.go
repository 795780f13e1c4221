package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hookline/hookline/logging"
	"github.com/hookline/hookline/observability"
	"github.com/hookline/hookline/subscriber"
)

// ForwardCmd returns the command for running the subscriber client.
func ForwardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forward",
		Short: "Subscribe to a relay and forward callbacks to a local target",
		Long: `Run the reconnecting subscriber client.

The client opens a websocket channel to the relay (reconnecting with backoff
on any loss) and replays every received webhook against the local target,
rewriting only the network destination. Callbacks broadcast while the channel
is down are not redelivered.

Required environment:
  HOOKLINE_RELAY_URL    channel-open URL with token, e.g. "wss://relay.example/ws?token=secret"
  HOOKLINE_TARGET_URL   local service base URL, e.g. "http://localhost:8787"

Optional environment:
  HOOKLINE_PRESERVE_HOST  forward the original Host header unmodified

Example:
  HOOKLINE_RELAY_URL=ws://localhost:8080/ws?token=secret \
  HOOKLINE_TARGET_URL=http://localhost:8787 hookline forward`,
		RunE: runForward,
	}

	cmd.Flags().String(flagConfig, "", "Path to optional YAML config overlay (logging, metrics)")

	return cmd
}

func runForward(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fileCfg, err := loadFileConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.NewLoggerFromConfig(fileCfg.Logging)

	subCfg, err := subscriber.ConfigFromEnv()
	if err != nil {
		return exitOnMissingConfig(logger, err)
	}

	if fileCfg.Metrics.MetricsEnabled {
		obsServer := observability.NewServer(logger, fileCfg.Metrics)
		if err := obsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		defer func() { _ = obsServer.Stop() }()
	}

	sub, err := subscriber.New(logger, subCfg)
	if err != nil {
		return err
	}
	if err := sub.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	sub.Close()
	return nil
}
