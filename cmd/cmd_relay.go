package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hookline/hookline/config"
	"github.com/hookline/hookline/logging"
	"github.com/hookline/hookline/observability"
	"github.com/hookline/hookline/registry"
	"github.com/hookline/hookline/relay"
)

const flagConfig = "config"

// RelayCmd returns the command for running the relay broadcast service.
func RelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the webhook relay broadcast service",
		Long: `Run the relay broadcast service.

The relay accepts webhook callbacks on any path and responds 202 immediately.
Each callback is fanned out to every subscriber holding an open websocket
channel; requests on the reserved upgrade suffix (default /ws) open such a
channel after token authentication.

Required environment:
  HOOKLINE_TOKEN        shared secret for channel-open authentication

Optional environment:
  HOOKLINE_LISTEN_ADDR     bind address (default ":8080")
  HOOKLINE_UPGRADE_SUFFIX  channel-open path suffix (default "/ws")

Example:
  HOOKLINE_TOKEN=secret hookline relay --config hookline.yaml`,
		RunE: runRelay,
	}

	cmd.Flags().String(flagConfig, "", "Path to optional YAML config overlay (logging, metrics)")

	return cmd
}

func runRelay(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fileCfg, err := loadFileConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.NewLoggerFromConfig(fileCfg.Logging)

	relayCfg, err := relay.ConfigFromEnv()
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

	reg := registry.New()
	server, err := relay.NewServer(logger, relayCfg, reg)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	server.Stop()
	return nil
}

// loadFileConfig reads the optional --config overlay, falling back to
// defaults when the flag is absent.
func loadFileConfig(cmd *cobra.Command) (config.File, error) {
	path, _ := cmd.Flags().GetString(flagConfig)
	if path == "" {
		return config.DefaultFile(), nil
	}
	return config.LoadFile(path)
}

// exitOnMissingConfig logs every missing variable by name before failing, so
// operators see the complete list instead of one variable at a time.
func exitOnMissingConfig(logger logging.Logger, err error) error {
	var missing *config.MissingError
	if errors.As(err, &missing) {
		for _, name := range missing.Names {
			logger.Error().Str("name", name).Msg("required environment variable is not set")
		}
	}
	return err
}
