package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hookline/hookline/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hookline",
		Short: "Webhook relay over persistent websocket channels",
		Long: `hookline relays inbound HTTP webhooks to local development targets.

The relay side accepts webhook callbacks on any path and fans each one out,
verbatim, to every connected subscriber over a websocket channel. The forward
side holds such a channel open (reconnecting on loss) and replays every
received callback against a locally reachable service.

Delivery is best-effort and memory-only: callbacks arriving while no
subscriber is connected are dropped by design.`,
	}

	rootCmd.AddCommand(cmd.RelayCmd())
	rootCmd.AddCommand(cmd.ForwardCmd())
	rootCmd.AddCommand(cmd.VersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
