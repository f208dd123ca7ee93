// Package cli implements the comms command-line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/afs-fleetpro/comms/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// initialized in PersistentPreRunE
	log *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comms",
		Short: "comms — realtime conversation fan-out service",
		Long:  "comms serves the omnichannel communication API: REST message ingestion plus the realtime WebSocket channel with cross-instance fan-out.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logLevel
			if level == "" {
				level = "info"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "comms.yaml", "config file path")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
