// Package cli provides the command-line interface for villa.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/villakit/villa/internal/cli/commands"
	"github.com/villakit/villa/internal/version"
)

var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "villa",
		Short: "villa - Villa bot connection runtime",
		Long: `villa keeps Villa chat bots connected to the platform gateway.
It logs in, sends heartbeats, reconnects on failure and dispatches
robot events to the configured processors.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path != "" {
				return os.Setenv("VILLA_CONFIG_PATH", path)
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	cmd.AddCommand(commands.NewRunCommand())
	cmd.AddCommand(commands.NewGatewayInfoCommand())
	cmd.AddCommand(commands.NewConfigCommand())
	cmd.AddCommand(commands.NewVersionCommand())

	// Global flags
	cmd.PersistentFlags().StringP("config", "c", "", "config file (default is ~/.villa/villa.json)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	return cmd
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
