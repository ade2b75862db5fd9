package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/villakit/villa/internal/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config helpers (path/show/validate/get/set)",
		Long:  `Inspect and edit the active villa config file.`,
		Example: `  # Show the effective config with secrets masked
  villa config show

  # Set config value
  villa config set status.port 9000`,
	}

	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigValidateCommand())
	cmd.AddCommand(newConfigGetCommand())
	cmd.AddCommand(newConfigSetCommand())

	return cmd
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(config.ConfigPath())
		},
	}
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			data, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return err
			}
			cmd.Print(string(data))
			return nil
		},
	}
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.Printf("Config OK (%d bots)\n", len(cfg.Bots))
			return nil
		},
	}
}

func newConfigGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "get [key]",
		Short:   "Get a configuration value",
		Example: `  villa config get status.port`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.LoadViper()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			val := v.Get(args[0])
			if val == nil {
				cmd.Println("null")
				return nil
			}
			cmd.Printf("%v\n", val)
			return nil
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set a configuration value",
		Example: `  villa config set status.port 9000
  villa config set logging.verbose true`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.LoadViper()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			key, raw := args[0], args[1]
			var val any = raw
			if n, err := strconv.Atoi(raw); err == nil {
				val = n
			} else if b, err := strconv.ParseBool(raw); err == nil {
				val = b
			}
			v.Set(key, val)

			if err := v.WriteConfig(); err != nil {
				target := v.ConfigFileUsed()
				if target == "" {
					target = config.ConfigPath()
				}
				if err := v.WriteConfigAs(target); err != nil {
					return fmt.Errorf("failed to write config: %w", err)
				}
			}

			cmd.Printf("Updated %s = %v\n", key, val)
			return nil
		},
	}
}
