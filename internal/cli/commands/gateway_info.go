package commands

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/villakit/villa/internal/config"
	"github.com/villakit/villa/pkg/api"
	"github.com/villakit/villa/pkg/bot"
)

// NewGatewayInfoCommand creates the gateway-info subcommand.
func NewGatewayInfoCommand() *cobra.Command {
	var only []string

	cmd := &cobra.Command{
		Use:   "gateway-info",
		Short: "Fetch websocket gateway parameters for the configured bots",
		Long: `Call getWebsocketInfo for each bot and print the result. Useful to check
credentials without opening a connection.`,
		Example: `  villa gateway-info
  villa gateway-info --bot main`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := selectBots(cfg, only); err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), verboseFlag(cmd), true)

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Bot", "UID", "App ID", "Platform", "Device ID", "WebSocket URL"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)

			failed := 0
			for _, bc := range cfg.Bots {
				if bc.Disabled {
					continue
				}
				client := api.NewClient(api.Ticket{BotID: bc.BotID, Secret: bc.Secret}, api.Options{
					BaseURL:        cfg.API.BaseURL,
					RequestTimeout: cfg.API.RequestTimeout,
					ConnectTimeout: cfg.API.ConnectTimeout,
					SocketTimeout:  cfg.API.SocketTimeout,
					Logger:         &logger,
				})
				villaID := bc.LoginVillaID
				if villaID == "" {
					villaID = bot.DefaultLoginVillaID
				}
				info, err := client.GetWebsocketInfo(cmd.Context(), villaID)
				if err != nil {
					failed++
					table.Append([]string{bc.Name, "-", "-", "-", "-", err.Error()})
					continue
				}
				table.Append([]string{
					bc.Name,
					strconv.FormatUint(uint64(info.UID), 10),
					strconv.Itoa(int(info.AppID)),
					strconv.Itoa(int(info.Platform)),
					info.DeviceID,
					info.WebsocketURL,
				})
			}
			table.Render()

			if failed > 0 {
				return fmt.Errorf("%d bot(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&only, "bot", nil, "Query only the named bots")

	return cmd
}
