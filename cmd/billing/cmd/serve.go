package cmd

import (
	"github.com/spf13/cobra"

	"recurring-billing-service/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the billing API over HTTP",
	Long: `Serve the billing API over HTTP until interrupted.

Requests are scoped to the owner in the X-Owner-ID header, falling back to
server.default_owner.

Examples:
  billing serve
  billing serve --addr 127.0.0.1:9000
  BILLING_DB_DRIVER=postgres BILLING_DB_DSN=postgres://... billing serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			serverCfg := a.config.Server
			if serveAddr != "" {
				serverCfg.Addr = serveAddr
			}
			server, err := api.NewServer(&serverCfg, a.services())
			if err != nil {
				return err
			}
			return server.ListenAndServe(cmd.Context())
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}
