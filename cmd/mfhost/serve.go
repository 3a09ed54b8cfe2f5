package main

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alucardeht/mfhost/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the host daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
		defer stop()
		return d.Run(ctx)
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.String("socket", "", "unix socket pages connect to")
	flags.String("http", "", "address for /healthz, /sync and the /bridge websocket (empty disables)")
	flags.String("base-url", "", "base URL stripped before route matching")
	flags.String("mode", "", "route matching: exact, prefix or glob")
	flags.Bool("preload", false, "inject every fragment's assets when a page connects")
	flags.Bool("watch", true, "reload manifests when they change")

	_ = viper.BindPFlag("daemon.socket_path", flags.Lookup("socket"))
	_ = viper.BindPFlag("daemon.http_addr", flags.Lookup("http"))
	_ = viper.BindPFlag("router.base_url", flags.Lookup("base-url"))
	_ = viper.BindPFlag("router.mode", flags.Lookup("mode"))
	_ = viper.BindPFlag("daemon.preload_assets", flags.Lookup("preload"))
	_ = viper.BindPFlag("manifest.watch", flags.Lookup("watch"))
}
