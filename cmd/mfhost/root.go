package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alucardeht/mfhost/internal/config"
	"github.com/alucardeht/mfhost/internal/logger"
)

var (
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mfhost",
	Short: "Compose microfrontends into one page",
	Long: `mfhost keeps a registry of microfrontend fragments loaded from YAML
manifests, routes each connected page to the fragment owning its location and
mounts native or JavaScript fragments into the page over a JSON-RPC bridge.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./mfhost.yaml or ~/.mfhost/mfhost.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text or json")
	rootCmd.PersistentFlags().String("manifests", "", "directory holding fragment manifests")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("manifest.dir", rootCmd.PersistentFlags().Lookup("manifests"))

	rootCmd.AddCommand(serveCmd, statusCmd, modulesCmd, routesCmd, enableCmd, disableCmd, initCmd)
}

func loadConfig() error {
	loaded, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logCfg := logger.DefaultConfig()
	logCfg.Level = logger.ParseLevel(cfg.Log.Level)
	logCfg.Format = cfg.Log.Format
	logCfg.AddSource = cfg.Log.AddSource
	logger.Init(logCfg)
	return nil
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "mfhost.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}
