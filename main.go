package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cvdrisk/logging"
)

var (
	cfg        *Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:          "cvdrisk",
	Short:        "Cardiovascular disease risk prediction service",
	Long:         "Serves a pre-trained CVD risk classifier over HTTP and keeps a CSV audit log of every prediction.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(configPath, cmd.Flags().Changed("config"))
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		logger, err := logging.New(cfg.Log)
		if err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.ReplaceGlobals(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to YAML config")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
