package main

import (
	"fmt"
	"os"

	"github.com/haikalr/loopwatch/internal/config"
	"github.com/haikalr/loopwatch/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "loopwatch",
	Short: "Loopwatch pipeline dashboard",
	Long:  `Loopwatch is a live terminal dashboard for the issue pipeline engine.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Log.Level)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.loopwatch/config.yaml)")
	rootCmd.PersistentFlags().String("log.level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("engine.base_url", config.DefaultEngineBaseURL, "engine base URL")
}
