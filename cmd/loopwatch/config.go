package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/haikalr/loopwatch/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the loopwatch configuration file.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := cmd.Flags().GetString("path")
		if err != nil {
			return err
		}
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path = filepath.Join(home, ".loopwatch", "config.yaml")
		}

		if _, err := os.Stat(path); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		raw, err := yaml.Marshal(config.Defaults())
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Dump the fully resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(raw))
		return nil
	},
}

func init() {
	configInitCmd.Flags().String("path", "", "target path (default is $HOME/.loopwatch/config.yaml)")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configViewCmd)
	rootCmd.AddCommand(configCmd)
}
