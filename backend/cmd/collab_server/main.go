package main

import (
	"log"
	"os"

	"banglaCollab/backend/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "collab_server",
		Short:        "Banglish/Bangla collaborative document sync service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: collabConfig.yaml in ./backend/config, ./config or .)")

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		log.Printf("config loaded: store=%s auth=%s port=%d", cfg.Store.Driver, cfg.Auth.Mode, cfg.Running.Port)
		return cfg, nil
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the websocket / http server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				return runServe(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create / update the MySQL tables (documents, document_snapshots)",
			RunE: func(_ *cobra.Command, _ []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				return runMigrate(cfg)
			},
		},
	)
	return rootCmd
}
