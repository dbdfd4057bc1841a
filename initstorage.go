package main

import (
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"journal-api/storage"
)

func newInitStorageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create the tasks table and change queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(configPath, nil)
			if err != nil {
				return err
			}
			configureLogging(cfg)
			if cfg.Store.Driver != driverAzure {
				log.WithField("driver", cfg.Store.Driver).Info("nothing to initialise")
				return nil
			}
			if cfg.Store.ConnectionString == "" {
				return errors.New("missing STORAGE_CONNECTION_STRING")
			}
			log.Info("storage init starting")
			ctx := cmd.Context()
			if err := storage.CreateTables(ctx, cfg.Store.ConnectionString, []string{cfg.Store.TasksTable}); err != nil {
				return err
			}
			if err := storage.CreateQueues(ctx, cfg.Store.ConnectionString, []string{cfg.Store.EventsQueue}); err != nil {
				return err
			}
			log.Info("storage init complete")
			return nil
		},
	}
}
