package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Prepare the configured store and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configFile, envFile)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate %s store: %w", cfg.Store, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s store is ready\n", cfg.Store)
		return nil
	},
}
