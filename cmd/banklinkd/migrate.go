package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(nil)
			if err != nil {
				return err
			}
			client, err := openDatabase(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("banklinkd: migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", settings.DBDriver)
			return nil
		},
	}
}
