package main

import "github.com/spf13/cobra"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "banklinkd",
		Short: "Bank account link service",
		Long: `banklinkd mints link tokens, exchanges public tokens for durable
credentials and manages linked items over HTTP.

Configuration is read from BANKLINK_* environment variables.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(), newMigrateCommand())
	return root
}
