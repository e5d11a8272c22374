package main

import (
	"fmt"

	"helpmate/migrations"

	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the PostgreSQL document schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				if err := requirePostgres(a); err != nil {
					return err
				}
				names, err := migrations.Names()
				if err != nil {
					return err
				}
				if err := migrations.Apply(cmd.Context(), a.pool); err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
				}
				return nil
			})
		},
	}
}
