package main

import (
	"fmt"

	"helpmate/config"

	"github.com/spf13/cobra"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:         "sample",
		Short:       "Print a configuration file with every default filled in",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			out, err := cfg.Sample()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rows := [][]string{
				{"database.store", cfg.Database.Store},
				{"blob.type", cfg.Blob.Type},
				{"redis.addr", orDash(cfg.Redis.Addr)},
				{"nats.url", orDash(cfg.NATS.URL)},
				{"feed.page_size", fmt.Sprint(cfg.Feed.PageSize)},
				{"logging", cfg.Logging.Format + "/" + cfg.Logging.Level},
			}
			printTable(cmd, []string{"Setting", "Value"}, rows, nil)
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration OK")
			return nil
		},
	})

	return configCmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
