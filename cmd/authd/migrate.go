package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-franchise-auth/config"
	"github.com/goliatone/go-franchise-auth/repository"
)

func newMigrateCmd() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the auth schema",
		Long: `Create every auth table and index when missing. With --purge, refresh
token records that expired before now are deleted afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			db, err := openDB(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			if err := repository.CreateSchema(ctx, db); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")

			if !purge {
				return nil
			}

			purged, err := repository.NewManager(db).RefreshTokens().PurgeExpired(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("purge refresh tokens: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired refresh tokens\n", purged)
			return nil
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "delete expired refresh token records")
	return cmd
}
