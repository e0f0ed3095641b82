package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/paybridge/internal/store"
)

var migrateAccounts bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the payment tables and exit",
	Long: `Create the payment and agreement tables. Safe to run repeatedly and
from several replicas at once.

The accounts table belongs to the game server. Pass --accounts only on a
development database that has none.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()

		db, err := store.NewStore(ctx, cfg.DBSource)
		if err != nil {
			return err
		}
		defer db.Close()

		if migrateAccounts {
			if err := store.MigrateAccounts(ctx, db.Db); err != nil {
				return err
			}
		}
		if err := store.Migrate(ctx, db.Db); err != nil {
			return err
		}
		slog.Info("schema ready")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateAccounts, "accounts", false, "also create a development accounts table")
}
