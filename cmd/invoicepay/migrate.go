package main

import (
	"github.com/smallbiznis/invoicepay/internal/config"
	"github.com/smallbiznis/invoicepay/internal/migration"
	"github.com/smallbiznis/invoicepay/internal/observability"
	"github.com/smallbiznis/invoicepay/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Long: `Apply the embedded schema migrations to the configured database.

Postgres runs the versioned SQL migrations; sqlite is auto-migrated from the
models. DATABASE_MIGRATE_ON_START is ignored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				config.Module,
				observability.Module,
				db.Module,
				fx.Decorate(func(cfg config.Config) config.Config {
					cfg.DBMigrateOnStart = true
					return cfg
				}),
				migration.Module,
				fx.NopLogger,
			)
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			return app.Stop(cmd.Context())
		},
	}
}
