package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicepay/internal/authorization"
	"github.com/smallbiznis/invoicepay/internal/clock"
	"github.com/smallbiznis/invoicepay/internal/config"
	"github.com/smallbiznis/invoicepay/internal/history"
	"github.com/smallbiznis/invoicepay/internal/invoice"
	"github.com/smallbiznis/invoicepay/internal/invoicelock"
	"github.com/smallbiznis/invoicepay/internal/migration"
	"github.com/smallbiznis/invoicepay/internal/observability"
	"github.com/smallbiznis/invoicepay/internal/payment"
	"github.com/smallbiznis/invoicepay/internal/providers/email"
	"github.com/smallbiznis/invoicepay/internal/server"
	"github.com/smallbiznis/invoicepay/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and webhook receiver",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Payment lifecycle
		invoice.Module,
		invoicelock.Module,
		history.Module,
		authorization.Module,
		email.Module,
		payment.Module,

		server.Module,
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
