package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/novaxell/dispenser/internal/config"
	"github.com/novaxell/dispenser/internal/db"
)

func migrateCmd(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Long: `Apply pending migrations to the PostgreSQL database and, when the
sqlite stock backend is configured, to the stock database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pg, err := db.InitPostgres(opts.DatabaseDSN)
			if err != nil {
				return err
			}
			pg.Close()

			if opts.StockBackend == config.StockSQLite {
				_, closePool, err := openStock(opts)
				if err != nil {
					return err
				}
				closePool()
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
