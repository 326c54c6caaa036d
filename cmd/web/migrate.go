package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"studyquiz/internal/app"
	"studyquiz/internal/db"

	"github.com/spf13/cobra"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	var rollback, status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or list database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rollback && status {
				return fmt.Errorf("--rollback and --status are mutually exclusive")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := app.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			sqlDB, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			out := cmd.OutOrStdout()
			switch {
			case status:
				pending, err := db.Pending(ctx, sqlDB)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Fprintln(out, "database is up to date")
					return nil
				}
				for _, name := range pending {
					fmt.Fprintf(out, "pending %s\n", name)
				}
			case rollback:
				names, err := db.Rollback(ctx, sqlDB)
				if err != nil {
					return err
				}
				if len(names) == 0 {
					fmt.Fprintln(out, "nothing to roll back")
					return nil
				}
				for _, name := range names {
					fmt.Fprintf(out, "rolled back %s\n", name)
				}
			default:
				names, err := db.Migrate(ctx, sqlDB)
				if err != nil {
					return err
				}
				if len(names) == 0 {
					fmt.Fprintln(out, "no new migrations")
					return nil
				}
				for _, name := range names {
					fmt.Fprintf(out, "applied %s\n", name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the last migration group")
	cmd.Flags().BoolVar(&status, "status", false, "list pending migrations")
	return cmd
}

func openDB(ctx context.Context, cfg app.Config) (*sql.DB, error) {
	return db.OpenPostgresWithConfig(ctx, cfg.DB.DSN, db.PoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DB.ConnMaxLifeMins) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.DB.ConnMaxIdleMins) * time.Minute,
		PingAttempts:    cfg.DB.ConnectAttempts,
	})
}
