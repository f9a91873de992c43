package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/threatwatch/internal/repository/postgres"
	"github.com/pratik-mahalle/threatwatch/migrations"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := postgres.New(cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			applied, err := postgres.RunMigrations(db, migrations.GetFS())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if applied == 0 {
				fmt.Println("Database is up to date")
				return nil
			}
			fmt.Printf("Applied %d migrations\n", applied)
			return nil
		},
	}
}
