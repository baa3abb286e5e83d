package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumenshell/lumen/internal/dbengine/migrate"
	"github.com/lumenshell/lumen/internal/dbengine/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildEngine()
		if err != nil {
			return err
		}
		ctx := context.Background()
		if err := engine.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		defer engine.Close()

		mgr := migrate.NewManager(engine)
		migrations.RegisterAll(mgr)

		result, err := mgr.Migrate(ctx)
		if err != nil {
			if result.Failed != nil {
				return fmt.Errorf("migration %d (%s) failed, rolled back: %w", result.Failed.Version, result.Failed.Name, err)
			}
			return err
		}

		fmt.Printf("applied %d migration(s)\n", result.Applied)
		return nil
	},
}
