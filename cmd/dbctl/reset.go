package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var truncateAll bool

func init() {
	resetCmd.Flags().BoolVar(&truncateAll, "all", false, "also clear history, bookmarks, settings, and workspaces")
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear sessions, tab_groups, and schema_version (or every table with --all)",
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

		if truncateAll {
			if err := engine.TruncateAll(ctx); err != nil {
				return err
			}
			fmt.Println("truncated all tables")
			return nil
		}

		if err := engine.Reset(ctx); err != nil {
			return err
		}
		fmt.Println("reset sessions, tab_groups, schema_version")
		return nil
	},
}
