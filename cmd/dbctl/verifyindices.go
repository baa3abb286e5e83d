package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var verifyIndicesCmd = &cobra.Command{
	Use:   "verify-indices",
	Short: "Report missing and existing required indices",
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

		missing, existing, err := engine.VerifyIndices(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("existing: %v\n", existing)
		if len(missing) > 0 {
			fmt.Printf("missing:  %v\n", missing)
			return fmt.Errorf("%d required index(es) missing", len(missing))
		}
		fmt.Println("missing:  none")
		return nil
	},
}
