package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe connection health and report write-queue depth",
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

		healthy := engine.CheckHealth(ctx)
		pending, oldestMs := engine.QueueStats()

		fmt.Printf("healthy: %v\n", healthy)
		fmt.Printf("queue_pending: %d\n", pending)
		fmt.Printf("queue_oldest_age_ms: %d\n", oldestMs)

		if !healthy {
			return fmt.Errorf("health check failed")
		}
		return nil
	},
}
