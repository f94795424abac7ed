package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database connectivity",
	Long: `Check if the configured database is accessible and responsive.

Examples:
  automigrate health                    # Check the configured database
  automigrate health --timeout 10s      # Set custom timeout
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := checkDatabaseHealth(); err != nil {
			fmt.Printf("❌ Database health check failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✅ Database is healthy and accessible")
	},
}

var healthTimeout time.Duration

func init() {
	healthCmd.Flags().DurationVarP(&healthTimeout, "timeout", "t", 5*time.Second, "Timeout for health check")
}

func checkDatabaseHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	p, err := loadProject()
	if err != nil {
		return err
	}
	// Both adapters ping while opening.
	adapter, err := p.open(ctx)
	if err != nil {
		return err
	}
	defer adapter.Close()

	if _, err := adapter.Query(ctx, nil, "SELECT 1"); err != nil {
		return fmt.Errorf("failed to query database: %w", err)
	}
	return nil
}
