package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/automigrate/runner"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	Run: func(cmd *cobra.Command, args []string) {
		statuses, err := loadStatus(context.Background())
		if err != nil {
			fmt.Println("❌ Status error:", err)
			os.Exit(1)
		}

		var drifted []runner.MigrationStatus
		fmt.Println("✅ Applied migrations:")
		for _, s := range statuses {
			if !s.Applied {
				continue
			}
			fmt.Printf("   - %s (%s)\n", s.Name, s.AppliedAt.Local().Format("2006-01-02 15:04"))
			if s.Drifted {
				drifted = append(drifted, s)
			}
		}

		if len(drifted) > 0 {
			fmt.Println("\n⚠️  Changed after being applied:")
			for _, s := range drifted {
				fmt.Println("   -", s.Name)
			}
		}

		fmt.Println("\n🕒 Pending migrations:")
		for _, s := range statuses {
			if !s.Applied {
				fmt.Println("   -", s.Name)
			}
		}
	},
}

func loadStatus(ctx context.Context) ([]runner.MigrationStatus, error) {
	p, err := loadProject()
	if err != nil {
		return nil, err
	}
	migrations, err := p.history()
	if err != nil {
		return nil, err
	}
	adapter, err := p.open(ctx)
	if err != nil {
		return nil, err
	}
	defer adapter.Close()
	return runner.New(adapter, runner.WithLogger(p.log)).Status(ctx, migrations)
}
