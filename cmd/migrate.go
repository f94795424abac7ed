package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/automigrate/history"
	"github.com/ridoystarlord/automigrate/runner"
)

var dryRunMigrate bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	Long: `Apply every migration after the last one recorded in schema_migrations.

Each migration runs in its own transaction together with its ledger entry.
Foreign keys between models created in the same migration are added once
both tables exist.

Examples:
  automigrate migrate
  automigrate migrate --dry-run    # List what would run
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runMigrate(context.Background(), dryRunMigrate); err != nil {
			fmt.Println("❌ Migration failed:", err)
			os.Exit(1)
		}
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&dryRunMigrate, "dry-run", false, "List the pending migrations and their operations without applying them")
}

func runMigrate(ctx context.Context, dryRun bool) error {
	p, err := loadProject()
	if err != nil {
		return err
	}
	migrations, err := p.history()
	if err != nil {
		return err
	}
	adapter, err := p.open(ctx)
	if err != nil {
		return err
	}
	defer adapter.Close()

	r := runner.New(adapter, runner.WithLogger(p.log))
	if dryRun {
		statuses, err := r.Status(ctx, migrations)
		if err != nil {
			return err
		}
		var pending []*history.Migration
		for i, s := range statuses {
			if !s.Applied {
				pending = append(pending, migrations[i])
			}
		}
		if len(pending) == 0 {
			fmt.Println("✅ No pending migrations.")
			return nil
		}
		fmt.Println("🕒 Pending migrations:")
		printPlan(pending)
		return nil
	}

	_, err = r.Migrate(ctx, migrations)
	return err
}
