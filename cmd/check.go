package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/automigrate/diff"
	"github.com/ridoystarlord/automigrate/engine"
	"github.com/ridoystarlord/automigrate/history"
	"github.com/ridoystarlord/automigrate/introspect"
	"github.com/ridoystarlord/automigrate/prompt"
	"github.com/ridoystarlord/automigrate/runner"
	"github.com/ridoystarlord/automigrate/state"
)

var (
	errUnmigrated    = errors.New("models have changes that are not in a migration")
	errDatabaseDrift = errors.New("database does not match the applied migrations")
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the models and the database are up to date",
	Long: `Check the models against the migration history and, when a database is
configured, the history against the database.

This command will:
- Fail if the models have changes no migration captures yet
- Report pending migrations and files changed after being applied
- Fail if the database tables differ from what the applied migrations created

It never prompts and never writes, so it is safe in CI.

Examples:
  automigrate check                    # Check current state
  automigrate check --timeout 10s      # Set custom timeout
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := checkProject(); err != nil {
			fmt.Printf("❌ Check failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✅ Check completed successfully")
	},
}

var checkTimeout time.Duration

func init() {
	checkCmd.Flags().DurationVarP(&checkTimeout, "timeout", "t", 10*time.Second, "Timeout for the database part of the check")
}

func checkProject() error {
	p, err := loadProject()
	if err != nil {
		return err
	}
	// Renames are answered no, so every change shows up as some operation.
	planned, err := makeMigrations(p, prompt.Static{Answer: false}, true)
	if errors.Is(err, diff.ErrAborted) {
		return fmt.Errorf("%w: a required field was added", errUnmigrated)
	}
	if err != nil {
		return err
	}
	if len(planned) > 0 {
		printPlan(planned)
		return errUnmigrated
	}

	if p.cfg.DatabaseURL == "" {
		fmt.Println("⚠️  DATABASE_URL not set, skipping the database check")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	migrations, err := p.history()
	if err != nil {
		return err
	}
	adapter, err := p.open(ctx)
	if err != nil {
		return err
	}
	defer adapter.Close()

	statuses, err := runner.New(adapter, runner.WithLogger(p.log)).Status(ctx, migrations)
	if err != nil {
		return err
	}
	pending, lastApplied := 0, ""
	for _, s := range statuses {
		if !s.Applied {
			pending++
		} else {
			lastApplied = s.Name
		}
		if s.Drifted {
			fmt.Printf("⚠️  %s changed after it was applied\n", s.Name)
		}
	}
	fmt.Printf("📊 Found %d applied and %d pending migrations\n", len(statuses)-pending, pending)
	if pending > 0 {
		fmt.Println("   Run 'automigrate migrate' to apply them")
	}
	return checkDatabase(ctx, adapter, migrations, lastApplied)
}

// checkDatabase compares the live tables with the state the applied
// migrations describe.
func checkDatabase(ctx context.Context, adapter engine.Adapter, migrations []*history.Migration, lastApplied string) error {
	applied := state.New()
	if lastApplied != "" {
		var err error
		if applied, err = history.BuildState(migrations, history.StopAt(lastApplied)); err != nil {
			return err
		}
	}
	tables, err := introspect.IntrospectDatabase(ctx, adapter)
	if err != nil {
		return err
	}
	drifts := introspect.Compare(applied, tables, runner.LedgerTable)
	if len(drifts) == 0 {
		return nil
	}
	fmt.Printf("🔍 Found %d differences between the database and the applied migrations:\n", len(drifts))
	for _, d := range drifts {
		fmt.Println("   -", d)
	}
	return errDatabaseDrift
}
