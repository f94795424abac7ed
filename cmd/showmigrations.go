package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/automigrate/history"
	"github.com/ridoystarlord/automigrate/runner"
)

var showPlan bool

var showMigrationsCmd = &cobra.Command{
	Use:   "showmigrations",
	Short: "List migrations per module with applied markers",
	Long: `List every migration grouped by module. [X] marks applied migrations.

With --plan the migrations are listed in the order they apply, each with
its operations.

Examples:
  automigrate showmigrations
  automigrate showmigrations --plan
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		p, err := loadProject()
		if err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
		migrations, err := p.history()
		if err != nil {
			fmt.Println("❌ Reading migrations:", err)
			os.Exit(1)
		}

		applied := map[string]bool{}
		adapter, err := p.open(ctx)
		if err != nil {
			p.log.Warn("Database unavailable, applied markers are not shown: %v", err)
		} else {
			defer adapter.Close()
			statuses, err := runner.New(adapter, runner.WithLogger(p.log)).Status(ctx, migrations)
			if err != nil {
				fmt.Println("❌ Reading the ledger:", err)
				os.Exit(1)
			}
			for _, s := range statuses {
				applied[s.Name] = s.Applied
			}
		}

		if showPlan {
			for _, m := range migrations {
				fmt.Printf("%s %s.%s\n", marker(applied[m.Name]), m.Module, m.Name)
				for _, op := range m.Operations {
					fmt.Println("      -", op.Describe())
				}
			}
			return
		}
		showByModule(migrations, applied)
	},
}

func init() {
	showMigrationsCmd.Flags().BoolVar(&showPlan, "plan", false, "Show migrations in apply order with their operations")
}

func marker(applied bool) string {
	if applied {
		return color.New(color.FgGreen, color.Bold).Sprint("[X]")
	}
	return "[ ]"
}

func showByModule(migrations []*history.Migration, applied map[string]bool) {
	blue := color.New(color.FgBlue, color.Bold)

	var modules []string
	byModule := map[string][]*history.Migration{}
	for _, m := range migrations {
		if _, ok := byModule[m.Module]; !ok {
			modules = append(modules, m.Module)
		}
		byModule[m.Module] = append(byModule[m.Module], m)
	}
	if len(modules) == 0 {
		fmt.Println("📋 No migrations found")
		return
	}
	for _, module := range modules {
		blue.Println(module)
		for _, m := range byModule[module] {
			fmt.Printf(" %s %s\n", marker(applied[m.Name]), m.Name)
		}
	}
}
