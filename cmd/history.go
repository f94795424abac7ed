package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/automigrate/runner"
)

var (
	historyLimit    int
	historyModule   string
	historyDetailed bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the applied migrations recorded in the ledger",
	Long: `Show the applied migrations recorded in schema_migrations, with when and
by whom they were applied.

Examples:
  automigrate history                    # Show all migration history
  automigrate history --limit 10         # Show the last 10 migrations
  automigrate history --module shop      # Show migrations of one module
  automigrate history --detailed         # Show detailed information
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		p, err := loadProject()
		if err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
		adapter, err := p.open(ctx)
		if err != nil {
			fmt.Printf("❌ Error connecting to database: %v\n", err)
			os.Exit(1)
		}
		defer adapter.Close()

		records, err := runner.NewSQLLedger(adapter).Applied(ctx)
		if err != nil {
			fmt.Printf("❌ Error getting migration history: %v\n", err)
			os.Exit(1)
		}
		records = filterRecords(records, historyModule, historyLimit)
		if len(records) == 0 {
			fmt.Println("📋 No migration history found")
			return
		}
		showMigrationHistory(records, historyDetailed)
	},
}

// filterRecords keeps the records of module (all when empty) and then the
// last limit of them (all when 0).
func filterRecords(records []runner.MigrationRecord, module string, limit int) []runner.MigrationRecord {
	var out []runner.MigrationRecord
	for _, r := range records {
		if module == "" || r.Module == module {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func showMigrationHistory(history []runner.MigrationRecord, detailed bool) {
	fmt.Println("📋 Migration History")
	fmt.Println(strings.Repeat("=", 60))

	if detailed {
		showDetailedHistory(history)
	} else {
		showSummaryHistory(history)
	}
}

func showDetailedHistory(history []runner.MigrationRecord) {
	green := color.New(color.FgGreen, color.Bold)
	blue := color.New(color.FgBlue, color.Bold)
	cyan := color.New(color.FgCyan)

	for i, record := range history {
		fmt.Printf("\n%d. ", i+1)
		green.Print("✅ ")
		blue.Printf("%s\n", record.MigrationName)
		cyan.Printf("   📦 Module: %s\n", record.Module)
		cyan.Printf("   📅 Applied: %s\n", record.AppliedAt.Local().Format("2006-01-02 15:04:05"))
		if record.ExecutedBy != "" {
			cyan.Printf("   👤 User: %s\n", record.ExecutedBy)
		}
		if len(record.Checksum) >= 8 {
			cyan.Printf("   🔍 Checksum: %s\n", record.Checksum[:8]+"...")
		}
	}
}

func showSummaryHistory(history []runner.MigrationRecord) {
	blue := color.New(color.FgBlue, color.Bold)

	fmt.Printf("%-4s %-12s %-40s %-10s %s\n", "ID", "Module", "Migration", "User", "Date")
	fmt.Println(strings.Repeat("-", 90))

	for _, record := range history {
		user := record.ExecutedBy
		if user == "" {
			user = "N/A"
		}
		name := record.MigrationName
		if len(name) > 38 {
			name = name[:35] + "..."
		}
		fmt.Printf("%-4d %-12s %-40s %-10s %s\n",
			record.ID,
			record.Module,
			blue.Sprint(name),
			user,
			record.AppliedAt.Local().Format("2006-01-02 15:04"),
		)
	}

	fmt.Println(strings.Repeat("-", 90))
	fmt.Printf("📊 Summary: %d applied\n", len(history))
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 0, "Limit number of records to show (0 = all)")
	historyCmd.Flags().StringVarP(&historyModule, "module", "m", "", "Filter by module")
	historyCmd.Flags().BoolVarP(&historyDetailed, "detailed", "d", false, "Show detailed information")
}
