package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/ridoystarlord/automigrate/engine/postgres"
	_ "github.com/ridoystarlord/automigrate/engine/sqlite"
	"github.com/ridoystarlord/automigrate/utils"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "automigrate",
	Short: "Schema migrations generated from your model declarations",
	Long: `automigrate compares your declared models with the state rebuilt from
the migration history, writes the difference as new migration files and
applies pending migrations to the database.

Examples:

  automigrate init
  automigrate generate
  automigrate migrate
  automigrate showmigrations
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			utils.Default.SetLevel(utils.LogLevelDebug)
		}
	},
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("❌", err)
		os.Exit(1)
	}
}

// Register subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./automigrate.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(showMigrationsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(healthCmd)
}
