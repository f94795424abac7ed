package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/automigrate/diff"
	"github.com/ridoystarlord/automigrate/generator"
	"github.com/ridoystarlord/automigrate/history"
	"github.com/ridoystarlord/automigrate/prompt"
)

var schemaFile string
var generateModelsDir string
var dryRunGenerate bool
var noInputGenerate bool

func init() {
	generateCmd.Flags().StringVarP(&schemaFile, "file", "f", "", "Schema YAML file to load (overrides the config)")
	generateCmd.Flags().StringVarP(&generateModelsDir, "models", "m", "", "Models directory to load structs from (overrides the config)")
	generateCmd.Flags().BoolVar(&dryRunGenerate, "dry-run", false, "Show the migrations that would be written without writing files")
	generateCmd.Flags().BoolVar(&noInputGenerate, "no-input", false, "Never prompt: renames are treated as delete plus create and required fields abort")
}

var generateCmd = &cobra.Command{
	Use:     "generate",
	Aliases: []string{"makemigrations"},
	Short:   "Generate migration files from the declared models",
	Long: `Generate migration files from the declared models.

The models are compared with the state rebuilt from the existing migrations.
When a model or field looks renamed you are asked to confirm it; answer no and
it is treated as a deletion plus a creation.

Examples:
  automigrate generate                    # Use the schema or models_dir from automigrate.yaml
  automigrate generate -f custom.yaml     # Generate from a custom YAML file
  automigrate generate -m models/         # Generate from Go structs
  automigrate generate --dry-run          # Preview without writing
  automigrate generate --no-input         # Non-interactive, for CI
`,
	Run: func(cmd *cobra.Command, args []string) {
		created, err := runGenerate()
		if err != nil {
			fmt.Println("❌ Generating migrations:", err)
			os.Exit(1)
		}
		if dryRunGenerate && len(created) > 0 {
			fmt.Println("\n================ DRY RUN: Migration Preview ================")
			printPlan(created)
			fmt.Println("============================================================")
			fmt.Println("(Dry run only. No files were written.)")
		}
	},
}

func runGenerate() ([]*history.Migration, error) {
	p, err := loadProject()
	if err != nil {
		return nil, err
	}
	if schemaFile != "" {
		p.cfg.Schema, p.cfg.ModelsDir = schemaFile, ""
	}
	if generateModelsDir != "" {
		p.cfg.ModelsDir = generateModelsDir
	}
	return makeMigrations(p, chooser(noInputGenerate), dryRunGenerate)
}

func chooser(noInput bool) prompt.Prompter {
	if noInput {
		return prompt.Static{Answer: false}
	}
	return prompt.NewSurvey()
}

func makeMigrations(p *project, prompter prompt.Prompter, dryRun bool) ([]*history.Migration, error) {
	current, models, err := p.currentState()
	if err != nil {
		return nil, fmt.Errorf("loading models: %w", err)
	}
	gen := generator.New(p.store(models), p.cfg.Engine,
		generator.WithLogger(p.log),
		generator.WithDryRun(dryRun),
	)
	return gen.MakeMigrations(current, diff.New(prompter, diff.WithLogger(p.log)))
}

// printPlan lists the operations of each migration.
func printPlan(migrations []*history.Migration) {
	for _, m := range migrations {
		fmt.Printf("%s (%s)\n", m.Name, m.Module)
		for _, op := range m.Operations {
			fmt.Println("   -", op.Describe())
		}
	}
}
