package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/automigrate/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the declared models",
	Long: `Validate your models before generating migrations.

This command checks:
- Table, column and index names (PostgreSQL identifier rules, reserved keywords)
- Relation targets (the related model exists and has a primary key)
- Index and ordering fields
- Default values against their field kind
- Models or fields that map to the same table or column

Examples:
  automigrate validate                        # Validate the configured schema
  automigrate validate --schema custom.yaml   # Validate a custom schema file
  automigrate validate --format json          # Output validation results as JSON
`,
	Run: func(cmd *cobra.Command, args []string) {
		result, err := validateSchema()
		if err != nil {
			fmt.Printf("❌ Schema validation failed: %v\n", err)
			os.Exit(1)
		}
		if validateFormat == "json" {
			err = outputJSON(result)
		} else {
			outputText(result)
		}
		if err != nil {
			fmt.Printf("❌ Writing results: %v\n", err)
			os.Exit(1)
		}
		if !result.Valid {
			os.Exit(1)
		}
	},
}

var (
	validateSchemaFile string
	validateFormat     string
)

func init() {
	validateCmd.Flags().StringVarP(&validateSchemaFile, "schema", "s", "", "Schema file to validate (overrides the config)")
	validateCmd.Flags().StringVarP(&validateFormat, "format", "f", "text", "Output format (text, json)")
}

func validateSchema() (*validator.ValidationResult, error) {
	p, err := loadProject()
	if err != nil {
		return nil, err
	}
	if validateSchemaFile != "" {
		p.cfg.Schema, p.cfg.ModelsDir = validateSchemaFile, ""
	}
	models, err := p.registry()
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	return validator.ValidateModels(models), nil
}

func outputJSON(result *validator.ValidationResult) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printFindings(title string, findings []validator.ValidationError) {
	if len(findings) == 0 {
		return
	}
	fmt.Printf("\n%s (%d):\n", title, len(findings))
	for i, f := range findings {
		fmt.Printf("  %d. ", i+1)
		if f.Model != "" {
			fmt.Printf("[%s]", f.Model)
		}
		if f.Field != "" {
			fmt.Printf(".%s", f.Field)
		}
		if f.Index != "" {
			fmt.Printf(" (index: %s)", f.Index)
		}
		fmt.Printf(": %s\n", f.Message)
	}
}

func outputText(result *validator.ValidationResult) {
	if result.Valid {
		color.Green("✅ Schema validation passed!")
	} else {
		color.Red("❌ Schema validation failed!")
	}

	printFindings("🔴 Errors", result.Errors)
	printFindings("🟡 Warnings", result.Warnings)
	printFindings("🔵 Info", result.Info)

	fmt.Printf("\n📊 Summary:\n")
	fmt.Printf("  • Errors: %d\n", len(result.Errors))
	fmt.Printf("  • Warnings: %d\n", len(result.Warnings))
	fmt.Printf("  • Info: %d\n", len(result.Info))

	if result.Valid {
		fmt.Printf("\n🎉 Your schema is valid and ready for migration generation!\n")
	} else {
		fmt.Printf("\n💡 Fix the errors above before generating migrations.\n")
	}
}
