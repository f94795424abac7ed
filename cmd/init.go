package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/automigrate/config"
)

var initStructs bool

func init() {
	initCmd.Flags().BoolVar(&initStructs, "structs", false, "Declare models as Go structs with automigrate tags instead of schema.yaml")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new automigrate project",
	Long: `Initialize a new automigrate project: automigrate.yaml plus an example
model declaration.

YAML schema (default)
- Simple, declarative model definition in schema.yaml

Go structs (--structs)
- Models declared as structs with automigrate tags under models/

Examples:
  automigrate init              # automigrate.yaml and schema.yaml
  automigrate init --structs    # automigrate.yaml and models/app/models.go`,
	Run: func(cmd *cobra.Command, args []string) {
		written, err := initProject(config.AppFs, initStructs)
		if err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
		for _, path := range written {
			fmt.Println("✅ Created", path)
		}
		fmt.Println("📝 Edit your models, then run 'automigrate generate' to create migrations")
		fmt.Println("🚀 Run 'automigrate migrate' to apply them")
	},
}

// initProject writes the config and the example models. Existing files are
// never overwritten.
func initProject(fs afero.Fs, structs bool) ([]string, error) {
	cfg := config.Template
	files := map[string]string{}
	order := []string{config.FileName + ".yaml"}
	if structs {
		cfg = strings.Replace(cfg, "# models_dir: models", "models_dir: models", 1)
		path := filepath.Join("models", "app", "models.go")
		files[path] = exampleStructs
		order = append(order, path)
	} else {
		files["schema.yaml"] = exampleSchema
		order = append(order, "schema.yaml")
	}
	files[order[0]] = cfg

	for _, path := range order {
		if exists, _ := afero.Exists(fs, path); exists {
			return nil, fmt.Errorf("%s already exists", path)
		}
	}
	for _, path := range order {
		if dir := filepath.Dir(path); dir != "." {
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating %s: %w", dir, err)
			}
		}
		if err := afero.WriteFile(fs, path, []byte(files[path]), 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return order, nil
}

const exampleSchema = `# Models are grouped into modules; each module keeps its own migrations/.
models:
  - name: Timestamped
    options:
      abstract: true
    fields:
      - name: createdAt
        kind: DatetimeField
        autoNowAdd: true
      - name: updatedAt
        kind: DatetimeField
        autoNow: true

  - name: User
    module: app
    fields:
      - name: email
        kind: CharField
        maxLength: 254
        unique: true
      - name: name
        kind: CharField
        maxLength: 100
        dbIndex: true
      - name: status
        kind: CharField
        maxLength: 20
        defaultValue: active
    options:
      tableName: users
      extends: [Timestamped]
      ordering: ["-createdAt"]

  - name: Post
    module: app
    fields:
      - name: title
        kind: CharField
        maxLength: 200
      - name: content
        kind: TextField
        allowBlank: true
        defaultValue: ""
      - name: author
        kind: ForeignKeyField
        relatedTo: User
        onDelete: CASCADE
        relatedName: posts
      - name: published
        kind: BooleanField
        defaultValue: "false"
    options:
      tableName: posts
      extends: [Timestamped]
      indexes:
        - fields: [author, "-createdAt"]
`

const exampleStructs = "package app\n" + `
import "time"

// Timestamped is an abstract base every model below extends.
type Timestamped struct {
	_         struct{}  ` + "`automigrate:\"abstract\"`" + `
	CreatedAt time.Time ` + "`automigrate:\"autoNowAdd\"`" + `
	UpdatedAt time.Time ` + "`automigrate:\"autoNow\"`" + `
}

type User struct {
	_      struct{} ` + "`automigrate:\"table:users;ordering:-createdAt\"`" + `
	Timestamped
	ID     int64
	Email  string ` + "`automigrate:\"maxLength:254;unique\"`" + `
	Name   string ` + "`automigrate:\"maxLength:100;index\"`" + `
	Status string ` + "`automigrate:\"maxLength:20;default:active\"`" + `
}

type Post struct {
	_         struct{} ` + "`automigrate:\"table:posts;index:author,-createdAt\"`" + `
	Timestamped
	ID        int64
	Title     string ` + "`automigrate:\"maxLength:200\"`" + `
	Content   string ` + "`automigrate:\"text;blank;default:\"`" + `
	Author    *User  ` + "`automigrate:\"notNull;relatedName:posts\"`" + `
	Published bool   ` + "`automigrate:\"default:false\"`" + `
}
`
