package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
)

// DDL renders statements shared by the SQL adapters. Dialect specific pieces
// are supplied through the fields.
type DDL struct {
	Dialect schema.Dialect
	// QuoteLiteral renders a string default value.
	QuoteLiteral func(string) string
	// UUIDDefault is the expression used for auto generated UUID columns, if any.
	UUIDDefault string
}

// QuoteIdent double-quotes an identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ColumnDefinition renders one column for CREATE TABLE or ADD COLUMN.
func (d DDL) ColumnDefinition(st *state.State, model *schema.Model, f schema.Field) (string, error) {
	col := QuoteIdent(model.Column(f))
	if d.Dialect == schema.SQLite && f.PrimaryKey && f.Kind.IsAuto() {
		return col + " INTEGER PRIMARY KEY AUTOINCREMENT", nil
	}

	var typ string
	var err error
	var target *schema.Model
	var targetPK schema.Field
	if f.Kind.IsRelation() {
		target, targetPK, err = Target(st, f)
		if err != nil {
			return "", fmt.Errorf("column %s.%s: %w", model.Name, f.Name, err)
		}
		typ, err = schema.ReferenceType(d.Dialect, targetPK)
	} else {
		typ, err = schema.ColumnType(d.Dialect, f)
	}
	if err != nil {
		return "", err
	}

	parts := []string{col, typ}
	if f.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	} else {
		if !f.AllowNull {
			parts = append(parts, "NOT NULL")
		}
		if f.Unique {
			parts = append(parts, "UNIQUE")
		}
	}
	if def, ok, err := d.DefaultExpression(f); err != nil {
		return "", fmt.Errorf("column %s.%s: %w", model.Name, f.Name, err)
	} else if ok {
		parts = append(parts, "DEFAULT "+def)
	}
	if target != nil {
		parts = append(parts, d.References(target, targetPK, f))
	}
	return strings.Join(parts, " "), nil
}

// References renders the REFERENCES clause of a relational column.
func (d DDL) References(target *schema.Model, targetPK schema.Field, f schema.Field) string {
	return fmt.Sprintf("REFERENCES %s (%s) ON DELETE %s",
		QuoteIdent(target.Table()),
		QuoteIdent(target.Column(targetPK)),
		f.Relation.OnDelete.SQL(),
	)
}

// DefaultExpression renders the DEFAULT clause value of f.
func (d DDL) DefaultExpression(f schema.Field) (string, bool, error) {
	if f.Default == nil {
		switch {
		case f.AutoNow || f.AutoNowAdd:
			return "CURRENT_TIMESTAMP", true, nil
		case f.Kind == schema.UUIDField && f.AutoGenerate && d.UUIDDefault != "":
			return d.UUIDDefault, true, nil
		}
		return "", false, nil
	}
	value := *f.Default
	switch f.Kind {
	case schema.IntegerField, schema.BigIntegerField:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return "", false, fmt.Errorf("default %q is not an integer", value)
		}
		return value, true, nil
	case schema.DecimalField:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return "", false, fmt.Errorf("default %q is not a number", value)
		}
		return value, true, nil
	case schema.BooleanField:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", false, fmt.Errorf("default %q is not a boolean", value)
		}
		if d.Dialect == schema.SQLite {
			if b {
				return "1", true, nil
			}
			return "0", true, nil
		}
		return strconv.FormatBool(b), true, nil
	}
	return d.QuoteLiteral(value), true, nil
}

// CreateTable renders CREATE TABLE for model together with the index
// statements its fields and options ask for.
func (d DDL) CreateTable(st *state.State, model *schema.Model) ([]string, error) {
	var cols []string
	for _, f := range model.Fields {
		def, err := d.ColumnDefinition(st, model, f)
		if err != nil {
			return nil, err
		}
		cols = append(cols, "\t"+def)
	}
	stmts := []string{fmt.Sprintf("CREATE TABLE %s (\n%s\n);", QuoteIdent(model.Table()), strings.Join(cols, ",\n"))}
	for _, idx := range TableIndexes(model) {
		stmts = append(stmts, d.CreateIndex(model, idx))
	}
	return stmts, nil
}

// TableIndexes returns the declared indexes plus one per dbIndex field.
func TableIndexes(model *schema.Model) []schema.Index {
	var out []schema.Index
	for _, f := range model.Fields {
		if f.DBIndex && !f.PrimaryKey && !f.Unique {
			out = append(out, FieldIndex(model, f))
		}
	}
	return append(out, model.Options.Indexes...)
}

// FieldIndex is the implicit index of a dbIndex field.
func FieldIndex(model *schema.Model, f schema.Field) schema.Index {
	return schema.Index{
		Name:   fmt.Sprintf("%s_%s_idx", schema.ToSnakeCase(model.Table()), model.Column(f)),
		Fields: []string{f.Name},
	}
}

// IndexColumns maps the attribute names of an index to physical columns.
func IndexColumns(model *schema.Model, idx schema.Index) []string {
	cols := make([]string, len(idx.Fields))
	for i, name := range idx.Fields {
		field, desc := schema.ParseOrdering(name)
		col := field
		if f, ok := model.Field(field); ok {
			col = model.Column(f)
		}
		col = QuoteIdent(col)
		if desc {
			col += " DESC"
		}
		cols[i] = col
	}
	return cols
}

func (d DDL) CreateIndex(model *schema.Model, idx schema.Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s);",
		unique,
		QuoteIdent(idx.IndexName(model.Table())),
		QuoteIdent(model.Table()),
		strings.Join(IndexColumns(model, idx), ", "),
	)
}

func (d DDL) DropIndex(model *schema.Model, idx schema.Index) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s;", QuoteIdent(idx.IndexName(model.Table())))
}

func (d DDL) DropTable(model *schema.Model) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", QuoteIdent(model.Table()))
}

func (d DDL) RenameTable(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", QuoteIdent(from), QuoteIdent(to))
}

func (d DDL) RenameColumn(table, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", QuoteIdent(table), QuoteIdent(from), QuoteIdent(to))
}

func (d DDL) AddColumn(st *state.State, model *schema.Model, f schema.Field) (string, error) {
	def, err := d.ColumnDefinition(st, model, f)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", QuoteIdent(model.Table()), def), nil
}
