// Package validator checks a built model registry for problems that would
// only surface when the migrations run.
package validator

import (
	"fmt"
	"strings"

	"github.com/ridoystarlord/automigrate/engine"
	"github.com/ridoystarlord/automigrate/schema"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// maxIdentifier is the PostgreSQL identifier limit.
const maxIdentifier = 63

// ValidationError represents a validation error with details
type ValidationError struct {
	Type     string `json:"type"`
	Model    string `json:"model,omitempty"`
	Field    string `json:"field,omitempty"`
	Index    string `json:"index,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (e ValidationError) Error() string { return e.Message }

// ValidationResult contains all validation results
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
	Info     []ValidationError `json:"info"`
}

func (r *ValidationResult) add(e ValidationError) {
	switch e.Severity {
	case SeverityError:
		r.Errors = append(r.Errors, e)
	case SeverityWarning:
		r.Warnings = append(r.Warnings, e)
	default:
		r.Info = append(r.Info, e)
	}
}

// reserved table names that work only because every identifier is quoted.
var reserved = map[string]bool{
	"user": true, "order": true, "group": true, "table": true,
	"index": true, "view": true, "schema": true, "select": true,
}

// ValidateModels checks models as returned by schema.Registry.Build.
func ValidateModels(models []schema.Model) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
		Info:     []ValidationError{},
	}

	byName := make(map[string]*schema.Model, len(models))
	tables := map[string]string{}
	for i := range models {
		m := &models[i]
		byName[m.Name] = m
		table := strings.ToLower(m.Table())
		if other, ok := tables[table]; ok {
			result.add(ValidationError{
				Type:     "duplicate_table",
				Model:    m.Name,
				Message:  fmt.Sprintf("Models '%s' and '%s' both use table '%s'", other, m.Name, m.Table()),
				Severity: SeverityError,
			})
		}
		tables[table] = m.Name
	}

	for i := range models {
		validateModel(&models[i], byName, result)
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func validateModel(m *schema.Model, models map[string]*schema.Model, result *ValidationResult) {
	if err := validateIdentifier("table", m.Table()); err != nil {
		result.add(ValidationError{Type: "table_name", Model: m.Name, Message: err.Error(), Severity: SeverityError})
	}
	if reserved[strings.ToLower(m.Table())] {
		result.add(ValidationError{
			Type:     "reserved_table_name",
			Model:    m.Name,
			Message:  fmt.Sprintf("Table name '%s' is a reserved keyword; raw SQL must quote it", m.Table()),
			Severity: SeverityWarning,
		})
	}
	if !m.Options.Managed {
		result.add(ValidationError{
			Type:     "unmanaged",
			Model:    m.Name,
			Message:  fmt.Sprintf("Model '%s' is unmanaged; its table is never created or altered", m.Name),
			Severity: SeverityInfo,
		})
	}

	columns := map[string]string{}
	for _, f := range m.Fields {
		col := m.Column(f)
		if other, ok := columns[col]; ok {
			result.add(ValidationError{
				Type:     "duplicate_column",
				Model:    m.Name,
				Field:    f.Name,
				Message:  fmt.Sprintf("Fields '%s' and '%s' of '%s' both map to column '%s'", other, f.Name, m.Name, col),
				Severity: SeverityError,
			})
		}
		columns[col] = f.Name

		if err := validateIdentifier("column", col); err != nil {
			result.add(ValidationError{Type: "column_name", Model: m.Name, Field: f.Name, Message: err.Error(), Severity: SeverityError})
		}
		validateField(m, f, models, result)
	}

	validateIndexes(m, result)

	for _, entry := range m.Options.Ordering {
		name, _ := schema.ParseOrdering(entry)
		if _, ok := m.Field(name); !ok {
			result.add(ValidationError{
				Type:     "ordering_field_not_found",
				Model:    m.Name,
				Field:    name,
				Message:  fmt.Sprintf("Ordering of '%s' references non-existent field '%s'", m.Name, name),
				Severity: SeverityError,
			})
		}
	}
}

func validateField(m *schema.Model, f schema.Field, models map[string]*schema.Model, result *ValidationResult) {
	switch f.Kind {
	case schema.CharField:
		if f.MaxLength <= 0 {
			result.add(ValidationError{
				Type:     "max_length",
				Model:    m.Name,
				Field:    f.Name,
				Message:  fmt.Sprintf("Field '%s.%s' has no maxLength, 255 is used", m.Name, f.Name),
				Severity: SeverityInfo,
			})
		}
	case schema.DecimalField:
		if f.MaxDigits > 0 && f.DecimalPlaces > f.MaxDigits {
			result.add(ValidationError{
				Type:     "decimal_places",
				Model:    m.Name,
				Field:    f.Name,
				Message:  fmt.Sprintf("Field '%s.%s' has more decimal places (%d) than digits (%d)", m.Name, f.Name, f.DecimalPlaces, f.MaxDigits),
				Severity: SeverityError,
			})
		}
	}

	if f.Default != nil {
		ddl := engine.DDL{Dialect: schema.Postgres, QuoteLiteral: func(s string) string { return s }}
		if _, _, err := ddl.DefaultExpression(f); err != nil {
			result.add(ValidationError{
				Type:     "default_value",
				Model:    m.Name,
				Field:    f.Name,
				Message:  fmt.Sprintf("Field '%s.%s': %v", m.Name, f.Name, err),
				Severity: SeverityError,
			})
		}
	}

	if !f.Kind.IsRelation() {
		return
	}
	target, ok := models[f.RelatedTo()]
	if !ok {
		result.add(ValidationError{
			Type:     "relation_target_not_found",
			Model:    m.Name,
			Field:    f.Name,
			Message:  fmt.Sprintf("Field '%s.%s' references non-existent model '%s'", m.Name, f.Name, f.RelatedTo()),
			Severity: SeverityError,
		})
		return
	}
	if _, ok := target.PrimaryKey(); !ok {
		result.add(ValidationError{
			Type:     "relation_target_no_key",
			Model:    m.Name,
			Field:    f.Name,
			Message:  fmt.Sprintf("Field '%s.%s' references '%s', which has no primary key", m.Name, f.Name, target.Name),
			Severity: SeverityError,
		})
	}
	if f.Relation.OnDelete == schema.SetNull && !f.AllowNull {
		result.add(ValidationError{
			Type:     "set_null_not_nullable",
			Model:    m.Name,
			Field:    f.Name,
			Message:  fmt.Sprintf("Field '%s.%s' uses SET_NULL but does not allow null", m.Name, f.Name),
			Severity: SeverityError,
		})
	}
}

func validateIndexes(m *schema.Model, result *ValidationResult) {
	names := map[string]bool{}
	for _, idx := range engine.TableIndexes(m) {
		name := idx.IndexName(m.Table())
		if names[name] {
			result.add(ValidationError{
				Type:     "duplicate_index",
				Model:    m.Name,
				Index:    name,
				Message:  fmt.Sprintf("Duplicate index name '%s' on '%s'", name, m.Name),
				Severity: SeverityError,
			})
			continue
		}
		names[name] = true

		if err := validateIdentifier("index", name); err != nil {
			result.add(ValidationError{Type: "index_name", Model: m.Name, Index: name, Message: err.Error(), Severity: SeverityError})
		}
		if len(idx.Fields) == 0 {
			result.add(ValidationError{
				Type:     "empty_index",
				Model:    m.Name,
				Index:    name,
				Message:  fmt.Sprintf("Index '%s' on '%s' has no fields", name, m.Name),
				Severity: SeverityError,
			})
		}
		for _, entry := range idx.Fields {
			field, _ := schema.ParseOrdering(entry)
			if _, ok := m.Field(field); !ok {
				result.add(ValidationError{
					Type:     "index_field_not_found",
					Model:    m.Name,
					Index:    name,
					Field:    field,
					Message:  fmt.Sprintf("Index '%s' references non-existent field '%s' in '%s'", name, field, m.Name),
					Severity: SeverityError,
				})
			}
		}
	}
}

func validateIdentifier(what, name string) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", what)
	}
	if len(name) > maxIdentifier {
		return fmt.Errorf("%s name '%s' is too long (max %d characters)", what, name, maxIdentifier)
	}
	for i, char := range name {
		if i == 0 && char >= '0' && char <= '9' {
			return fmt.Errorf("%s name '%s' cannot start with a digit", what, name)
		}
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '_') {
			return fmt.Errorf("%s name '%s' contains invalid character '%c'", what, name, char)
		}
	}
	return nil
}
