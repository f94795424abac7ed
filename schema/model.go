package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// Index is a table level index over one or more attributes.
type Index struct {
	Name   string   `yaml:"name,omitempty"`
	Fields []string `yaml:"fields"`
	Unique bool     `yaml:"unique,omitempty"`
}

// IndexName returns the explicit name or one derived from the table and fields.
func (i Index) IndexName(table string) string {
	if i.Name != "" {
		return i.Name
	}
	suffix := "idx"
	if i.Unique {
		suffix = "uniq"
	}
	parts := []string{table}
	for _, entry := range i.Fields {
		field, _ := ParseOrdering(entry)
		parts = append(parts, field)
	}
	return ToSnakeCase(strings.Join(parts, "_")) + "_" + suffix
}

// Options are the table level settings of a model.
type Options struct {
	TableName       string            `yaml:"tableName,omitempty"`
	Ordering        []string          `yaml:"ordering,omitempty"`
	Indexes         []Index           `yaml:"indexes,omitempty"`
	Abstract        bool              `yaml:"abstract,omitempty"`
	Managed         bool              `yaml:"managed"`
	Underscored     bool              `yaml:"underscored"`
	Extends         []string          `yaml:"extends,omitempty"`
	CustomOptions   map[string]string `yaml:"customOptions,omitempty"`
	PrimaryKeyField string            `yaml:"primaryKeyField,omitempty"`
}

func DefaultOptions() Options {
	return Options{Managed: true, Underscored: true}
}

func (o Options) Clone() Options {
	c := o
	c.Ordering = append([]string(nil), o.Ordering...)
	c.Extends = append([]string(nil), o.Extends...)
	if o.Indexes != nil {
		c.Indexes = make([]Index, len(o.Indexes))
		for i, idx := range o.Indexes {
			idx.Fields = append([]string(nil), idx.Fields...)
			c.Indexes[i] = idx
		}
	}
	if o.CustomOptions != nil {
		c.CustomOptions = make(map[string]string, len(o.CustomOptions))
		for k, v := range o.CustomOptions {
			c.CustomOptions[k] = v
		}
	}
	return c
}

// Attributes serializes the options for comparison, leaving out the primary key meta option.
func (o Options) Attributes() map[string]any {
	indexes := make([]map[string]any, 0, len(o.Indexes))
	for _, idx := range o.Indexes {
		indexes = append(indexes, map[string]any{
			"name":   idx.Name,
			"fields": strings.Join(idx.Fields, ","),
			"unique": idx.Unique,
		})
	}
	custom := map[string]string{}
	for k, v := range o.CustomOptions {
		custom[k] = v
	}
	return map[string]any{
		"tableName":     o.TableName,
		"ordering":      strings.Join(o.Ordering, ","),
		"indexes":       indexes,
		"abstract":      o.Abstract,
		"managed":       o.Managed,
		"underscored":   o.Underscored,
		"customOptions": custom,
	}
}

// EquivalentOptions reports whether two option sets serialize identically.
func EquivalentOptions(a, b Options) bool {
	return reflect.DeepEqual(a.Attributes(), b.Attributes())
}

// ParseOrdering splits a signed ordering entry such as "-createdAt".
func ParseOrdering(entry string) (field string, descending bool) {
	switch {
	case strings.HasPrefix(entry, "-"):
		return entry[1:], true
	case strings.HasPrefix(entry, "+"):
		return entry[1:], false
	}
	return entry, false
}

// Model is a declarative table definition.
type Model struct {
	Name    string  `yaml:"name"`
	Module  string  `yaml:"module"`
	Fields  []Field `yaml:"fields"`
	Options Options `yaml:"options"`
}

// Table returns the physical table name.
func (m *Model) Table() string {
	if m.Options.TableName != "" {
		return m.Options.TableName
	}
	return m.Name
}

// Column returns the physical column of f inside this model.
func (m *Model) Column(f Field) string {
	return f.ColumnName(m.Options.Underscored)
}

func (m *Model) FieldIndex(name string) int {
	for i, f := range m.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (m *Model) Field(name string) (Field, bool) {
	if i := m.FieldIndex(name); i >= 0 {
		return m.Fields[i], true
	}
	return Field{}, false
}

func (m *Model) FieldNames() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

func (m *Model) AddField(f Field) error {
	if m.FieldIndex(f.Name) >= 0 {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateField, m.Name, f.Name)
	}
	m.Fields = append(m.Fields, f)
	return nil
}

func (m *Model) ReplaceField(f Field) error {
	i := m.FieldIndex(f.Name)
	if i < 0 {
		return fmt.Errorf("%w: %s.%s", ErrFieldNotFound, m.Name, f.Name)
	}
	m.Fields[i] = f
	return nil
}

func (m *Model) RemoveField(name string) error {
	i := m.FieldIndex(name)
	if i < 0 {
		return fmt.Errorf("%w: %s.%s", ErrFieldNotFound, m.Name, name)
	}
	m.Fields = append(m.Fields[:i], m.Fields[i+1:]...)
	if m.Options.PrimaryKeyField == name {
		m.Options.PrimaryKeyField = ""
	}
	return nil
}

// RenameField renames an attribute, carrying index and ordering references along.
func (m *Model) RenameField(from, to string) error {
	i := m.FieldIndex(from)
	if i < 0 {
		return fmt.Errorf("%w: %s.%s", ErrFieldNotFound, m.Name, from)
	}
	if m.FieldIndex(to) >= 0 {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateField, m.Name, to)
	}
	m.Fields[i].Name = to
	if m.Options.PrimaryKeyField == from {
		m.Options.PrimaryKeyField = to
	}
	for k, idx := range m.Options.Indexes {
		for j, name := range idx.Fields {
			if name == from {
				m.Options.Indexes[k].Fields[j] = to
			}
		}
	}
	for k, entry := range m.Options.Ordering {
		if field, desc := ParseOrdering(entry); field == from {
			if desc {
				m.Options.Ordering[k] = "-" + to
			} else {
				m.Options.Ordering[k] = to
			}
		}
	}
	return nil
}

// PrimaryKey returns the primary key field.
func (m *Model) PrimaryKey() (Field, bool) {
	if m.Options.PrimaryKeyField != "" {
		if f, ok := m.Field(m.Options.PrimaryKeyField); ok {
			return f, true
		}
	}
	for _, f := range m.Fields {
		if f.PrimaryKey {
			return f, true
		}
	}
	return Field{}, false
}

// Relations returns the distinct models this model points at through relational fields.
func (m *Model) Relations() []string {
	var related []string
	seen := map[string]bool{}
	for _, f := range m.Fields {
		target := f.RelatedTo()
		if target == "" || seen[target] {
			continue
		}
		seen[target] = true
		related = append(related, target)
	}
	return related
}

func (m *Model) Clone() *Model {
	c := &Model{Name: m.Name, Module: m.Module, Options: m.Options.Clone()}
	c.Fields = make([]Field, len(m.Fields))
	for i, f := range m.Fields {
		c.Fields[i] = f.Clone()
	}
	return c
}
