package schema

import (
	"errors"
	"fmt"
	"reflect"
)

// FieldKind is the closed set of column variants a model attribute can take.
type FieldKind string

const (
	CharField       FieldKind = "CharField"
	TextField       FieldKind = "TextField"
	IntegerField    FieldKind = "IntegerField"
	BigIntegerField FieldKind = "BigIntegerField"
	DecimalField    FieldKind = "DecimalField"
	BooleanField    FieldKind = "BooleanField"
	DateField       FieldKind = "DateField"
	DatetimeField   FieldKind = "DatetimeField"
	TimeField       FieldKind = "TimeField"
	UUIDField       FieldKind = "UUIDField"
	AutoField       FieldKind = "AutoField"
	BigAutoField    FieldKind = "BigAutoField"
	ForeignKeyField FieldKind = "ForeignKeyField"
	OneToOneField   FieldKind = "OneToOneField"
)

// Valid reports whether k is one of the known field variants.
func (k FieldKind) Valid() bool {
	switch k {
	case CharField, TextField, IntegerField, BigIntegerField, DecimalField,
		BooleanField, DateField, DatetimeField, TimeField, UUIDField,
		AutoField, BigAutoField, ForeignKeyField, OneToOneField:
		return true
	}
	return false
}

func (k FieldKind) IsRelation() bool {
	return k == ForeignKeyField || k == OneToOneField
}

func (k FieldKind) IsAuto() bool {
	return k == AutoField || k == BigAutoField
}

// OnDelete is the referential action of a relational field.
type OnDelete string

const (
	Cascade    OnDelete = "CASCADE"
	SetNull    OnDelete = "SET_NULL"
	SetDefault OnDelete = "SET_DEFAULT"
	DoNothing  OnDelete = "DO_NOTHING"
	Restrict   OnDelete = "RESTRICT"
)

func (o OnDelete) Valid() bool {
	switch o {
	case Cascade, SetNull, SetDefault, DoNothing, Restrict:
		return true
	}
	return false
}

// SQL returns the referential action as written in DDL.
func (o OnDelete) SQL() string {
	switch o {
	case SetNull:
		return "SET NULL"
	case SetDefault:
		return "SET DEFAULT"
	case DoNothing:
		return "NO ACTION"
	case Restrict:
		return "RESTRICT"
	}
	return "CASCADE"
}

var (
	ErrInvalidFieldKind = errors.New("invalid field kind")
	ErrInvalidOnDelete  = errors.New("invalid onDelete value")
	ErrInvalidRelation  = errors.New("invalid relatedTo")
	ErrFieldNotFound    = errors.New("field not found")
	ErrDuplicateField   = errors.New("duplicate field")
)

// Relation carries the extra attributes of ForeignKeyField and OneToOneField.
type Relation struct {
	RelatedTo   string   `yaml:"relatedTo"`
	OnDelete    OnDelete `yaml:"onDelete"`
	RelatedName string   `yaml:"relatedName,omitempty"`
	FieldName   string   `yaml:"fieldName,omitempty"`
}

// Field is a single typed attribute of a model.
type Field struct {
	Name             string            `yaml:"name"`
	Kind             FieldKind         `yaml:"kind"`
	PrimaryKey       bool              `yaml:"primaryKey,omitempty"`
	AllowNull        bool              `yaml:"allowNull,omitempty"`
	Default          *string           `yaml:"defaultValue,omitempty"`
	Unique           bool              `yaml:"unique,omitempty"`
	AllowBlank       bool              `yaml:"allowBlank,omitempty"`
	DBIndex          bool              `yaml:"dbIndex,omitempty"`
	DatabaseName     string            `yaml:"databaseName,omitempty"`
	MaxLength        int               `yaml:"maxLength,omitempty"`
	MaxDigits        int               `yaml:"maxDigits,omitempty"`
	DecimalPlaces    int               `yaml:"decimalPlaces,omitempty"`
	AutoNow          bool              `yaml:"autoNow,omitempty"`
	AutoNowAdd       bool              `yaml:"autoNowAdd,omitempty"`
	AutoGenerate     bool              `yaml:"autoGenerate,omitempty"`
	Relation         *Relation         `yaml:"relation,omitempty"`
	CustomAttributes map[string]string `yaml:"customAttributes,omitempty"`
}

// FieldOption configures a Field built by NewField, NewForeignKey or NewOneToOne.
type FieldOption func(*Field)

func WithNull() FieldOption       { return func(f *Field) { f.AllowNull = true } }
func WithBlank() FieldOption      { return func(f *Field) { f.AllowBlank = true } }
func WithUnique() FieldOption     { return func(f *Field) { f.Unique = true } }
func WithDBIndex() FieldOption    { return func(f *Field) { f.DBIndex = true } }
func WithPrimaryKey() FieldOption { return func(f *Field) { f.PrimaryKey = true } }

func WithDefault(value string) FieldOption {
	return func(f *Field) { f.Default = &value }
}

func WithDatabaseName(name string) FieldOption {
	return func(f *Field) { f.DatabaseName = name }
}

func WithMaxLength(n int) FieldOption {
	return func(f *Field) { f.MaxLength = n }
}

func WithDecimal(maxDigits, decimalPlaces int) FieldOption {
	return func(f *Field) {
		f.MaxDigits = maxDigits
		f.DecimalPlaces = decimalPlaces
	}
}

func WithAutoNow() FieldOption    { return func(f *Field) { f.AutoNow = true } }
func WithAutoNowAdd() FieldOption { return func(f *Field) { f.AutoNowAdd = true } }
func WithAutoGenerate() FieldOption {
	return func(f *Field) { f.AutoGenerate = true }
}

func WithRelatedName(name string) FieldOption {
	return func(f *Field) {
		if f.Relation != nil {
			f.Relation.RelatedName = name
		}
	}
}

// WithFieldName overrides the foreign key column attribute (defaults to <name>Id).
func WithFieldName(name string) FieldOption {
	return func(f *Field) {
		if f.Relation != nil {
			f.Relation.FieldName = name
		}
	}
}

func WithCustomAttribute(key, value string) FieldOption {
	return func(f *Field) {
		if f.CustomAttributes == nil {
			f.CustomAttributes = map[string]string{}
		}
		f.CustomAttributes[key] = value
	}
}

// NewField builds a non relational field.
func NewField(name string, kind FieldKind, opts ...FieldOption) (Field, error) {
	if kind.IsRelation() {
		return Field{}, fmt.Errorf("%w: %s %q must be built with NewForeignKey or NewOneToOne", ErrInvalidFieldKind, kind, name)
	}
	f := Field{Name: name, Kind: kind}
	if kind.IsAuto() {
		f.PrimaryKey = true
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f, f.Validate()
}

// NewForeignKey builds a ForeignKeyField. An unknown onDelete or an empty
// relatedTo is rejected here rather than at migration time.
func NewForeignKey(name, relatedTo string, onDelete OnDelete, opts ...FieldOption) (Field, error) {
	return newRelation(ForeignKeyField, name, relatedTo, onDelete, opts)
}

// NewOneToOne builds a OneToOneField, a foreign key with a uniqueness constraint.
func NewOneToOne(name, relatedTo string, onDelete OnDelete, opts ...FieldOption) (Field, error) {
	return newRelation(OneToOneField, name, relatedTo, onDelete, opts)
}

func newRelation(kind FieldKind, name, relatedTo string, onDelete OnDelete, opts []FieldOption) (Field, error) {
	f := Field{
		Name:     name,
		Kind:     kind,
		Unique:   kind == OneToOneField,
		Relation: &Relation{RelatedTo: relatedTo, OnDelete: onDelete},
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f, f.Validate()
}

// Validate checks the construction-time invariants of a field.
func (f Field) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: field without a name", ErrInvalidFieldKind)
	}
	if !f.Kind.Valid() {
		return fmt.Errorf("%w: %q on field %q", ErrInvalidFieldKind, f.Kind, f.Name)
	}
	if !f.Kind.IsRelation() {
		if f.Relation != nil {
			return fmt.Errorf("%w: %s field %q cannot carry a relation", ErrInvalidRelation, f.Kind, f.Name)
		}
		return nil
	}
	if f.Relation == nil || f.Relation.RelatedTo == "" {
		return fmt.Errorf("%w: field %q has no related model", ErrInvalidRelation, f.Name)
	}
	if !f.Relation.OnDelete.Valid() {
		return fmt.Errorf("%w: %q on field %q", ErrInvalidOnDelete, f.Relation.OnDelete, f.Name)
	}
	return nil
}

// RelatedTo returns the target model of a relational field, or "".
func (f Field) RelatedTo() string {
	if f.Relation == nil {
		return ""
	}
	return f.Relation.RelatedTo
}

// AttributeName is the attribute the physical column is derived from.
func (f Field) AttributeName() string {
	if !f.Kind.IsRelation() {
		return f.Name
	}
	if f.Relation != nil && f.Relation.FieldName != "" {
		return f.Relation.FieldName
	}
	return f.Name + "Id"
}

// ColumnName returns the physical column name.
func (f Field) ColumnName(underscored bool) string {
	if f.DatabaseName != "" {
		return f.DatabaseName
	}
	if underscored {
		return ToSnakeCase(f.AttributeName())
	}
	return f.AttributeName()
}

// Required reports whether adding this column to a populated table needs a value
// the database cannot supply on its own.
func (f Field) Required() bool {
	return !f.AllowNull && f.Default == nil && !f.Kind.IsAuto() && !f.AutoNow && !f.AutoNowAdd && !f.AutoGenerate
}

func (f Field) Clone() Field {
	c := f
	if f.Default != nil {
		v := *f.Default
		c.Default = &v
	}
	if f.Relation != nil {
		r := *f.Relation
		c.Relation = &r
	}
	if f.CustomAttributes != nil {
		c.CustomAttributes = make(map[string]string, len(f.CustomAttributes))
		for k, v := range f.CustomAttributes {
			c.CustomAttributes[k] = v
		}
	}
	return c
}

// Attributes serializes the field for comparison. The name and the physical
// column name are left out so a rename alone never reads as a change.
func (f Field) Attributes() map[string]any {
	attrs := map[string]any{
		"kind":          string(f.Kind),
		"primaryKey":    f.PrimaryKey,
		"allowNull":     f.AllowNull,
		"unique":        f.Unique,
		"allowBlank":    f.AllowBlank,
		"dbIndex":       f.DBIndex,
		"maxLength":     f.MaxLength,
		"maxDigits":     f.MaxDigits,
		"decimalPlaces": f.DecimalPlaces,
		"autoNow":       f.AutoNow,
		"autoNowAdd":    f.AutoNowAdd,
		"autoGenerate":  f.AutoGenerate,
	}
	if f.Default != nil {
		attrs["defaultValue"] = *f.Default
	}
	if f.Relation != nil {
		attrs["relatedTo"] = f.Relation.RelatedTo
		attrs["onDelete"] = string(f.Relation.OnDelete)
		attrs["relatedName"] = f.Relation.RelatedName
		attrs["fieldName"] = f.Relation.FieldName
	}
	if len(f.CustomAttributes) > 0 {
		custom := make(map[string]string, len(f.CustomAttributes))
		for k, v := range f.CustomAttributes {
			custom[k] = v
		}
		attrs["customAttributes"] = custom
	}
	return attrs
}

// Equivalent reports whether two fields serialize to the same attributes.
func Equivalent(a, b Field) bool {
	return reflect.DeepEqual(a.Attributes(), b.Attributes())
}
