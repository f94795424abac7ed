// Package operations defines the change operations a migration is made of.
// Every operation can replay itself onto a state and run its DDL against an
// engine adapter.
package operations

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ridoystarlord/automigrate/engine"
	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
)

type Kind string

const (
	KindCreateModel      Kind = "CreateModel"
	KindDeleteModel      Kind = "DeleteModel"
	KindChangeModel      Kind = "ChangeModel"
	KindRenameModel      Kind = "RenameModel"
	KindCreateColumn     Kind = "CreateColumn"
	KindChangeColumn     Kind = "ChangeColumn"
	KindRenameColumn     Kind = "RenameColumn"
	KindRemoveColumn     Kind = "RemoveColumn"
	KindRunArbitraryCode Kind = "RunArbitraryCode"
)

// IsRename reports whether operations of this kind rename an entity.
func (k Kind) IsRename() bool {
	return k == KindRenameModel || k == KindRenameColumn
}

var ErrUnknownHook = errors.New("unknown arbitrary code hook")

// Meta is the bookkeeping an operation carries once it is placed in a
// migration file.
type Meta struct {
	Module       string
	Order        int
	Dependencies []string
}

type Operation interface {
	Kind() Kind
	// ModelName is the model the operation acts on, under its new name for renames.
	ModelName() string
	// DependsOn lists the models referenced by the relational fields the operation introduces.
	DependsOn() []string
	Meta() *Meta
	Describe() string
	StateForwards(module string, st *state.State) error
	Run(ctx context.Context, tx engine.Tx, adapter engine.Adapter, from, to *state.State) error
}

type meta struct {
	m Meta
}

func (b *meta) Meta() *Meta { return &b.m }

// CreateModel creates a table for a new model.
type CreateModel struct {
	meta    `yaml:"-"`
	Name    string         `yaml:"name"`
	Fields  []schema.Field `yaml:"fields"`
	Options schema.Options `yaml:"options"`
}

func NewCreateModel(m *schema.Model) *CreateModel {
	c := m.Clone()
	return &CreateModel{Name: c.Name, Fields: c.Fields, Options: c.Options}
}

func (o *CreateModel) Kind() Kind        { return KindCreateModel }
func (o *CreateModel) ModelName() string { return o.Name }
func (o *CreateModel) Describe() string  { return "Create model " + o.Name }

func (o *CreateModel) DependsOn() []string {
	m := schema.Model{Name: o.Name, Fields: o.Fields}
	return m.Relations()
}

func (o *CreateModel) model(module string) *schema.Model {
	m := &schema.Model{Name: o.Name, Module: module, Options: o.Options.Clone()}
	for _, f := range o.Fields {
		m.Fields = append(m.Fields, f.Clone())
	}
	return m
}

func (o *CreateModel) StateForwards(module string, st *state.State) error {
	return st.Add(o.model(module))
}

func (o *CreateModel) Run(ctx context.Context, tx engine.Tx, adapter engine.Adapter, _, to *state.State) error {
	m, err := to.Get(o.Name)
	if err != nil {
		return err
	}
	if !m.Options.Managed {
		return nil
	}
	return adapter.CreateTable(ctx, tx, to, m)
}

// DeleteModel drops the table of a removed model.
type DeleteModel struct {
	meta `yaml:"-"`
	Name string `yaml:"name"`
}

func NewDeleteModel(name string) *DeleteModel { return &DeleteModel{Name: name} }

func (o *DeleteModel) Kind() Kind          { return KindDeleteModel }
func (o *DeleteModel) ModelName() string   { return o.Name }
func (o *DeleteModel) DependsOn() []string { return nil }
func (o *DeleteModel) Describe() string    { return "Delete model " + o.Name }

func (o *DeleteModel) StateForwards(_ string, st *state.State) error {
	return st.Delete(o.Name)
}

func (o *DeleteModel) Run(ctx context.Context, tx engine.Tx, adapter engine.Adapter, from, _ *state.State) error {
	m, err := from.Get(o.Name)
	if err != nil {
		return err
	}
	if !m.Options.Managed {
		return nil
	}
	return adapter.DropTable(ctx, tx, m)
}

// ChangeModel replaces the table level options of a model.
type ChangeModel struct {
	meta `yaml:"-"`
	Name string         `yaml:"name"`
	From schema.Options `yaml:"from"`
	To   schema.Options `yaml:"to"`
}

func NewChangeModel(name string, from, to schema.Options) *ChangeModel {
	return &ChangeModel{Name: name, From: from.Clone(), To: to.Clone()}
}

func (o *ChangeModel) Kind() Kind          { return KindChangeModel }
func (o *ChangeModel) ModelName() string   { return o.Name }
func (o *ChangeModel) DependsOn() []string { return nil }
func (o *ChangeModel) Describe() string    { return "Change options of model " + o.Name }

func (o *ChangeModel) StateForwards(_ string, st *state.State) error {
	m, err := st.Get(o.Name)
	if err != nil {
		return err
	}
	pk := m.Options.PrimaryKeyField
	m.Options = o.To.Clone()
	if pk != "" {
		m.Options.PrimaryKeyField = pk
	}
	return nil
}

// Run drops indexes that disappeared, renames the table when its name changed
// and creates the new indexes.
func (o *ChangeModel) Run(ctx context.Context, tx engine.Tx, adapter engine.Adapter, from, to *state.State) error {
	before, err := from.Get(o.Name)
	if err != nil {
		return err
	}
	after, err := to.Get(o.Name)
	if err != nil {
		return err
	}
	if !after.Options.Managed {
		return nil
	}
	for _, idx := range before.Options.Indexes {
		if !containsIndex(after.Options.Indexes, idx) {
			if err := adapter.DropIndex(ctx, tx, before, idx); err != nil {
				return err
			}
		}
	}
	if err := adapter.RenameTable(ctx, tx, before, after); err != nil {
		return err
	}
	for _, idx := range after.Options.Indexes {
		if !containsIndex(before.Options.Indexes, idx) {
			if err := adapter.AddIndex(ctx, tx, after, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func containsIndex(list []schema.Index, idx schema.Index) bool {
	for _, other := range list {
		if other.Name == idx.Name && other.Unique == idx.Unique && fmt.Sprint(other.Fields) == fmt.Sprint(idx.Fields) {
			return true
		}
	}
	return false
}

// RenameModel renames a model, and its table unless the table name is fixed.
type RenameModel struct {
	meta `yaml:"-"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

func NewRenameModel(from, to string) *RenameModel { return &RenameModel{From: from, To: to} }

func (o *RenameModel) Kind() Kind          { return KindRenameModel }
func (o *RenameModel) ModelName() string   { return o.To }
func (o *RenameModel) DependsOn() []string { return nil }
func (o *RenameModel) Describe() string    { return fmt.Sprintf("Rename model %s to %s", o.From, o.To) }

func (o *RenameModel) StateForwards(_ string, st *state.State) error {
	return st.RenameModel(o.From, o.To)
}

func (o *RenameModel) Run(ctx context.Context, tx engine.Tx, adapter engine.Adapter, from, to *state.State) error {
	before, err := from.Get(o.From)
	if err != nil {
		return err
	}
	after, err := to.Get(o.To)
	if err != nil {
		return err
	}
	if !after.Options.Managed {
		return nil
	}
	return adapter.RenameTable(ctx, tx, before, after)
}

// CreateColumn adds a field to an existing model.
type CreateColumn struct {
	meta  `yaml:"-"`
	Model string       `yaml:"model"`
	Field schema.Field `yaml:"field"`
}

func NewCreateColumn(model string, f schema.Field) *CreateColumn {
	return &CreateColumn{Model: model, Field: f.Clone()}
}

func (o *CreateColumn) Kind() Kind        { return KindCreateColumn }
func (o *CreateColumn) ModelName() string { return o.Model }
func (o *CreateColumn) Describe() string  { return fmt.Sprintf("Add field %s to %s", o.Field.Name, o.Model) }

func (o *CreateColumn) DependsOn() []string {
	if target := o.Field.RelatedTo(); target != "" {
		return []string{target}
	}
	return nil
}

func (o *CreateColumn) StateForwards(_ string, st *state.State) error {
	m, err := st.Get(o.Model)
	if err != nil {
		return err
	}
	return m.AddField(o.Field.Clone())
}

func (o *CreateColumn) Run(ctx context.Context, tx engine.Tx, adapter engine.Adapter, _, to *state.State) error {
	m, err := to.Get(o.Model)
	if err != nil {
		return err
	}
	if !m.Options.Managed {
		return nil
	}
	f, ok := m.Field(o.Field.Name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", schema.ErrFieldNotFound, o.Model, o.Field.Name)
	}
	return adapter.AddColumn(ctx, tx, to, m, f)
}

// ChangeColumn replaces the definition of an existing field.
type ChangeColumn struct {
	meta  `yaml:"-"`
	Model string       `yaml:"model"`
	From  schema.Field `yaml:"from"`
	To    schema.Field `yaml:"to"`
}

func NewChangeColumn(model string, from, to schema.Field) *ChangeColumn {
	return &ChangeColumn{Model: model, From: from.Clone(), To: to.Clone()}
}

func (o *ChangeColumn) Kind() Kind        { return KindChangeColumn }
func (o *ChangeColumn) ModelName() string { return o.Model }
func (o *ChangeColumn) Describe() string  { return fmt.Sprintf("Change field %s on %s", o.To.Name, o.Model) }

func (o *ChangeColumn) DependsOn() []string {
	if target := o.To.RelatedTo(); target != "" {
		return []string{target}
	}
	return nil
}

func (o *ChangeColumn) StateForwards(_ string, st *state.State) error {
	m, err := st.Get(o.Model)
	if err != nil {
		return err
	}
	return m.ReplaceField(o.To.Clone())
}

func (o *ChangeColumn) Run(ctx context.Context, tx engine.Tx, adapter engine.Adapter, from, to *state.State) error {
	before, err := from.Get(o.Model)
	if err != nil {
		return err
	}
	after, err := to.Get(o.Model)
	if err != nil {
		return err
	}
	if !after.Options.Managed {
		return nil
	}
	old, ok := before.Field(o.To.Name)
	if !ok {
		old = o.From
	}
	f, ok := after.Field(o.To.Name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", schema.ErrFieldNotFound, o.Model, o.To.Name)
	}
	return adapter.ChangeColumn(ctx, tx, to, after, old, f)
}

// RenameColumn renames a field, and its column unless the column name is fixed.
type RenameColumn struct {
	meta  `yaml:"-"`
	Model string `yaml:"model"`
	From  string `yaml:"from"`
	To    string `yaml:"to"`
}

func NewRenameColumn(model, from, to string) *RenameColumn {
	return &RenameColumn{Model: model, From: from, To: to}
}

func (o *RenameColumn) Kind() Kind          { return KindRenameColumn }
func (o *RenameColumn) ModelName() string   { return o.Model }
func (o *RenameColumn) DependsOn() []string { return nil }
func (o *RenameColumn) Describe() string {
	return fmt.Sprintf("Rename field %s on %s to %s", o.From, o.Model, o.To)
}

func (o *RenameColumn) StateForwards(_ string, st *state.State) error {
	m, err := st.Get(o.Model)
	if err != nil {
		return err
	}
	return m.RenameField(o.From, o.To)
}

func (o *RenameColumn) Run(ctx context.Context, tx engine.Tx, adapter engine.Adapter, from, to *state.State) error {
	before, err := from.Get(o.Model)
	if err != nil {
		return err
	}
	after, err := to.Get(o.Model)
	if err != nil {
		return err
	}
	if !after.Options.Managed {
		return nil
	}
	old, ok := before.Field(o.From)
	if !ok {
		return fmt.Errorf("%w: %s.%s", schema.ErrFieldNotFound, o.Model, o.From)
	}
	f, ok := after.Field(o.To)
	if !ok {
		return fmt.Errorf("%w: %s.%s", schema.ErrFieldNotFound, o.Model, o.To)
	}
	return adapter.RenameColumn(ctx, tx, after, old, f)
}

// RemoveColumn drops a field from a model.
type RemoveColumn struct {
	meta  `yaml:"-"`
	Model string `yaml:"model"`
	Field string `yaml:"field"`
}

func NewRemoveColumn(model, field string) *RemoveColumn {
	return &RemoveColumn{Model: model, Field: field}
}

func (o *RemoveColumn) Kind() Kind          { return KindRemoveColumn }
func (o *RemoveColumn) ModelName() string   { return o.Model }
func (o *RemoveColumn) DependsOn() []string { return nil }
func (o *RemoveColumn) Describe() string    { return fmt.Sprintf("Remove field %s from %s", o.Field, o.Model) }

func (o *RemoveColumn) StateForwards(_ string, st *state.State) error {
	m, err := st.Get(o.Model)
	if err != nil {
		return err
	}
	return m.RemoveField(o.Field)
}

func (o *RemoveColumn) Run(ctx context.Context, tx engine.Tx, adapter engine.Adapter, from, _ *state.State) error {
	before, err := from.Get(o.Model)
	if err != nil {
		return err
	}
	if !before.Options.Managed {
		return nil
	}
	f, ok := before.Field(o.Field)
	if !ok {
		return fmt.Errorf("%w: %s.%s", schema.ErrFieldNotFound, o.Model, o.Field)
	}
	return adapter.DropColumn(ctx, tx, from, before, f)
}

// Hook is user code run by a RunArbitraryCode operation.
type Hook func(ctx context.Context, tx engine.Tx, adapter engine.Adapter, from, to *state.State) error

var (
	hooksMu sync.RWMutex
	hooks   = map[string]Hook{}
)

// RegisterHook makes fn callable from migration files under name.
func RegisterHook(name string, fn Hook) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks[name] = fn
}

func lookupHook(name string) (Hook, bool) {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	fn, ok := hooks[name]
	return fn, ok
}

// RunArbitraryCode executes a raw statement and/or a registered hook. It
// leaves the state untouched.
type RunArbitraryCode struct {
	meta        `yaml:"-"`
	Description string `yaml:"description,omitempty"`
	SQL         string `yaml:"sql,omitempty"`
	Hook        string `yaml:"hook,omitempty"`
}

func (o *RunArbitraryCode) Kind() Kind                               { return KindRunArbitraryCode }
func (o *RunArbitraryCode) ModelName() string                        { return "" }
func (o *RunArbitraryCode) DependsOn() []string                      { return nil }
func (o *RunArbitraryCode) StateForwards(string, *state.State) error { return nil }

func (o *RunArbitraryCode) Describe() string {
	if o.Description != "" {
		return "Run code: " + o.Description
	}
	if o.Hook != "" {
		return "Run hook " + o.Hook
	}
	return "Run SQL"
}

func (o *RunArbitraryCode) Run(ctx context.Context, tx engine.Tx, adapter engine.Adapter, from, to *state.State) error {
	if o.SQL != "" {
		if err := tx.Exec(ctx, o.SQL); err != nil {
			return err
		}
	}
	if o.Hook == "" {
		return nil
	}
	fn, ok := lookupHook(o.Hook)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHook, o.Hook)
	}
	return fn(ctx, tx, adapter, from, to)
}
