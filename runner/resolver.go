package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ridoystarlord/automigrate/engine"
	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
)

var ErrUnresolved = errors.New("unresolved circular dependency")

type pendingColumn struct {
	model string
	field schema.Field
}

type pendingIndex struct {
	model string
	index schema.Index
}

// resolver wraps the adapter for a run of migrations. Foreign key columns
// whose target model does not exist yet are held back, together with the
// indexes that cover them, and added once a later operation creates the
// target. Models handed to the adapter never include held back columns.
type resolver struct {
	engine.Adapter
	columns []pendingColumn
	indexes []pendingIndex
}

func newResolver(adapter engine.Adapter) *resolver {
	return &resolver{Adapter: adapter}
}

func (r *resolver) CreateTable(ctx context.Context, tx engine.Tx, st *state.State, model *schema.Model) error {
	deferred := map[string]bool{}
	for _, f := range model.Fields {
		if target := f.RelatedTo(); target != "" && target != model.Name && !st.Has(target) {
			deferred[f.Name] = true
		}
	}
	if len(deferred) == 0 {
		return r.Adapter.CreateTable(ctx, tx, st, model)
	}

	trimmed := model.Clone()
	trimmed.Fields = trimmed.Fields[:0]
	for _, f := range model.Fields {
		if deferred[f.Name] {
			r.columns = append(r.columns, pendingColumn{model: model.Name, field: f.Clone()})
			continue
		}
		trimmed.Fields = append(trimmed.Fields, f.Clone())
	}
	trimmed.Options.Indexes = nil
	for _, idx := range model.Options.Indexes {
		if touches(idx, deferred) {
			r.indexes = append(r.indexes, pendingIndex{model: model.Name, index: idx})
			continue
		}
		trimmed.Options.Indexes = append(trimmed.Options.Indexes, idx)
	}
	return r.Adapter.CreateTable(ctx, tx, st, trimmed)
}

func (r *resolver) AddColumn(ctx context.Context, tx engine.Tx, st *state.State, model *schema.Model, field schema.Field) error {
	if target := field.RelatedTo(); target != "" && !st.Has(target) {
		r.columns = append(r.columns, pendingColumn{model: model.Name, field: field.Clone()})
		return nil
	}
	return r.Adapter.AddColumn(ctx, tx, st, r.visible(model), field)
}

func (r *resolver) ChangeColumn(ctx context.Context, tx engine.Tx, st *state.State, model *schema.Model, from, to schema.Field) error {
	if i := r.columnIndex(model.Name, from.Name); i >= 0 {
		r.columns[i].field = to.Clone()
		return nil
	}
	return r.Adapter.ChangeColumn(ctx, tx, st, r.visible(model), from, to)
}

func (r *resolver) RenameColumn(ctx context.Context, tx engine.Tx, model *schema.Model, from, to schema.Field) error {
	if i := r.columnIndex(model.Name, from.Name); i >= 0 {
		r.columns[i].field = to.Clone()
		for j, p := range r.indexes {
			if p.model == model.Name {
				r.indexes[j].index = renameIndexField(p.index, from.Name, to.Name)
			}
		}
		return nil
	}
	return r.Adapter.RenameColumn(ctx, tx, r.visible(model), from, to)
}

func (r *resolver) DropColumn(ctx context.Context, tx engine.Tx, st *state.State, model *schema.Model, field schema.Field) error {
	if i := r.columnIndex(model.Name, field.Name); i >= 0 {
		r.columns = append(r.columns[:i], r.columns[i+1:]...)
		r.dropIndexes(model.Name, func(idx schema.Index) bool { return containsField(idx, field.Name) })
		return nil
	}
	return r.Adapter.DropColumn(ctx, tx, st, r.visible(model), field)
}

func (r *resolver) RenameTable(ctx context.Context, tx engine.Tx, from, to *schema.Model) error {
	for i := range r.columns {
		if r.columns[i].model == from.Name {
			r.columns[i].model = to.Name
		}
	}
	for i := range r.indexes {
		if r.indexes[i].model == from.Name {
			r.indexes[i].model = to.Name
		}
	}
	return r.Adapter.RenameTable(ctx, tx, from, to)
}

func (r *resolver) DropTable(ctx context.Context, tx engine.Tx, model *schema.Model) error {
	kept := r.columns[:0]
	for _, c := range r.columns {
		if c.model != model.Name {
			kept = append(kept, c)
		}
	}
	r.columns = kept
	r.dropIndexes(model.Name, func(schema.Index) bool { return true })
	return r.Adapter.DropTable(ctx, tx, model)
}

func (r *resolver) AddIndex(ctx context.Context, tx engine.Tx, model *schema.Model, index schema.Index) error {
	if touches(index, r.pendingFields(model.Name)) {
		r.indexes = append(r.indexes, pendingIndex{model: model.Name, index: index})
		return nil
	}
	return r.Adapter.AddIndex(ctx, tx, r.visible(model), index)
}

func (r *resolver) DropIndex(ctx context.Context, tx engine.Tx, model *schema.Model, index schema.Index) error {
	name := index.IndexName(model.Table())
	before := len(r.indexes)
	r.dropIndexes(model.Name, func(idx schema.Index) bool { return idx.IndexName(model.Table()) == name })
	if len(r.indexes) < before {
		return nil
	}
	return r.Adapter.DropIndex(ctx, tx, r.visible(model), index)
}

// visible returns model without its held back columns and the indexes that
// cover them.
func (r *resolver) visible(model *schema.Model) *schema.Model {
	pending := r.pendingFields(model.Name)
	if len(pending) == 0 {
		return model
	}
	out := model.Clone()
	out.Fields = out.Fields[:0]
	for _, f := range model.Fields {
		if !pending[f.Name] {
			out.Fields = append(out.Fields, f.Clone())
		}
	}
	out.Options.Indexes = nil
	for _, idx := range model.Options.Indexes {
		if !touches(idx, pending) {
			out.Options.Indexes = append(out.Options.Indexes, idx)
		}
	}
	return out
}

func (r *resolver) columnIndex(model, field string) int {
	for i, c := range r.columns {
		if c.model == model && c.field.Name == field {
			return i
		}
	}
	return -1
}

func (r *resolver) dropIndexes(model string, match func(schema.Index) bool) {
	kept := r.indexes[:0]
	for _, p := range r.indexes {
		if p.model == model && match(p.index) {
			continue
		}
		kept = append(kept, p)
	}
	r.indexes = kept
}

func containsField(idx schema.Index, name string) bool {
	return touches(idx, map[string]bool{name: true})
}

func renameIndexField(idx schema.Index, from, to string) schema.Index {
	out := idx
	out.Fields = make([]string, len(idx.Fields))
	for i, entry := range idx.Fields {
		field, desc := schema.ParseOrdering(entry)
		switch {
		case field != from:
			out.Fields[i] = entry
		case desc:
			out.Fields[i] = "-" + to
		default:
			out.Fields[i] = to
		}
	}
	return out
}

// holding reports whether anything is still held back.
func (r *resolver) holding() bool {
	return len(r.columns) > 0 || len(r.indexes) > 0
}

func (r *resolver) pendingFields(model string) map[string]bool {
	out := map[string]bool{}
	for _, c := range r.columns {
		if c.model == model {
			out[c.field.Name] = true
		}
	}
	return out
}

func touches(idx schema.Index, fields map[string]bool) bool {
	for _, name := range idx.Fields {
		field, _ := schema.ParseOrdering(name)
		if fields[field] {
			return true
		}
	}
	return false
}

// retry adds every held back column whose target now exists in st, then the
// indexes no longer waiting on a column. It runs after each operation.
func (r *resolver) retry(ctx context.Context, tx engine.Tx, st *state.State) error {
	for i := 0; i < len(r.columns); {
		c := r.columns[i]
		m, err := st.Get(c.model)
		if target := c.field.RelatedTo(); err != nil || (target != "" && !st.Has(target)) {
			i++
			continue
		}
		r.columns = append(r.columns[:i], r.columns[i+1:]...)
		f, ok := m.Field(c.field.Name)
		if !ok {
			// Removed again later on.
			continue
		}
		if err := r.Adapter.AddColumn(ctx, tx, st, r.visible(m), f); err != nil {
			return fmt.Errorf("adding deferred column %s.%s: %w", c.model, c.field.Name, err)
		}
	}

	var indexes []pendingIndex
	for _, p := range r.indexes {
		if touches(p.index, r.pendingFields(p.model)) {
			indexes = append(indexes, p)
			continue
		}
		m, err := st.Get(p.model)
		if err != nil {
			indexes = append(indexes, p)
			continue
		}
		if err := r.Adapter.AddIndex(ctx, tx, r.visible(m), p.index); err != nil {
			return fmt.Errorf("adding deferred index %s: %w", p.index.IndexName(m.Table()), err)
		}
	}
	r.indexes = indexes
	return nil
}

// describe lists what is held back.
func (r *resolver) describe() string {
	var parts []string
	for _, c := range r.columns {
		parts = append(parts, fmt.Sprintf("%s.%s -> %s", c.model, c.field.Name, c.field.RelatedTo()))
	}
	for _, p := range r.indexes {
		parts = append(parts, fmt.Sprintf("index on %s(%s)", p.model, strings.Join(p.index.Fields, ", ")))
	}
	return strings.Join(parts, "; ")
}

// unresolved reports what is still held back at the end of the run.
func (r *resolver) unresolved() error {
	if !r.holding() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnresolved, r.describe())
}
