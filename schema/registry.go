package schema

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultModule owns models registered without a module.
const DefaultModule = "app"

var (
	ErrDuplicateModel   = errors.New("duplicate model")
	ErrUnknownBase      = errors.New("unknown abstract base")
	ErrCircularAbstract = errors.New("circular abstract reference")
	ErrPrimaryKey       = errors.New("invalid primary key")
)

// Registry holds declared models keyed by name, in declaration order.
type Registry struct {
	models map[string]Model
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{models: map[string]Model{}}
}

// Register adds models to the registry. Names are unique across modules.
func (r *Registry) Register(models ...Model) error {
	for _, m := range models {
		if m.Name == "" {
			return fmt.Errorf("cannot register a model without a name")
		}
		if _, exists := r.models[m.Name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, m.Name)
		}
		if m.Module == "" {
			m.Module = DefaultModule
		}
		r.models[m.Name] = *m.Clone()
		r.order = append(r.order, m.Name)
	}
	return nil
}

func (r *Registry) Len() int { return len(r.order) }

// Names returns every registered model name, abstract ones included.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Build flattens abstract bases into every concrete model, injects an implicit
// primary key where none is declared and validates each field. Abstract models
// are not part of the result.
func (r *Registry) Build() ([]Model, error) {
	resolved := map[string]Model{}
	var result []Model
	for _, name := range r.order {
		m, err := r.resolve(name, nil, resolved)
		if err != nil {
			return nil, err
		}
		if m.Options.Abstract {
			continue
		}
		if err := finalize(&m); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, nil
}

func (r *Registry) resolve(name string, chain []string, resolved map[string]Model) (Model, error) {
	if m, ok := resolved[name]; ok {
		return m, nil
	}
	for _, seen := range chain {
		if seen == name {
			return Model{}, fmt.Errorf("%w: %s", ErrCircularAbstract, strings.Join(append(chain, name), " -> "))
		}
	}
	declared, ok := r.models[name]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownBase, name)
	}
	chain = append(chain, name)

	var merged *Model
	for _, baseName := range declared.Options.Extends {
		base, err := r.resolve(baseName, chain, resolved)
		if err != nil {
			return Model{}, err
		}
		if !base.Options.Abstract {
			return Model{}, fmt.Errorf("%w: %s extends %s, which is not abstract", ErrUnknownBase, name, baseName)
		}
		if merged == nil {
			merged = base.Clone()
			continue
		}
		next := mergeModels(*merged, base)
		merged = &next
	}

	result := *declared.Clone()
	if merged != nil {
		result = mergeModels(*merged, declared)
	}
	result.Options.Extends = nil
	resolved[name] = result
	return result, nil
}

// mergeModels lays the fields and options of m over base. Fields declared on m
// replace base fields of the same name.
func mergeModels(base, m Model) Model {
	out := base.Clone()
	out.Name = m.Name
	out.Module = m.Module
	for _, f := range m.Fields {
		if i := out.FieldIndex(f.Name); i >= 0 {
			out.Fields[i] = f.Clone()
		} else {
			out.Fields = append(out.Fields, f.Clone())
		}
	}

	opts := m.Options.Clone()
	if len(opts.Ordering) == 0 {
		opts.Ordering = append([]string(nil), base.Options.Ordering...)
	}
	indexes := append([]Index(nil), base.Options.Clone().Indexes...)
	opts.Indexes = append(indexes, opts.Indexes...)
	if len(base.Options.CustomOptions) > 0 {
		custom := map[string]string{}
		for k, v := range base.Options.CustomOptions {
			custom[k] = v
		}
		for k, v := range opts.CustomOptions {
			custom[k] = v
		}
		opts.CustomOptions = custom
	}
	out.Options = opts
	return *out
}

func finalize(m *Model) error {
	var pks []string
	for _, f := range m.Fields {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("model %s: %w", m.Name, err)
		}
		if f.Kind.IsAuto() && !f.PrimaryKey {
			return fmt.Errorf("%w: %s.%s is an auto field but not the primary key", ErrPrimaryKey, m.Name, f.Name)
		}
		if f.PrimaryKey {
			pks = append(pks, f.Name)
		}
	}
	switch len(pks) {
	case 0:
		if m.FieldIndex("id") >= 0 {
			return fmt.Errorf("%w: %s declares an id field that is not the primary key", ErrPrimaryKey, m.Name)
		}
		id := Field{Name: "id", Kind: AutoField, PrimaryKey: true}
		m.Fields = append([]Field{id}, m.Fields...)
		m.Options.PrimaryKeyField = id.Name
	case 1:
		m.Options.PrimaryKeyField = pks[0]
	default:
		return fmt.Errorf("%w: %s declares several primary keys (%s)", ErrPrimaryKey, m.Name, strings.Join(pks, ", "))
	}
	return nil
}
