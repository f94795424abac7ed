// Package diff compares the declared models against the state rebuilt from
// migration history and produces the operations that turn one into the other.
package diff

import (
	"errors"
	"fmt"

	"github.com/ridoystarlord/automigrate/operations"
	"github.com/ridoystarlord/automigrate/prompt"
	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
	"github.com/ridoystarlord/automigrate/utils"
)

// ErrAborted is returned when the operator declines an unsafe change.
var ErrAborted = errors.New("migration generation aborted")

// NoneOfThese is the last option of every ambiguous rename menu.
const NoneOfThese = "None of these (it was deleted)"

type Option func(*Engine)

func WithLogger(l utils.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine classifies models and fields as created, deleted, renamed or changed.
// Ambiguous renames are settled through the prompter, never guessed.
type Engine struct {
	prompt prompt.Prompter
	log    utils.Logger
}

func New(p prompt.Prompter, opts ...Option) *Engine {
	e := &Engine{prompt: p, log: utils.NullLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DiffStates is a shorthand for New(p).Diff(current, old).
func DiffStates(current, old *state.State, p prompt.Prompter) ([]operations.Operation, error) {
	return New(p).Diff(current, old)
}

type rename struct {
	from, to string
}

// classification is the outcome of the two pass procedure over one set of names.
type classification struct {
	renames []rename
	deletes []string
	creates []string
}

func (c classification) renamedTo(name string) bool {
	for _, r := range c.renames {
		if r.to == name {
			return true
		}
	}
	return false
}

// classify runs the rename detection shared by models and fields. what names
// the entity kind in prompts and scope, when set, qualifies the names shown.
func (e *Engine) classify(what, scope string, oldNames, newNames []string) (classification, error) {
	show := func(name string) string {
		if scope == "" {
			return name
		}
		return scope + "." + name
	}
	var out classification
	oldSet := toSet(oldNames)
	newSet := toSet(newNames)

	var onlyOld, onlyNew []string
	for _, n := range oldNames {
		if !newSet[n] {
			onlyOld = append(onlyOld, n)
		}
	}
	for _, n := range newNames {
		if !oldSet[n] {
			onlyNew = append(onlyNew, n)
		}
	}
	unambiguous := len(oldNames) == len(newNames) && len(onlyOld) == 1

	var maybeRemoved, maybeAdded []string
	for _, name := range onlyOld {
		if !unambiguous {
			maybeRemoved = append(maybeRemoved, name)
			continue
		}
		target := onlyNew[0]
		ok, err := e.prompt.Confirm(fmt.Sprintf("Did you rename %s %s to %s?", what, show(name), show(target)))
		if err != nil {
			return out, err
		}
		if ok {
			out.renames = append(out.renames, rename{from: name, to: target})
		} else {
			out.deletes = append(out.deletes, name)
		}
	}

	for _, name := range onlyNew {
		if out.renamedTo(name) {
			continue
		}
		if unambiguous {
			out.creates = append(out.creates, name)
			continue
		}
		maybeAdded = append(maybeAdded, name)
	}

	switch {
	case len(maybeAdded) == 0:
		out.deletes = append(out.deletes, maybeRemoved...)
	case len(maybeRemoved) == 0:
		out.creates = append(out.creates, maybeAdded...)
	default:
		candidates := append([]string(nil), maybeAdded...)
		for _, name := range maybeRemoved {
			if len(candidates) == 0 {
				out.deletes = append(out.deletes, name)
				continue
			}
			options := append(append([]string(nil), candidates...), NoneOfThese)
			choice, err := e.prompt.Select(fmt.Sprintf("%s %s is gone. Was it renamed to one of these?", capitalize(what), show(name)), options)
			if err != nil {
				return out, err
			}
			if choice < 0 || choice >= len(candidates) {
				out.deletes = append(out.deletes, name)
				continue
			}
			out.renames = append(out.renames, rename{from: name, to: candidates[choice]})
			candidates = append(candidates[:choice], candidates[choice+1:]...)
		}
		out.creates = append(out.creates, keepOrder(maybeAdded, candidates)...)
	}
	return out, nil
}

// Diff returns the operations that turn old into current. Neither state is
// modified. Operations come out as model renames, deletes and creates, then
// the field and option changes of every surviving model.
func (e *Engine) Diff(current, old *state.State) ([]operations.Operation, error) {
	work := old.Clone()
	var ops []operations.Operation

	models, err := e.classify("model", "", work.Names(), current.Names())
	if err != nil {
		return nil, err
	}

	for _, r := range models.renames {
		if err := work.RenameModel(r.from, r.to); err != nil {
			return nil, err
		}
		op := operations.NewRenameModel(r.from, r.to)
		ops = append(ops, withModule(op, moduleOf(current, r.to)))
	}
	for _, name := range models.deletes {
		ops = append(ops, withModule(operations.NewDeleteModel(name), moduleOf(work, name)))
	}
	for _, name := range models.creates {
		m, err := current.Get(name)
		if err != nil {
			return nil, err
		}
		ops = append(ops, withModule(operations.NewCreateModel(m), m.Module))
	}

	created := toSet(models.creates)
	for _, m := range current.Models() {
		if created[m.Name] {
			continue
		}
		before, err := work.Get(m.Name)
		if err != nil {
			return nil, err
		}
		changes, err := e.diffModel(before.Clone(), m)
		if err != nil {
			return nil, err
		}
		ops = append(ops, changes...)
	}
	return ops, nil
}

// diffModel compares one matched pair. before is a private copy and is
// updated as field renames are folded in.
func (e *Engine) diffModel(before, after *schema.Model) ([]operations.Operation, error) {
	var ops []operations.Operation
	add := func(op operations.Operation) { ops = append(ops, withModule(op, after.Module)) }

	fields, err := e.classify("field", after.Name, before.FieldNames(), after.FieldNames())
	if err != nil {
		return nil, err
	}

	for _, r := range fields.renames {
		if err := before.RenameField(r.from, r.to); err != nil {
			return nil, err
		}
		add(operations.NewRenameColumn(after.Name, r.from, r.to))
	}
	for _, name := range fields.deletes {
		add(operations.NewRemoveColumn(after.Name, name))
	}
	for _, name := range fields.creates {
		f, _ := after.Field(name)
		if f.Required() {
			msg := fmt.Sprintf("Field %s on %s is not nullable and has no default. Existing rows cannot be filled and the migration will fail on a non-empty table. Continue anyway?", name, after.Name)
			e.log.Warn("%s.%s is required and has no default", after.Name, name)
			ok, err := e.prompt.Confirm(msg)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: adding %s.%s", ErrAborted, after.Name, name)
			}
		}
		add(operations.NewCreateColumn(after.Name, f))
	}

	created := toSet(fields.creates)
	for _, f := range after.Fields {
		if created[f.Name] {
			continue
		}
		old, ok := before.Field(f.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", schema.ErrFieldNotFound, after.Name, f.Name)
		}
		if !schema.Equivalent(old, f) {
			add(operations.NewChangeColumn(after.Name, old, f))
		}
	}

	if !schema.EquivalentOptions(before.Options, after.Options) {
		add(operations.NewChangeModel(after.Name, before.Options, after.Options))
	}
	return ops, nil
}

func withModule(op operations.Operation, module string) operations.Operation {
	op.Meta().Module = module
	return op
}

func moduleOf(st *state.State, name string) string {
	m, err := st.Get(name)
	if err != nil {
		return ""
	}
	return m.Module
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// keepOrder returns the members of subset in the order they appear in all.
func keepOrder(all, subset []string) []string {
	in := toSet(subset)
	var out []string
	for _, n := range all {
		if in[n] {
			out = append(out, n)
		}
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}
