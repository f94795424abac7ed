// Package orderer puts migrations into their chain order and sorts the
// operations of a change list so that foreign key targets come first.
package orderer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ridoystarlord/automigrate/history"
	"github.com/ridoystarlord/automigrate/operations"
	"github.com/ridoystarlord/automigrate/state"
)

const (
	// MaxChainIterations bounds the passes ChainMigrations makes over the files.
	MaxChainIterations = 1000
	// MaxReorderIterations bounds the passes ReorderOperations makes over
	// operations whose dependencies are not placed yet.
	MaxReorderIterations = 100
)

var ErrBrokenChain = errors.New("broken migration chain")

// ChainMigrations orders migrations by following their dependency pointers
// from the single root. The input order is irrelevant.
func ChainMigrations(migrations []*history.Migration) ([]*history.Migration, error) {
	byName := make(map[string]*history.Migration, len(migrations))
	next := map[string]string{}
	var roots []string
	for _, m := range migrations {
		if _, dup := byName[m.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate migration %s", ErrBrokenChain, m.Name)
		}
		byName[m.Name] = m
		if m.Dependency == "" {
			roots = append(roots, m.Name)
			continue
		}
		if other, taken := next[m.Dependency]; taken {
			return nil, fmt.Errorf("%w: %s and %s both follow %s", ErrBrokenChain, other, m.Name, m.Dependency)
		}
		next[m.Dependency] = m.Name
	}
	if len(migrations) == 0 {
		return nil, nil
	}
	if len(roots) != 1 {
		return nil, fmt.Errorf("%w: expected one first migration, found %d (%s)", ErrBrokenChain, len(roots), strings.Join(roots, ", "))
	}

	ordered := make([]*history.Migration, 0, len(migrations))
	remaining := append([]*history.Migration(nil), migrations...)
	tail := ""
	for pass := 0; pass < MaxChainIterations && len(remaining) > 0; pass++ {
		var left []*history.Migration
		for _, m := range remaining {
			if m.Dependency == tail {
				ordered = append(ordered, m)
				tail = m.Name
				continue
			}
			left = append(left, m)
		}
		if len(left) == len(remaining) {
			break
		}
		remaining = left
	}
	if len(remaining) > 0 {
		names := make([]string, 0, len(remaining))
		for _, m := range remaining {
			names = append(names, m.Name+" -> "+m.Dependency)
		}
		return nil, fmt.Errorf("%w: unreachable migrations: %s", ErrBrokenChain, strings.Join(names, ", "))
	}
	return ordered, nil
}

// ReorderOperations sorts ops so that every operation comes after the
// operations on the models it references. Operations without dependencies
// keep their relative order and lead the result. Self references are
// ignored. Operations still unplaced after MaxReorderIterations passes, which
// only happens for foreign key cycles, are appended in their original order.
func ReorderOperations(current, old *state.State, ops []operations.Operation) []operations.Operation {
	changed := map[string]bool{}
	renamed := map[string]string{}
	for _, op := range ops {
		if name := op.ModelName(); name != "" {
			changed[name] = true
		}
		if r, ok := op.(*operations.RenameModel); ok {
			renamed[r.From] = r.To
		}
	}

	var ordered, pending []operations.Operation
	for _, op := range ops {
		if len(dependencies(current, old, changed, renamed, op)) == 0 {
			ordered = append(ordered, op)
		} else {
			pending = append(pending, op)
		}
	}

	for i := 0; i < MaxReorderIterations && len(pending) > 0; i++ {
		var unresolved []operations.Operation
		for _, op := range pending {
			pos, ok := placement(ordered, op, dependencies(current, old, changed, renamed, op))
			if !ok {
				unresolved = append(unresolved, op)
				continue
			}
			ordered = append(ordered, nil)
			copy(ordered[pos+1:], ordered[pos:])
			ordered[pos] = op
		}
		if len(unresolved) == len(pending) {
			break
		}
		pending = unresolved
	}
	return append(ordered, pending...)
}

// placement returns where op can be inserted: after the last operation on
// each dependency and on its own model, and after any renames that follow.
func placement(ordered []operations.Operation, op operations.Operation, deps []string) (int, bool) {
	pos := lastIndex(ordered, op.ModelName())
	for _, dep := range deps {
		i := lastIndex(ordered, dep)
		if i < 0 {
			return 0, false
		}
		if i > pos {
			pos = i
		}
	}
	pos++
	for pos < len(ordered) && ordered[pos].Kind().IsRename() {
		pos++
	}
	return pos, true
}

func lastIndex(ordered []operations.Operation, model string) int {
	for i := len(ordered) - 1; i >= 0; i-- {
		if ordered[i].ModelName() == model {
			return i
		}
	}
	return -1
}

// dependencies lists the changed models op has to wait for. Dropping a table
// waits for the changes on every model that referenced it, under the name a
// rename in the same list gives it; anything else waits for the models its
// own model references.
func dependencies(current, old *state.State, changed map[string]bool, renamed map[string]string, op operations.Operation) []string {
	name := op.ModelName()
	if name == "" {
		return nil
	}
	var candidates []string
	if op.Kind() == operations.KindDeleteModel {
		for _, m := range old.Models() {
			for _, target := range m.Relations() {
				if target == name {
					candidates = append(candidates, newName(renamed, m.Name))
					break
				}
			}
		}
	} else {
		if m, err := current.Get(name); err == nil {
			candidates = m.Relations()
		} else if m, err := old.Get(name); err == nil {
			candidates = m.Relations()
		}
		candidates = append(candidates, op.DependsOn()...)
	}

	seen := map[string]bool{}
	var deps []string
	for _, c := range candidates {
		if c == name || !changed[c] || seen[c] {
			continue
		}
		seen[c] = true
		deps = append(deps, c)
	}
	return deps
}

// newName follows the renames of a model, stopping at cycles.
func newName(renamed map[string]string, name string) string {
	seen := map[string]bool{name: true}
	for {
		to, ok := renamed[name]
		if !ok || seen[to] {
			return name
		}
		seen[to] = true
		name = to
	}
}
