// Package generator turns an ordered change list into migration files.
package generator

import (
	"fmt"
	"time"

	"github.com/ridoystarlord/automigrate/diff"
	"github.com/ridoystarlord/automigrate/history"
	"github.com/ridoystarlord/automigrate/operations"
	"github.com/ridoystarlord/automigrate/orderer"
	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
	"github.com/ridoystarlord/automigrate/utils"
)

// TimestampFormat is the layout of the timestamp part of migration names.
const TimestampFormat = "20060102150405"

type Option func(*Generator)

func WithLogger(l utils.Logger) Option {
	return func(g *Generator) { g.log = l }
}

// WithClock replaces time.Now, which names the generated files.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithDryRun renders migrations without writing them.
func WithDryRun(dry bool) Option {
	return func(g *Generator) { g.dryRun = dry }
}

type Generator struct {
	store  *history.Store
	engine string
	log    utils.Logger
	now    func() time.Time
	dryRun bool
}

func New(store *history.Store, engineName string, opts ...Option) *Generator {
	g := &Generator{
		store:  store,
		engine: engineName,
		log:    utils.NullLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MakeMigrations loads the existing history, diffs it against current and
// writes the resulting migrations.
func (g *Generator) MakeMigrations(current *state.State, differ *diff.Engine) ([]*history.Migration, error) {
	loaded, err := g.store.Load()
	if err != nil {
		return nil, err
	}
	chained, err := orderer.ChainMigrations(loaded)
	if err != nil {
		return nil, err
	}
	old, err := history.BuildState(chained)
	if err != nil {
		return nil, err
	}
	ops, err := differ.Diff(current, old)
	if err != nil {
		return nil, err
	}
	ops = orderer.ReorderOperations(current, old, ops)
	return g.Generate(chained, ops)
}

// Generate cuts ops into one migration per run of same module operations
// and persists them. existing must be in chain order; its last entry is the
// dependency of the first new migration and its number seeds the numbering.
func (g *Generator) Generate(existing []*history.Migration, ops []operations.Operation) ([]*history.Migration, error) {
	if len(ops) == 0 {
		g.log.Info("No changes detected")
		return nil, nil
	}

	n, previous := 0, ""
	if len(existing) > 0 {
		last := existing[len(existing)-1]
		previous = last.Name
		if num, ok := history.Number(last.Name); ok {
			n = num
		}
	}
	stamp := g.now().UTC().Format(TimestampFormat)

	var out []*history.Migration
	var current *history.Migration
	module := ""
	for _, op := range ops {
		if m := op.Meta().Module; m != "" {
			module = m
		} else if module == "" {
			module = schema.DefaultModule
		}
		if current == nil || current.Module != module {
			n++
			current = &history.Migration{
				Name:       fmt.Sprintf("%d_auto_migration_%s", n, stamp),
				Module:     module,
				Engine:     g.engine,
				Dependency: previous,
			}
			previous = current.Name
			out = append(out, current)
		}
		meta := op.Meta()
		meta.Module = module
		meta.Order = len(current.Operations)
		meta.Dependencies = op.DependsOn()
		current.Operations = append(current.Operations, op)
	}

	for _, m := range out {
		if g.dryRun {
			g.log.Info("Would write %s/%s (%d operations)", g.store.Dir(m.Module), m.Name, len(m.Operations))
			continue
		}
		path, err := g.store.Write(m)
		if err != nil {
			return nil, err
		}
		g.log.Success("Created migration %s", path)
	}
	return out, nil
}
