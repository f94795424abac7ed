// Package runner applies pending migrations, one transaction per migration,
// and keeps the ledger of what has been applied.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ridoystarlord/automigrate/engine"
	"github.com/ridoystarlord/automigrate/history"
	"github.com/ridoystarlord/automigrate/utils"
)

type Option func(*Runner)

func WithLedger(l Ledger) Option {
	return func(r *Runner) { r.ledger = l }
}

func WithLogger(l utils.Logger) Option {
	return func(r *Runner) { r.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

type Runner struct {
	adapter engine.Adapter
	ledger  Ledger
	log     utils.Logger
	now     func() time.Time
}

// New returns a runner bound to adapter. Unless WithLedger is given, the
// ledger lives in the same database.
func New(adapter engine.Adapter, opts ...Option) *Runner {
	r := &Runner{adapter: adapter, log: utils.NullLogger{}, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.ledger == nil {
		r.ledger = NewSQLLedger(adapter)
	}
	return r
}

// Migrate applies every migration after the last recorded one. migrations
// must be the whole history in chain order. It returns the names applied.
func (r *Runner) Migrate(ctx context.Context, migrations []*history.Migration) ([]string, error) {
	last, err := r.ledger.LastApplied(ctx)
	if err != nil {
		r.log.Debug("Reading %s failed (%v), creating it", LedgerTable, err)
		if err := r.ledger.Create(ctx); err != nil {
			return nil, fmt.Errorf("create migration ledger: %w", err)
		}
		last = ""
	}

	pending, err := after(migrations, last)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		r.log.Success("No pending migrations.")
		return nil, nil
	}

	// One resolver serves the whole run. A migration that ends with a held
	// back column keeps its transaction open, and the following migrations
	// join it until the column is added.
	res := newResolver(r.adapter)
	var (
		applied []string
		group   []string
		tx      engine.Tx
	)
	fail := func(name string, err error) ([]string, error) {
		r.log.Error("Migration %s failed: %v", name, err)
		if tx != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				r.log.Warn("Rollback of %s failed: %v", strings.Join(group, ", "), rbErr)
			}
		}
		return applied, fmt.Errorf("migration %s: %w", name, err)
	}

	for _, m := range pending {
		if tx == nil {
			if tx, err = r.adapter.Begin(ctx); err != nil {
				return fail(m.Name, fmt.Errorf("begin: %w", err))
			}
		}
		r.log.Info("Running migration %s (%s)", m.Name, m.Module)
		if err := r.apply(ctx, tx, res, migrations, m); err != nil {
			return fail(m.Name, err)
		}
		group = append(group, m.Name)
		if res.holding() {
			r.log.Debug("  %s holds back %s, continuing in the same transaction", m.Name, res.describe())
			continue
		}
		if err := tx.Commit(ctx); err != nil {
			tx = nil
			return fail(m.Name, fmt.Errorf("commit: %w", err))
		}
		applied = append(applied, group...)
		group, tx = nil, nil
	}
	if tx != nil {
		return fail(group[0], res.unresolved())
	}
	r.log.Success("Migrations finished")
	return applied, nil
}

// apply runs the operations of m inside tx and records m in the ledger. The
// caller commits or rolls back.
func (r *Runner) apply(ctx context.Context, tx engine.Tx, res *resolver, all []*history.Migration, m *history.Migration) error {
	for i, op := range m.Operations {
		from, err := history.BuildState(all, history.StopAt(m.Name), history.StopBefore(i))
		if err != nil {
			return err
		}
		to, err := history.BuildState(all, history.StopAt(m.Name), history.StopAfter(i))
		if err != nil {
			return err
		}
		r.log.Debug("  %s", op.Describe())
		if err := op.Run(ctx, tx, res, from, to); err != nil {
			return fmt.Errorf("operation %d (%s): %w", i, op.Describe(), err)
		}
		if err := res.retry(ctx, tx, to); err != nil {
			return err
		}
	}

	rec := MigrationRecord{
		Module:        m.Module,
		MigrationName: m.Name,
		Checksum:      m.Checksum,
		ExecutedBy:    currentUser(),
		AppliedAt:     r.now().UTC(),
	}
	if err := r.ledger.Record(ctx, tx, rec); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}

// after returns the migrations strictly after last.
func after(migrations []*history.Migration, last string) ([]*history.Migration, error) {
	if last == "" {
		return migrations, nil
	}
	for i, m := range migrations {
		if m.Name == last {
			return migrations[i+1:], nil
		}
	}
	return nil, fmt.Errorf("%w: the ledger's last migration %s is not in the history", history.ErrUnknownMigration, last)
}

// MigrationStatus is one line of Status.
type MigrationStatus struct {
	Name      string
	Module    string
	Applied   bool
	AppliedAt time.Time
	// Drifted is set when the file changed after it was applied.
	Drifted bool
}

// Status reports, for every migration in chain order, whether it is applied.
// A missing ledger means nothing is applied.
func (r *Runner) Status(ctx context.Context, migrations []*history.Migration) ([]MigrationStatus, error) {
	out := make([]MigrationStatus, 0, len(migrations))
	last, err := r.ledger.LastApplied(ctx)
	if err != nil {
		r.log.Debug("Reading %s failed (%v), treating every migration as pending", LedgerTable, err)
		for _, m := range migrations {
			out = append(out, MigrationStatus{Name: m.Name, Module: m.Module})
		}
		return out, nil
	}
	records, err := r.ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]MigrationRecord, len(records))
	for _, rec := range records {
		byName[rec.MigrationName] = rec
	}

	pending, err := after(migrations, last)
	if err != nil {
		return nil, err
	}
	applied := len(migrations) - len(pending)
	for i, m := range migrations {
		s := MigrationStatus{Name: m.Name, Module: m.Module, Applied: i < applied}
		if rec, ok := byName[m.Name]; ok {
			s.AppliedAt = rec.AppliedAt
			s.Drifted = rec.Checksum != "" && m.Checksum != "" && rec.Checksum != m.Checksum
		}
		out = append(out, s)
	}
	return out, nil
}
