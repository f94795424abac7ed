// Package enginetest provides an in-memory engine.Adapter that records every
// call and only publishes table changes when a transaction commits.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ridoystarlord/automigrate/engine"
	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
)

var ErrTxDone = errors.New("transaction already finished")

// Call is one recorded adapter invocation.
type Call struct {
	Method string
	Target string
}

func (c Call) String() string { return c.Method + ":" + c.Target }

// Adapter is a fake engine.Adapter. Failures are scripted through Fail, keyed
// either by method ("AddIndex") or by method and target ("CreateTable:Order").
type Adapter struct {
	mu     sync.Mutex
	Calls  []Call
	Fail   map[string]error
	Txs    []*Tx
	Rows   []engine.Row
	FKs    map[string][]engine.ForeignKey
	tables map[string][]string
}

func New() *Adapter {
	return &Adapter{
		Fail:   map[string]error{},
		tables: map[string][]string{},
		FKs:    map[string][]engine.ForeignKey{},
	}
}

// Tx records statements and defers table effects until Commit.
type Tx struct {
	Committed  bool
	RolledBack bool
	Statements []string
	effects    []func()
}

func (t *Tx) Exec(_ context.Context, query string, _ ...any) error {
	if t.Committed || t.RolledBack {
		return ErrTxDone
	}
	t.Statements = append(t.Statements, query)
	return nil
}

// OnCommit registers fn to run when the transaction commits.
func (t *Tx) OnCommit(fn func()) {
	t.effects = append(t.effects, fn)
}

func (t *Tx) Commit(context.Context) error {
	if t.Committed || t.RolledBack {
		return ErrTxDone
	}
	t.Committed = true
	for _, fn := range t.effects {
		fn()
	}
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.Committed || t.RolledBack {
		return nil
	}
	t.RolledBack = true
	return nil
}

func (a *Adapter) record(method, target string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls = append(a.Calls, Call{Method: method, Target: target})
	if err, ok := a.Fail[method+":"+target]; ok {
		return err
	}
	return a.Fail[method]
}

func (a *Adapter) effect(tx engine.Tx, fn func()) error {
	t, ok := tx.(*Tx)
	if !ok {
		return fmt.Errorf("enginetest: unexpected transaction type %T", tx)
	}
	if t.Committed || t.RolledBack {
		return ErrTxDone
	}
	t.OnCommit(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		fn()
	})
	return nil
}

// CallsTo returns the recorded targets of method, in call order.
func (a *Adapter) CallsTo(method string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, c := range a.Calls {
		if c.Method == method {
			out = append(out, c.Target)
		}
	}
	return out
}

// Tables lists the committed tables.
func (a *Adapter) Tables() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.tables))
	for name := range a.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Columns lists the committed columns of table.
func (a *Adapter) Columns(table string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.tables[table]...)
}

func (a *Adapter) Name() string { return "enginetest" }

func (a *Adapter) Dialect() schema.Dialect { return schema.Postgres }

func (a *Adapter) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (a *Adapter) Close() error             { return nil }

func (a *Adapter) Begin(context.Context) (engine.Tx, error) {
	if err := a.record("Begin", ""); err != nil {
		return nil, err
	}
	tx := &Tx{}
	a.mu.Lock()
	a.Txs = append(a.Txs, tx)
	a.mu.Unlock()
	return tx, nil
}

func (a *Adapter) CreateTable(_ context.Context, tx engine.Tx, _ *state.State, model *schema.Model) error {
	table := model.Table()
	if err := a.record("CreateTable", table); err != nil {
		return err
	}
	var cols []string
	for _, f := range model.Fields {
		cols = append(cols, model.Column(f))
	}
	return a.effect(tx, func() { a.tables[table] = cols })
}

func (a *Adapter) DropTable(_ context.Context, tx engine.Tx, model *schema.Model) error {
	table := model.Table()
	if err := a.record("DropTable", table); err != nil {
		return err
	}
	return a.effect(tx, func() { delete(a.tables, table) })
}

func (a *Adapter) RenameTable(_ context.Context, tx engine.Tx, from, to *schema.Model) error {
	oldName, newName := from.Table(), to.Table()
	if err := a.record("RenameTable", oldName+"->"+newName); err != nil {
		return err
	}
	return a.effect(tx, func() {
		a.tables[newName] = a.tables[oldName]
		delete(a.tables, oldName)
	})
}

func (a *Adapter) AddColumn(_ context.Context, tx engine.Tx, _ *state.State, model *schema.Model, field schema.Field) error {
	table, col := model.Table(), model.Column(field)
	if err := a.record("AddColumn", table+"."+col); err != nil {
		return err
	}
	return a.effect(tx, func() { a.tables[table] = append(a.tables[table], col) })
}

func (a *Adapter) ChangeColumn(_ context.Context, tx engine.Tx, _ *state.State, model *schema.Model, from, to schema.Field) error {
	table := model.Table()
	oldCol, newCol := model.Column(from), model.Column(to)
	if err := a.record("ChangeColumn", table+"."+newCol); err != nil {
		return err
	}
	return a.effect(tx, func() { a.renameColumn(table, oldCol, newCol) })
}

func (a *Adapter) RenameColumn(_ context.Context, tx engine.Tx, model *schema.Model, from, to schema.Field) error {
	table := model.Table()
	oldCol, newCol := model.Column(from), model.Column(to)
	if err := a.record("RenameColumn", table+"."+oldCol+"->"+newCol); err != nil {
		return err
	}
	return a.effect(tx, func() { a.renameColumn(table, oldCol, newCol) })
}

func (a *Adapter) renameColumn(table, from, to string) {
	for i, c := range a.tables[table] {
		if c == from {
			a.tables[table][i] = to
		}
	}
}

func (a *Adapter) DropColumn(_ context.Context, tx engine.Tx, _ *state.State, model *schema.Model, field schema.Field) error {
	table, col := model.Table(), model.Column(field)
	if err := a.record("DropColumn", table+"."+col); err != nil {
		return err
	}
	return a.effect(tx, func() {
		cols := a.tables[table][:0]
		for _, c := range a.tables[table] {
			if c != col {
				cols = append(cols, c)
			}
		}
		a.tables[table] = cols
	})
}

func (a *Adapter) AddIndex(_ context.Context, _ engine.Tx, model *schema.Model, index schema.Index) error {
	return a.record("AddIndex", index.IndexName(model.Table()))
}

func (a *Adapter) DropIndex(_ context.Context, _ engine.Tx, model *schema.Model, index schema.Index) error {
	return a.record("DropIndex", index.IndexName(model.Table()))
}

func (a *Adapter) ForeignKeys(_ context.Context, _ engine.Tx, table string) ([]engine.ForeignKey, error) {
	if err := a.record("ForeignKeys", table); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.FKs[table], nil
}

func (a *Adapter) Query(_ context.Context, _ engine.Tx, query string, _ ...any) ([]engine.Row, error) {
	if err := a.record("Query", query); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Rows, nil
}
