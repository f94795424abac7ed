// Package sqlite implements the engine adapter for SQLite through database/sql
// and the go-sqlite3 driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ridoystarlord/automigrate/engine"
	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
)

const Name = "sqlite"

func init() {
	engine.Register(Name, Open)
	engine.Register("sqlite3", Open)
}

// Adapter runs DDL against a SQLite database. Column changes that SQLite
// cannot express with ALTER TABLE are done by rebuilding the table.
type Adapter struct {
	db  *sql.DB
	ddl engine.DDL
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *sqliteTx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback(context.Context) error { return t.tx.Rollback() }

// Open opens the database file (or ":memory:") named by dsn.
func Open(ctx context.Context, dsn string) (engine.Adapter, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL not set in environment")
	}
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	// A private in-memory database only lives as long as its one connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return New(db), nil
}

func New(db *sql.DB) *Adapter {
	return &Adapter{
		db: db,
		ddl: engine.DDL{
			Dialect:      schema.SQLite,
			QuoteLiteral: quoteLiteral,
		},
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (a *Adapter) Name() string            { return Name }
func (a *Adapter) Dialect() schema.Dialect { return schema.SQLite }
func (a *Adapter) Placeholder(int) string  { return "?" }
func (a *Adapter) Close() error            { return a.db.Close() }

// DB exposes the underlying handle.
func (a *Adapter) DB() *sql.DB { return a.db }

func (a *Adapter) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

func (a *Adapter) exec(ctx context.Context, tx engine.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w\n  statement: %s", err, stmt)
		}
	}
	return nil
}

func (a *Adapter) CreateTable(ctx context.Context, tx engine.Tx, st *state.State, model *schema.Model) error {
	stmts, err := a.ddl.CreateTable(st, model)
	if err != nil {
		return err
	}
	return a.exec(ctx, tx, stmts...)
}

func (a *Adapter) DropTable(ctx context.Context, tx engine.Tx, model *schema.Model) error {
	return a.exec(ctx, tx, a.ddl.DropTable(model))
}

func (a *Adapter) RenameTable(ctx context.Context, tx engine.Tx, from, to *schema.Model) error {
	if from.Table() == to.Table() {
		return nil
	}
	return a.exec(ctx, tx, a.ddl.RenameTable(from.Table(), to.Table()))
}

// AddColumn uses ALTER TABLE when SQLite allows it and rebuilds the table
// for unique or primary key columns, which it does not.
func (a *Adapter) AddColumn(ctx context.Context, tx engine.Tx, st *state.State, model *schema.Model, field schema.Field) error {
	if field.Unique || field.PrimaryKey {
		target := model.Clone()
		if target.FieldIndex(field.Name) < 0 {
			target.Fields = append(target.Fields, field)
		}
		columns := map[string]string{}
		for _, f := range target.Fields {
			if f.Name != field.Name {
				columns[target.Column(f)] = target.Column(f)
			}
		}
		return a.rebuild(ctx, tx, st, target, columns)
	}
	stmt, err := a.ddl.AddColumn(st, model, field)
	if err != nil {
		return err
	}
	stmts := []string{stmt}
	if field.DBIndex {
		stmts = append(stmts, a.ddl.CreateIndex(model, engine.FieldIndex(model, field)))
	}
	return a.exec(ctx, tx, stmts...)
}

// ChangeColumn rebuilds the table with the new column definition and copies
// the existing rows across.
func (a *Adapter) ChangeColumn(ctx context.Context, tx engine.Tx, st *state.State, model *schema.Model, from, to schema.Field) error {
	target := model.Clone()
	if i := target.FieldIndex(to.Name); i >= 0 {
		target.Fields[i] = to
	} else if err := target.AddField(to); err != nil {
		return err
	}
	columns := map[string]string{}
	for _, f := range target.Fields {
		if f.Name == to.Name {
			columns[target.Column(to)] = model.Column(from)
			continue
		}
		columns[target.Column(f)] = target.Column(f)
	}
	return a.rebuild(ctx, tx, st, target, columns)
}

func (a *Adapter) RenameColumn(ctx context.Context, tx engine.Tx, model *schema.Model, from, to schema.Field) error {
	fromCol, toCol := model.Column(from), model.Column(to)
	if fromCol == toCol {
		return nil
	}
	return a.exec(ctx, tx, a.ddl.RenameColumn(model.Table(), fromCol, toCol))
}

// DropColumn rebuilds the table without the column so that constraints and
// indexes touching it go away too.
func (a *Adapter) DropColumn(ctx context.Context, tx engine.Tx, st *state.State, model *schema.Model, field schema.Field) error {
	target := model.Clone()
	if target.FieldIndex(field.Name) >= 0 {
		if err := target.RemoveField(field.Name); err != nil {
			return err
		}
	}
	var kept []schema.Index
	for _, idx := range target.Options.Indexes {
		if !containsField(idx, field.Name) {
			kept = append(kept, idx)
		}
	}
	target.Options.Indexes = kept
	columns := map[string]string{}
	for _, f := range target.Fields {
		columns[target.Column(f)] = target.Column(f)
	}
	return a.rebuild(ctx, tx, st, target, columns)
}

func containsField(idx schema.Index, name string) bool {
	for _, f := range idx.Fields {
		if field, _ := schema.ParseOrdering(f); field == name {
			return true
		}
	}
	return false
}

// rebuild recreates model's table from its definition. columns maps every
// new column to the old column its data is copied from.
func (a *Adapter) rebuild(ctx context.Context, tx engine.Tx, st *state.State, model *schema.Model, columns map[string]string) error {
	table := model.Table()
	tmp := model.Clone()
	tmp.Options.TableName = table + "__rebuild"
	tmp.Options.Indexes = nil
	for i := range tmp.Fields {
		tmp.Fields[i].DBIndex = false
	}
	create, err := a.ddl.CreateTable(st, tmp)
	if err != nil {
		return err
	}

	var newCols, oldCols []string
	for _, f := range model.Fields {
		col := model.Column(f)
		if old, ok := columns[col]; ok {
			newCols = append(newCols, engine.QuoteIdent(col))
			oldCols = append(oldCols, engine.QuoteIdent(old))
		}
	}

	stmts := append([]string{}, create...)
	if len(newCols) > 0 {
		stmts = append(stmts, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s;",
			engine.QuoteIdent(tmp.Table()), strings.Join(newCols, ", "), strings.Join(oldCols, ", "), engine.QuoteIdent(table)))
	}
	stmts = append(stmts,
		a.ddl.DropTable(model),
		a.ddl.RenameTable(tmp.Table(), table),
	)
	for _, idx := range engine.TableIndexes(model) {
		stmts = append(stmts, a.ddl.CreateIndex(model, idx))
	}
	return a.exec(ctx, tx, stmts...)
}

func (a *Adapter) AddIndex(ctx context.Context, tx engine.Tx, model *schema.Model, index schema.Index) error {
	return a.exec(ctx, tx, a.ddl.CreateIndex(model, index))
}

func (a *Adapter) DropIndex(ctx context.Context, tx engine.Tx, model *schema.Model, index schema.Index) error {
	return a.exec(ctx, tx, a.ddl.DropIndex(model, index))
}

// ForeignKeys reads the foreign key list pragma of table.
func (a *Adapter) ForeignKeys(ctx context.Context, tx engine.Tx, table string) ([]engine.ForeignKey, error) {
	rows, err := a.Query(ctx, tx, fmt.Sprintf("PRAGMA foreign_key_list(%s);", engine.QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("querying foreign keys: %w", err)
	}
	fks := make([]engine.ForeignKey, 0, len(rows))
	for _, row := range rows {
		fks = append(fks, engine.ForeignKey{
			Name:             fmt.Sprintf("%s_%v_fkey", table, row["id"]),
			Column:           asString(row["from"]),
			ReferencedTable:  asString(row["table"]),
			ReferencedColumn: asString(row["to"]),
			OnDelete:         strings.ReplaceAll(asString(row["on_delete"]), " ", "_"),
		})
	}
	return fks, nil
}

// Query runs a read query inside tx, or directly on the database when tx is nil.
func (a *Adapter) Query(ctx context.Context, tx engine.Tx, query string, args ...any) ([]engine.Row, error) {
	var rows *sql.Rows
	var err error
	if t, ok := tx.(*sqliteTx); ok && t != nil {
		rows, err = t.tx.QueryContext(ctx, query, args...)
	} else {
		rows, err = a.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []engine.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		row := make(engine.Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
