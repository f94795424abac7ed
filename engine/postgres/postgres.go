// Package postgres implements the engine adapter on top of a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/ridoystarlord/automigrate/engine"
	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
)

const Name = "postgres"

func init() {
	engine.Register(Name, Open)
	engine.Register("postgresql", Open)
}

// Adapter runs DDL against PostgreSQL.
type Adapter struct {
	pool *pgxpool.Pool
	ddl  engine.DDL
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.Exec(ctx, query, args...)
	return err
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// Open creates the connection pool and checks it with a ping.
func Open(ctx context.Context, url string) (engine.Adapter, error) {
	if url == "" {
		return nil, fmt.Errorf("DATABASE_URL not set in environment")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return New(pool), nil
}

func New(pool *pgxpool.Pool) *Adapter {
	return &Adapter{
		pool: pool,
		ddl: engine.DDL{
			Dialect:      schema.Postgres,
			QuoteLiteral: pq.QuoteLiteral,
			UUIDDefault:  "gen_random_uuid()",
		},
	}
}

func (a *Adapter) Name() string             { return Name }
func (a *Adapter) Dialect() schema.Dialect  { return schema.Postgres }
func (a *Adapter) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}

func (a *Adapter) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
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

func (a *Adapter) AddColumn(ctx context.Context, tx engine.Tx, st *state.State, model *schema.Model, field schema.Field) error {
	stmt, err := a.ddl.AddColumn(st, model, field)
	if err != nil {
		return err
	}
	stmts := []string{stmt}
	if field.DBIndex && !field.Unique && !field.PrimaryKey {
		stmts = append(stmts, a.ddl.CreateIndex(model, engine.FieldIndex(model, field)))
	}
	return a.exec(ctx, tx, stmts...)
}

func (a *Adapter) columnType(st *state.State, f schema.Field) (string, error) {
	if f.Kind.IsRelation() {
		_, pk, err := engine.Target(st, f)
		if err != nil {
			return "", err
		}
		return schema.ReferenceType(schema.Postgres, pk)
	}
	return schema.ColumnType(schema.Postgres, f)
}

// ChangeColumn alters one column in place: name, type, nullability, default,
// uniqueness, implicit index and foreign key constraint.
func (a *Adapter) ChangeColumn(ctx context.Context, tx engine.Tx, st *state.State, model *schema.Model, from, to schema.Field) error {
	table := model.Table()
	fromCol, toCol := model.Column(from), model.Column(to)
	col := engine.QuoteIdent(toCol)
	alter := "ALTER TABLE " + engine.QuoteIdent(table) + " "

	var stmts []string
	if fromCol != toCol {
		stmts = append(stmts, a.ddl.RenameColumn(table, fromCol, toCol))
	}

	toType, err := a.columnType(st, to)
	if err != nil {
		return err
	}
	if fromType, err := a.columnType(st, from); err != nil || fromType != toType {
		stmts = append(stmts, fmt.Sprintf("%sALTER COLUMN %s TYPE %s USING %s::%s;", alter, col, toType, col, toType))
	}

	if from.AllowNull != to.AllowNull && !to.PrimaryKey {
		if to.AllowNull {
			stmts = append(stmts, fmt.Sprintf("%sALTER COLUMN %s DROP NOT NULL;", alter, col))
		} else {
			stmts = append(stmts, fmt.Sprintf("%sALTER COLUMN %s SET NOT NULL;", alter, col))
		}
	}

	fromDefault, _, _ := a.ddl.DefaultExpression(from)
	toDefault, hasDefault, err := a.ddl.DefaultExpression(to)
	if err != nil {
		return fmt.Errorf("column %s.%s: %w", model.Name, to.Name, err)
	}
	if fromDefault != toDefault {
		if hasDefault {
			stmts = append(stmts, fmt.Sprintf("%sALTER COLUMN %s SET DEFAULT %s;", alter, col, toDefault))
		} else {
			stmts = append(stmts, fmt.Sprintf("%sALTER COLUMN %s DROP DEFAULT;", alter, col))
		}
	}

	if from.Unique != to.Unique {
		constraint := engine.QuoteIdent(fmt.Sprintf("%s_%s_key", table, toCol))
		if to.Unique {
			stmts = append(stmts, fmt.Sprintf("%sADD CONSTRAINT %s UNIQUE (%s);", alter, constraint, col))
		} else {
			stmts = append(stmts, fmt.Sprintf("%sDROP CONSTRAINT IF EXISTS %s;", alter, constraint))
		}
	}

	if from.DBIndex != to.DBIndex {
		if to.DBIndex {
			stmts = append(stmts, a.ddl.CreateIndex(model, engine.FieldIndex(model, to)))
		} else {
			stmts = append(stmts, a.ddl.DropIndex(model, engine.FieldIndex(model, from)))
		}
	}

	if err := a.exec(ctx, tx, stmts...); err != nil {
		return err
	}
	if !relationChanged(from, to) {
		return nil
	}
	return a.replaceForeignKey(ctx, tx, st, model, toCol, to)
}

func relationChanged(from, to schema.Field) bool {
	if from.Kind.IsRelation() != to.Kind.IsRelation() {
		return true
	}
	if !to.Kind.IsRelation() {
		return false
	}
	return from.Relation.RelatedTo != to.Relation.RelatedTo || from.Relation.OnDelete != to.Relation.OnDelete
}

func (a *Adapter) replaceForeignKey(ctx context.Context, tx engine.Tx, st *state.State, model *schema.Model, column string, to schema.Field) error {
	table := model.Table()
	fks, err := a.ForeignKeys(ctx, tx, table)
	if err != nil {
		return err
	}
	var stmts []string
	for _, fk := range fks {
		if fk.Column == column {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", engine.QuoteIdent(table), engine.QuoteIdent(fk.Name)))
		}
	}
	if to.Kind.IsRelation() {
		target, pk, err := engine.Target(st, to)
		if err != nil {
			return err
		}
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) %s;",
			engine.QuoteIdent(table),
			engine.QuoteIdent(fmt.Sprintf("%s_%s_fkey", table, column)),
			engine.QuoteIdent(column),
			a.ddl.References(target, pk, to),
		))
	}
	return a.exec(ctx, tx, stmts...)
}

func (a *Adapter) RenameColumn(ctx context.Context, tx engine.Tx, model *schema.Model, from, to schema.Field) error {
	fromCol, toCol := model.Column(from), model.Column(to)
	if fromCol == toCol {
		return nil
	}
	return a.exec(ctx, tx, a.ddl.RenameColumn(model.Table(), fromCol, toCol))
}

func (a *Adapter) DropColumn(ctx context.Context, tx engine.Tx, _ *state.State, model *schema.Model, field schema.Field) error {
	return a.exec(ctx, tx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;",
		engine.QuoteIdent(model.Table()), engine.QuoteIdent(model.Column(field))))
}

func (a *Adapter) AddIndex(ctx context.Context, tx engine.Tx, model *schema.Model, index schema.Index) error {
	return a.exec(ctx, tx, a.ddl.CreateIndex(model, index))
}

func (a *Adapter) DropIndex(ctx context.Context, tx engine.Tx, model *schema.Model, index schema.Index) error {
	return a.exec(ctx, tx, a.ddl.DropIndex(model, index))
}

const foreignKeysQuery = `
	SELECT
		tc.constraint_name,
		kcu.column_name,
		ccu.table_name AS foreign_table_name,
		ccu.column_name AS foreign_column_name,
		COALESCE(rc.delete_rule, '') AS delete_rule
	FROM information_schema.table_constraints AS tc
	JOIN information_schema.key_column_usage AS kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	JOIN information_schema.constraint_column_usage AS ccu
		ON ccu.constraint_name = tc.constraint_name
		AND ccu.table_schema = tc.table_schema
	LEFT JOIN information_schema.referential_constraints AS rc
		ON tc.constraint_name = rc.constraint_name
	WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_schema = current_schema()
		AND tc.table_name = $1;
	`

// ForeignKeys lists the foreign key constraints declared on table.
func (a *Adapter) ForeignKeys(ctx context.Context, tx engine.Tx, table string) ([]engine.ForeignKey, error) {
	rows, err := a.Query(ctx, tx, foreignKeysQuery, table)
	if err != nil {
		return nil, fmt.Errorf("querying foreign keys: %w", err)
	}
	fks := make([]engine.ForeignKey, 0, len(rows))
	for _, row := range rows {
		fks = append(fks, engine.ForeignKey{
			Name:             asString(row["constraint_name"]),
			Column:           asString(row["column_name"]),
			ReferencedTable:  asString(row["foreign_table_name"]),
			ReferencedColumn: asString(row["foreign_column_name"]),
			OnDelete:         strings.ReplaceAll(asString(row["delete_rule"]), " ", "_"),
		})
	}
	return fks, nil
}

// Query runs a read query inside tx, or on the pool when tx is nil.
func (a *Adapter) Query(ctx context.Context, tx engine.Tx, query string, args ...any) ([]engine.Row, error) {
	var rows pgx.Rows
	var err error
	if t, ok := tx.(*pgTx); ok && t != nil {
		rows, err = t.tx.Query(ctx, query, args...)
	} else {
		rows, err = a.pool.Query(ctx, query, args...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []engine.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		row := make(engine.Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
