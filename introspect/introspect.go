// Package introspect reads the tables that actually exist in a database and
// compares them with the state the applied migrations describe.
package introspect

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ridoystarlord/automigrate/engine"
	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
)

type ExistingTable struct {
	TableName   string
	Columns     []ExistingColumn
	ForeignKeys []engine.ForeignKey
}

type ExistingColumn struct {
	ColumnName   string
	DataType     string
	IsNullable   bool
	IsPrimaryKey bool
}

// Column returns the named column of the table.
func (t ExistingTable) Column(name string) (ExistingColumn, bool) {
	for _, c := range t.Columns {
		if c.ColumnName == name {
			return c, true
		}
	}
	return ExistingColumn{}, false
}

type dialectQueries struct {
	tables  string
	columns func(a engine.Adapter, table string) (string, []any)
	column  func(row engine.Row) ExistingColumn
}

var queries = map[schema.Dialect]dialectQueries{
	schema.Postgres: {
		tables: `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
	ORDER BY table_name;`,
		columns: func(a engine.Adapter, table string) (string, []any) {
			return fmt.Sprintf(`
	SELECT
		c.column_name,
		c.data_type,
		(c.is_nullable = 'YES') AS is_nullable,
		EXISTS (
			SELECT 1
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
				AND tc.table_schema = c.table_schema
				AND tc.table_name = c.table_name
				AND kcu.column_name = c.column_name
		) AS is_primary
	FROM information_schema.columns c
	WHERE c.table_schema = current_schema() AND c.table_name = %s
	ORDER BY c.ordinal_position;`, a.Placeholder(1)), []any{table}
		},
		column: func(row engine.Row) ExistingColumn {
			return ExistingColumn{
				ColumnName:   asString(row["column_name"]),
				DataType:     asString(row["data_type"]),
				IsNullable:   asBool(row["is_nullable"]),
				IsPrimaryKey: asBool(row["is_primary"]),
			}
		},
	},
	schema.SQLite: {
		tables: `
	SELECT name AS table_name
	FROM sqlite_master
	WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
	ORDER BY name;`,
		columns: func(_ engine.Adapter, table string) (string, []any) {
			return fmt.Sprintf("PRAGMA table_info(%s);", engine.QuoteIdent(table)), nil
		},
		column: func(row engine.Row) ExistingColumn {
			return ExistingColumn{
				ColumnName:   asString(row["name"]),
				DataType:     asString(row["type"]),
				IsNullable:   !asBool(row["notnull"]),
				IsPrimaryKey: asBool(row["pk"]),
			}
		},
	},
}

// IntrospectDatabase lists the tables of the connected database with their
// columns and foreign keys.
func IntrospectDatabase(ctx context.Context, adapter engine.Adapter) ([]ExistingTable, error) {
	q, ok := queries[adapter.Dialect()]
	if !ok {
		return nil, fmt.Errorf("introspection is not supported for %s", adapter.Dialect())
	}

	rows, err := adapter.Query(ctx, nil, q.tables)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}

	tables := make([]ExistingTable, 0, len(rows))
	for _, row := range rows {
		name := asString(row["table_name"])
		query, args := q.columns(adapter, name)
		colRows, err := adapter.Query(ctx, nil, query, args...)
		if err != nil {
			return nil, fmt.Errorf("getting columns for table %s: %w", name, err)
		}
		table := ExistingTable{TableName: name}
		for _, cr := range colRows {
			table.Columns = append(table.Columns, q.column(cr))
		}
		if table.ForeignKeys, err = adapter.ForeignKeys(ctx, nil, name); err != nil {
			return nil, fmt.Errorf("getting foreign keys for table %s: %w", name, err)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// Drift is one difference between the migrated state and the database.
type Drift struct {
	Table   string
	Column  string
	Message string
}

func (d Drift) String() string {
	if d.Column != "" {
		return fmt.Sprintf("%s.%s: %s", d.Table, d.Column, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Table, d.Message)
}

// Compare reports the tables and columns of managed models that are missing
// from the database, and the tables and columns the database has that no
// migration created. Tables in ignore and those of unmanaged models are
// skipped.
func Compare(st *state.State, tables []ExistingTable, ignore ...string) []Drift {
	existing := make(map[string]ExistingTable, len(tables))
	for _, t := range tables {
		existing[t.TableName] = t
	}
	known := map[string]bool{}
	for _, name := range ignore {
		known[name] = true
	}

	var drifts []Drift
	for _, m := range st.Models() {
		table := m.Table()
		known[table] = true
		if !m.Options.Managed {
			continue
		}
		t, ok := existing[table]
		if !ok {
			drifts = append(drifts, Drift{Table: table, Message: "table is missing"})
			continue
		}
		columns := map[string]bool{}
		for _, f := range m.Fields {
			col := m.Column(f)
			columns[col] = true
			if _, ok := t.Column(col); !ok {
				drifts = append(drifts, Drift{Table: table, Column: col, Message: "column is missing"})
			}
		}
		for _, c := range t.Columns {
			if !columns[c.ColumnName] {
				drifts = append(drifts, Drift{Table: table, Column: c.ColumnName, Message: "column is not in any migration"})
			}
		}
	}

	var extra []string
	for name := range existing {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		drifts = append(drifts, Drift{Table: name, Message: "table is not in any migration"})
	}
	return drifts
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

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	case string:
		return b == "1" || strings.EqualFold(b, "true")
	case []byte:
		return string(b) == "1"
	}
	return false
}
