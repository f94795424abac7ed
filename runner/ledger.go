package runner

import (
	"context"
	"fmt"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/ridoystarlord/automigrate/engine"
	"github.com/ridoystarlord/automigrate/operations"
	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
)

// LedgerTable records applied migrations.
const LedgerTable = "schema_migrations"

// LedgerModule owns the ledger model.
const LedgerModule = "automigrate"

// MigrationRecord represents one applied migration.
type MigrationRecord struct {
	ID            int64
	Module        string
	MigrationName string
	Checksum      string
	ExecutedBy    string
	AppliedAt     time.Time
}

// Ledger is the durable cursor of applied migrations.
type Ledger interface {
	// LastApplied returns the name of the most recently recorded migration, or
	// "" when none is. It fails when the ledger does not exist yet.
	LastApplied(ctx context.Context) (string, error)
	Create(ctx context.Context) error
	// Record stores rec inside tx, so it commits or rolls back with the migration.
	Record(ctx context.Context, tx engine.Tx, rec MigrationRecord) error
	Applied(ctx context.Context) ([]MigrationRecord, error)
}

// LedgerModel describes the ledger table as a regular model.
func LedgerModel() *schema.Model {
	opts := schema.DefaultOptions()
	opts.TableName = LedgerTable
	opts.PrimaryKeyField = "id"
	return &schema.Model{
		Name:   "SchemaMigration",
		Module: LedgerModule,
		Fields: []schema.Field{
			{Name: "id", Kind: schema.BigAutoField, PrimaryKey: true},
			{Name: "module", Kind: schema.CharField, MaxLength: 255},
			{Name: "migrationName", Kind: schema.CharField, MaxLength: 255, Unique: true},
			{Name: "checksum", Kind: schema.CharField, MaxLength: 64, AllowNull: true},
			{Name: "executedBy", Kind: schema.CharField, MaxLength: 255, AllowNull: true},
			{Name: "appliedAt", Kind: schema.DatetimeField, AutoNowAdd: true},
		},
		Options: opts,
	}
}

// SQLLedger keeps the ledger in the migrated database itself.
type SQLLedger struct {
	adapter engine.Adapter
	model   *schema.Model
}

func NewSQLLedger(adapter engine.Adapter) *SQLLedger {
	return &SQLLedger{adapter: adapter, model: LedgerModel()}
}

func (l *SQLLedger) column(field string) string {
	f, _ := l.model.Field(field)
	return engine.QuoteIdent(l.model.Column(f))
}

func (l *SQLLedger) LastApplied(ctx context.Context) (string, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC LIMIT 1",
		l.column("migrationName"), engine.QuoteIdent(LedgerTable), l.column("id"))
	rows, err := l.adapter.Query(ctx, nil, query)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	for _, v := range rows[0] {
		return asString(v), nil
	}
	return "", nil
}

// Create makes the ledger table in its own transaction by running a
// CreateModel operation for LedgerModel.
func (l *SQLLedger) Create(ctx context.Context) error {
	op := operations.NewCreateModel(l.model)
	to := state.New()
	if err := op.StateForwards(LedgerModule, to); err != nil {
		return err
	}
	tx, err := l.adapter.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := op.Run(ctx, tx, l.adapter, state.New(), to); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("create %s: %w", LedgerTable, err)
	}
	return tx.Commit(ctx)
}

func (l *SQLLedger) Record(ctx context.Context, tx engine.Tx, rec MigrationRecord) error {
	cols := []string{
		l.column("module"),
		l.column("migrationName"),
		l.column("checksum"),
		l.column("executedBy"),
		l.column("appliedAt"),
	}
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = l.adapter.Placeholder(i + 1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		engine.QuoteIdent(LedgerTable), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return tx.Exec(ctx, stmt, rec.Module, rec.MigrationName, rec.Checksum, rec.ExecutedBy, rec.AppliedAt)
}

func (l *SQLLedger) Applied(ctx context.Context) ([]MigrationRecord, error) {
	query := fmt.Sprintf("SELECT %s AS id, %s AS module, %s AS migration_name, %s AS checksum, %s AS executed_by, %s AS applied_at FROM %s ORDER BY %s",
		l.column("id"), l.column("module"), l.column("migrationName"), l.column("checksum"),
		l.column("executedBy"), l.column("appliedAt"), engine.QuoteIdent(LedgerTable), l.column("id"))
	rows, err := l.adapter.Query(ctx, nil, query)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, MigrationRecord{
			ID:            asInt(row["id"]),
			Module:        asString(row["module"]),
			MigrationName: asString(row["migration_name"]),
			Checksum:      asString(row["checksum"]),
			ExecutedBy:    asString(row["executed_by"]),
			AppliedAt:     asTime(row["applied_at"]),
		})
	}
	return out, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	}
	i, _ := strconv.ParseInt(asString(v), 10, 64)
	return i
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	s := asString(v)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func currentUser() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return u.Username
}
