package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/automigrate/engine"
	"github.com/ridoystarlord/automigrate/engine/enginetest"
	"github.com/ridoystarlord/automigrate/history"
	"github.com/ridoystarlord/automigrate/operations"
	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/utils"
)

// memLedger stages records on the fake transaction so they only land on commit.
type memLedger struct {
	mu      sync.Mutex
	missing bool
	created int
	records []MigrationRecord
}

func (l *memLedger) LastApplied(context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.missing {
		return "", errors.New("relation \"schema_migrations\" does not exist")
	}
	if len(l.records) == 0 {
		return "", nil
	}
	return l.records[len(l.records)-1].MigrationName, nil
}

func (l *memLedger) Create(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.missing = false
	l.created++
	return nil
}

func (l *memLedger) Record(_ context.Context, tx engine.Tx, rec MigrationRecord) error {
	tx.(*enginetest.Tx).OnCommit(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.records = append(l.records, rec)
	})
	return nil
}

func (l *memLedger) Applied(context.Context) ([]MigrationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]MigrationRecord(nil), l.records...), nil
}

func (l *memLedger) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, r := range l.records {
		out = append(out, r.MigrationName)
	}
	return out
}

func model(name string, fields ...schema.Field) *schema.Model {
	all := append([]schema.Field{{Name: "id", Kind: schema.AutoField, PrimaryKey: true}}, fields...)
	opts := schema.DefaultOptions()
	opts.PrimaryKeyField = "id"
	return &schema.Model{Name: name, Fields: all, Options: opts}
}

func fk(name, target string) schema.Field {
	return schema.Field{
		Name:      name,
		Kind:      schema.ForeignKeyField,
		AllowNull: true,
		Relation:  &schema.Relation{RelatedTo: target, OnDelete: schema.Cascade},
	}
}

func history2() []*history.Migration {
	return []*history.Migration{
		{
			Name:     "1_auto_migration_20240101000000",
			Module:   "shop",
			Checksum: "c1",
			Operations: []operations.Operation{
				operations.NewCreateModel(model("Customer")),
				operations.NewCreateModel(model("Order", fk("customer", "Customer"))),
				operations.NewCreateColumn("Customer", schema.Field{Name: "email", Kind: schema.CharField, AllowNull: true}),
			},
		},
		{
			Name:       "2_auto_migration_20240102000000",
			Module:     "shop",
			Dependency: "1_auto_migration_20240101000000",
			Checksum:   "c2",
			Operations: []operations.Operation{
				operations.NewRenameColumn("Customer", "email", "contactEmail"),
			},
		},
	}
}

func TestMigrateAppliesEverythingAndCreatesLedger(t *testing.T) {
	adapter := enginetest.New()
	ledger := &memLedger{missing: true}
	log := &utils.RecordingLogger{}
	r := New(adapter, WithLedger(ledger), WithLogger(log))

	applied, err := r.Migrate(context.Background(), history2())
	require.NoError(t, err)

	assert.Equal(t, []string{"1_auto_migration_20240101000000", "2_auto_migration_20240102000000"}, applied)
	assert.Equal(t, 1, ledger.created)
	assert.Equal(t, applied, ledger.names())
	assert.Equal(t, []string{"Customer", "Order"}, adapter.Tables())
	assert.Equal(t, []string{"id", "contact_email"}, adapter.Columns("Customer"))
	require.Len(t, adapter.Txs, 2)
	for _, tx := range adapter.Txs {
		assert.True(t, tx.Committed)
	}

	messages := log.Messages()
	assert.Contains(t, messages, "Running migration 1_auto_migration_20240101000000 (shop)")
	assert.Equal(t, "Migrations finished", messages[len(messages)-1])
}

func TestMigrateResumesAfterLastApplied(t *testing.T) {
	adapter := enginetest.New()
	ledger := &memLedger{records: []MigrationRecord{{MigrationName: "1_auto_migration_20240101000000"}}}
	r := New(adapter, WithLedger(ledger))

	applied, err := r.Migrate(context.Background(), history2())
	require.NoError(t, err)
	assert.Equal(t, []string{"2_auto_migration_20240102000000"}, applied)
	assert.Equal(t, []string{"Customer.email->contact_email"}, adapter.CallsTo("RenameColumn"))
	assert.Empty(t, adapter.CallsTo("CreateTable"))

	applied, err = r.Migrate(context.Background(), history2())
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestMigrateRollsBackAFailingMigration(t *testing.T) {
	adapter := enginetest.New()
	boom := errors.New("boom")
	adapter.Fail["CreateTable:Order"] = boom
	ledger := &memLedger{}
	r := New(adapter, WithLedger(ledger))

	applied, err := r.Migrate(context.Background(), history2())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "operation 1 (Create model Order)")
	assert.Empty(t, applied)

	require.Len(t, adapter.Txs, 1)
	assert.True(t, adapter.Txs[0].RolledBack)
	assert.False(t, adapter.Txs[0].Committed)
	assert.Empty(t, adapter.Tables(), "Customer was created in the rolled back transaction")
	assert.Empty(t, ledger.names())
	assert.Empty(t, adapter.CallsTo("AddColumn"), "the third operation never ran")
}

func TestMigrateUnknownLastApplied(t *testing.T) {
	ledger := &memLedger{records: []MigrationRecord{{MigrationName: "7_gone"}}}
	r := New(enginetest.New(), WithLedger(ledger))

	_, err := r.Migrate(context.Background(), history2())
	assert.ErrorIs(t, err, history.ErrUnknownMigration)
}

func TestMigrateResolvesCircularForeignKeys(t *testing.T) {
	adapter := enginetest.New()
	ledger := &memLedger{}
	r := New(adapter, WithLedger(ledger))

	author := model("Author", fk("favoriteBook", "Book"))
	author.Options.Indexes = []schema.Index{{Fields: []string{"favoriteBook"}}}
	migrations := []*history.Migration{{
		Name:   "1_auto_migration_20240101000000",
		Module: "library",
		Operations: []operations.Operation{
			operations.NewCreateModel(author),
			operations.NewCreateModel(model("Book", fk("author", "Author"))),
		},
	}}

	_, err := r.Migrate(context.Background(), migrations)
	require.NoError(t, err)

	assert.Equal(t, []string{"Author", "Book"}, adapter.CallsTo("CreateTable"))
	assert.Equal(t, []string{"Author.favorite_book_id"}, adapter.CallsTo("AddColumn"))
	assert.Equal(t, []string{"author_favorite_book_idx"}, adapter.CallsTo("AddIndex"))
	assert.Equal(t, []string{"id", "favorite_book_id"}, adapter.Columns("Author"))
	assert.Equal(t, []string{"1_auto_migration_20240101000000"}, ledger.names())
}

func TestMigrateFailsOnUnresolvableReference(t *testing.T) {
	adapter := enginetest.New()
	ledger := &memLedger{}
	r := New(adapter, WithLedger(ledger))

	migrations := []*history.Migration{{
		Name:   "1_auto_migration_20240101000000",
		Module: "library",
		Operations: []operations.Operation{
			operations.NewCreateModel(model("Author", fk("publisher", "Publisher"))),
		},
	}}

	_, err := r.Migrate(context.Background(), migrations)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.True(t, adapter.Txs[0].RolledBack)
	assert.Empty(t, ledger.names())
}

func TestStatus(t *testing.T) {
	applied := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	ledger := &memLedger{records: []MigrationRecord{
		{MigrationName: "1_auto_migration_20240101000000", Checksum: "edited", AppliedAt: applied},
	}}
	r := New(enginetest.New(), WithLedger(ledger))

	status, err := r.Status(context.Background(), history2())
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.True(t, status[0].Applied)
	assert.True(t, status[0].Drifted)
	assert.Equal(t, applied, status[0].AppliedAt)
	assert.False(t, status[1].Applied)

	missing := New(enginetest.New(), WithLedger(&memLedger{missing: true}))
	status, err = missing.Status(context.Background(), history2())
	require.NoError(t, err)
	assert.False(t, status[0].Applied)
}

func crossModuleCycle() []*history.Migration {
	author := model("Author", fk("favoriteBook", "Book"))
	author.Options.Indexes = []schema.Index{{Fields: []string{"favoriteBook"}}}
	return []*history.Migration{
		{
			Name:       "1_auto_migration_20240101000000",
			Module:     "people",
			Operations: []operations.Operation{operations.NewCreateModel(author)},
		},
		{
			Name:       "2_auto_migration_20240101000000",
			Module:     "library",
			Dependency: "1_auto_migration_20240101000000",
			Operations: []operations.Operation{operations.NewCreateModel(model("Book", fk("author", "Author")))},
		},
		{
			Name:       "3_auto_migration_20240102000000",
			Module:     "library",
			Dependency: "2_auto_migration_20240101000000",
			Operations: []operations.Operation{
				operations.NewCreateColumn("Book", schema.Field{Name: "title", Kind: schema.CharField, MaxLength: 200, AllowNull: true}),
			},
		},
	}
}

func TestMigrateResolvesCircularForeignKeysAcrossMigrations(t *testing.T) {
	adapter := enginetest.New()
	ledger := &memLedger{}
	r := New(adapter, WithLedger(ledger))

	applied, err := r.Migrate(context.Background(), crossModuleCycle())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"1_auto_migration_20240101000000",
		"2_auto_migration_20240101000000",
		"3_auto_migration_20240102000000",
	}, applied)
	assert.Equal(t, applied, ledger.names())
	assert.Equal(t, []string{"Author.favorite_book_id", "Book.title"}, adapter.CallsTo("AddColumn"))
	assert.Equal(t, []string{"author_favorite_book_idx"}, adapter.CallsTo("AddIndex"))
	assert.Equal(t, []string{"id", "favorite_book_id"}, adapter.Columns("Author"))

	// The first two share a transaction until the held back column is added.
	require.Len(t, adapter.Txs, 2)
	assert.True(t, adapter.Txs[0].Committed)
	assert.True(t, adapter.Txs[1].Committed)
}

func TestMigrateRollsBackEveryMigrationWaitingOnAColumn(t *testing.T) {
	adapter := enginetest.New()
	ledger := &memLedger{}
	r := New(adapter, WithLedger(ledger))

	migrations := crossModuleCycle()
	migrations[1].Operations = append(migrations[1].Operations,
		operations.NewCreateModel(model("Shelf", fk("owner", "Publisher"))))

	applied, err := r.Migrate(context.Background(), migrations)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Contains(t, err.Error(), "migration 1_auto_migration_20240101000000")
	assert.Contains(t, err.Error(), "Shelf.owner -> Publisher")
	assert.Empty(t, applied)
	assert.Empty(t, ledger.names())

	require.Len(t, adapter.Txs, 1)
	assert.True(t, adapter.Txs[0].RolledBack)
	assert.Empty(t, adapter.Tables())
}

func TestMigrateFollowsRenamesOfHeldBackColumns(t *testing.T) {
	adapter := enginetest.New()
	ledger := &memLedger{}
	r := New(adapter, WithLedger(ledger))

	migrations := []*history.Migration{{
		Name:   "1_auto_migration_20240101000000",
		Module: "library",
		Operations: []operations.Operation{
			operations.NewCreateModel(model("Author", fk("favoriteBook", "Book"))),
			operations.NewRenameModel("Author", "Writer"),
			operations.NewRenameColumn("Writer", "favoriteBook", "bestBook"),
			operations.NewCreateModel(model("Book", fk("writer", "Writer"))),
		},
	}}

	_, err := r.Migrate(context.Background(), migrations)
	require.NoError(t, err)

	assert.Equal(t, []string{"Author->Writer"}, adapter.CallsTo("RenameTable"))
	assert.Empty(t, adapter.CallsTo("RenameColumn"), "the column did not exist yet")
	assert.Equal(t, []string{"Writer.best_book_id"}, adapter.CallsTo("AddColumn"))
	assert.Equal(t, []string{"id", "best_book_id"}, adapter.Columns("Writer"))
	assert.Equal(t, []string{"1_auto_migration_20240101000000"}, ledger.names())
}

func TestMigrateDropsHeldBackColumnsOfRemovedFields(t *testing.T) {
	adapter := enginetest.New()
	r := New(adapter, WithLedger(&memLedger{}))

	migrations := []*history.Migration{{
		Name:   "1_auto_migration_20240101000000",
		Module: "library",
		Operations: []operations.Operation{
			operations.NewCreateModel(model("Author", fk("publisher", "Publisher"))),
			operations.NewRemoveColumn("Author", "publisher"),
		},
	}}

	_, err := r.Migrate(context.Background(), migrations)
	require.NoError(t, err)
	assert.Empty(t, adapter.CallsTo("DropColumn"))
	assert.Equal(t, []string{"id"}, adapter.Columns("Author"))
}
