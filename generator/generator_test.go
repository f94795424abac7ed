package generator

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/automigrate/diff"
	"github.com/ridoystarlord/automigrate/history"
	"github.com/ridoystarlord/automigrate/operations"
	"github.com/ridoystarlord/automigrate/prompt"
	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
	"github.com/ridoystarlord/automigrate/utils"
)

var fixedClock = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC) }

func model(name, module string, fields ...schema.Field) *schema.Model {
	all := append([]schema.Field{{Name: "id", Kind: schema.AutoField, PrimaryKey: true}}, fields...)
	opts := schema.DefaultOptions()
	opts.PrimaryKeyField = "id"
	return &schema.Model{Name: name, Module: module, Fields: all, Options: opts}
}

func fk(name, target string) schema.Field {
	return schema.Field{
		Name:     name,
		Kind:     schema.ForeignKeyField,
		Relation: &schema.Relation{RelatedTo: target, OnDelete: schema.Cascade},
	}
}

func withModule(op operations.Operation, module string) operations.Operation {
	op.Meta().Module = module
	return op
}

func TestGenerateCutsOnModuleBoundary(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := history.NewStore(fs, map[string]string{"shop": "apps/shop", "billing": "apps/billing"})
	log := &utils.RecordingLogger{}
	g := New(store, "postgres", WithClock(fixedClock), WithLogger(log))

	existing := []*history.Migration{{Name: "3_auto_migration_20240101000000", Module: "shop"}}
	ops := []operations.Operation{
		withModule(operations.NewCreateModel(model("Customer", "shop")), "shop"),
		withModule(operations.NewCreateModel(model("Order", "shop", fk("customer", "Customer"))), "shop"),
		withModule(operations.NewCreateModel(model("Invoice", "billing", fk("order", "Order"))), "billing"),
		withModule(operations.NewCreateColumn("Customer", schema.Field{Name: "vip", Kind: schema.BooleanField, AllowNull: true}), "shop"),
	}

	out, err := g.Generate(existing, ops)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "4_auto_migration_20240309140500", out[0].Name)
	assert.Equal(t, "5_auto_migration_20240309140500", out[1].Name)
	assert.Equal(t, "6_auto_migration_20240309140500", out[2].Name)
	assert.Equal(t, []string{"shop", "billing", "shop"}, []string{out[0].Module, out[1].Module, out[2].Module})
	assert.Equal(t, "3_auto_migration_20240101000000", out[0].Dependency)
	assert.Equal(t, out[0].Name, out[1].Dependency)
	assert.Equal(t, out[1].Name, out[2].Dependency)

	require.Len(t, out[0].Operations, 2)
	second := out[0].Operations[1].Meta()
	assert.Equal(t, 1, second.Order)
	assert.Equal(t, []string{"Customer"}, second.Dependencies)

	exists, err := afero.Exists(fs, "apps/billing/migrations/5_auto_migration_20240309140500.yaml")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Len(t, log.Messages(), 3)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
}

func TestGenerateNumbersFromOne(t *testing.T) {
	store := history.NewStore(afero.NewMemMapFs(), nil)
	g := New(store, "sqlite", WithClock(fixedClock))

	out, err := g.Generate(nil, []operations.Operation{operations.NewCreateModel(model("Customer", ""))})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "1_auto_migration_20240309140500", out[0].Name)
	assert.Equal(t, schema.DefaultModule, out[0].Module)
	assert.Empty(t, out[0].Dependency)
	assert.Equal(t, "sqlite", out[0].Engine)
}

func TestGenerateNoChanges(t *testing.T) {
	log := &utils.RecordingLogger{}
	g := New(history.NewStore(afero.NewMemMapFs(), nil), "postgres", WithLogger(log))

	out, err := g.Generate(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, []string{"No changes detected"}, log.Messages())
}

func TestDryRunWritesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := history.NewStore(fs, nil)
	g := New(store, "postgres", WithClock(fixedClock), WithDryRun(true))

	out, err := g.Generate(nil, []operations.Operation{
		withModule(operations.NewCreateModel(model("Customer", "shop")), "shop"),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)

	exists, err := afero.DirExists(fs, "shop/migrations")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMakeMigrationsTwiceIsANoop(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := history.NewStore(fs, map[string]string{"shop": "shop"})
	current := state.New()
	require.NoError(t, current.Add(model("Order", "shop", fk("customer", "Customer"))))
	require.NoError(t, current.Add(model("Customer", "shop")))

	g := New(store, "postgres", WithClock(fixedClock))
	differ := diff.New(&prompt.Scripted{})

	first, err := g.MakeMigrations(current, differ)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, []string{"Create model Customer", "Create model Order"}, describe(first[0].Operations))

	later := New(store, "postgres", WithClock(func() time.Time { return fixedClock().Add(time.Hour) }))
	second, err := later.MakeMigrations(current, differ)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func describe(ops []operations.Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Describe())
	}
	return out
}
