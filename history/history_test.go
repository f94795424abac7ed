package history

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/automigrate/operations"
	"github.com/ridoystarlord/automigrate/schema"
)

func model(name string, fields ...schema.Field) *schema.Model {
	all := append([]schema.Field{{Name: "id", Kind: schema.AutoField, PrimaryKey: true}}, fields...)
	opts := schema.DefaultOptions()
	opts.PrimaryKeyField = "id"
	return &schema.Model{Name: name, Fields: all, Options: opts}
}

func fixture() []*Migration {
	name := schema.Field{Name: "name", Kind: schema.CharField, MaxLength: 50}
	email := schema.Field{Name: "email", Kind: schema.CharField, AllowNull: true}
	return []*Migration{
		{
			Name:   "1_auto_migration_20240101000000",
			Module: "shop",
			Operations: []operations.Operation{
				operations.NewCreateModel(model("Customer", name)),
				operations.NewCreateModel(model("Product")),
			},
		},
		{
			Name:       "2_auto_migration_20240102000000",
			Module:     "shop",
			Dependency: "1_auto_migration_20240101000000",
			Operations: []operations.Operation{
				operations.NewCreateColumn("Customer", email),
				operations.NewRenameModel("Product", "Item"),
				operations.NewDeleteModel("Item"),
			},
		},
	}
}

func TestBuildStateStops(t *testing.T) {
	migrations := fixture()
	second := migrations[1].Name

	tests := []struct {
		name  string
		opts  []StopOption
		names []string
		email bool
	}{
		{name: "full replay", names: []string{"Customer"}, email: true},
		{name: "stop at first migration", opts: []StopOption{StopAt(migrations[0].Name)}, names: []string{"Customer", "Product"}},
		{name: "before first operation", opts: []StopOption{StopAt(second), StopBefore(0)}, names: []string{"Customer", "Product"}},
		{name: "after first operation", opts: []StopOption{StopAt(second), StopAfter(0)}, names: []string{"Customer", "Product"}, email: true},
		{name: "before the delete", opts: []StopOption{StopAt(second), StopBefore(2)}, names: []string{"Customer", "Item"}, email: true},
		{name: "after the last operation", opts: []StopOption{StopAt(second), StopAfter(2)}, names: []string{"Customer"}, email: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := BuildState(migrations, tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.names, st.Names())

			c, err := st.Get("Customer")
			require.NoError(t, err)
			_, ok := c.Field("email")
			assert.Equal(t, tt.email, ok)
			assert.Equal(t, "shop", c.Module)
		})
	}
}

func TestBuildStateUnknownMigration(t *testing.T) {
	_, err := BuildState(fixture(), StopAt("9_missing"))
	assert.ErrorIs(t, err, ErrUnknownMigration)
}

func TestBuildStateIsDeterministic(t *testing.T) {
	a, err := BuildState(fixture())
	require.NoError(t, err)
	b, err := BuildState(fixture())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNumber(t *testing.T) {
	n, ok := Number("12_auto_migration_20240101000000")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = Number("initial")
	assert.False(t, ok)
}

func TestStoreWriteAndLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, map[string]string{"shop": "apps/shop"})
	store.AddModule("billing")

	written := fixture()
	for _, m := range written {
		path, err := store.Write(m)
		require.NoError(t, err)
		assert.NotEmpty(t, m.Checksum)
		assert.Contains(t, path, "apps/shop/migrations/")
	}
	require.NoError(t, afero.WriteFile(fs, "apps/shop/migrations/README.md", []byte("notes"), 0o644))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	byName := map[string]*Migration{}
	for _, m := range loaded {
		byName[m.Name] = m
	}
	second := byName["2_auto_migration_20240102000000"]
	require.NotNil(t, second)
	assert.Equal(t, "1_auto_migration_20240101000000", second.Dependency)
	assert.Equal(t, written[1].Checksum, second.Checksum)
	require.Len(t, second.Operations, 3)
	assert.Equal(t, operations.KindRenameModel, second.Operations[1].Kind())

	st, err := BuildState(loaded)
	require.NoError(t, err)
	assert.Equal(t, []string{"Customer"}, st.Names())
}

func TestStoreLoadDiscoversUnlistedModules(t *testing.T) {
	fs := afero.NewMemMapFs()
	writer := NewStore(fs, map[string]string{"shop": "apps/shop"})
	writer.AddModule("billing")
	for _, m := range fixture() {
		_, err := writer.Write(m)
		require.NoError(t, err)
	}
	_, err := writer.Write(&Migration{Name: "3_auto_migration_20240103000000", Module: "billing", Dependency: "2_auto_migration_20240102000000"})
	require.NoError(t, err)
	require.NoError(t, fs.MkdirAll("docs", 0o755))

	// billing has no models left, so nothing registers it.
	reader := NewStore(fs, map[string]string{"shop": "apps/shop"})
	loaded, err := reader.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, []string{"billing", "shop"}, reader.Modules())
}

func TestDecodeRejectsUnknownOperation(t *testing.T) {
	data := []byte("name: 1_x\nmodule: shop\noperations:\n  - op: Teleport\n    order: 1\n    args: {}\n")
	_, err := Decode(data)
	assert.ErrorIs(t, err, operations.ErrUnknownOperation)
}
