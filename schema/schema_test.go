package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewForeignKey(t *testing.T) {
	tests := []struct {
		name      string
		relatedTo string
		onDelete  OnDelete
		wantErr   error
	}{
		{name: "cascade", relatedTo: "Customer", onDelete: Cascade},
		{name: "set null", relatedTo: "Customer", onDelete: SetNull},
		{name: "unknown on delete", relatedTo: "Customer", onDelete: "EXPLODE", wantErr: ErrInvalidOnDelete},
		{name: "missing target", relatedTo: "", onDelete: Cascade, wantErr: ErrInvalidRelation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewForeignKey("customer", tt.relatedTo, tt.onDelete)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ForeignKeyField, f.Kind)
			assert.Equal(t, tt.relatedTo, f.RelatedTo())
		})
	}
}

func TestNewOneToOneIsUnique(t *testing.T) {
	f, err := NewOneToOne("profile", "Profile", Cascade)
	require.NoError(t, err)
	assert.True(t, f.Unique)
	assert.True(t, f.Kind.IsRelation())
}

func TestNewFieldRejectsRelationKinds(t *testing.T) {
	_, err := NewField("customer", ForeignKeyField)
	assert.ErrorIs(t, err, ErrInvalidFieldKind)

	_, err = NewField("x", FieldKind("JSONField"))
	assert.ErrorIs(t, err, ErrInvalidFieldKind)
}

func TestColumnName(t *testing.T) {
	fk, err := NewForeignKey("billingAccount", "Account", Cascade)
	require.NoError(t, err)
	renamed, err := NewForeignKey("owner", "User", SetNull, WithNull(), WithFieldName("ownerRef"))
	require.NoError(t, err)
	explicit, err := NewField("createdAt", DatetimeField, WithDatabaseName("created"))
	require.NoError(t, err)
	plain, err := NewField("firstName", CharField)
	require.NoError(t, err)

	assert.Equal(t, "billing_account_id", fk.ColumnName(true))
	assert.Equal(t, "billingAccountId", fk.ColumnName(false))
	assert.Equal(t, "owner_ref", renamed.ColumnName(true))
	assert.Equal(t, "created", explicit.ColumnName(true))
	assert.Equal(t, "first_name", plain.ColumnName(true))
	assert.Equal(t, "firstName", plain.ColumnName(false))
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"name":         "name",
		"firstName":    "first_name",
		"HTTPServer":   "http_server",
		"userID":       "user_id",
		"address2Line": "address2_line",
		"already_done": "already_done",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToSnakeCase(in), in)
	}
}

func TestColumnType(t *testing.T) {
	tests := []struct {
		field   Field
		dialect Dialect
		want    string
	}{
		{Field{Name: "a", Kind: CharField, MaxLength: 40}, Postgres, "VARCHAR(40)"},
		{Field{Name: "a", Kind: CharField}, Postgres, "VARCHAR(255)"},
		{Field{Name: "a", Kind: DecimalField, MaxDigits: 12, DecimalPlaces: 4}, Postgres, "DECIMAL(12, 4)"},
		{Field{Name: "a", Kind: DatetimeField}, Postgres, "TIMESTAMP WITH TIME ZONE"},
		{Field{Name: "a", Kind: DatetimeField}, SQLite, "DATETIME"},
		{Field{Name: "a", Kind: UUIDField}, Postgres, "UUID"},
		{Field{Name: "a", Kind: UUIDField}, SQLite, "TEXT"},
		{Field{Name: "a", Kind: BigAutoField}, Postgres, "BIGSERIAL"},
		{Field{Name: "a", Kind: AutoField}, SQLite, "INTEGER"},
	}
	for _, tt := range tests {
		got, err := ColumnType(tt.dialect, tt.field)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s on %s", tt.field.Kind, tt.dialect)
	}

	_, err := ColumnType(Postgres, Field{Name: "a", Kind: ForeignKeyField})
	assert.ErrorIs(t, err, ErrInvalidFieldKind)

	ref, err := ReferenceType(Postgres, Field{Name: "id", Kind: BigAutoField})
	require.NoError(t, err)
	assert.Equal(t, "BIGINT", ref)
}

func TestEquivalentIgnoresNames(t *testing.T) {
	a, _ := NewField("email", CharField, WithMaxLength(120))
	b, _ := NewField("mail", CharField, WithMaxLength(120), WithDatabaseName("mail_address"))
	c, _ := NewField("email", CharField, WithMaxLength(200))

	assert.True(t, Equivalent(a, b))
	assert.False(t, Equivalent(a, c))
}

func TestRenameFieldCarriesReferences(t *testing.T) {
	m := Model{
		Name:   "Post",
		Fields: []Field{{Name: "id", Kind: AutoField, PrimaryKey: true}, {Name: "createdAt", Kind: DatetimeField}},
		Options: Options{
			Ordering:        []string{"-createdAt"},
			Indexes:         []Index{{Fields: []string{"createdAt"}}},
			PrimaryKeyField: "id",
		},
	}

	require.NoError(t, m.RenameField("createdAt", "publishedAt"))
	assert.Equal(t, []string{"-publishedAt"}, m.Options.Ordering)
	assert.Equal(t, []string{"publishedAt"}, m.Options.Indexes[0].Fields)
	assert.ErrorIs(t, m.RenameField("missing", "x"), ErrFieldNotFound)
	assert.ErrorIs(t, m.RenameField("id", "publishedAt"), ErrDuplicateField)
}

func TestRegistryBuild(t *testing.T) {
	timestamps := Model{
		Name: "Timestamped",
		Fields: []Field{
			{Name: "createdAt", Kind: DatetimeField, AutoNowAdd: true},
			{Name: "updatedAt", Kind: DatetimeField, AutoNow: true},
		},
		Options: Options{Abstract: true, Ordering: []string{"-createdAt"}, Managed: true, Underscored: true},
	}
	customer := Model{
		Name:    "Customer",
		Module:  "shop",
		Fields:  []Field{{Name: "name", Kind: CharField}},
		Options: Options{Extends: []string{"Timestamped"}, Managed: true, Underscored: true},
	}

	r := NewRegistry()
	require.NoError(t, r.Register(timestamps, customer))

	models, err := r.Build()
	require.NoError(t, err)
	require.Len(t, models, 1)

	built := models[0]
	assert.Equal(t, "Customer", built.Name)
	assert.Equal(t, []string{"id", "createdAt", "updatedAt", "name"}, built.FieldNames())
	assert.Equal(t, "id", built.Options.PrimaryKeyField)
	assert.Equal(t, []string{"-createdAt"}, built.Options.Ordering)
	assert.False(t, built.Options.Abstract)
	assert.Empty(t, built.Options.Extends)
}

func TestRegistryOverridesBaseField(t *testing.T) {
	base := Model{
		Name:    "Named",
		Fields:  []Field{{Name: "name", Kind: CharField, MaxLength: 50}},
		Options: Options{Abstract: true},
	}
	tag := Model{
		Name:    "Tag",
		Fields:  []Field{{Name: "name", Kind: CharField, MaxLength: 20, Unique: true}},
		Options: Options{Extends: []string{"Named"}},
	}
	r := NewRegistry()
	require.NoError(t, r.Register(base, tag))

	models, err := r.Build()
	require.NoError(t, err)
	f, ok := models[0].Field("name")
	require.True(t, ok)
	assert.Equal(t, 20, f.MaxLength)
	assert.True(t, f.Unique)
	assert.Equal(t, DefaultModule, models[0].Module)
}

func TestRegistryRejectsCircularAbstract(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(
		Model{Name: "A", Options: Options{Abstract: true, Extends: []string{"B"}}},
		Model{Name: "B", Options: Options{Abstract: true, Extends: []string{"A"}}},
		Model{Name: "C", Options: Options{Extends: []string{"A"}}},
	))

	_, err := r.Build()
	assert.ErrorIs(t, err, ErrCircularAbstract)
}

func TestRegistryErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Model{Name: "A"}))
	assert.ErrorIs(t, r.Register(Model{Name: "A"}), ErrDuplicateModel)

	concreteBase := NewRegistry()
	require.NoError(t, concreteBase.Register(Model{Name: "Base"}, Model{Name: "Child", Options: Options{Extends: []string{"Base"}}}))
	_, err := concreteBase.Build()
	assert.ErrorIs(t, err, ErrUnknownBase)

	twoKeys := NewRegistry()
	require.NoError(t, twoKeys.Register(Model{Name: "K", Fields: []Field{
		{Name: "a", Kind: IntegerField, PrimaryKey: true},
		{Name: "b", Kind: IntegerField, PrimaryKey: true},
	}}))
	_, err = twoKeys.Build()
	assert.ErrorIs(t, err, ErrPrimaryKey)

	badRelation := NewRegistry()
	require.NoError(t, badRelation.Register(Model{Name: "R", Fields: []Field{
		{Name: "owner", Kind: ForeignKeyField, Relation: &Relation{RelatedTo: "User", OnDelete: "NOPE"}},
	}}))
	_, err = badRelation.Build()
	assert.ErrorIs(t, err, ErrInvalidOnDelete)
}

func TestParseOrdering(t *testing.T) {
	f, desc := ParseOrdering("-createdAt")
	assert.Equal(t, "createdAt", f)
	assert.True(t, desc)

	f, desc = ParseOrdering("name")
	assert.Equal(t, "name", f)
	assert.False(t, desc)
}

func TestIndexName(t *testing.T) {
	assert.Equal(t, "order_line_order_created_at_idx", Index{Fields: []string{"order", "-createdAt"}}.IndexName("OrderLine"))
	assert.Equal(t, "customer_email_uniq", Index{Fields: []string{"email"}, Unique: true}.IndexName("Customer"))
	assert.Equal(t, "by_email", Index{Name: "by_email", Fields: []string{"email"}}.IndexName("Customer"))
}
