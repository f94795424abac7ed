package orderer

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/automigrate/history"
	"github.com/ridoystarlord/automigrate/operations"
	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
)

func chain(n int) []*history.Migration {
	out := make([]*history.Migration, 0, n)
	prev := ""
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("%d_auto_migration_20240101%06d", i, i)
		out = append(out, &history.Migration{Name: name, Module: "shop", Dependency: prev})
		prev = name
	}
	return out
}

func names(migrations []*history.Migration) []string {
	out := make([]string, 0, len(migrations))
	for _, m := range migrations {
		out = append(out, m.Name)
	}
	return out
}

func TestChainMigrations(t *testing.T) {
	want := chain(4)
	shuffled := []*history.Migration{want[2], want[0], want[3], want[1]}

	got, err := ChainMigrations(shuffled)
	require.NoError(t, err)
	assert.Equal(t, names(want), names(got))

	got, err = ChainMigrations(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChainMigrationsErrors(t *testing.T) {
	base := chain(3)

	tests := []struct {
		name       string
		migrations []*history.Migration
		contains   string
	}{
		{
			name:       "duplicate",
			migrations: append(chain(2), chain(1)...),
			contains:   "duplicate migration",
		},
		{
			name: "branch",
			migrations: append(chain(2), &history.Migration{
				Name: "3_other", Dependency: base[0].Name,
			}),
			contains: "both follow",
		},
		{
			name:       "two roots",
			migrations: append(chain(2), &history.Migration{Name: "9_orphan_root"}),
			contains:   "expected one first migration",
		},
		{
			name:       "dangling dependency",
			migrations: append(chain(2), &history.Migration{Name: "5_lost", Dependency: "4_missing"}),
			contains:   "unreachable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ChainMigrations(tt.migrations)
			require.ErrorIs(t, err, ErrBrokenChain)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestChainMigrationsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("any permutation of a chain is put back in order", prop.ForAll(
		func(n int, seed int64) bool {
			want := chain(n)
			shuffled := append([]*history.Migration(nil), want...)
			r := rand.New(rand.NewSource(seed))
			r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

			got, err := ChainMigrations(shuffled)
			if err != nil || len(got) != n {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 60),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func model(name string, fields ...schema.Field) *schema.Model {
	all := append([]schema.Field{{Name: "id", Kind: schema.AutoField, PrimaryKey: true}}, fields...)
	opts := schema.DefaultOptions()
	opts.PrimaryKeyField = "id"
	return &schema.Model{Name: name, Module: "shop", Fields: all, Options: opts}
}

func fk(name, target string) schema.Field {
	return schema.Field{
		Name:      name,
		Kind:      schema.ForeignKeyField,
		AllowNull: true,
		Relation:  &schema.Relation{RelatedTo: target, OnDelete: schema.Cascade},
	}
}

func build(t *testing.T, models ...*schema.Model) *state.State {
	t.Helper()
	st := state.New()
	for _, m := range models {
		require.NoError(t, st.Add(m))
	}
	return st
}

func describe(ops []operations.Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Describe())
	}
	return out
}

func TestReorderPutsTargetsFirst(t *testing.T) {
	customer := model("Customer")
	order := model("Order", fk("customer", "Customer"))
	line := model("OrderLine", fk("order", "Order"))
	current := build(t, customer, order, line)

	ops := []operations.Operation{
		operations.NewCreateModel(line),
		operations.NewCreateModel(order),
		operations.NewCreateModel(customer),
	}
	got := ReorderOperations(current, state.New(), ops)
	assert.Equal(t, []string{
		"Create model Customer",
		"Create model Order",
		"Create model OrderLine",
	}, describe(got))
}

func TestReorderIgnoresSelfReference(t *testing.T) {
	employee := model("Employee", fk("manager", "Employee"))
	team := model("Team")
	current := build(t, employee, team)

	ops := []operations.Operation{
		operations.NewCreateModel(employee),
		operations.NewCreateModel(team),
	}
	got := ReorderOperations(current, state.New(), ops)
	assert.Equal(t, []string{"Create model Employee", "Create model Team"}, describe(got))
}

func TestReorderKeepsOperationsOfOneModelInOrder(t *testing.T) {
	customer := model("Customer")
	order := model("Order", fk("customer", "Customer"))
	old := build(t, model("Order"))
	current := build(t, customer, order)

	ops := []operations.Operation{
		operations.NewCreateColumn("Order", fk("customer", "Customer")),
		operations.NewRemoveColumn("Order", "note"),
		operations.NewCreateModel(customer),
	}
	got := ReorderOperations(current, old, ops)
	assert.Equal(t, []string{
		"Create model Customer",
		"Add field customer to Order",
		"Remove field note from Order",
	}, describe(got))
}

func TestReorderPlacesAfterRenames(t *testing.T) {
	client := model("Client")
	order := model("Order", fk("client", "Client"))
	team := model("Team")
	old := build(t, model("Client"), model("Order"), model("Team"))
	current := build(t, client, order, team)

	opts := client.Options.Clone()
	opts.Ordering = []string{"-id"}
	ops := []operations.Operation{
		operations.NewCreateColumn("Order", fk("client", "Client")),
		operations.NewChangeModel("Client", client.Options, opts),
		operations.NewRenameColumn("Team", "title", "name"),
	}
	got := ReorderOperations(current, old, ops)
	assert.Equal(t, []string{
		"Change options of model Client",
		"Rename field title on Team to name",
		"Add field client to Order",
	}, describe(got))
}

func TestReorderDropsReferrersFirst(t *testing.T) {
	old := build(t, model("Customer"), model("Order", fk("customer", "Customer")))
	current := state.New()

	ops := []operations.Operation{
		operations.NewDeleteModel("Customer"),
		operations.NewDeleteModel("Order"),
	}
	got := ReorderOperations(current, old, ops)
	assert.Equal(t, []string{"Delete model Order", "Delete model Customer"}, describe(got))
}

func TestReorderDropsRenamedReferrersFirst(t *testing.T) {
	old := build(t, model("Customer"), model("Order", fk("customer", "Customer")))
	current := build(t, model("Purchase"))

	ops := []operations.Operation{
		operations.NewRenameModel("Order", "Purchase"),
		operations.NewDeleteModel("Customer"),
		operations.NewRemoveColumn("Purchase", "customer"),
	}
	got := ReorderOperations(current, old, ops)
	assert.Equal(t, []string{
		"Rename model Order to Purchase",
		"Remove field customer from Purchase",
		"Delete model Customer",
	}, describe(got))
}

func TestNewNameFollowsRenameChains(t *testing.T) {
	renamed := map[string]string{"Order": "Sale", "Sale": "Purchase", "A": "B", "B": "A"}
	assert.Equal(t, "Purchase", newName(renamed, "Order"))
	assert.Equal(t, "Customer", newName(renamed, "Customer"))
	assert.Equal(t, "B", newName(renamed, "A"))
}

func TestReorderAppendsCycles(t *testing.T) {
	a := model("A", fk("b", "B"))
	b := model("B", fk("a", "A"))
	c := model("C")
	current := build(t, a, b, c)

	ops := []operations.Operation{
		operations.NewCreateModel(a),
		operations.NewCreateModel(b),
		operations.NewCreateModel(c),
	}
	got := ReorderOperations(current, state.New(), ops)
	assert.Equal(t, []string{"Create model C", "Create model A", "Create model B"}, describe(got))
}
