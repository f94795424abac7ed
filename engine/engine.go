// Package engine defines the database adapter the migration operations and
// the runner talk to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
)

var ErrUnknownEngine = errors.New("unknown engine")

// Tx is one database transaction. Every DDL statement of a migration runs
// inside the same Tx.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ForeignKey describes one foreign key constraint found on a table.
type ForeignKey struct {
	Name             string
	Column           string
	ReferencedTable  string
	ReferencedColumn string
	OnDelete         string
}

// Row is one result row keyed by column name.
type Row map[string]any

// Adapter executes schema changes for a specific database engine. Methods that
// need to resolve relation targets receive the state the change is made
// against.
type Adapter interface {
	Name() string
	Dialect() schema.Dialect
	Begin(ctx context.Context) (Tx, error)

	CreateTable(ctx context.Context, tx Tx, st *state.State, model *schema.Model) error
	DropTable(ctx context.Context, tx Tx, model *schema.Model) error
	RenameTable(ctx context.Context, tx Tx, from, to *schema.Model) error

	AddColumn(ctx context.Context, tx Tx, st *state.State, model *schema.Model, field schema.Field) error
	ChangeColumn(ctx context.Context, tx Tx, st *state.State, model *schema.Model, from, to schema.Field) error
	RenameColumn(ctx context.Context, tx Tx, model *schema.Model, from, to schema.Field) error
	DropColumn(ctx context.Context, tx Tx, st *state.State, model *schema.Model, field schema.Field) error

	AddIndex(ctx context.Context, tx Tx, model *schema.Model, index schema.Index) error
	DropIndex(ctx context.Context, tx Tx, model *schema.Model, index schema.Index) error

	ForeignKeys(ctx context.Context, tx Tx, table string) ([]ForeignKey, error)
	Query(ctx context.Context, tx Tx, query string, args ...any) ([]Row, error)
	// Placeholder returns the bind parameter marker for the n-th argument (1-based).
	Placeholder(n int) string
	Close() error
}

// OpenFunc connects an adapter to the database at url.
type OpenFunc func(ctx context.Context, url string) (Adapter, error)

var (
	mu      sync.RWMutex
	drivers = map[string]OpenFunc{}
)

// Register makes an engine available to Open under name.
func Register(name string, open OpenFunc) {
	mu.Lock()
	defer mu.Unlock()
	drivers[name] = open
}

// Open resolves the engine by name. An unresolvable name is a configuration
// error.
func Open(ctx context.Context, name, url string) (Adapter, error) {
	mu.RLock()
	open, ok := drivers[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownEngine, name, strings.Join(Names(), ", "))
	}
	return open(ctx, url)
}

// Names lists the registered engines.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Target returns the model a relational field points at, together with its
// primary key.
func Target(st *state.State, field schema.Field) (*schema.Model, schema.Field, error) {
	target, err := st.Get(field.RelatedTo())
	if err != nil {
		return nil, schema.Field{}, err
	}
	pk, ok := target.PrimaryKey()
	if !ok {
		return nil, schema.Field{}, fmt.Errorf("model %s has no primary key", target.Name)
	}
	return target, pk, nil
}
