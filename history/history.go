// Package history holds persisted migrations and rebuilds schema state from them.
package history

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/ridoystarlord/automigrate/operations"
	"github.com/ridoystarlord/automigrate/state"
)

var ErrUnknownMigration = errors.New("unknown migration")

// Migration is one persisted unit: the operations of a single module plus a
// pointer to the migration it directly follows.
type Migration struct {
	Name       string
	Module     string
	Engine     string
	Dependency string
	Operations []operations.Operation
	// Checksum is the sha256 of the file the migration was read from.
	Checksum string
}

var leadingNumber = regexp.MustCompile(`^(\d+)_`)

// Number returns the leading sequence number of a migration name.
func Number(name string) (int, bool) {
	m := leadingNumber.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

type stopConfig struct {
	migration string
	before    int
	after     int
}

// StopOption limits how far BuildState replays.
type StopOption func(*stopConfig)

// StopAt ends the replay within (or after) the named migration.
func StopAt(name string) StopOption {
	return func(c *stopConfig) { c.migration = name }
}

// StopBefore ends the replay right before operation i of the StopAt migration.
func StopBefore(i int) StopOption {
	return func(c *stopConfig) { c.before = i }
}

// StopAfter ends the replay right after operation i of the StopAt migration.
func StopAfter(i int) StopOption {
	return func(c *stopConfig) { c.after = i }
}

// BuildState folds the operations of migrations, given in dependency order,
// into a fresh state. Stop conditions are checked per operation.
func BuildState(migrations []*Migration, opts ...StopOption) (*state.State, error) {
	cfg := stopConfig{before: -1, after: -1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.migration != "" && !contains(migrations, cfg.migration) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMigration, cfg.migration)
	}

	st := state.New()
	for _, m := range migrations {
		stopHere := m.Name == cfg.migration
		for i, op := range m.Operations {
			if stopHere && i == cfg.before {
				return st, nil
			}
			if err := op.StateForwards(m.Module, st); err != nil {
				return nil, fmt.Errorf("replaying %s operation %d (%s): %w", m.Name, i, op.Describe(), err)
			}
			if stopHere && i == cfg.after {
				return st, nil
			}
		}
		if stopHere {
			return st, nil
		}
	}
	return st, nil
}

func contains(migrations []*Migration, name string) bool {
	for _, m := range migrations {
		if m.Name == name {
			return true
		}
	}
	return false
}
