// Package state holds the reconstructed shape of every model at one point in
// migration history.
package state

import (
	"errors"
	"fmt"

	"github.com/ridoystarlord/automigrate/schema"
)

var (
	ErrModelNotFound = errors.New("model not found in state")
	ErrModelExists   = errors.New("model already exists in state")
)

// State maps model names to their definitions, keeping insertion order so that
// iteration is deterministic.
type State struct {
	models map[string]*schema.Model
	order  []string
}

func New() *State {
	return &State{models: map[string]*schema.Model{}}
}

// FromModels builds a state holding copies of the given models.
func FromModels(models []schema.Model) (*State, error) {
	st := New()
	for i := range models {
		if err := st.Add(models[i].Clone()); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *State) Add(m *schema.Model) error {
	if _, ok := s.models[m.Name]; ok {
		return fmt.Errorf("%w: %s", ErrModelExists, m.Name)
	}
	s.models[m.Name] = m
	s.order = append(s.order, m.Name)
	return nil
}

// Get returns the live model stored under name. Callers that need a snapshot
// should Clone it.
func (s *State) Get(name string) (*schema.Model, error) {
	m, ok := s.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return m, nil
}

func (s *State) Has(name string) bool {
	_, ok := s.models[name]
	return ok
}

func (s *State) Len() int { return len(s.order) }

func (s *State) Delete(name string) error {
	if _, ok := s.models[name]; !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	delete(s.models, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// RenameModel moves a model to a new name in place and repoints every
// relational field that targeted the old name.
func (s *State) RenameModel(from, to string) error {
	m, ok := s.models[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, from)
	}
	if _, exists := s.models[to]; exists {
		return fmt.Errorf("%w: %s", ErrModelExists, to)
	}
	m.Name = to
	delete(s.models, from)
	s.models[to] = m
	for i, n := range s.order {
		if n == from {
			s.order[i] = to
		}
	}
	for _, other := range s.models {
		for i := range other.Fields {
			if rel := other.Fields[i].Relation; rel != nil && rel.RelatedTo == from {
				rel.RelatedTo = to
			}
		}
	}
	return nil
}

// Names returns model names in insertion order.
func (s *State) Names() []string {
	return append([]string(nil), s.order...)
}

// Models returns the live models in insertion order.
func (s *State) Models() []*schema.Model {
	out := make([]*schema.Model, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.models[n])
	}
	return out
}

func (s *State) Clone() *State {
	c := New()
	for _, n := range s.order {
		c.models[n] = s.models[n].Clone()
		c.order = append(c.order, n)
	}
	return c
}
