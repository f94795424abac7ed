package history

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ridoystarlord/automigrate/operations"
)

// MigrationsDir is the conventional subpath of a module holding its migrations.
const MigrationsDir = "migrations"

const fileExt = ".yaml"

type file struct {
	Engine     string                `yaml:"engine"`
	Module     string                `yaml:"module"`
	Name       string                `yaml:"name"`
	Dependency string                `yaml:"dependency"`
	Operations []operations.Document `yaml:"operations"`
}

// Encode renders a migration as its persisted YAML form.
func Encode(m *Migration) ([]byte, error) {
	f := file{
		Engine:     m.Engine,
		Module:     m.Module,
		Name:       m.Name,
		Dependency: m.Dependency,
	}
	for _, op := range m.Operations {
		doc, err := operations.Encode(op)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", m.Name, err)
		}
		f.Operations = append(f.Operations, doc)
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("marshalling migration %s: %w", m.Name, err)
	}
	return data, nil
}

// Decode parses a persisted migration.
func Decode(data []byte) (*Migration, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshalling migration: %w", err)
	}
	m := &Migration{
		Name:       f.Name,
		Module:     f.Module,
		Engine:     f.Engine,
		Dependency: f.Dependency,
		Checksum:   Checksum(data),
	}
	for i, doc := range f.Operations {
		op, err := operations.Decode(doc)
		if err != nil {
			return nil, fmt.Errorf("migration %s operation %d: %w", f.Name, i, err)
		}
		m.Operations = append(m.Operations, op)
	}
	return m, nil
}

func Checksum(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// Store reads and writes migration files grouped per module.
type Store struct {
	fs      afero.Fs
	modules map[string]string
}

// NewStore returns a store over fs. modules maps a module name to its
// directory; modules without an entry live in a directory named after them.
func NewStore(fs afero.Fs, modules map[string]string) *Store {
	s := &Store{fs: fs, modules: map[string]string{}}
	for name, dir := range modules {
		s.modules[name] = dir
	}
	return s
}

// AddModule registers a module so Load also scans its directory.
func (s *Store) AddModule(name string) {
	if _, ok := s.modules[name]; !ok {
		s.modules[name] = name
	}
}

// Dir returns the migrations directory of module.
func (s *Store) Dir(module string) string {
	dir, ok := s.modules[module]
	if !ok {
		dir = module
	}
	return filepath.Join(dir, MigrationsDir)
}

func (s *Store) Modules() []string {
	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// discover registers every top-level directory holding a migrations
// directory, so modules whose models are all gone still contribute their
// history. Directories already mapped to a module are skipped.
func (s *Store) discover() error {
	claimed := map[string]bool{}
	for _, dir := range s.modules {
		claimed[filepath.Clean(dir)] = true
	}
	entries, err := afero.ReadDir(s.fs, ".")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing modules: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || claimed[name] || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := s.modules[name]; ok {
			continue
		}
		if ok, _ := afero.DirExists(s.fs, filepath.Join(name, MigrationsDir)); ok {
			s.modules[name] = name
		}
	}
	return nil
}

// Load reads every migration of every known or discovered module, in
// directory listing order. Callers chain them with orderer.ChainMigrations.
func (s *Store) Load() ([]*Migration, error) {
	if err := s.discover(); err != nil {
		return nil, err
	}
	var all []*Migration
	for _, module := range s.Modules() {
		dir := s.Dir(module)
		entries, err := afero.ReadDir(s.fs, dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			data, err := afero.ReadFile(s.fs, path)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", path, err)
			}
			m, err := Decode(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if m.Name == "" {
				m.Name = strings.TrimSuffix(entry.Name(), fileExt)
			}
			if m.Module == "" {
				m.Module = module
			}
			all = append(all, m)
		}
	}
	return all, nil
}

// Write persists m under its module directory and returns the file path.
func (s *Store) Write(m *Migration) (string, error) {
	data, err := Encode(m)
	if err != nil {
		return "", err
	}
	dir := s.Dir(m.Module)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, m.Name+fileExt)
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	m.Checksum = Checksum(data)
	return path, nil
}
