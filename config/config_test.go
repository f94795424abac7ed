package config

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/automigrate/engine"
	_ "github.com/ridoystarlord/automigrate/engine/sqlite"
	"github.com/ridoystarlord/automigrate/utils"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTOMIGRATE_DATABASE_URL", "")

	cfg, err := LoadFs(afero.NewMemMapFs(), "")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Engine)
	assert.Equal(t, "schema.yaml", cfg.Schema)
	assert.Empty(t, cfg.ModelsDir)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.File)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTOMIGRATE_DATABASE_URL", "")
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "conf/custom.yaml", []byte(`
engine: sqlite
database_url: file.db
models_dir: models
modules:
  shop: apps/shop
  billing: apps/billing
`), 0o644))

	cfg, err := LoadFs(fs, "conf/custom.yaml")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Engine)
	assert.Equal(t, "file.db", cfg.DatabaseURL)
	assert.Equal(t, "models", cfg.ModelsDir)
	assert.Equal(t, map[string]string{"shop": "apps/shop", "billing": "apps/billing"}, cfg.Modules)
	assert.Equal(t, "conf/custom.yaml", cfg.File)
}

func TestLoadEnvironmentWins(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "automigrate.yaml", []byte("engine: sqlite\ndatabase_url: from-file.db\n"), 0o644))

	t.Setenv("AUTOMIGRATE_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("AUTOMIGRATE_ENGINE", "postgres")

	cfg, err := LoadFs(fs, "")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Engine)
	assert.Equal(t, "postgres://localhost/app", cfg.DatabaseURL)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := LoadFs(afero.NewMemMapFs(), "nope.yaml")
	assert.Error(t, err)
}

func TestTemplateLoads(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTOMIGRATE_DATABASE_URL", "")
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "automigrate.yaml", []byte(Template), 0o644))

	cfg, err := LoadFs(fs, "")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Engine)
	assert.Equal(t, map[string]string{"app": "."}, cfg.Modules)
}

func TestOpen(t *testing.T) {
	_, err := (&Config{Engine: "sqlite"}).Open(context.Background())
	assert.ErrorIs(t, err, utils.ErrDatabaseURL)

	_, err = (&Config{Engine: "oracle", DatabaseURL: "x"}).Open(context.Background())
	assert.ErrorIs(t, err, engine.ErrUnknownEngine)

	adapter, err := (&Config{Engine: "sqlite", DatabaseURL: ":memory:"}).Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", adapter.Name())
	require.NoError(t, adapter.Close())
}
