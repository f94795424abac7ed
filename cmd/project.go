package cmd

import (
	"context"
	"fmt"

	"github.com/ridoystarlord/automigrate/config"
	"github.com/ridoystarlord/automigrate/engine"
	"github.com/ridoystarlord/automigrate/history"
	"github.com/ridoystarlord/automigrate/loader"
	"github.com/ridoystarlord/automigrate/orderer"
	"github.com/ridoystarlord/automigrate/schema"
	"github.com/ridoystarlord/automigrate/state"
	"github.com/ridoystarlord/automigrate/utils"
)

// project ties the configuration to the model sources and the migration
// history on disk.
type project struct {
	cfg *config.Config
	log utils.Logger
}

func loadProject() (*project, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cfg.File != "" {
		utils.Default.Debug("Using config file %s", cfg.File)
	}
	return &project{cfg: cfg, log: utils.Default}, nil
}

// models loads the declared models from Go structs when a models directory
// is configured, else from the YAML schema.
func (p *project) models() ([]schema.Model, error) {
	if p.cfg.ModelsDir != "" {
		p.log.Debug("Loading models from structs in %s", p.cfg.ModelsDir)
		return loader.LoadModelsFromTags(config.AppFs, p.cfg.ModelsDir)
	}
	p.log.Debug("Loading models from %s", p.cfg.Schema)
	return loader.LoadModelsFromYAML(config.AppFs, p.cfg.Schema)
}

// registry builds the declared models through the model registry.
func (p *project) registry() ([]schema.Model, error) {
	declared, err := p.models()
	if err != nil {
		return nil, err
	}
	reg := schema.NewRegistry()
	if err := reg.Register(declared...); err != nil {
		return nil, err
	}
	return reg.Build()
}

func (p *project) currentState() (*state.State, []schema.Model, error) {
	built, err := p.registry()
	if err != nil {
		return nil, nil, err
	}
	st, err := state.FromModels(built)
	if err != nil {
		return nil, nil, err
	}
	return st, built, nil
}

// store knows the configured modules, the default one and those of models.
// Load also picks up module directories no model names any more.
func (p *project) store(models []schema.Model) *history.Store {
	s := history.NewStore(config.AppFs, p.cfg.Modules)
	s.AddModule(schema.DefaultModule)
	for _, m := range models {
		s.AddModule(m.Module)
	}
	return s
}

// history returns every migration on disk in chain order. Models are loaded
// only to learn their modules; a schema that fails to load is skipped.
func (p *project) history() ([]*history.Migration, error) {
	built, err := p.registry()
	if err != nil {
		p.log.Debug("Scanning configured modules only: %v", err)
	}
	loaded, err := p.store(built).Load()
	if err != nil {
		return nil, err
	}
	return orderer.ChainMigrations(loaded)
}

func (p *project) open(ctx context.Context) (engine.Adapter, error) {
	adapter, err := p.cfg.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", p.cfg.Engine, err)
	}
	return adapter, nil
}
