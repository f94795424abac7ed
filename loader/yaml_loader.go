package loader

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ridoystarlord/automigrate/schema"
)

type yamlFile struct {
	Models []yamlModel `yaml:"models"`
}

type yamlModel struct {
	Name    string      `yaml:"name"`
	Module  string      `yaml:"module"`
	Fields  []yamlField `yaml:"fields"`
	Options yaml.Node   `yaml:"options"`
}

type yamlField struct {
	Name             string            `yaml:"name"`
	Kind             schema.FieldKind  `yaml:"kind"`
	PrimaryKey       bool              `yaml:"primaryKey"`
	AllowNull        bool              `yaml:"allowNull"`
	Default          *string           `yaml:"defaultValue"`
	Unique           bool              `yaml:"unique"`
	AllowBlank       bool              `yaml:"allowBlank"`
	DBIndex          bool              `yaml:"dbIndex"`
	DatabaseName     string            `yaml:"databaseName"`
	MaxLength        int               `yaml:"maxLength"`
	MaxDigits        int               `yaml:"maxDigits"`
	DecimalPlaces    int               `yaml:"decimalPlaces"`
	AutoNow          bool              `yaml:"autoNow"`
	AutoNowAdd       bool              `yaml:"autoNowAdd"`
	AutoGenerate     bool              `yaml:"autoGenerate"`
	RelatedTo        yaml.Node         `yaml:"relatedTo"`
	OnDelete         schema.OnDelete   `yaml:"onDelete"`
	RelatedName      string            `yaml:"relatedName"`
	FieldName        string            `yaml:"fieldName"`
	CustomAttributes map[string]string `yaml:"customAttributes"`
}

// LoadModelsFromYAML reads model declarations from a schema file.
func LoadModelsFromYAML(fs afero.Fs, filename string) ([]schema.Model, error) {
	data, err := afero.ReadFile(fs, filename)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	models, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return models, nil
}

// ParseYAML decodes a schema document. Options left out of a model keep
// their defaults: managed and underscored.
func ParseYAML(data []byte) ([]schema.Model, error) {
	var doc yamlFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshalling YAML: %w", err)
	}

	models := make([]schema.Model, 0, len(doc.Models))
	for _, ym := range doc.Models {
		model := schema.Model{
			Name:    ym.Name,
			Module:  ym.Module,
			Options: schema.DefaultOptions(),
		}
		if !ym.Options.IsZero() {
			if err := ym.Options.Decode(&model.Options); err != nil {
				return nil, fmt.Errorf("model %s options: %w", ym.Name, err)
			}
		}
		for _, yf := range ym.Fields {
			field, err := yf.field()
			if err != nil {
				return nil, fmt.Errorf("model %s: %w", ym.Name, err)
			}
			model.Fields = append(model.Fields, field)
		}
		models = append(models, model)
	}
	return models, nil
}

func (yf yamlField) field() (schema.Field, error) {
	f := schema.Field{
		Name:             yf.Name,
		Kind:             yf.Kind,
		PrimaryKey:       yf.PrimaryKey,
		AllowNull:        yf.AllowNull,
		Default:          yf.Default,
		Unique:           yf.Unique,
		AllowBlank:       yf.AllowBlank,
		DBIndex:          yf.DBIndex,
		DatabaseName:     yf.DatabaseName,
		MaxLength:        yf.MaxLength,
		MaxDigits:        yf.MaxDigits,
		DecimalPlaces:    yf.DecimalPlaces,
		AutoNow:          yf.AutoNow,
		AutoNowAdd:       yf.AutoNowAdd,
		AutoGenerate:     yf.AutoGenerate,
		CustomAttributes: yf.CustomAttributes,
	}
	if !yf.Kind.IsRelation() {
		if !yf.RelatedTo.IsZero() {
			return schema.Field{}, fmt.Errorf("%w: %s field %q cannot carry relatedTo", schema.ErrInvalidRelation, yf.Kind, yf.Name)
		}
		if f.Kind.IsAuto() {
			f.PrimaryKey = true
		}
		return f, f.Validate()
	}

	// relatedTo names a model; a list or mapping is a configuration mistake.
	if yf.RelatedTo.Kind != yaml.ScalarNode || yf.RelatedTo.Tag != "!!str" {
		return schema.Field{}, fmt.Errorf("%w: field %q relatedTo must be a model name (line %d)",
			schema.ErrInvalidRelation, yf.Name, yf.RelatedTo.Line)
	}
	onDelete := yf.OnDelete
	if onDelete == "" {
		onDelete = schema.Cascade
	}
	f.Relation = &schema.Relation{
		RelatedTo:   yf.RelatedTo.Value,
		OnDelete:    onDelete,
		RelatedName: yf.RelatedName,
		FieldName:   yf.FieldName,
	}
	if yf.Kind == schema.OneToOneField {
		f.Unique = true
	}
	return f, f.Validate()
}
