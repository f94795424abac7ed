package operations

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var ErrUnknownOperation = errors.New("unknown operation")

// Document is the persisted call form of an operation: its kind, the
// bookkeeping meta and the constructor arguments.
type Document struct {
	Op        Kind      `yaml:"op"`
	Module    string    `yaml:"module,omitempty"`
	Order     int       `yaml:"order"`
	DependsOn []string  `yaml:"dependsOn,omitempty"`
	Args      yaml.Node `yaml:"args"`
}

// New returns an empty operation of kind k, ready to be decoded into.
func New(k Kind) (Operation, error) {
	switch k {
	case KindCreateModel:
		return &CreateModel{}, nil
	case KindDeleteModel:
		return &DeleteModel{}, nil
	case KindChangeModel:
		return &ChangeModel{}, nil
	case KindRenameModel:
		return &RenameModel{}, nil
	case KindCreateColumn:
		return &CreateColumn{}, nil
	case KindChangeColumn:
		return &ChangeColumn{}, nil
	case KindRenameColumn:
		return &RenameColumn{}, nil
	case KindRemoveColumn:
		return &RemoveColumn{}, nil
	case KindRunArbitraryCode:
		return &RunArbitraryCode{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, k)
}

func Encode(op Operation) (Document, error) {
	m := op.Meta()
	doc := Document{
		Op:        op.Kind(),
		Module:    m.Module,
		Order:     m.Order,
		DependsOn: append([]string(nil), m.Dependencies...),
	}
	if err := doc.Args.Encode(op); err != nil {
		return Document{}, fmt.Errorf("encoding %s: %w", op.Kind(), err)
	}
	return doc, nil
}

func Decode(doc Document) (Operation, error) {
	op, err := New(doc.Op)
	if err != nil {
		return nil, err
	}
	if doc.Args.Kind != 0 {
		if err := doc.Args.Decode(op); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", doc.Op, err)
		}
	}
	*op.Meta() = Meta{
		Module:       doc.Module,
		Order:        doc.Order,
		Dependencies: append([]string(nil), doc.DependsOn...),
	}
	return op, nil
}
