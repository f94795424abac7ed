package loader

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/spf13/afero"

	"github.com/ridoystarlord/automigrate/schema"
)

// TagKey is the struct tag read by the tag loader.
const TagKey = "automigrate"

// TagLoader loads model declarations from Go structs carrying automigrate tags.
//
//	type Customer struct {
//		_         struct{}  `automigrate:"table:customers;ordering:-createdAt"`
//		Timestamps
//		ID        int64
//		Name      string    `automigrate:"maxLength:100;index"`
//		Email     *string   `automigrate:"unique"`
//		Account   *Account  `automigrate:"fk:Account:SET_NULL"`
//	}
//
// A struct is a model when at least one of its fields carries the tag.
// Embedded structs become abstract bases the model extends, and the blank
// field holds the model options. The package name is the module.
type TagLoader struct {
	fs        afero.Fs
	modelsDir string
}

func NewTagLoader(fs afero.Fs, modelsDir string) *TagLoader {
	return &TagLoader{fs: fs, modelsDir: modelsDir}
}

// LoadModelsFromTags loads every model declared under modelsDir.
func LoadModelsFromTags(fs afero.Fs, modelsDir string) ([]schema.Model, error) {
	return NewTagLoader(fs, modelsDir).Load()
}

// Load walks the models directory in lexical order and parses every
// non-test .go file.
func (tl *TagLoader) Load() ([]schema.Model, error) {
	if _, err := tl.fs.Stat(tl.modelsDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("models directory '%s' does not exist. Run 'automigrate init' first", tl.modelsDir)
	}

	var models []schema.Model
	err := afero.Walk(tl.fs, tl.modelsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		src, err := afero.ReadFile(tl.fs, path)
		if err != nil {
			return err
		}
		fileModels, err := ParseSource(path, src)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		models = append(models, fileModels...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	return models, nil
}

// ParseSource extracts the models declared in one Go source file.
func ParseSource(filename string, src []byte) ([]schema.Model, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Go file: %w", err)
	}

	var models []schema.Model
	var parseErr error
	ast.Inspect(file, func(n ast.Node) bool {
		if parseErr != nil {
			return false
		}
		spec, ok := n.(*ast.TypeSpec)
		if !ok {
			return true
		}
		st, ok := spec.Type.(*ast.StructType)
		if !ok || !tagged(st) {
			return true
		}
		model, err := parseStruct(file.Name.Name, spec.Name.Name, st)
		if err != nil {
			parseErr = fmt.Errorf("%s: %w", fset.Position(spec.Pos()), err)
			return false
		}
		models = append(models, model)
		return true
	})
	return models, parseErr
}

func tagged(st *ast.StructType) bool {
	for _, field := range st.Fields.List {
		if _, ok := tagValue(field); ok {
			return true
		}
	}
	return false
}

func tagValue(field *ast.Field) (string, bool) {
	if field.Tag == nil {
		return "", false
	}
	raw, err := strconv.Unquote(field.Tag.Value)
	if err != nil {
		return "", false
	}
	return reflect.StructTag(raw).Lookup(TagKey)
}

func parseStruct(module, name string, st *ast.StructType) (schema.Model, error) {
	model := schema.Model{
		Name:    name,
		Module:  module,
		Options: schema.DefaultOptions(),
	}
	for _, field := range st.Fields.List {
		tag, _ := tagValue(field)
		if tag == "-" {
			continue
		}

		if len(field.Names) == 0 {
			if base := typeName(field.Type); base != "" {
				model.Options.Extends = append(model.Options.Extends, base)
			}
			continue
		}

		goName := field.Names[0].Name
		if goName == "_" {
			parseOptions(&model, tag)
			continue
		}
		if !ast.IsExported(goName) {
			continue
		}

		f, err := parseField(goName, field.Type, tag)
		if err != nil {
			return schema.Model{}, fmt.Errorf("field %s.%s: %w", name, goName, err)
		}
		model.Fields = append(model.Fields, f)
	}
	return model, nil
}

// typeName returns the bare type name of an embedded or relational field.
func typeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return typeName(t.X)
	case *ast.SelectorExpr:
		return t.Sel.Name
	}
	return ""
}

// goType renders a field type as written, with pointers stripped. The second
// result reports whether a pointer was stripped.
func goType(expr ast.Expr) (string, bool) {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name, false
	case *ast.StarExpr:
		name, _ := goType(t.X)
		return name, true
	case *ast.SelectorExpr:
		if x, ok := t.X.(*ast.Ident); ok {
			return x.Name + "." + t.Sel.Name, false
		}
	case *ast.ArrayType:
		elt, _ := goType(t.Elt)
		return "[]" + elt, false
	}
	return "", false
}

var kindsByGoType = map[string]schema.FieldKind{
	"string":    schema.CharField,
	"int":       schema.IntegerField,
	"int8":      schema.IntegerField,
	"int16":     schema.IntegerField,
	"int32":     schema.IntegerField,
	"uint8":     schema.IntegerField,
	"uint16":    schema.IntegerField,
	"uint32":    schema.IntegerField,
	"int64":     schema.BigIntegerField,
	"uint":      schema.BigIntegerField,
	"uint64":    schema.BigIntegerField,
	"bool":      schema.BooleanField,
	"float32":   schema.DecimalField,
	"float64":   schema.DecimalField,
	"time.Time": schema.DatetimeField,
	"uuid.UUID": schema.UUIDField,
}

func parseField(goName string, expr ast.Expr, tag string) (schema.Field, error) {
	typ, pointer := goType(expr)
	f := schema.Field{Name: lowerCamel(goName), AllowNull: pointer}

	var relation *schema.Relation
	for _, part := range strings.Split(tag, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, ":")
		if !hasValue {
			if err := setFlag(&f, key); err != nil {
				return schema.Field{}, err
			}
			continue
		}
		switch key {
		case "name":
			f.Name = value
		case "kind":
			f.Kind = schema.FieldKind(value)
		case "column":
			f.DatabaseName = value
		case "default":
			v := value
			f.Default = &v
		case "maxLength", "maxDigits", "decimalPlaces":
			n, err := strconv.Atoi(value)
			if err != nil {
				return schema.Field{}, fmt.Errorf("%s must be a number, got %q", key, value)
			}
			switch key {
			case "maxLength":
				f.MaxLength = n
			case "maxDigits":
				f.MaxDigits = n
			default:
				f.DecimalPlaces = n
			}
		case "fk", "o2o":
			target, onDelete, _ := strings.Cut(value, ":")
			if relation == nil {
				relation = &schema.Relation{}
			}
			relation.RelatedTo, relation.OnDelete = target, schema.OnDelete(onDelete)
			f.Kind = schema.ForeignKeyField
			if key == "o2o" {
				f.Kind = schema.OneToOneField
				f.Unique = true
			}
		case "relatedName":
			if relation == nil {
				relation = &schema.Relation{}
			}
			relation.RelatedName = value
		default:
			if f.CustomAttributes == nil {
				f.CustomAttributes = map[string]string{}
			}
			f.CustomAttributes[key] = value
		}
	}

	if f.Kind == "" {
		kind, ok := kindsByGoType[typ]
		switch {
		case ok:
			f.Kind = kind
		case typ != "" && !strings.Contains(typ, ".") && !strings.HasPrefix(typ, "[]"):
			// A field typed as another model is a foreign key to it.
			f.Kind = schema.ForeignKeyField
			if relation == nil {
				relation = &schema.Relation{}
			}
			relation.RelatedTo = typ
		default:
			return schema.Field{}, fmt.Errorf("%w: cannot infer a field kind for Go type %q, set kind in the tag", schema.ErrInvalidFieldKind, typ)
		}
	}
	if f.Name == "id" && !pointer {
		switch f.Kind {
		case schema.IntegerField:
			f.Kind = schema.AutoField
		case schema.BigIntegerField:
			f.Kind = schema.BigAutoField
		}
	}
	if f.Kind.IsAuto() {
		f.PrimaryKey = true
	}

	if f.Kind.IsRelation() {
		if relation == nil {
			relation = &schema.Relation{}
		}
		if relation.RelatedTo == "" {
			relation.RelatedTo = typeName(expr)
		}
		if relation.OnDelete == "" {
			relation.OnDelete = schema.Cascade
		}
		f.Relation = relation
	}
	return f, f.Validate()
}

func setFlag(f *schema.Field, flag string) error {
	switch flag {
	case "primary":
		f.PrimaryKey = true
	case "unique":
		f.Unique = true
	case "null":
		f.AllowNull = true
	case "notNull":
		f.AllowNull = false
	case "blank":
		f.AllowBlank = true
	case "index":
		f.DBIndex = true
	case "autoNow":
		f.AutoNow = true
	case "autoNowAdd":
		f.AutoNowAdd = true
	case "autoGenerate":
		f.AutoGenerate = true
	case "text":
		f.Kind = schema.TextField
	default:
		return fmt.Errorf("unknown tag flag %q", flag)
	}
	return nil
}

// parseOptions reads the model options from the tag on the blank field.
func parseOptions(model *schema.Model, tag string) {
	for _, part := range strings.Split(tag, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, ":")
		switch key {
		case "table":
			model.Options.TableName = value
		case "module":
			model.Module = value
		case "abstract":
			model.Options.Abstract = true
		case "unmanaged":
			model.Options.Managed = false
		case "camelCase":
			model.Options.Underscored = false
		case "ordering":
			model.Options.Ordering = splitList(value)
		case "index", "unique":
			model.Options.Indexes = append(model.Options.Indexes, schema.Index{
				Fields: splitList(value),
				Unique: key == "unique",
			})
		default:
			if model.Options.CustomOptions == nil {
				model.Options.CustomOptions = map[string]string{}
			}
			model.Options.CustomOptions[key] = value
		}
	}
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// lowerCamel turns a Go field name into an attribute name: "CreatedAt"
// becomes "createdAt", "ID" becomes "id" and "HTTPServer" becomes "httpServer".
func lowerCamel(s string) string {
	r := []rune(s)
	n := 0
	for n < len(r) && unicode.IsUpper(r[n]) {
		n++
	}
	switch {
	case n == len(r):
		return strings.ToLower(s)
	case n > 1:
		n--
	}
	for i := 0; i < n; i++ {
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}
