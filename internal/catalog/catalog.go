// Package catalog holds the entity-type schema catalog: which fields an
// entity type is expected to carry and what value kind each field takes.
// The catalog serves two consumers: schema checks at the ingestion boundary
// (quarantine) and expected-field counts for completeness scoring.
package catalog

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/netsight/reconciled/internal/model"
)

// FieldSchema declares the expected value kind for one field.
type FieldSchema struct {
	Kind model.ValueKind `yaml:"kind"`
}

// EntityType is the schema for one kind of network entity.
type EntityType struct {
	Name   string                 `yaml:"-"`
	Fields map[string]FieldSchema `yaml:"fields"`
}

// Catalog is an indexed, read-only collection of entity-type schemas.
type Catalog struct {
	types       map[string]EntityType
	defaultType string
}

// fileFormat is the YAML shape of a catalog file.
type fileFormat struct {
	DefaultType string                `yaml:"default_type"`
	Types       map[string]EntityType `yaml:"types"`
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, eris.Wrap(err, "catalog: parse")
	}

	for name, et := range ff.Types {
		et.Name = name
		for field, fs := range et.Fields {
			switch fs.Kind {
			case model.KindString, model.KindNumber, model.KindBool, model.KindStructured:
			default:
				return nil, eris.Errorf("catalog: type %s field %s: unknown kind %q", name, field, fs.Kind)
			}
		}
		ff.Types[name] = et
	}

	return New(ff.Types, ff.DefaultType), nil
}

// New builds a catalog from already-parsed entity types. An empty catalog is
// valid: every value passes the schema check and no field expectations are
// reported.
func New(types map[string]EntityType, defaultType string) *Catalog {
	if types == nil {
		types = map[string]EntityType{}
	}
	for name, et := range types {
		et.Name = name
		types[name] = et
	}
	return &Catalog{types: types, defaultType: defaultType}
}

// TypeName extracts the entity type from an entity id. Entity ids follow the
// "type:name" convention ("device:core-sw-01"); ids without a prefix fall
// back to the configured default type.
func (c *Catalog) TypeName(entityID string) string {
	if i := strings.IndexByte(entityID, ':'); i > 0 {
		if _, ok := c.types[entityID[:i]]; ok {
			return entityID[:i]
		}
	}
	return c.defaultType
}

// ExpectedFields returns the sorted field names the entity's type is
// expected to carry, or nil when the type is unknown.
func (c *Catalog) ExpectedFields(entityID string) []string {
	et, ok := c.types[c.TypeName(entityID)]
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(et.Fields))
	for name := range et.Fields {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// CheckValue reports whether a value conforms to the declared kind for the
// entity's field. Fields the catalog does not declare pass: absence of a
// schema is not a schema violation.
func (c *Catalog) CheckValue(entityID, fieldName string, v model.Value) bool {
	if v == nil {
		return false
	}
	et, ok := c.types[c.TypeName(entityID)]
	if !ok {
		return true
	}
	fs, ok := et.Fields[fieldName]
	if !ok {
		return true
	}
	return v.Kind() == fs.Kind
}
