package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/internal/web/resource"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// Manifest declares the entities to serve and their route options
type Manifest struct {
	Entities []EntitySpec `yaml:"entities"`
}

// EntitySpec declares one entity
type EntitySpec struct {
	Name  string `yaml:"name"`
	Table string `yaml:"table"`
	// DeletedAt names the soft-delete column, "deleted_at" when absent. An
	// empty string disables soft deletes.
	DeletedAt *string     `yaml:"deletedAt"`
	CreatedAt string      `yaml:"createdAt"`
	UpdatedAt string      `yaml:"updatedAt"`
	Fields    []FieldSpec `yaml:"fields"`
	Routes    RoutesSpec  `yaml:"routes"`
}

// FieldSpec declares one field. Readable, filterable and sortable default
// to true; writable defaults to true unless the field is generated.
type FieldSpec struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Primary    bool   `yaml:"primary"`
	Generated  bool   `yaml:"generated"`
	Nullable   bool   `yaml:"nullable"`
	Required   bool   `yaml:"required"`
	Readable   *bool  `yaml:"readable"`
	Writable   *bool  `yaml:"writable"`
	Filterable *bool  `yaml:"filterable"`
	Sortable   *bool  `yaml:"sortable"`
}

// RoutesSpec mirrors resource.Options for the declarative subset
type RoutesSpec struct {
	Only           []string              `yaml:"only"`
	MaxTake        int                   `yaml:"maxTake"`
	PaginationKeys []string              `yaml:"paginationKeys"`
	Defaults       MethodSpec            `yaml:"defaults"`
	Methods        map[string]MethodSpec `yaml:"methods"`
	Overrides      map[string]string     `yaml:"overrides"`
}

// MethodSpec mirrors resource.MethodOptions. Sort uses the query-string
// form, e.g. "-created_at,id".
type MethodSpec struct {
	SoftDelete     *bool     `yaml:"softDelete"`
	PaginationType string    `yaml:"paginationType"`
	NumberOfTake   int       `yaml:"numberOfTake"`
	Sort           string    `yaml:"sort"`
	Docs           *DocsSpec `yaml:"docs"`
}

// DocsSpec mirrors resource.Docs
type DocsSpec struct {
	Summary     string   `yaml:"summary"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	Deprecated  bool     `yaml:"deprecated"`
}

// Definition is a manifest entity resolved into the types the generator
// consumes. Options carries no handler table; callers add Handlers before
// building the resource when overrides are declared.
type Definition struct {
	Entity  *schema.Entity
	Options resource.Options
}

// LoadManifest reads and parses the manifest at path
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := ParseManifest(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes a manifest, rejecting unknown keys
func ParseManifest(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest is empty")
		}
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(m.Entities) == 0 {
		return nil, errors.New("manifest declares no entities")
	}
	return &m, nil
}

// Definitions resolves every entity of the manifest
func (m *Manifest) Definitions() ([]Definition, error) {
	seen := make(map[string]bool, len(m.Entities))
	defs := make([]Definition, 0, len(m.Entities))

	for i, spec := range m.Entities {
		if spec.Name == "" {
			return nil, fmt.Errorf("entities[%d]: name is required", i)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("entities[%d]: duplicate entity %s", i, spec.Name)
		}
		seen[spec.Name] = true

		def, err := spec.definition()
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", spec.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (s EntitySpec) definition() (Definition, error) {
	// 1. Fields
	fields := make([]*schema.Field, 0, len(s.Fields))
	for _, fs := range s.Fields {
		f, err := fs.field()
		if err != nil {
			return Definition{}, err
		}
		fields = append(fields, f)
	}

	entity := schema.NewEntity(s.Name, fields...)
	if s.Table != "" {
		entity.Table = s.Table
	}
	if s.DeletedAt != nil {
		entity.DeletedAtField = *s.DeletedAt
	}
	entity.CreatedAtField = s.CreatedAt
	entity.UpdatedAtField = s.UpdatedAt

	if err := entity.Validate(); err != nil {
		return Definition{}, err
	}

	// 2. Route options
	opts, err := s.Routes.options(entity)
	if err != nil {
		return Definition{}, err
	}
	return Definition{Entity: entity, Options: opts}, nil
}

func (fs FieldSpec) field() (*schema.Field, error) {
	if fs.Name == "" {
		return nil, errors.New("field name is required")
	}
	typ, err := schema.ParseFieldType(fs.Type)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", fs.Name, err)
	}

	return &schema.Field{
		Name:       fs.Name,
		Type:       typ,
		Primary:    fs.Primary,
		Generated:  fs.Generated,
		Nullable:   fs.Nullable,
		Required:   fs.Required,
		Readable:   orDefault(fs.Readable, true),
		Writable:   orDefault(fs.Writable, !fs.Generated),
		Filterable: orDefault(fs.Filterable, true),
		Sortable:   orDefault(fs.Sortable, true),
	}, nil
}

func orDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func (rs RoutesSpec) options(entity *schema.Entity) (resource.Options, error) {
	parser := query.NewParser(entity)
	opts := resource.Options{
		MaxTake:        rs.MaxTake,
		PaginationKeys: rs.PaginationKeys,
	}

	for _, name := range rs.Only {
		m, err := resource.ParseMethod(name)
		if err != nil {
			return resource.Options{}, fmt.Errorf("routes.only: %w", err)
		}
		opts.Only = append(opts.Only, m)
	}

	defaults, err := rs.Defaults.options(parser)
	if err != nil {
		return resource.Options{}, fmt.Errorf("routes.defaults: %w", err)
	}
	opts.Defaults = defaults

	if len(rs.Methods) > 0 {
		opts.Routes = make(map[resource.Method]resource.MethodOptions, len(rs.Methods))
		for name, spec := range rs.Methods {
			m, err := resource.ParseMethod(name)
			if err != nil {
				return resource.Options{}, fmt.Errorf("routes.methods: %w", err)
			}
			mo, err := spec.options(parser)
			if err != nil {
				return resource.Options{}, fmt.Errorf("routes.methods.%s: %w", name, err)
			}
			opts.Routes[m] = mo
		}
	}

	for name, handler := range rs.Overrides {
		m, err := resource.ParseMethod(name)
		if err != nil {
			return resource.Options{}, fmt.Errorf("routes.overrides: %w", err)
		}
		opts.Overrides = append(opts.Overrides, resource.Override{Method: m, Handler: handler})
	}
	sort.Slice(opts.Overrides, func(i, j int) bool {
		return opts.Overrides[i].Method < opts.Overrides[j].Method
	})

	return opts, nil
}

func (ms MethodSpec) options(parser *query.Parser) (resource.MethodOptions, error) {
	mo := resource.MethodOptions{
		SoftDelete:     ms.SoftDelete,
		PaginationType: ms.PaginationType,
		NumberOfTake:   ms.NumberOfTake,
	}

	if ms.Sort != "" {
		order, err := parser.ParseSort(url.Values{query.KeySort: {ms.Sort}})
		if err != nil {
			return resource.MethodOptions{}, fmt.Errorf("sort: %w", err)
		}
		mo.Sort = order
	}

	if ms.Docs != nil {
		mo.Docs = &resource.Docs{
			Summary:     ms.Docs.Summary,
			Description: ms.Docs.Description,
			Tags:        ms.Docs.Tags,
			Deprecated:  ms.Docs.Deprecated,
		}
	}
	return mo, nil
}
