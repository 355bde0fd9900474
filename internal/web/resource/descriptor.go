package resource

import (
	"fmt"
	"sort"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/internal/web/middleware"
	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
	"github.com/conduit-lang/crudgen/pkg/web/pagination"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// Descriptor is the fully resolved configuration of one generated method
type Descriptor struct {
	Method         Method
	Enabled        bool
	HTTPMethod     string
	Pattern        string
	Interceptors   []RequestHook
	ResponseHooks  []ResponseHook
	Decorators     []middleware.Middleware
	PaginationType pagination.Mode
	NumberOfTake   int
	Sort           query.OrderSpec
	SoftDelete     bool
	Docs           Docs

	// Override names the caller handler serving the method, if any
	Override string
	handler  Handler
}

// clone returns a copy that shares no slices with d
func (d Descriptor) clone() Descriptor {
	d.Interceptors = append([]RequestHook(nil), d.Interceptors...)
	d.ResponseHooks = append([]ResponseHook(nil), d.ResponseHooks...)
	d.Decorators = append([]middleware.Middleware(nil), d.Decorators...)
	d.Sort = append(query.OrderSpec(nil), d.Sort...)
	d.Docs.Tags = append([]string(nil), d.Docs.Tags...)
	return d
}

// Descriptors maps every generated method to its descriptor
type Descriptors map[Method]Descriptor

// Get returns a copy of the descriptor for m
func (ds Descriptors) Get(m Method) (Descriptor, bool) {
	d, ok := ds[m]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}

// Methods returns the generated methods in canonical order
func (ds Descriptors) Methods() []Method {
	methods := make([]Method, 0, len(ds))
	for m := range ds {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}

// Build resolves options into descriptors for the entity. Every
// contradiction is reported as a *errors.ConfigurationError naming the
// method and option at fault.
func Build(entity *schema.Entity, opts Options) (Descriptors, error) {
	if entity == nil {
		return nil, &weberrors.ConfigurationError{Message: "entity is required"}
	}
	if err := entity.Validate(); err != nil {
		return nil, &weberrors.ConfigurationError{Entity: entity.Name, Message: err.Error()}
	}

	b := &builder{entity: entity, opts: opts, parser: query.NewParser(entity)}
	return b.build()
}

type builder struct {
	entity *schema.Entity
	opts   Options
	parser *query.Parser
}

func (b *builder) fail(m *Method, option, format string, args ...interface{}) error {
	err := &weberrors.ConfigurationError{
		Entity:  b.entity.Name,
		Option:  option,
		Message: fmt.Sprintf(format, args...),
	}
	if m != nil {
		err.Method = m.String()
	}
	return err
}

func (b *builder) build() (Descriptors, error) {
	// 1. Pagination keys and the take ceiling apply to every method
	maxTake := b.opts.MaxTake
	if maxTake < 0 {
		return nil, b.fail(nil, "maxTake", "must not be negative, got %d", maxTake)
	}
	if maxTake == 0 {
		maxTake = pagination.DefaultMaxLimit
	}
	if _, err := pagination.NewEngine(b.entity, b.opts.PaginationKeys, maxTake); err != nil {
		return nil, err
	}

	// 2. Resolve the generated method set
	methods, err := b.methods()
	if err != nil {
		return nil, err
	}

	// 3. Reserved names and overrides
	overrides, err := b.overrides(methods)
	if err != nil {
		return nil, err
	}

	// 4. Cascade per-method options over the global defaults
	defaults := b.opts.Defaults
	if err := b.validateLevel(nil, defaults, maxTake); err != nil {
		return nil, err
	}

	descriptors := make(Descriptors, len(methods))
	for _, m := range methods {
		m := m
		perMethod := b.opts.Routes[m]
		if err := b.validateLevel(&m, perMethod, maxTake); err != nil {
			return nil, err
		}

		d := Descriptor{
			Method:     m,
			Enabled:    true,
			HTTPMethod: m.HTTPMethod(),
			Pattern:    m.Pattern(b.entity.Identity()),
		}

		d.NumberOfTake = firstPositive(perMethod.NumberOfTake, defaults.NumberOfTake, DefaultNumberOfTake)
		if d.NumberOfTake > maxTake {
			return nil, b.fail(&m, "numberOfTake", "%d exceeds the maximum of %d", d.NumberOfTake, maxTake)
		}

		mode := firstNonEmpty(perMethod.PaginationType, defaults.PaginationType, DefaultPaginationType)
		d.PaginationType, _ = pagination.ParseMode(mode)

		d.Sort = perMethod.Sort
		if d.Sort == nil {
			d.Sort = defaults.Sort
		}
		if d.Sort == nil {
			d.Sort = query.OrderSpec{}.With(query.DESC, b.entity.Identity()...)
		}
		if d.PaginationType == pagination.Cursor && (m == ReadMany || m == Search) {
			for _, item := range d.Sort {
				if f, _ := b.entity.Field(item.Field); f.Nullable {
					return nil, b.fail(&m, "sort", "cursor pagination cannot order by nullable field %s", item.Field)
				}
			}
		}

		softDelete := perMethod.SoftDelete
		if softDelete == nil {
			softDelete = defaults.SoftDelete
		}
		if d.SoftDelete, err = b.softDelete(m, softDelete); err != nil {
			return nil, err
		}

		d.Interceptors = perMethod.Interceptors
		if d.Interceptors == nil {
			d.Interceptors = defaults.Interceptors
		}
		d.ResponseHooks = perMethod.ResponseHooks
		if d.ResponseHooks == nil {
			d.ResponseHooks = defaults.ResponseHooks
		}
		d.Decorators = perMethod.Decorators
		if d.Decorators == nil {
			d.Decorators = defaults.Decorators
		}

		d.Docs = b.docs(m, perMethod.Docs, defaults.Docs)

		if name, ok := overrides[m]; ok {
			d.Override = name
			d.handler = b.opts.Handlers[name]
		}

		descriptors[m] = d.clone()
	}

	return descriptors, nil
}

func (b *builder) methods() ([]Method, error) {
	if len(b.opts.Only) == 0 {
		var methods []Method
		for _, m := range AllMethods {
			if m == Recover && !b.entity.SupportsSoftDelete() {
				continue
			}
			methods = append(methods, m)
		}
		return methods, nil
	}

	seen := make(map[Method]bool, len(b.opts.Only))
	for _, m := range b.opts.Only {
		m := m
		if !m.Valid() {
			return nil, b.fail(nil, "only", "unknown method %s", m)
		}
		if seen[m] {
			return nil, b.fail(&m, "only", "method listed twice")
		}
		if m == Recover && !b.entity.SupportsSoftDelete() {
			return nil, b.fail(&m, "only", "entity has no %s field to recover from", b.entity.DeletedAtField)
		}
		seen[m] = true
	}

	var methods []Method
	for _, m := range AllMethods {
		if seen[m] {
			methods = append(methods, m)
		}
	}
	return methods, nil
}

func (b *builder) overrides(methods []Method) (map[Method]string, error) {
	generated := make(map[Method]bool, len(methods))
	for _, m := range methods {
		generated[m] = true
	}

	// A caller handler may not take the name reserved for a generated method
	for _, m := range methods {
		m := m
		if _, taken := b.opts.Handlers[m.ReservedName()]; taken {
			return nil, b.fail(&m, "handlers", "handler name %s collides with the generated %s handler", m.ReservedName(), m)
		}
	}

	result := make(map[Method]string)
	for _, o := range b.opts.Overrides {
		m := o.Method
		if !m.Valid() {
			return nil, b.fail(nil, "overrides", "unknown method %s", m)
		}
		if !generated[m] {
			continue
		}
		if _, dup := result[m]; dup {
			return nil, b.fail(&m, "overrides", "method overridden more than once")
		}
		handler, ok := b.opts.Handlers[o.Handler]
		if !ok || handler == nil {
			return nil, b.fail(&m, "overrides", "handler %q is not registered", o.Handler)
		}
		result[m] = o.Handler
	}
	return result, nil
}

// validateLevel checks one level of the cascade in isolation
func (b *builder) validateLevel(m *Method, level MethodOptions, maxTake int) error {
	if level.NumberOfTake < 0 {
		return b.fail(m, "numberOfTake", "must be positive, got %d", level.NumberOfTake)
	}
	if level.NumberOfTake > maxTake {
		return b.fail(m, "numberOfTake", "%d exceeds the maximum of %d", level.NumberOfTake, maxTake)
	}
	if level.PaginationType != "" {
		if _, err := pagination.ParseMode(level.PaginationType); err != nil {
			return b.fail(m, "paginationType", "unknown pagination type %q", level.PaginationType)
		}
	}
	if level.Sort != nil {
		if err := b.parser.ValidateOrder(level.Sort); err != nil {
			return b.fail(m, "sort", "%v", err)
		}
	}
	for i, h := range level.Interceptors {
		if h == nil {
			return b.fail(m, "interceptors", "interceptor %d is nil", i)
		}
	}
	for i, h := range level.ResponseHooks {
		if h == nil {
			return b.fail(m, "responseHooks", "response hook %d is nil", i)
		}
	}
	return nil
}

func (b *builder) softDelete(m Method, configured *bool) (bool, error) {
	supported := b.entity.SupportsSoftDelete()
	switch {
	case m == Delete:
		if configured == nil {
			return supported, nil
		}
		if *configured && !supported {
			return false, b.fail(&m, "softDelete", "entity has no %s field", b.entity.DeletedAtField)
		}
		return *configured, nil
	case m.Reads():
		if configured == nil {
			return false, nil
		}
		if *configured && !supported {
			return false, b.fail(&m, "softDelete", "entity has no %s field", b.entity.DeletedAtField)
		}
		return *configured, nil
	default:
		return supported, nil
	}
}

func (b *builder) docs(m Method, perMethod, global *Docs) Docs {
	d := Docs{Summary: defaultSummary(m, b.entity.Name)}
	for _, level := range []*Docs{global, perMethod} {
		if level == nil {
			continue
		}
		if level.Summary != "" {
			d.Summary = level.Summary
		}
		if level.Description != "" {
			d.Description = level.Description
		}
		if level.Tags != nil {
			d.Tags = level.Tags
		}
		d.Deprecated = d.Deprecated || level.Deprecated
	}
	if d.Tags == nil {
		d.Tags = []string{b.entity.Name}
	}
	return d
}

func defaultSummary(m Method, entity string) string {
	switch m {
	case ReadOne:
		return "Retrieve a single " + entity
	case ReadMany:
		return "List " + entity + " rows"
	case Create:
		return "Create one or many " + entity + " rows"
	case Update:
		return "Update a " + entity
	case Upsert:
		return "Create or replace a " + entity
	case Delete:
		return "Delete a " + entity
	case Recover:
		return "Recover a soft-deleted " + entity
	case Search:
		return "Search " + entity + " rows"
	default:
		return entity
	}
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
