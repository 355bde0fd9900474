package pagination

import (
	"fmt"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

const (
	// DefaultLimit is the page size when neither the route nor the request sets one
	DefaultLimit = 20
	// DefaultMaxLimit caps the page size a request may ask for
	DefaultMaxLimit = 1000
)

// Engine plans paginated reads for one entity
type Engine struct {
	entity   *schema.Entity
	parser   *query.Parser
	keys     []string
	maxLimit int
}

// NewEngine creates an engine for an entity. keys are the pagination keys
// that break ties in every order; they default to the identity fields and
// must be sortable and non-nullable. A maxLimit of 0 means DefaultMaxLimit.
func NewEngine(entity *schema.Entity, keys []string, maxLimit int) (*Engine, error) {
	if len(keys) == 0 {
		keys = entity.Identity()
	}
	if len(keys) == 0 {
		return nil, &weberrors.ConfigurationError{Entity: entity.Name, Option: "paginationKeys", Message: "entity has no identity fields"}
	}

	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		field, ok := entity.Field(key)
		switch {
		case !ok:
			return nil, &weberrors.ConfigurationError{Entity: entity.Name, Option: "paginationKeys", Message: fmt.Sprintf("unknown field %s", key)}
		case !field.Sortable:
			return nil, &weberrors.ConfigurationError{Entity: entity.Name, Option: "paginationKeys", Message: fmt.Sprintf("field %s is not sortable", key)}
		case field.Nullable:
			return nil, &weberrors.ConfigurationError{Entity: entity.Name, Option: "paginationKeys", Message: fmt.Sprintf("field %s is nullable", key)}
		case seen[key]:
			return nil, &weberrors.ConfigurationError{Entity: entity.Name, Option: "paginationKeys", Message: fmt.Sprintf("field %s listed twice", key)}
		}
		seen[key] = true
	}

	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}

	return &Engine{
		entity:   entity,
		parser:   query.NewParser(entity),
		keys:     append([]string(nil), keys...),
		maxLimit: maxLimit,
	}, nil
}

// Keys returns the pagination keys
func (e *Engine) Keys() []string {
	return append([]string(nil), e.keys...)
}

// MaxLimit returns the largest accepted page size
func (e *Engine) MaxLimit() int {
	return e.maxLimit
}

// Input is everything a plan is computed from. The *Set flags report
// whether the value was supplied by the request (or a request hook) rather
// than taken from route defaults; only supplied values are compared against
// a continuation token.
type Input struct {
	Filter    query.Tree
	FilterSet bool

	Order    query.OrderSpec
	OrderSet bool

	WithDeleted    bool
	WithDeletedSet bool

	// DefaultLimit is the route's page size
	DefaultLimit int

	Request Request
}

// effectiveOrder appends any missing pagination keys so that the order is total
func (e *Engine) effectiveOrder(order query.OrderSpec) query.OrderSpec {
	direction := query.ASC
	if len(order) > 0 {
		direction = order[len(order)-1].Direction
	}
	return order.With(direction, e.keys...)
}

func (e *Engine) checkLimit(limit int) error {
	if limit <= 0 {
		return weberrors.Validation(weberrors.InvalidPagination, query.KeyLimit, "limit must be positive, got %d", limit)
	}
	if limit > e.maxLimit {
		return weberrors.Validation(weberrors.InvalidPagination, query.KeyLimit, "limit must not exceed %d, got %d", e.maxLimit, limit)
	}
	return nil
}

func defaultLimit(in Input) int {
	if in.DefaultLimit > 0 {
		return in.DefaultLimit
	}
	return DefaultLimit
}

// OffsetPlan is a planned offset-mode read
type OffsetPlan struct {
	Query Query
	state offsetState
}

// OffsetMetadata describes an offset-mode page
type OffsetMetadata struct {
	Page   int    `json:"page"`
	Pages  int    `json:"pages"`
	Total  int64  `json:"total"`
	Offset int    `json:"offset"`
	Query  string `json:"query"`
}

// PlanOffset computes an offset-mode read. A request carrying a filter token
// continues that sequence: it may not change the limit, filter, order or
// soft-delete visibility.
func (e *Engine) PlanOffset(in Input) (*OffsetPlan, error) {
	req := in.Request
	if err := req.Validate(Offset); err != nil {
		return nil, err
	}

	state := offsetState{
		Filter:      in.Filter,
		Order:       e.effectiveOrder(in.Order),
		Limit:       defaultLimit(in),
		WithDeleted: in.WithDeleted,
	}
	if req.Limit != nil {
		state.Limit = *req.Limit
	}

	if req.FilterToken != "" {
		var prior offsetState
		if err := decodeToken(query.KeyQuery, kindOffset, req.FilterToken, &prior); err != nil {
			return nil, err
		}
		if err := e.canonicalize(query.KeyQuery, &prior.Filter, prior.Order); err != nil {
			return nil, err
		}

		if req.Limit != nil && *req.Limit != prior.Limit {
			return nil, weberrors.Validation(weberrors.InvalidPagination, query.KeyLimit, "limit cannot change within a pagination sequence")
		}
		if in.FilterSet && !in.Filter.Equal(prior.Filter) {
			return nil, weberrors.Validation(weberrors.InvalidPagination, query.KeyQuery, "filter does not match the query token")
		}
		if in.OrderSet && !state.Order.Equal(prior.Order) {
			return nil, weberrors.Validation(weberrors.InvalidPagination, query.KeySort, "order does not match the query token")
		}
		if in.WithDeletedSet && in.WithDeleted != prior.WithDeleted {
			return nil, weberrors.Validation(weberrors.InvalidPagination, query.KeyWithDeleted, "withDeleted does not match the query token")
		}
		state = prior
	}

	if err := e.checkLimit(state.Limit); err != nil {
		return nil, err
	}

	offset := 0
	if req.Offset != nil {
		offset = *req.Offset
	}
	if offset < 0 {
		return nil, weberrors.Validation(weberrors.InvalidPagination, query.KeyOffset, "offset must not be negative, got %d", offset)
	}

	return &OffsetPlan{
		Query: Query{
			Filter:      state.Filter,
			Order:       state.Order,
			Limit:       state.Limit,
			Offset:      offset,
			WithDeleted: state.WithDeleted,
		},
		state: state,
	}, nil
}

// Metadata builds the page metadata once the total and the page size are known
func (p *OffsetPlan) Metadata(total int64, rows int) (*OffsetMetadata, error) {
	token, err := encodeToken(kindOffset, p.state)
	if err != nil {
		return nil, err
	}

	limit := p.Query.Limit
	pages := int((total + int64(limit) - 1) / int64(limit))

	return &OffsetMetadata{
		Page:   p.Query.Offset/limit + 1,
		Pages:  pages,
		Total:  total,
		Offset: p.Query.Offset + rows,
		Query:  token,
	}, nil
}

// CursorPlan is a planned cursor-mode read
type CursorPlan struct {
	Query  Query
	entity *schema.Entity
}

// CursorMetadata describes a cursor-mode page. NextCursor is nil once a page
// is shorter than the limit.
type CursorMetadata struct {
	Limit      int     `json:"limit"`
	Total      int64   `json:"total"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// PlanCursor computes a cursor-mode read. A request carrying a cursor
// continues after the cursor's position unless it supplies a different
// order, which starts a new sequence.
func (e *Engine) PlanCursor(in Input) (*CursorPlan, error) {
	req := in.Request
	if err := req.Validate(Cursor); err != nil {
		return nil, err
	}

	q := Query{
		Filter:      in.Filter,
		Order:       e.effectiveOrder(in.Order),
		Limit:       defaultLimit(in),
		WithDeleted: in.WithDeleted,
	}

	if req.CursorToken != "" {
		var prior cursorState
		if err := decodeToken(query.KeyNextCursor, kindCursor, req.CursorToken, &prior); err != nil {
			return nil, err
		}
		if err := e.canonicalize(query.KeyNextCursor, &prior.Filter, prior.Order); err != nil {
			return nil, err
		}
		if err := e.canonicalValues(prior.Order, prior.Values); err != nil {
			return nil, err
		}

		if !in.OrderSet || q.Order.Equal(prior.Order) {
			if in.FilterSet && !in.Filter.Equal(prior.Filter) {
				return nil, weberrors.Validation(weberrors.InvalidPagination, query.KeyNextCursor, "filter does not match the cursor")
			}
			if in.WithDeletedSet && in.WithDeleted != prior.WithDeleted {
				return nil, weberrors.Validation(weberrors.InvalidPagination, query.KeyWithDeleted, "withDeleted does not match the cursor")
			}
			q.Filter = prior.Filter
			q.Order = prior.Order
			q.WithDeleted = prior.WithDeleted
			q.Limit = prior.Limit
			q.After = &Keyset{Order: prior.Order, Values: prior.Values}
		}
	}

	if req.Limit != nil {
		q.Limit = *req.Limit
	}
	if err := e.checkLimit(q.Limit); err != nil {
		return nil, err
	}

	for _, item := range q.Order {
		if f, ok := e.entity.Field(item.Field); ok && f.Nullable {
			return nil, weberrors.Validation(weberrors.InvalidOrder, item.Field, "cursor pagination cannot order by a nullable field")
		}
	}

	return &CursorPlan{Query: q, entity: e.entity}, nil
}

// Metadata builds the page metadata from the rows actually returned. rows
// must carry every ordered field.
func (p *CursorPlan) Metadata(total int64, rows []schema.Row) (*CursorMetadata, error) {
	meta := &CursorMetadata{Limit: p.Query.Limit, Total: total}
	if len(rows) < p.Query.Limit || len(rows) == 0 {
		return meta, nil
	}

	last := rows[len(rows)-1]
	values := make([]interface{}, len(p.Query.Order))
	for i, item := range p.Query.Order {
		field, ok := p.entity.Field(item.Field)
		if !ok {
			return nil, fmt.Errorf("order field %s is not declared", item.Field)
		}
		v, err := field.Coerce(last[item.Field])
		if err != nil {
			return nil, fmt.Errorf("cursor value for %s: %w", item.Field, err)
		}
		values[i] = v
	}

	token, err := encodeToken(kindCursor, cursorState{
		Filter:      p.Query.Filter,
		Order:       p.Query.Order,
		Values:      values,
		Limit:       p.Query.Limit,
		WithDeleted: p.Query.WithDeleted,
	})
	if err != nil {
		return nil, err
	}
	meta.NextCursor = &token
	return meta, nil
}

// canonicalize re-validates a decoded filter and order against the entity
// and restores canonical operand types
func (e *Engine) canonicalize(param string, filter *query.Tree, order query.OrderSpec) error {
	tree, err := e.parser.Validate(*filter)
	if err != nil {
		return weberrors.Validation(weberrors.InvalidToken, param, "token filter is invalid: %v", err)
	}
	if err := e.parser.ValidateOrder(order); err != nil {
		return weberrors.Validation(weberrors.InvalidToken, param, "token order is invalid: %v", err)
	}
	*filter = tree
	return nil
}

func (e *Engine) canonicalValues(order query.OrderSpec, values []interface{}) error {
	if len(values) != len(order) {
		return weberrors.Validation(weberrors.InvalidToken, query.KeyNextCursor, "cursor position does not match its order")
	}
	for i, item := range order {
		field, _ := e.entity.Field(item.Field)
		v, err := field.Coerce(values[i])
		if err != nil {
			return weberrors.Validation(weberrors.InvalidToken, query.KeyNextCursor, "cursor value for %s: %v", item.Field, err)
		}
		values[i] = v
	}
	return nil
}
