package query

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
)

// Parser parses and validates filter, selection and sort input for one entity
type Parser struct {
	entity *schema.Entity
}

// NewParser creates a parser bound to an entity's field metadata
func NewParser(entity *schema.Entity) *Parser {
	return &Parser{entity: entity}
}

// Entity returns the entity the parser validates against
func (p *Parser) Entity() *schema.Entity {
	return p.entity
}

// ParseValues parses the filter conditions of a query string. Every
// non-reserved key is a filter; the result is a single AND-group, validated
// and normalized.
func (p *Parser) ParseValues(values url.Values) (Tree, error) {
	conditions, err := collectFilters(values)
	if err != nil {
		return nil, err
	}
	if len(conditions) == 0 {
		return nil, nil
	}
	return p.Validate(Tree{Group(conditions)})
}

// ParseFields parses the field selection list. An absent key returns nil,
// meaning every readable field.
func (p *Parser) ParseFields(values url.Values) ([]string, error) {
	fields, found := collectList(values, KeyFields)
	if !found {
		return nil, nil
	}
	if err := p.ValidateFields(fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// ParseSort parses "sort=-id,name" (and the equivalent list encodings) into an
// OrderSpec. An absent key returns nil.
func (p *Parser) ParseSort(values url.Values) (OrderSpec, error) {
	tokens, found := collectList(values, KeySort)
	if !found {
		return nil, nil
	}

	order := make(OrderSpec, 0, len(tokens))
	for _, tok := range tokens {
		item := OrderItem{Field: tok, Direction: ASC}
		switch {
		case strings.HasPrefix(tok, "-"):
			item = OrderItem{Field: tok[1:], Direction: DESC}
		case strings.HasPrefix(tok, "+"):
			item.Field = tok[1:]
		}
		order = append(order, item)
	}

	if err := p.ValidateOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}

// ParseWithDeleted reads the withDeleted flag. The second result reports
// whether the flag was supplied.
func (p *Parser) ParseWithDeleted(values url.Values) (bool, bool, error) {
	raw, ok := values[KeyWithDeleted]
	if !ok || len(raw) == 0 {
		return false, false, nil
	}
	v := strings.TrimSpace(raw[len(raw)-1])
	if v == "" {
		return true, true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false, weberrors.Validation(weberrors.InvalidField, KeyWithDeleted, "expected a boolean, got %q", v)
	}
	return b, true, nil
}

// Validate checks every condition against the field metadata, coerces
// operands and returns the normalized tree.
func (p *Parser) Validate(tree Tree) (Tree, error) {
	out := make(Tree, 0, len(tree))
	for _, group := range tree {
		g := make(Group, 0, len(group))
		for _, cond := range group {
			c, err := canonicalCondition(p.entity, cond)
			if err != nil {
				return nil, err
			}
			g = append(g, c)
		}
		out = append(out, g)
	}
	return out.normalize(), nil
}

// ValidateOrder checks that every field exists, is sortable and appears once
func (p *Parser) ValidateOrder(order OrderSpec) error {
	seen := make(map[string]bool, len(order))
	for _, item := range order {
		field, ok := p.entity.Field(item.Field)
		if !ok {
			return weberrors.Validation(weberrors.InvalidOrder, item.Field, "unknown field")
		}
		if !field.Sortable {
			return weberrors.Validation(weberrors.InvalidOrder, item.Field, "field is not sortable")
		}
		if item.Direction != ASC && item.Direction != DESC {
			return weberrors.Validation(weberrors.InvalidOrder, item.Field, "unknown direction %q", string(item.Direction))
		}
		if seen[item.Field] {
			return weberrors.Validation(weberrors.InvalidOrder, item.Field, "field ordered more than once")
		}
		seen[item.Field] = true
	}
	return nil
}

// ValidateFields checks that every selected field exists and is readable
func (p *Parser) ValidateFields(fields []string) error {
	for _, name := range fields {
		field, ok := p.entity.Field(name)
		if !ok {
			return weberrors.Validation(weberrors.InvalidField, name, "unknown field")
		}
		if !field.Readable {
			return weberrors.Validation(weberrors.InvalidField, name, "field is not readable")
		}
	}
	return nil
}
