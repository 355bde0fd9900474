// Package pagination plans offset and cursor pagination over a filter tree
// and an order specification, and mints the opaque continuation tokens that
// carry a sequence from one page to the next.
package pagination

import (
	"net/url"
	"strconv"
	"strings"

	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// Mode selects a pagination style
type Mode string

const (
	// Offset pages by numeric row offset and a fixed page size
	Offset Mode = "offset"
	// Cursor pages by the key values of the last row seen
	Cursor Mode = "cursor"
)

// ParseMode converts a case-insensitive mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Offset:
		return Offset, nil
	case Cursor:
		return Cursor, nil
	default:
		return "", weberrors.Validation(weberrors.InvalidPagination, "", "unknown pagination type %q", s)
	}
}

// Request holds the raw pagination parameters of one request
type Request struct {
	Limit       *int
	Offset      *int
	FilterToken string
	CursorToken string
}

// ParseRequest reads limit, offset, query and nextCursor from a query string
func ParseRequest(values url.Values) (Request, error) {
	var req Request

	limit, err := intParam(values, query.KeyLimit)
	if err != nil {
		return req, err
	}
	offset, err := intParam(values, query.KeyOffset)
	if err != nil {
		return req, err
	}

	req.Limit = limit
	req.Offset = offset
	req.FilterToken = values.Get(query.KeyQuery)
	req.CursorToken = values.Get(query.KeyNextCursor)
	return req, nil
}

func intParam(values url.Values, key string) (*int, error) {
	raw, ok := values[key]
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw[len(raw)-1]))
	if err != nil {
		return nil, weberrors.Validation(weberrors.InvalidPagination, key, "expected an integer, got %q", raw[len(raw)-1])
	}
	return &n, nil
}

// Validate rejects page-advance parameters that belong to the other mode
func (r Request) Validate(mode Mode) error {
	switch mode {
	case Offset:
		if r.CursorToken != "" {
			return weberrors.Validation(weberrors.InvalidPagination, query.KeyNextCursor, "nextCursor cannot be used with offset pagination")
		}
	case Cursor:
		if r.Offset != nil {
			return weberrors.Validation(weberrors.InvalidPagination, query.KeyOffset, "offset cannot be used with cursor pagination")
		}
		if r.FilterToken != "" {
			return weberrors.Validation(weberrors.InvalidPagination, query.KeyQuery, "query token cannot be used with cursor pagination")
		}
	default:
		return weberrors.Validation(weberrors.InvalidPagination, "", "unknown pagination type %q", string(mode))
	}
	return nil
}

// Keyset is the position after which a cursor page starts
type Keyset struct {
	Order  query.OrderSpec
	Values []interface{}
}

// Tree expands the keyset into a lexicographic predicate:
// (k1 > v1) OR (k1 = v1 AND k2 > v2) OR ... with < for DESC keys.
func (k *Keyset) Tree() query.Tree {
	if k == nil || len(k.Order) == 0 {
		return nil
	}

	tree := make(query.Tree, 0, len(k.Order))
	for i, item := range k.Order {
		group := make(query.Group, 0, i+1)
		for j := 0; j < i; j++ {
			group = append(group, query.Condition{Field: k.Order[j].Field, Operator: query.OpEQ, Operand: k.Values[j]})
		}
		op := query.OpGT
		if item.Direction == query.DESC {
			op = query.OpLT
		}
		group = append(group, query.Condition{Field: item.Field, Operator: op, Operand: k.Values[i]})
		tree = append(tree, group)
	}
	return tree
}

// Query is the normalized read handed to a repository
type Query struct {
	Filter      query.Tree
	Order       query.OrderSpec
	Limit       int
	Offset      int
	After       *Keyset
	WithDeleted bool
}

// Where returns the filter combined with the keyset predicate, if any
func (q Query) Where() query.Tree {
	return q.Filter.And(q.After.Tree())
}
