package resource

import (
	"context"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
	"github.com/conduit-lang/crudgen/pkg/web/pagination"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// options is the merged, validated state of one request. The *Set flags
// record whether the request or a hook supplied the value; route defaults
// never count as supplied.
type options struct {
	key schema.Key

	fields []string

	filter    query.Tree
	filterSet bool

	order    query.OrderSpec
	orderSet bool

	withDeleted    bool
	withDeletedSet bool

	page pagination.Request

	values []schema.Row
	many   bool
}

// parse validates the base request for the descriptor's method
func (r *Resource) parse(d Descriptor, req *Request) (*options, error) {
	values := req.Query
	opts := &options{withDeleted: d.SoftDelete}

	fields, err := r.parser.ParseFields(values)
	if err != nil {
		return nil, err
	}
	opts.fields = fields

	if d.Method.Addressed() {
		if opts.key, err = r.parseKey(req.Params); err != nil {
			return nil, err
		}
	}

	switch d.Method {
	case ReadOne:
		if err := r.parseWithDeleted(values, opts); err != nil {
			return nil, err
		}

	case ReadMany:
		if opts.filter, err = r.parser.ParseValues(values); err != nil {
			return nil, err
		}
		opts.filterSet = !opts.filter.Empty()

		sort, err := r.parser.ParseSort(values)
		if err != nil {
			return nil, err
		}
		opts.order, opts.orderSet = sort, sort != nil

		if err := r.parseWithDeleted(values, opts); err != nil {
			return nil, err
		}
		if opts.page, err = pagination.ParseRequest(values); err != nil {
			return nil, err
		}

	case Search:
		search, err := r.parser.ParseSearch(req.Body)
		if err != nil {
			return nil, err
		}
		if search.Select != nil {
			opts.fields = search.Select
		}
		opts.filter, opts.filterSet = search.Where, !search.Where.Empty()
		opts.order, opts.orderSet = search.Order, search.Order != nil
		if search.WithDeleted != nil {
			opts.withDeleted, opts.withDeletedSet = *search.WithDeleted, true
		}
		opts.page = pagination.Request{
			Limit:       search.Take,
			Offset:      search.Offset,
			FilterToken: search.Query,
			CursorToken: search.NextCursor,
		}

	case Create:
		rows, many, err := decodeRows(req.Body, true)
		if err != nil {
			return nil, err
		}
		opts.values, opts.many = rows, many

	case Update, Upsert:
		rows, _, err := decodeRows(req.Body, false)
		if err != nil {
			return nil, err
		}
		opts.values = rows
	}

	if err := r.validateValues(d.Method, opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func (r *Resource) parseWithDeleted(values map[string][]string, opts *options) error {
	withDeleted, set, err := r.parser.ParseWithDeleted(values)
	if err != nil {
		return err
	}
	if set {
		opts.withDeleted, opts.withDeletedSet = withDeleted, true
	}
	return nil
}

// parseKey coerces the path parameters into the row key. A value that cannot
// identify any row is reported as a malformed key.
func (r *Resource) parseKey(params map[string]string) (schema.Key, error) {
	key := make(schema.Key, len(r.entity.Identity()))
	for _, name := range r.entity.Identity() {
		raw, ok := params[name]
		if !ok || raw == "" {
			return nil, &weberrors.NotFoundError{Entity: r.entity.Name, Malformed: true, Reason: "missing " + name}
		}
		field, _ := r.entity.Field(name)
		v, err := field.Coerce(raw)
		if err != nil {
			return nil, &weberrors.NotFoundError{Entity: r.entity.Name, Key: map[string]interface{}{name: raw}, Malformed: true, Reason: err.Error()}
		}
		key[name] = v
	}
	return key, nil
}

// intercept runs the request hooks in order and merges their results. Any
// replaced option is validated again before the repository sees it.
func (r *Resource) intercept(ctx context.Context, d Descriptor, req *Request, opts *options) error {
	if len(d.Interceptors) == 0 {
		return nil
	}

	for _, hook := range d.Interceptors {
		partial, err := hook(ctx, req)
		if err != nil {
			return err
		}
		opts.merge(partial)
	}

	if err := r.parser.ValidateFields(opts.fields); err != nil {
		return err
	}
	filter, err := r.parser.Validate(opts.filter)
	if err != nil {
		return err
	}
	opts.filter = filter
	if err := r.parser.ValidateOrder(opts.order); err != nil {
		return err
	}
	return r.validateValues(d.Method, opts)
}

func (o *options) merge(p PartialOptions) {
	if p.Fields != nil {
		o.fields = p.Fields
	}
	if p.WithDeleted != nil {
		o.withDeleted, o.withDeletedSet = *p.WithDeleted, true
	}
	if p.Filter != nil {
		o.filter, o.filterSet = p.Filter, true
	}
	if p.Order != nil {
		o.order, o.orderSet = p.Order, true
	}
	if p.Limit != nil {
		limit := *p.Limit
		o.page.Limit = &limit
	}
	if p.Values != nil {
		o.values = p.Values
		o.many = len(p.Values) > 1 || o.many
	}
}

// validateValues checks body rows for the write methods
func (r *Resource) validateValues(m Method, opts *options) error {
	var mode writeMode
	switch m {
	case Create:
		mode = modeCreate
	case Update:
		mode = modeUpdate
	case Upsert:
		mode = modeUpsert
	default:
		return nil
	}

	if len(opts.values) == 0 {
		return weberrors.Validation(weberrors.InvalidBody, "", "at least one row is required")
	}
	if m != Create && len(opts.values) != 1 {
		return weberrors.Validation(weberrors.InvalidBody, "", "%s accepts a single row", m)
	}

	for i, row := range opts.values {
		valid, err := validateRow(r.entity, row, mode)
		if err != nil {
			return err
		}
		opts.values[i] = valid
	}
	return nil
}

// shape runs the response hooks in order over the payload
func shape(ctx context.Context, hooks []ResponseHook, payload interface{}) (interface{}, error) {
	for _, hook := range hooks {
		var err error
		if payload, err = hook(ctx, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}
