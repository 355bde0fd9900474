package resource

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
	"github.com/conduit-lang/crudgen/pkg/web/pagination"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// Page is the payload of read-many and search
type Page struct {
	Data     []schema.Row `json:"data"`
	Metadata interface{}  `json:"metadata"`
}

// execute performs the repository call for the method and returns the
// status and the unshaped payload
func (r *Resource) execute(ctx context.Context, d Descriptor, opts *options) (int, interface{}, error) {
	switch d.Method {
	case ReadOne:
		return r.readOne(ctx, opts)
	case ReadMany, Search:
		return r.readMany(ctx, d, opts)
	case Create:
		return r.create(ctx, opts)
	case Update:
		return r.update(ctx, opts)
	case Upsert:
		return r.upsert(ctx, opts)
	case Delete:
		return r.delete(ctx, d, opts)
	case Recover:
		return r.restore(ctx, opts)
	default:
		return 0, nil, fmt.Errorf("no generated handler for %s", d.Method)
	}
}

// lookup fetches a row by key regardless of its deletion state
func (r *Resource) lookup(ctx context.Context, key schema.Key) (schema.Row, error) {
	rows, err := r.repo.Find(ctx, pagination.Query{
		Filter:      keyFilter(r.entity, key),
		Limit:       1,
		WithDeleted: true,
	})
	if err != nil {
		return nil, r.storageError(key, err)
	}
	if len(rows) == 0 {
		return nil, &weberrors.NotFoundError{Entity: r.entity.Name, Key: key}
	}
	return rows[0], nil
}

func (r *Resource) readOne(ctx context.Context, opts *options) (int, interface{}, error) {
	row, err := r.lookup(ctx, opts.key)
	if err != nil {
		return 0, nil, err
	}
	if r.entity.IsDeleted(row) && !opts.withDeleted {
		return 0, nil, &weberrors.NotFoundError{Entity: r.entity.Name, Key: opts.key, Reason: "row is soft-deleted"}
	}
	return http.StatusOK, project(r.entity, row, opts.fields), nil
}

func (r *Resource) readMany(ctx context.Context, d Descriptor, opts *options) (int, interface{}, error) {
	in := pagination.Input{
		Filter:         opts.filter,
		FilterSet:      opts.filterSet,
		Order:          opts.order,
		OrderSet:       opts.orderSet,
		WithDeleted:    opts.withDeleted,
		WithDeletedSet: opts.withDeletedSet,
		DefaultLimit:   d.NumberOfTake,
		Request:        opts.page,
	}
	if !opts.orderSet {
		in.Order = d.Sort
	}

	if d.PaginationType == pagination.Cursor {
		plan, err := r.engine.PlanCursor(in)
		if err != nil {
			return 0, nil, err
		}
		rows, total, err := r.findAndCount(ctx, plan.Query)
		if err != nil {
			return 0, nil, err
		}
		meta, err := plan.Metadata(total, rows)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, &Page{Data: projectAll(r.entity, rows, opts.fields), Metadata: meta}, nil
	}

	plan, err := r.engine.PlanOffset(in)
	if err != nil {
		return 0, nil, err
	}
	rows, total, err := r.findAndCount(ctx, plan.Query)
	if err != nil {
		return 0, nil, err
	}
	meta, err := plan.Metadata(total, len(rows))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, &Page{Data: projectAll(r.entity, rows, opts.fields), Metadata: meta}, nil
}

// findAndCount runs the page query and the total count concurrently
func (r *Resource) findAndCount(ctx context.Context, q pagination.Query) ([]schema.Row, int64, error) {
	var (
		rows  []schema.Row
		total int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = r.repo.Find(gctx, q)
		if err != nil {
			return r.storageError(nil, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		total, err = r.count(gctx, q.Filter, q.WithDeleted)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	if rows == nil {
		rows = []schema.Row{}
	}
	return rows, total, nil
}

// count returns the filtered total, consulting the count cache when one is
// configured
func (r *Resource) count(ctx context.Context, filter query.Tree, withDeleted bool) (int64, error) {
	var key string
	if r.counts != nil {
		fp, err := pagination.Fingerprint(filter, withDeleted)
		if err != nil {
			return 0, err
		}
		key = fp
		if n, ok := r.counts.Count(ctx, key); ok {
			return n, nil
		}
	}

	gen := r.countGen.Load()
	n, err := r.repo.Count(ctx, filter, withDeleted)
	if err != nil {
		return 0, r.storageError(nil, err)
	}

	if r.counts != nil && r.countGen.Load() == gen {
		r.counts.StoreCount(ctx, key, n, r.countTTL)
		// A write that invalidated after the check above may have been
		// cleared before the store landed
		if r.countGen.Load() != gen {
			r.invalidate(ctx)
		}
	}
	return n, nil
}

// invalidate drops cached totals after a successful write
func (r *Resource) invalidate(ctx context.Context) {
	if r.counts == nil {
		return
	}
	r.countGen.Add(1)
	if err := r.counts.Invalidate(ctx); err != nil {
		r.logger.Warn("Failed to invalidate count cache", zap.Error(err))
	}
}

func (r *Resource) create(ctx context.Context, opts *options) (int, interface{}, error) {
	var created []schema.Row
	if batch, ok := r.repo.(BatchCreator); ok && len(opts.values) > 1 {
		rows, err := batch.CreateMany(ctx, opts.values)
		if err != nil {
			return 0, nil, r.storageError(nil, err)
		}
		created = rows
	} else {
		for _, values := range opts.values {
			row, err := r.repo.Create(ctx, values)
			if err != nil {
				return 0, nil, r.storageError(r.entity.KeyOf(values), err)
			}
			created = append(created, row)
		}
	}
	r.invalidate(ctx)

	if opts.many {
		return http.StatusCreated, projectAll(r.entity, created, opts.fields), nil
	}
	return http.StatusCreated, project(r.entity, created[0], opts.fields), nil
}

// live fetches a row that must exist and must not be soft-deleted
func (r *Resource) live(ctx context.Context, key schema.Key) (schema.Row, error) {
	row, err := r.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if r.entity.IsDeleted(row) {
		return nil, &weberrors.ConflictError{Entity: r.entity.Name, Key: key, Reason: "row is soft-deleted"}
	}
	return row, nil
}

func (r *Resource) update(ctx context.Context, opts *options) (int, interface{}, error) {
	if _, err := r.live(ctx, opts.key); err != nil {
		return 0, nil, err
	}
	row, err := r.repo.Update(ctx, opts.key, opts.values[0])
	if err != nil {
		return 0, nil, r.storageError(opts.key, err)
	}
	r.invalidate(ctx)
	return http.StatusOK, project(r.entity, row, opts.fields), nil
}

func (r *Resource) upsert(ctx context.Context, opts *options) (int, interface{}, error) {
	_, err := r.live(ctx, opts.key)
	switch {
	case err == nil:
		row, err := r.repo.Update(ctx, opts.key, opts.values[0])
		if err != nil {
			return 0, nil, r.storageError(opts.key, err)
		}
		r.invalidate(ctx)
		return http.StatusOK, project(r.entity, row, opts.fields), nil

	case weberrors.IsNotFound(err):
		values := make(schema.Row, len(opts.values[0])+len(opts.key))
		for k, v := range opts.values[0] {
			values[k] = v
		}
		for k, v := range opts.key {
			values[k] = v
		}
		if err := checkRequired(r.entity, values); err != nil {
			return 0, nil, err
		}
		row, err := r.repo.Create(ctx, values)
		if err != nil {
			return 0, nil, r.storageError(opts.key, err)
		}
		r.invalidate(ctx)
		return http.StatusCreated, project(r.entity, row, opts.fields), nil

	default:
		return 0, nil, err
	}
}

func (r *Resource) delete(ctx context.Context, d Descriptor, opts *options) (int, interface{}, error) {
	if d.SoftDelete {
		if _, err := r.live(ctx, opts.key); err != nil {
			return 0, nil, err
		}
		row, err := r.repo.SoftDelete(ctx, opts.key)
		if err != nil {
			return 0, nil, r.storageError(opts.key, err)
		}
		r.invalidate(ctx)
		return http.StatusOK, project(r.entity, row, opts.fields), nil
	}

	row, err := r.lookup(ctx, opts.key)
	if err != nil {
		return 0, nil, err
	}
	if err := r.repo.HardDelete(ctx, opts.key); err != nil {
		return 0, nil, r.storageError(opts.key, err)
	}
	r.invalidate(ctx)
	return http.StatusOK, project(r.entity, row, opts.fields), nil
}

func (r *Resource) restore(ctx context.Context, opts *options) (int, interface{}, error) {
	row, err := r.lookup(ctx, opts.key)
	if err != nil {
		return 0, nil, err
	}
	if !r.entity.IsDeleted(row) {
		return 0, nil, &weberrors.ConflictError{Entity: r.entity.Name, Key: opts.key, Reason: "row is not soft-deleted"}
	}
	row, err = r.repo.Restore(ctx, opts.key)
	if err != nil {
		return 0, nil, r.storageError(opts.key, err)
	}
	r.invalidate(ctx)
	return http.StatusCreated, project(r.entity, row, opts.fields), nil
}

// keyFilter matches exactly the row identified by key
func keyFilter(entity *schema.Entity, key schema.Key) query.Tree {
	group := make(query.Group, 0, len(key))
	for _, name := range entity.Identity() {
		group = append(group, query.Condition{Field: name, Operator: query.OpEQ, Operand: key[name]})
	}
	return query.Tree{group}
}
