package resource

import (
	"context"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/pkg/web/pagination"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// Repository is the storage boundary of the generated endpoints.
// Implementations wrap errors.ErrDuplicate when a write collides with an
// existing key and errors.ErrNoRows when a keyed mutation matches nothing.
type Repository interface {
	// Find returns the rows matching q.Where() in q.Order, honouring
	// q.Limit, q.Offset and q.WithDeleted
	Find(ctx context.Context, q pagination.Query) ([]schema.Row, error)

	// Count returns the number of rows matching the filter
	Count(ctx context.Context, filter query.Tree, withDeleted bool) (int64, error)

	Create(ctx context.Context, row schema.Row) (schema.Row, error)
	Update(ctx context.Context, key schema.Key, patch schema.Row) (schema.Row, error)
	SoftDelete(ctx context.Context, key schema.Key) (schema.Row, error)
	HardDelete(ctx context.Context, key schema.Key) error
	Restore(ctx context.Context, key schema.Key) (schema.Row, error)
}

// BatchCreator is implemented by repositories that can create several rows
// atomically. Without it, multi-row creates fall back to one Create per row.
type BatchCreator interface {
	CreateMany(ctx context.Context, rows []schema.Row) ([]schema.Row, error)
}
