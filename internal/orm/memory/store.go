// Package memory implements an in-process repository over a slice of rows.
// It evaluates filter trees, keyset predicates and orderings the same way the
// SQL repository renders them, which makes it suitable for tests and for the
// demo mode of the CLI.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
	"github.com/conduit-lang/crudgen/pkg/web/pagination"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// Store is a concurrency-safe in-memory repository for one entity
type Store struct {
	entity *schema.Entity
	mu     sync.RWMutex
	rows   []schema.Row
	nextID int64

	// Now returns the timestamps written to deleted_at, created_at and
	// updated_at. Defaults to time.Now in UTC.
	Now func() time.Time
}

// New creates an empty store for an entity
func New(entity *schema.Entity) *Store {
	return &Store{
		entity: entity,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Entity returns the entity the store holds
func (s *Store) Entity() *schema.Entity {
	return s.entity
}

// Len returns the number of stored rows, including soft-deleted ones
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Find returns the rows matching the query in order
func (s *Store) Find(ctx context.Context, q pagination.Query) ([]schema.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	where := q.Where()
	var matched []schema.Row
	for _, row := range s.rows {
		if s.visible(row, q.WithDeleted) && Matches(where, row) {
			matched = append(matched, row)
		}
	}

	SortRows(matched, q.Order)

	if q.Offset >= len(matched) {
		return []schema.Row{}, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]schema.Row, len(matched))
	for i, row := range matched {
		out[i] = copyRow(row)
	}
	return out, nil
}

// Count returns the number of rows matching the filter
func (s *Store) Count(ctx context.Context, filter query.Tree, withDeleted bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, row := range s.rows {
		if s.visible(row, withDeleted) && Matches(filter, row) {
			n++
		}
	}
	return n, nil
}

// Create inserts a row, assigning generated identity values
func (s *Store) Create(ctx context.Context, row schema.Row) (schema.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.insert(row)
	if err != nil {
		return nil, err
	}
	return copyRow(created), nil
}

// CreateMany inserts every row or none of them
func (s *Store) CreateMany(ctx context.Context, rows []schema.Row) ([]schema.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, nextID := len(s.rows), s.nextID
	out := make([]schema.Row, 0, len(rows))
	for i, row := range rows {
		created, err := s.insert(row)
		if err != nil {
			s.rows, s.nextID = s.rows[:snapshot], nextID
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, copyRow(created))
	}
	return out, nil
}

func (s *Store) insert(row schema.Row) (schema.Row, error) {
	normalized, err := s.entity.Normalize(row)
	if err != nil {
		return nil, err
	}

	stored := make(schema.Row, len(s.entity.Fields))
	for _, f := range s.entity.Fields {
		stored[f.Name] = normalized[f.Name]
	}

	for _, f := range s.entity.Fields {
		if !f.Generated || stored[f.Name] != nil {
			continue
		}
		switch f.Type {
		case schema.TypeInt:
			s.nextID++
			stored[f.Name] = s.nextID
		case schema.TypeUUID:
			stored[f.Name] = uuid.NewString()
		case schema.TypeTimestamp:
			stored[f.Name] = s.Now()
		}
	}
	s.touch(stored, true)

	// keep the integer sequence ahead of explicitly supplied ids
	for _, name := range s.entity.Identity() {
		if id, ok := stored[name].(int64); ok && id > s.nextID {
			s.nextID = id
		}
	}

	key := s.entity.KeyOf(stored)
	if s.indexOf(key) >= 0 {
		return nil, fmt.Errorf("%s %v: %w", s.entity.Name, map[string]interface{}(key), weberrors.ErrDuplicate)
	}

	s.rows = append(s.rows, stored)
	return stored, nil
}

// Update applies a partial row to the row with the given key
func (s *Store) Update(ctx context.Context, key schema.Key, patch schema.Row) (schema.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized, err := s.entity.Normalize(patch)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(key)
	if i < 0 {
		return nil, s.noRows(key)
	}

	updated := copyRow(s.rows[i])
	for name, v := range normalized {
		updated[name] = v
	}
	s.touch(updated, false)

	if !s.sameKey(key, updated) && s.indexOf(s.entity.KeyOf(updated)) >= 0 {
		return nil, fmt.Errorf("%s %v: %w", s.entity.Name, map[string]interface{}(s.entity.KeyOf(updated)), weberrors.ErrDuplicate)
	}

	s.rows[i] = updated
	return copyRow(updated), nil
}

// SoftDelete stamps the deletion timestamp of a row
func (s *Store) SoftDelete(ctx context.Context, key schema.Key) (schema.Row, error) {
	if !s.entity.SupportsSoftDelete() {
		return nil, fmt.Errorf("%s does not support soft deletion", s.entity.Name)
	}
	return s.Update(ctx, key, schema.Row{s.entity.DeletedAtField: s.Now()})
}

// Restore clears the deletion timestamp of a row
func (s *Store) Restore(ctx context.Context, key schema.Key) (schema.Row, error) {
	if !s.entity.SupportsSoftDelete() {
		return nil, fmt.Errorf("%s does not support soft deletion", s.entity.Name)
	}
	return s.Update(ctx, key, schema.Row{s.entity.DeletedAtField: nil})
}

// HardDelete removes a row
func (s *Store) HardDelete(ctx context.Context, key schema.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(key)
	if i < 0 {
		return s.noRows(key)
	}
	s.rows = append(s.rows[:i], s.rows[i+1:]...)
	return nil
}

func (s *Store) visible(row schema.Row, withDeleted bool) bool {
	return withDeleted || !s.entity.IsDeleted(row)
}

func (s *Store) touch(row schema.Row, created bool) {
	now := s.Now()
	if created && s.entity.CreatedAtField != "" && row[s.entity.CreatedAtField] == nil {
		row[s.entity.CreatedAtField] = now
	}
	if s.entity.UpdatedAtField != "" {
		row[s.entity.UpdatedAtField] = now
	}
}

func (s *Store) indexOf(key schema.Key) int {
	for i, row := range s.rows {
		if s.sameKey(key, row) {
			return i
		}
	}
	return -1
}

func (s *Store) sameKey(key schema.Key, row schema.Row) bool {
	for _, name := range s.entity.Identity() {
		if !schema.Equal(key[name], row[name]) {
			return false
		}
	}
	return true
}

func (s *Store) noRows(key schema.Key) error {
	return fmt.Errorf("%s %v: %w", s.entity.Name, map[string]interface{}(key), weberrors.ErrNoRows)
}

func copyRow(row schema.Row) schema.Row {
	out := make(schema.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// SortRows orders rows in place. Nulls sort after every value in ascending
// order and before every value in descending order.
func SortRows(rows []schema.Row, order query.OrderSpec) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, item := range order {
			c := compareNullable(rows[i][item.Field], rows[j][item.Field])
			if c == 0 {
				continue
			}
			if item.Direction == query.DESC {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareNullable(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return schema.Compare(a, b)
	}
}
