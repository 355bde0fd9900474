package crud_test

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/crudgen/internal/orm/crud"
	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/internal/orm/transaction"
	"github.com/conduit-lang/crudgen/internal/web/resource"
	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
	"github.com/conduit-lang/crudgen/pkg/web/pagination"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

var _ resource.Repository = (*crud.Repository)(nil)
var _ resource.BatchCreator = (*crud.Repository)(nil)

func setupSQLite(t *testing.T) *crud.Repository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		type INTEGER,
		deleted_at TIMESTAMP
	)`)
	require.NoError(t, err)

	entity := schema.NewEntity("Post",
		&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true, Generated: true, Readable: true, Filterable: true, Sortable: true},
		&schema.Field{Name: "name", Type: schema.TypeString, Required: true, Readable: true, Writable: true, Filterable: true, Sortable: true},
		&schema.Field{Name: "type", Type: schema.TypeInt, Nullable: true, Readable: true, Writable: true, Filterable: true, Sortable: true},
		&schema.Field{Name: "deleted_at", Type: schema.TypeTimestamp, Nullable: true, Readable: true, Filterable: true},
	)
	entity.Table = "posts"

	return crud.NewRepository(entity, db, crud.SQLite, transaction.NewManager(db))
}

func TestSQLite_Lifecycle(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	created, err := repo.CreateMany(ctx, []schema.Row{
		{"name": "alpha", "type": 1},
		{"name": "beta", "type": 2},
		{"name": "gamma"},
	})
	require.NoError(t, err)
	require.Len(t, created, 3)
	assert.Equal(t, int64(1), created[0]["id"])
	assert.Nil(t, created[2]["type"])

	_, err = repo.Create(ctx, schema.Row{"name": "alpha"})
	assert.True(t, errors.Is(err, weberrors.ErrDuplicate))

	_, err = repo.CreateMany(ctx, []schema.Row{{"name": "delta"}, {"name": "beta"}})
	assert.True(t, errors.Is(err, weberrors.ErrDuplicate))
	n, err := repo.Count(ctx, nil, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "failed batch must not leave rows behind")

	deleted, err := repo.SoftDelete(ctx, schema.Key{"id": int64(2)})
	require.NoError(t, err)
	assert.NotNil(t, deleted["deleted_at"])

	_, err = repo.SoftDelete(ctx, schema.Key{"id": int64(2)})
	assert.True(t, errors.Is(err, weberrors.ErrNoRows))

	live, err := repo.Find(ctx, pagination.Query{Order: query.OrderSpec{{Field: "id", Direction: query.ASC}}})
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, "gamma", live[1]["name"])

	restored, err := repo.Restore(ctx, schema.Key{"id": int64(2)})
	require.NoError(t, err)
	assert.Nil(t, restored["deleted_at"])
	assert.Equal(t, "beta", restored["name"])

	updated, err := repo.Update(ctx, schema.Key{"id": int64(3)}, schema.Row{"type": 7})
	require.NoError(t, err)
	assert.Equal(t, int64(7), updated["type"])

	require.NoError(t, repo.HardDelete(ctx, schema.Key{"id": int64(1)}))
	err = repo.HardDelete(ctx, schema.Key{"id": int64(1)})
	assert.True(t, errors.Is(err, weberrors.ErrNoRows))
}

func TestSQLite_ServesResource(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	for i := 0; i < 45; i++ {
		_, err := repo.Create(ctx, schema.Row{"name": string(rune('A'+i%26)) + string(rune('a'+i/26)), "type": i % 5})
		require.NoError(t, err)
	}

	res, err := resource.New(repo.Entity(), repo, resource.Options{
		Routes: map[resource.Method]resource.MethodOptions{
			resource.ReadMany: {PaginationType: "cursor", NumberOfTake: 20},
		},
	})
	require.NoError(t, err)

	var seen []int64
	values := url.Values{}
	for {
		resp, err := res.Serve(ctx, resource.ReadMany, &resource.Request{Query: values})
		require.NoError(t, err)
		page := resp.Body.(*resource.Page)
		for _, row := range page.Data {
			seen = append(seen, row["id"].(int64))
		}
		meta := page.Metadata.(*pagination.CursorMetadata)
		if meta.NextCursor == nil {
			break
		}
		values = url.Values{"nextCursor": {*meta.NextCursor}}
	}
	require.Len(t, seen, 45)
	assert.Equal(t, int64(45), seen[0])
	assert.Equal(t, int64(1), seen[44])

	resp, err := res.Serve(ctx, resource.Create, &resource.Request{Body: []byte(`{"name":"Aa"}`)})
	assert.Nil(t, resp)
	assert.Equal(t, http.StatusConflict, weberrors.StatusCode(err))
}
