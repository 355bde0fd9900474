package resource_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/crudgen/internal/orm/memory"
	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/internal/web/resource"
	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
	"github.com/conduit-lang/crudgen/pkg/web/pagination"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

func postEntity() *schema.Entity {
	return schema.NewEntity("Post",
		&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true, Generated: true, Readable: true, Filterable: true, Sortable: true},
		&schema.Field{Name: "name", Type: schema.TypeString, Required: true, Readable: true, Writable: true, Filterable: true, Sortable: true},
		&schema.Field{Name: "type", Type: schema.TypeInt, Nullable: true, Readable: true, Writable: true, Filterable: true, Sortable: true},
		&schema.Field{Name: "deleted_at", Type: schema.TypeTimestamp, Nullable: true, Readable: true, Filterable: true},
	)
}

func newResource(t *testing.T, n int, opts resource.Options) (*resource.Resource, *memory.Store) {
	t.Helper()
	store := memory.New(postEntity())
	for i := 1; i <= n; i++ {
		_, err := store.Create(context.Background(), schema.Row{"name": fmt.Sprintf("post-%03d", i), "type": i % 3})
		require.NoError(t, err)
	}
	res, err := resource.New(store.Entity(), store, opts)
	require.NoError(t, err)
	return res, store
}

func serve(t *testing.T, res *resource.Resource, m resource.Method, req *resource.Request) *resource.Response {
	t.Helper()
	resp, err := res.Serve(context.Background(), m, req)
	require.NoError(t, err)
	return resp
}

func byID(id int64) map[string]string {
	return map[string]string{"id": fmt.Sprint(id)}
}

func pageOf(t *testing.T, resp *resource.Response) *resource.Page {
	t.Helper()
	page, ok := resp.Body.(*resource.Page)
	require.True(t, ok, "expected a page, got %T", resp.Body)
	return page
}

func ids(rows []schema.Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r["id"].(int64)
	}
	return out
}

func TestCreate(t *testing.T) {
	res, _ := newResource(t, 0, resource.Options{})
	ctx := context.Background()

	t.Run("unknown field", func(t *testing.T) {
		_, err := res.Serve(ctx, resource.Create, &resource.Request{Body: []byte(`{"name":"a","extra":1}`)})
		require.Error(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, weberrors.StatusCode(err))

		var verr *weberrors.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, weberrors.InvalidField, verr.Kind)
		assert.Equal(t, "extra", verr.Field)
	})

	t.Run("generated identity", func(t *testing.T) {
		resp := serve(t, res, resource.Create, &resource.Request{Body: []byte(`{"name":"a"}`)})
		assert.Equal(t, http.StatusCreated, resp.Status)

		row := resp.Body.(schema.Row)
		assert.Equal(t, int64(1), row["id"])
		assert.Equal(t, "a", row["name"])
		assert.Contains(t, row, "type")
		assert.Nil(t, row["type"])
	})

	t.Run("many rows", func(t *testing.T) {
		resp := serve(t, res, resource.Create, &resource.Request{Body: []byte(`[{"name":"b","type":1},{"name":"c"}]`)})
		assert.Equal(t, http.StatusCreated, resp.Status)

		rows := resp.Body.([]schema.Row)
		require.Len(t, rows, 2)
		assert.Equal(t, []int64{2, 3}, ids(rows))
		assert.Equal(t, int64(1), rows[0]["type"])
	})

	tests := []struct {
		name string
		body string
		kind weberrors.ValidationKind
	}{
		{"missing required", `{"type":1}`, weberrors.MissingField},
		{"not writable", `{"name":"a","id":5}`, weberrors.InvalidField},
		{"null into non-nullable", `{"name":null}`, weberrors.InvalidField},
		{"wrong type", `{"name":"a","type":"many"}`, weberrors.InvalidField},
		{"not json", `{"name":`, weberrors.InvalidBody},
		{"empty body", ``, weberrors.InvalidBody},
		{"empty array", `[]`, weberrors.InvalidBody},
		{"trailing object", `{"name":"a"}{"x":1}`, weberrors.InvalidBody},
		{"trailing after array", `[{"name":"a"}] 5`, weberrors.InvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := res.Serve(ctx, resource.Create, &resource.Request{Body: []byte(tt.body)})
			require.Error(t, err)

			var verr *weberrors.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.kind, verr.Kind)
		})
	}
}

func TestReadMany_OffsetPages(t *testing.T) {
	res, _ := newResource(t, 100, resource.Options{})

	first := pageOf(t, serve(t, res, resource.ReadMany, &resource.Request{}))
	meta := first.Metadata.(*pagination.OffsetMetadata)
	assert.Equal(t, 1, meta.Page)
	assert.Equal(t, 5, meta.Pages)
	assert.Equal(t, int64(100), meta.Total)
	assert.Equal(t, 20, meta.Offset)
	require.NotEmpty(t, meta.Query)
	require.Len(t, first.Data, 20)
	assert.Equal(t, int64(100), first.Data[0]["id"])

	second := pageOf(t, serve(t, res, resource.ReadMany, &resource.Request{
		Query: url.Values{"query": {meta.Query}, "offset": {"20"}},
	}))
	meta2 := second.Metadata.(*pagination.OffsetMetadata)
	assert.Equal(t, 2, meta2.Page)
	assert.Equal(t, 40, meta2.Offset)
	assert.Equal(t, int64(80), second.Data[0]["id"])
}

func TestReadMany_CursorPages(t *testing.T) {
	res, _ := newResource(t, 100, resource.Options{
		Routes: map[resource.Method]resource.MethodOptions{
			resource.ReadMany: {PaginationType: "cursor", NumberOfTake: 20},
		},
	})

	first := pageOf(t, serve(t, res, resource.ReadMany, &resource.Request{}))
	meta := first.Metadata.(*pagination.CursorMetadata)
	require.NotNil(t, meta.NextCursor)
	assert.Equal(t, 20, meta.Limit)
	assert.Equal(t, int64(100), meta.Total)

	second := pageOf(t, serve(t, res, resource.ReadMany, &resource.Request{
		Query: url.Values{"nextCursor": {*meta.NextCursor}},
	}))
	last := first.Data[len(first.Data)-1]["id"].(int64)
	next := second.Data[0]["id"].(int64)
	assert.Equal(t, last, next+1)

	t.Run("offset parameter is rejected", func(t *testing.T) {
		_, err := res.Serve(context.Background(), resource.ReadMany, &resource.Request{
			Query: url.Values{"offset": {"20"}},
		})
		var verr *weberrors.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, weberrors.InvalidPagination, verr.Kind)
	})
}

func TestReadMany_FilterAndProjection(t *testing.T) {
	res, _ := newResource(t, 30, resource.Options{})

	page := pageOf(t, serve(t, res, resource.ReadMany, &resource.Request{
		Query: url.Values{"type": {"0"}, "sort": {"id"}, "fields": {"id,type"}, "limit": {"5"}},
	}))
	require.Len(t, page.Data, 5)
	assert.Equal(t, []int64{3, 6, 9, 12, 15}, ids(page.Data))
	for _, row := range page.Data {
		assert.Len(t, row, 2)
		assert.Equal(t, int64(0), row["type"])
	}
	assert.Equal(t, int64(10), page.Metadata.(*pagination.OffsetMetadata).Total)

	_, err := res.Serve(context.Background(), resource.ReadMany, &resource.Request{
		Query: url.Values{"nope": {"1"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, weberrors.StatusCode(err))
}

func TestSearch_MatchesQueryString(t *testing.T) {
	res, _ := newResource(t, 30, resource.Options{})

	viaQuery := pageOf(t, serve(t, res, resource.ReadMany, &resource.Request{
		Query: url.Values{"type[in]": {"1,2"}, "name[like]": {"post-01%"}, "sort": {"-name"}},
	}))
	viaBody := pageOf(t, serve(t, res, resource.Search, &resource.Request{
		Body: []byte(`{"where":{"type":{"operator":"in","operand":[1,2]},"name":{"operator":"like","operand":"post-01%"}},"order":{"name":"DESC"}}`),
	}))

	assert.Equal(t, ids(viaQuery.Data), ids(viaBody.Data))
	assert.NotEmpty(t, viaBody.Data)
}

func TestSoftDeleteLifecycle(t *testing.T) {
	res, _ := newResource(t, 5, resource.Options{
		Routes: map[resource.Method]resource.MethodOptions{
			resource.ReadOne: {SoftDelete: resource.Bool(false)},
		},
	})
	ctx := context.Background()

	original := serve(t, res, resource.ReadOne, &resource.Request{Params: byID(3)}).Body.(schema.Row)

	resp := serve(t, res, resource.Delete, &resource.Request{Params: byID(3)})
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.NotNil(t, resp.Body.(schema.Row)["deleted_at"])

	_, err := res.Serve(ctx, resource.ReadOne, &resource.Request{Params: byID(3)})
	assert.Equal(t, http.StatusBadRequest, weberrors.StatusCode(err))

	page := pageOf(t, serve(t, res, resource.ReadMany, &resource.Request{}))
	assert.NotContains(t, ids(page.Data), int64(3))

	t.Run("writes against a deleted row conflict", func(t *testing.T) {
		_, err := res.Serve(ctx, resource.Update, &resource.Request{Params: byID(3), Body: []byte(`{"name":"x"}`)})
		assert.Equal(t, http.StatusConflict, weberrors.StatusCode(err))

		_, err = res.Serve(ctx, resource.Upsert, &resource.Request{Params: byID(3), Body: []byte(`{"name":"x"}`)})
		assert.Equal(t, http.StatusConflict, weberrors.StatusCode(err))

		_, err = res.Serve(ctx, resource.Delete, &resource.Request{Params: byID(3)})
		assert.Equal(t, http.StatusConflict, weberrors.StatusCode(err))
	})

	resp = serve(t, res, resource.Recover, &resource.Request{Params: byID(3)})
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Nil(t, resp.Body.(schema.Row)["deleted_at"])

	restored := serve(t, res, resource.ReadOne, &resource.Request{Params: byID(3)}).Body.(schema.Row)
	assert.Equal(t, original, restored)

	_, err = res.Serve(ctx, resource.Recover, &resource.Request{Params: byID(3)})
	assert.Equal(t, http.StatusConflict, weberrors.StatusCode(err))
}

func TestReadOne_WithDeleted(t *testing.T) {
	res, _ := newResource(t, 2, resource.Options{})
	serve(t, res, resource.Delete, &resource.Request{Params: byID(1)})

	resp := serve(t, res, resource.ReadOne, &resource.Request{Params: byID(1), Query: url.Values{"withDeleted": {"true"}}})
	assert.NotNil(t, resp.Body.(schema.Row)["deleted_at"])
}

func TestAddressing(t *testing.T) {
	res, _ := newResource(t, 2, resource.Options{})
	ctx := context.Background()

	_, err := res.Serve(ctx, resource.ReadOne, &resource.Request{Params: map[string]string{"id": "abc"}})
	assert.Equal(t, http.StatusNotFound, weberrors.StatusCode(err))

	_, err = res.Serve(ctx, resource.ReadOne, &resource.Request{Params: byID(99)})
	assert.Equal(t, http.StatusBadRequest, weberrors.StatusCode(err))

	_, err = res.Serve(ctx, resource.Update, &resource.Request{Params: byID(99), Body: []byte(`{"name":"x"}`)})
	assert.Equal(t, http.StatusBadRequest, weberrors.StatusCode(err))

	resp := serve(t, res, resource.Update, &resource.Request{Params: byID(2), Body: []byte(`{"type":null}`)})
	assert.Equal(t, http.StatusOK, resp.Status)
	row := resp.Body.(schema.Row)
	assert.Equal(t, "post-002", row["name"])
	assert.Nil(t, row["type"])
}

func TestUpsert(t *testing.T) {
	res, _ := newResource(t, 1, resource.Options{})

	resp := serve(t, res, resource.Upsert, &resource.Request{Params: byID(7), Body: []byte(`{"name":"seven"}`)})
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, int64(7), resp.Body.(schema.Row)["id"])

	resp = serve(t, res, resource.Upsert, &resource.Request{Params: byID(7), Body: []byte(`{"name":"SEVEN"}`)})
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "SEVEN", resp.Body.(schema.Row)["name"])

	_, err := res.Serve(context.Background(), resource.Upsert, &resource.Request{Params: byID(8), Body: []byte(`{"type":1}`)})
	var verr *weberrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, weberrors.MissingField, verr.Kind)
}

func TestHardDelete(t *testing.T) {
	res, store := newResource(t, 3, resource.Options{
		Routes: map[resource.Method]resource.MethodOptions{
			resource.Delete: {SoftDelete: resource.Bool(false)},
		},
	})

	resp := serve(t, res, resource.Delete, &resource.Request{Params: byID(2)})
	assert.Equal(t, int64(2), resp.Body.(schema.Row)["id"])
	assert.Equal(t, 2, store.Len())

	_, err := res.Serve(context.Background(), resource.Delete, &resource.Request{Params: byID(2)})
	assert.Equal(t, http.StatusBadRequest, weberrors.StatusCode(err))
}

func TestOnly(t *testing.T) {
	res, _ := newResource(t, 3, resource.Options{Only: []resource.Method{resource.Search, resource.ReadMany}})

	assert.Equal(t, []resource.Method{resource.ReadMany, resource.Search}, res.Descriptors().Methods())

	_, ok := res.Handler(resource.ReadOne)
	assert.False(t, ok)

	_, err := res.Serve(context.Background(), resource.Create, &resource.Request{Body: []byte(`{"name":"a"}`)})
	assert.True(t, weberrors.IsConfiguration(err))

	routes := res.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "GET", routes[0].HTTPMethod)
	assert.Equal(t, "/", routes[0].Pattern)
	assert.Equal(t, "POST", routes[1].HTTPMethod)
	assert.Equal(t, "/search", routes[1].Pattern)
}

func TestOverride(t *testing.T) {
	called := 0
	res, _ := newResource(t, 3, resource.Options{
		Handlers: map[string]resource.Handler{
			"customRead": func(ctx context.Context, req *resource.Request) (*resource.Response, error) {
				called++
				return &resource.Response{Status: http.StatusTeapot, Body: req.Params["id"]}, nil
			},
		},
		Overrides: []resource.Override{{Method: resource.ReadOne, Handler: "customRead"}},
	})

	resp := serve(t, res, resource.ReadOne, &resource.Request{Params: byID(1)})
	assert.Equal(t, http.StatusTeapot, resp.Status)
	assert.Equal(t, "1", resp.Body)
	assert.Equal(t, 1, called)

	resp = serve(t, res, resource.ReadMany, &resource.Request{})
	assert.Len(t, pageOf(t, resp).Data, 3)
	assert.Equal(t, 1, called)

	d, _ := res.Descriptors().Get(resource.ReadOne)
	assert.Equal(t, "customRead", d.Override)
}

func TestInterceptors(t *testing.T) {
	onlyType := func(ctx context.Context, req *resource.Request) (resource.PartialOptions, error) {
		return resource.PartialOptions{
			Filter: query.Tree{{{Field: "type", Operator: query.OpEQ, Operand: "1"}}},
		}, nil
	}
	narrow := func(ctx context.Context, req *resource.Request) (resource.PartialOptions, error) {
		limit := 2
		return resource.PartialOptions{Limit: &limit, Fields: []string{"id"}}, nil
	}

	res, _ := newResource(t, 12, resource.Options{
		Routes: map[resource.Method]resource.MethodOptions{
			resource.ReadMany: {Interceptors: []resource.RequestHook{onlyType, narrow}},
		},
	})

	page := pageOf(t, serve(t, res, resource.ReadMany, &resource.Request{}))
	assert.Equal(t, []int64{10, 7}, ids(page.Data))
	assert.Len(t, page.Data[0], 1)
	assert.Equal(t, int64(4), page.Metadata.(*pagination.OffsetMetadata).Total)

	t.Run("hook values are validated", func(t *testing.T) {
		bad := func(ctx context.Context, req *resource.Request) (resource.PartialOptions, error) {
			return resource.PartialOptions{Filter: query.Tree{{{Field: "secret", Operator: query.OpEQ, Operand: 1}}}}, nil
		}
		res, _ := newResource(t, 1, resource.Options{
			Defaults: resource.MethodOptions{Interceptors: []resource.RequestHook{bad}},
		})
		_, err := res.Serve(context.Background(), resource.ReadMany, &resource.Request{})
		assert.Equal(t, http.StatusUnprocessableEntity, weberrors.StatusCode(err))
	})

	t.Run("hook values for writes are validated", func(t *testing.T) {
		bad := func(ctx context.Context, req *resource.Request) (resource.PartialOptions, error) {
			return resource.PartialOptions{Values: []schema.Row{{"id": 5, "name": "x"}}}, nil
		}
		res, store := newResource(t, 0, resource.Options{
			Routes: map[resource.Method]resource.MethodOptions{
				resource.Create: {Interceptors: []resource.RequestHook{bad}},
			},
		})
		_, err := res.Serve(context.Background(), resource.Create, &resource.Request{Body: []byte(`{"name":"a"}`)})
		assert.Equal(t, http.StatusUnprocessableEntity, weberrors.StatusCode(err))
		assert.Equal(t, 0, store.Len())
	})

	t.Run("hook errors propagate", func(t *testing.T) {
		boom := errors.New("denied")
		failing := func(ctx context.Context, req *resource.Request) (resource.PartialOptions, error) {
			return resource.PartialOptions{}, boom
		}
		res, store := newResource(t, 1, resource.Options{
			Routes: map[resource.Method]resource.MethodOptions{
				resource.Delete: {Interceptors: []resource.RequestHook{failing}},
			},
		})
		_, err := res.Serve(context.Background(), resource.Delete, &resource.Request{Params: byID(1)})
		assert.Same(t, boom, err)
		assert.Equal(t, 1, store.Len())
	})
}

func TestResponseHooks(t *testing.T) {
	strip := func(ctx context.Context, payload interface{}) (interface{}, error) {
		row := payload.(schema.Row)
		delete(row, "deleted_at")
		return row, nil
	}
	blank := func(ctx context.Context, payload interface{}) (interface{}, error) {
		row := payload.(schema.Row)
		row["name"] = nil
		return row, nil
	}

	res, _ := newResource(t, 1, resource.Options{
		Routes: map[resource.Method]resource.MethodOptions{
			resource.ReadOne: {ResponseHooks: []resource.ResponseHook{strip, blank}},
		},
	})

	row := serve(t, res, resource.ReadOne, &resource.Request{Params: byID(1)}).Body.(schema.Row)
	assert.NotContains(t, row, "deleted_at")
	assert.Contains(t, row, "name")
	assert.Nil(t, row["name"])
}

type countingCache struct {
	mu          sync.Mutex
	counts      map[string]int64
	hits        int
	invalidated int
}

func (c *countingCache) Count(ctx context.Context, key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[key]
	if ok {
		c.hits++
	}
	return n, ok
}

func (c *countingCache) StoreCount(ctx context.Context, key string, n int64, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key] = n
}

func (c *countingCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]int64)
	c.invalidated++
	return nil
}

func TestCountCache(t *testing.T) {
	cache := &countingCache{counts: make(map[string]int64)}
	res, _ := newResource(t, 10, resource.Options{CountCache: cache})

	serve(t, res, resource.ReadMany, &resource.Request{})
	serve(t, res, resource.ReadMany, &resource.Request{})
	assert.Equal(t, 1, cache.hits)

	serve(t, res, resource.Create, &resource.Request{Body: []byte(`{"name":"new"}`)})
	assert.Equal(t, 1, cache.invalidated)

	page := pageOf(t, serve(t, res, resource.ReadMany, &resource.Request{}))
	assert.Equal(t, int64(11), page.Metadata.(*pagination.OffsetMetadata).Total)
}

// slowCount holds the first Count open until release is closed
type slowCount struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowCount) Count(ctx context.Context, filter query.Tree, withDeleted bool) (int64, error) {
	n, err := s.Store.Count(ctx, filter, withDeleted)
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return n, err
}

func TestCountCache_WriteDuringCount(t *testing.T) {
	store := memory.New(postEntity())
	for i := 1; i <= 10; i++ {
		_, err := store.Create(context.Background(), schema.Row{"name": fmt.Sprintf("post-%03d", i)})
		require.NoError(t, err)
	}
	repo := &slowCount{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
	cache := &countingCache{counts: make(map[string]int64)}
	res, err := resource.New(store.Entity(), repo, resource.Options{CountCache: cache})
	require.NoError(t, err)

	done := make(chan *resource.Response, 1)
	go func() {
		resp, _ := res.Serve(context.Background(), resource.ReadMany, &resource.Request{})
		done <- resp
	}()

	<-repo.entered
	serve(t, res, resource.Create, &resource.Request{Body: []byte(`{"name":"late"}`)})
	close(repo.release)
	require.NotNil(t, <-done)

	// The total counted before the write must not outlive it
	page := pageOf(t, serve(t, res, resource.ReadMany, &resource.Request{}))
	assert.Equal(t, int64(11), page.Metadata.(*pagination.OffsetMetadata).Total)
	assert.Equal(t, 0, cache.hits)
}

func TestServe_LogsStages(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	res, _ := newResource(t, 1, resource.Options{Logger: zap.New(core)})

	serve(t, res, resource.ReadOne, &resource.Request{Params: byID(1)})

	var stages []string
	for _, entry := range logs.FilterMessage("Pipeline stage").All() {
		stages = append(stages, entry.ContextMap()["stage"].(string))
	}
	assert.Equal(t, []string{"VALIDATED", "OPTIONS_MERGED", "EXECUTED", "SHAPED", "SENT"}, stages)

	_, err := res.Serve(context.Background(), resource.ReadOne, &resource.Request{Params: byID(42)})
	require.Error(t, err)
	rejected := logs.FilterMessage("Request rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, zap.WarnLevel, rejected[0].Level)
}
