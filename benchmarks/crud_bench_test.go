package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/conduit-lang/crudgen/internal/orm/memory"
	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/internal/web/middleware"
	"github.com/conduit-lang/crudgen/internal/web/resource"
	"github.com/conduit-lang/crudgen/internal/web/router"
	"github.com/conduit-lang/crudgen/pkg/web/pagination"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

func postEntity() *schema.Entity {
	return schema.NewEntity("Post",
		&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true, Generated: true, Readable: true, Filterable: true, Sortable: true},
		&schema.Field{Name: "name", Type: schema.TypeString, Required: true, Readable: true, Writable: true, Filterable: true, Sortable: true},
		&schema.Field{Name: "type", Type: schema.TypeInt, Readable: true, Writable: true, Filterable: true, Sortable: true},
		&schema.Field{Name: "deleted_at", Type: schema.TypeTimestamp, Nullable: true, Readable: true, Filterable: true},
	)
}

// newRouter serves n seeded posts through the full middleware stack
func newRouter(b *testing.B, n int, opts resource.Options) *router.Router {
	b.Helper()
	store := memory.New(postEntity())
	for i := 1; i <= n; i++ {
		if _, err := store.Create(context.Background(), schema.Row{"name": fmt.Sprintf("post-%04d", i), "type": i % 5}); err != nil {
			b.Fatal(err)
		}
	}
	res, err := resource.New(store.Entity(), store, opts)
	if err != nil {
		b.Fatal(err)
	}

	r := router.NewRouter(router.Config{BasePath: "/api"},
		middleware.RequestID(),
		middleware.Recovery(nil),
	)
	if _, err := r.Mount(res); err != nil {
		b.Fatal(err)
	}
	return r
}

func get(b *testing.B, h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusOK {
		b.Fatalf("GET %s: %d %s", target, rec.Code, rec.Body.String())
	}
	return rec
}

// BenchmarkParseConditions measures query-string filter parsing
func BenchmarkParseConditions(b *testing.B) {
	p := query.NewParser(postEntity())
	values, err := url.ParseQuery("type[in]=1,2,3&name[like]=post-%25&id[gte]=10&deleted_at[null]=true")
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.ParseValues(values); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCursorToken measures minting a next cursor and resuming from it
func BenchmarkCursorToken(b *testing.B) {
	store := memory.New(postEntity())
	for i := 1; i <= 50; i++ {
		if _, err := store.Create(context.Background(), schema.Row{"name": fmt.Sprintf("post-%04d", i), "type": i % 5}); err != nil {
			b.Fatal(err)
		}
	}
	engine, err := pagination.NewEngine(store.Entity(), nil, 100)
	if err != nil {
		b.Fatal(err)
	}
	limit := 20
	plan, err := engine.PlanCursor(pagination.Input{Request: pagination.Request{Limit: &limit}})
	if err != nil {
		b.Fatal(err)
	}
	rows, err := store.Find(context.Background(), plan.Query)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		meta, err := plan.Metadata(50, rows)
		if err != nil {
			b.Fatal(err)
		}
		if meta.NextCursor == nil {
			b.Fatal("expected a next cursor")
		}
		if _, err := engine.PlanCursor(pagination.Input{Request: pagination.Request{CursorToken: *meta.NextCursor}}); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkReadManyOffset measures a filtered, sorted offset page
func BenchmarkReadManyOffset(b *testing.B) {
	r := newRouter(b, 1000, resource.Options{})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		get(b, r, "/api/posts?type=1,2&sort=-name&offset=40&limit=20")
	}
}

// BenchmarkReadManyCursor walks five pages by following the next token
func BenchmarkReadManyCursor(b *testing.B) {
	r := newRouter(b, 1000, resource.Options{
		Routes: map[resource.Method]resource.MethodOptions{
			resource.ReadMany: {PaginationType: "cursor", NumberOfTake: 20},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		target := "/api/posts?type[gte]=1"
		for page := 0; page < 5; page++ {
			rec := get(b, r, target)
			var body struct {
				Metadata struct {
					NextCursor string `json:"nextCursor"`
				} `json:"metadata"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				b.Fatal(err)
			}
			if body.Metadata.NextCursor == "" {
				break
			}
			target = "/api/posts?nextCursor=" + url.QueryEscape(body.Metadata.NextCursor)
		}
	}
}

// BenchmarkCreate measures single-row creation including validation
func BenchmarkCreate(b *testing.B) {
	r := newRouter(b, 0, resource.Options{})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader(`{"name":"bench","type":3}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			b.Fatalf("create: %d %s", rec.Code, rec.Body.String())
		}
	}
}
