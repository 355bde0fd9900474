package resource

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/internal/web/middleware"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// Request is the transport-agnostic view of an incoming call
type Request struct {
	// Params holds path parameters keyed by identity field name
	Params map[string]string
	Query  url.Values
	Body   []byte
	Header http.Header
}

// Response is the outcome of a call, rendered by the transport
type Response struct {
	Status int
	Body   interface{}
}

// Handler serves one method. Overrides registered through Options.Handlers
// share the signature of the generated handlers.
type Handler func(ctx context.Context, req *Request) (*Response, error)

// RequestHook runs after the base request is validated and before the
// repository call. Non-nil fields of the result replace the computed options.
type RequestHook func(ctx context.Context, req *Request) (PartialOptions, error)

// ResponseHook transforms the payload after the repository call. Rows are
// schema.Row values: a key set to nil renders as null, a deleted key is
// omitted.
type ResponseHook func(ctx context.Context, payload interface{}) (interface{}, error)

// PartialOptions is the result of a request hook. Nil fields leave the
// computed option untouched.
type PartialOptions struct {
	Fields      []string
	WithDeleted *bool
	Filter      query.Tree
	Order       query.OrderSpec
	Limit       *int
	Values      []schema.Row
}

// Docs carries documentation overrides for a method
type Docs struct {
	Summary     string
	Description string
	Tags        []string
	Deprecated  bool
}

// MethodOptions configures one method, or every method when used as
// Options.Defaults. Zero values inherit from the enclosing level.
type MethodOptions struct {
	// SoftDelete on DELETE selects a soft delete (default when the entity
	// has a deletion timestamp). On read methods it includes soft-deleted
	// rows in results (default false).
	SoftDelete     *bool
	PaginationType string
	NumberOfTake   int
	Sort           query.OrderSpec
	Interceptors   []RequestHook
	ResponseHooks  []ResponseHook
	Decorators     []middleware.Middleware
	Docs           *Docs
}

// Override wires a named handler from Options.Handlers in place of a
// generated method
type Override struct {
	Method  Method
	Handler string
}

// CountCache memoizes totals for read-many and search. Implementations
// must be safe for concurrent use.
type CountCache interface {
	Count(ctx context.Context, key string) (int64, bool)
	StoreCount(ctx context.Context, key string, n int64, ttl time.Duration)
	Invalidate(ctx context.Context) error
}

// Options configures the generated endpoints of one entity
type Options struct {
	// Only restricts generation to the listed methods. Empty means all.
	Only []Method

	Defaults MethodOptions
	Routes   map[Method]MethodOptions

	// Handlers is the named handler table for overrides
	Handlers  map[string]Handler
	Overrides []Override

	// PaginationKeys break ties in every order; default the identity fields
	PaginationKeys []string
	// MaxTake bounds numberOfTake and request limits
	MaxTake int

	Logger     *zap.Logger
	CountCache CountCache
	CountTTL   time.Duration
}

// Hard-coded defaults at the bottom of the option cascade
const (
	DefaultNumberOfTake   = 20
	DefaultPaginationType = "offset"
)

func boolPtr(b bool) *bool { return &b }

// Bool returns a pointer to b for use in MethodOptions.SoftDelete
func Bool(b bool) *bool { return boolPtr(b) }
