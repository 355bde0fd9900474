package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/internal/web/middleware"
	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
	"github.com/conduit-lang/crudgen/pkg/web/pagination"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// DefaultCountTTL is how long a cached total stays valid
const DefaultCountTTL = 30 * time.Second

// Resource serves the generated endpoints of one entity
type Resource struct {
	entity      *schema.Entity
	repo        Repository
	descriptors Descriptors
	parser      *query.Parser
	engine      *pagination.Engine
	logger      *zap.Logger
	counts      CountCache
	countTTL    time.Duration
	// countGen is bumped by every invalidation; a total counted across a
	// bump is never left in the cache
	countGen atomic.Uint64
}

// New builds the descriptors for the entity and binds them to the repository
func New(entity *schema.Entity, repo Repository, opts Options) (*Resource, error) {
	if repo == nil {
		return nil, &weberrors.ConfigurationError{Message: "repository is required"}
	}

	descriptors, err := Build(entity, opts)
	if err != nil {
		return nil, err
	}

	engine, err := pagination.NewEngine(entity, opts.PaginationKeys, opts.MaxTake)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ttl := opts.CountTTL
	if ttl <= 0 {
		ttl = DefaultCountTTL
	}

	return &Resource{
		entity:      entity,
		repo:        repo,
		descriptors: descriptors,
		parser:      query.NewParser(entity),
		engine:      engine,
		logger:      logger.With(zap.String("entity", entity.Name)),
		counts:      opts.CountCache,
		countTTL:    ttl,
	}, nil
}

// Entity returns the entity served by the resource
func (r *Resource) Entity() *schema.Entity {
	return r.entity
}

// Descriptors returns a copy of the resolved method descriptors
func (r *Resource) Descriptors() Descriptors {
	out := make(Descriptors, len(r.descriptors))
	for m, d := range r.descriptors {
		out[m] = d.clone()
	}
	return out
}

// Handler returns the handler serving m, either the generated pipeline or
// the configured override
func (r *Resource) Handler(m Method) (Handler, bool) {
	if _, ok := r.descriptors[m]; !ok {
		return nil, false
	}
	return func(ctx context.Context, req *Request) (*Response, error) {
		return r.Serve(ctx, m, req)
	}, true
}

// Serve handles one call of method m
func (r *Resource) Serve(ctx context.Context, m Method, req *Request) (*Response, error) {
	d, ok := r.descriptors[m]
	if !ok {
		return nil, &weberrors.ConfigurationError{Entity: r.entity.Name, Method: m.String(), Message: "method is not generated"}
	}
	if req == nil {
		req = &Request{}
	}

	logger := r.logger.With(
		zap.String("method", m.String()),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	if d.handler != nil {
		logger.Debug("Serving override", zap.String("handler", d.Override))
		resp, err := d.handler(ctx, req)
		if err != nil {
			r.logFailure(logger, err)
		}
		return resp, err
	}

	resp, err := r.run(ctx, d, req, logger)
	if err != nil {
		r.logFailure(logger, err)
		return nil, err
	}
	return resp, nil
}

// run drives the generated pipeline through its stages
func (r *Resource) run(ctx context.Context, d Descriptor, req *Request, logger *zap.Logger) (*Response, error) {
	sm := newStageMachine(func(s Stage) {
		logger.Debug("Pipeline stage", zap.Stringer("stage", s))
	})

	// 1. Validate the base request
	opts, err := r.parse(d, req)
	if err != nil {
		return nil, err
	}
	if err := sm.Advance(Validated); err != nil {
		return nil, err
	}

	// 2. Merge request hook results
	if err := r.intercept(ctx, d, req, opts); err != nil {
		return nil, err
	}
	if err := sm.Advance(OptionsMerged); err != nil {
		return nil, err
	}

	// 3. Call the repository
	status, payload, err := r.execute(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	if err := sm.Advance(Executed); err != nil {
		return nil, err
	}

	// 4. Shape the payload
	payload, err = shape(ctx, d.ResponseHooks, payload)
	if err != nil {
		return nil, err
	}
	if err := sm.Advance(Shaped); err != nil {
		return nil, err
	}

	if err := sm.Advance(Sent); err != nil {
		return nil, err
	}
	return &Response{Status: status, Body: payload}, nil
}

func (r *Resource) logFailure(logger *zap.Logger, err error) {
	status := weberrors.StatusCode(err)
	if status >= 500 {
		logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
		return
	}
	logger.Warn("Request rejected", zap.Int("status", status), zap.String("code", weberrors.Code(err)), zap.Error(err))
}

// storageError maps repository sentinels onto typed errors
func (r *Resource) storageError(key schema.Key, err error) error {
	switch {
	case errors.Is(err, weberrors.ErrDuplicate):
		return &weberrors.ConflictError{Entity: r.entity.Name, Key: key, Reason: "a row with this key already exists", Err: err}
	case errors.Is(err, weberrors.ErrNoRows):
		return &weberrors.NotFoundError{Entity: r.entity.Name, Key: key}
	default:
		return fmt.Errorf("%s repository: %w", r.entity.Name, err)
	}
}

// RouteInfo describes a generated route for introspection
type RouteInfo struct {
	Method         string   `json:"method"`
	HTTPMethod     string   `json:"httpMethod"`
	Pattern        string   `json:"pattern"`
	Override       string   `json:"override,omitempty"`
	PaginationType string   `json:"paginationType,omitempty"`
	NumberOfTake   int      `json:"numberOfTake,omitempty"`
	Sort           string   `json:"sort,omitempty"`
	SoftDelete     bool     `json:"softDelete"`
	Summary        string   `json:"summary"`
	Tags           []string `json:"tags,omitempty"`
	Deprecated     bool     `json:"deprecated,omitempty"`
}

// Routes lists the generated routes in canonical method order
func (r *Resource) Routes() []RouteInfo {
	routes := make([]RouteInfo, 0, len(r.descriptors))
	for _, m := range r.descriptors.Methods() {
		d := r.descriptors[m]
		info := RouteInfo{
			Method:     m.String(),
			HTTPMethod: d.HTTPMethod,
			Pattern:    d.Pattern,
			Override:   d.Override,
			SoftDelete: d.SoftDelete,
			Summary:    d.Docs.Summary,
			Tags:       append([]string(nil), d.Docs.Tags...),
			Deprecated: d.Docs.Deprecated,
		}
		if m == ReadMany || m == Search {
			info.PaginationType = string(d.PaginationType)
			info.NumberOfTake = d.NumberOfTake
			info.Sort = d.Sort.String()
		}
		routes = append(routes, info)
	}
	return routes
}
