// Package router serves generated resources over HTTP using chi. Each
// descriptor becomes one route; the router converts *http.Request into
// resource.Request and renders the resulting payload or error as JSON.
package router

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conduit-lang/crudgen/internal/web/middleware"
	"github.com/conduit-lang/crudgen/internal/web/resource"
	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
	"github.com/conduit-lang/crudgen/pkg/web/response"
)

// DefaultMaxBodyBytes bounds request bodies when Config.MaxBodyBytes is unset
const DefaultMaxBodyBytes int64 = 1 << 20

// Config configures the router
type Config struct {
	// BasePath prefixes every mounted resource, e.g. "/api"
	BasePath string
	// MaxBodyBytes bounds the size of request bodies
	MaxBodyBytes int64
	// ShowErrorDetails exposes internal error text in 5xx envelopes
	ShowErrorDetails bool
	PrettyPrint      bool
	Logger           *zap.Logger
}

// Router mounts resources on a chi mux
type Router struct {
	mux      chi.Router
	config   Config
	renderer *response.Renderer
	logger   *zap.Logger

	paths  map[string]string
	routes []RouteInfo
}

// NewRouter creates a router. Global middleware must be passed here or to
// Use before the first Mount.
func NewRouter(config Config, middlewares ...middleware.Middleware) *Router {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	config.BasePath = strings.TrimRight(config.BasePath, "/")

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	renderer := response.NewRendererWithConfig(response.RendererConfig{
		PrettyPrint: config.PrettyPrint,
		ShowDetails: config.ShowErrorDetails,
	})

	r := &Router{
		mux:      chi.NewRouter(),
		config:   config,
		renderer: renderer,
		logger:   logger,
		paths:    make(map[string]string),
	}
	r.Use(middlewares...)

	r.mux.NotFound(func(w http.ResponseWriter, req *http.Request) {
		_ = r.renderer.WriteError(w, req, http.StatusNotFound, response.CodeRouteNotFound, "The requested route does not exist")
	})
	r.mux.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		_ = r.renderer.WriteError(w, req, http.StatusMethodNotAllowed, response.CodeMethodNotAllowed,
			fmt.Sprintf("Method %s is not allowed for this route", req.Method))
	})
	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Use adds global middleware
func (r *Router) Use(middlewares ...middleware.Middleware) {
	for _, m := range middlewares {
		if m == nil {
			continue
		}
		r.mux.Use(m)
	}
}

// Mux returns the underlying chi router for routes outside the generated set
func (r *Router) Mux() chi.Router {
	return r.mux
}

// Mount serves res under its pluralized base path and returns that path
func (r *Router) Mount(res *resource.Resource) (string, error) {
	path := BasePath(res.Entity().Name)
	if err := r.MountAt(path, res); err != nil {
		return "", err
	}
	return r.config.BasePath + path, nil
}

// MountAt serves res under path, relative to Config.BasePath
func (r *Router) MountAt(path string, res *resource.Resource) error {
	if res == nil {
		return errors.New("resource is required")
	}
	full := r.config.BasePath + normalizePath(path)
	if owner, ok := r.paths[full]; ok {
		return fmt.Errorf("path %s is already served by %s", full, owner)
	}

	entity := res.Entity()
	descriptors := res.Descriptors()
	infos := res.Routes()

	r.mux.Route(full, func(sub chi.Router) {
		for _, m := range descriptors.Methods() {
			d := descriptors[m]
			h := middleware.Wrap(r.handler(res, m), d.Decorators...)
			sub.Method(d.HTTPMethod, d.Pattern, h)
		}
	})

	r.paths[full] = entity.Name
	for _, info := range infos {
		r.routes = append(r.routes, RouteInfo{
			Entity:    entity.Name,
			Path:      joinPath(full, info.Pattern),
			RouteInfo: info,
		})
	}

	r.logger.Info("Mounted resource",
		zap.String("entity", entity.Name),
		zap.String("path", full),
		zap.Int("routes", len(infos)),
	)
	return nil
}

// Routes lists every mounted route in mount order
func (r *Router) Routes() []RouteInfo {
	return append([]RouteInfo(nil), r.routes...)
}

// handler adapts one generated method to net/http
func (r *Router) handler(res *resource.Resource, m resource.Method) http.Handler {
	identity := res.Entity().Identity()

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		call, err := r.request(w, req, identity)
		if err != nil {
			r.fail(w, req, err)
			return
		}

		resp, err := res.Serve(req.Context(), m, call)
		if err != nil {
			r.fail(w, req, err)
			return
		}
		r.write(w, req, resp)
	})
}

// request converts an HTTP request into the transport-agnostic form
func (r *Router) request(w http.ResponseWriter, req *http.Request, identity []string) (*resource.Request, error) {
	params := make(map[string]string, len(identity))
	for _, name := range identity {
		raw := chi.URLParam(req, name)
		if v, err := url.PathUnescape(raw); err == nil {
			raw = v
		}
		params[name] = raw
	}

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, req.Body, r.config.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, weberrors.Validation(weberrors.InvalidBody, "", "failed to read body: %v", err)
		}
	}

	return &resource.Request{
		Params: params,
		Query:  req.URL.Query(),
		Body:   body,
		Header: req.Header,
	}, nil
}

func (r *Router) write(w http.ResponseWriter, req *http.Request, resp *resource.Response) {
	if resp == nil {
		r.renderer.NoContent(w)
		return
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status == http.StatusNoContent {
		r.renderer.NoContent(w)
		return
	}

	if err := r.renderer.JSON(w, status, resp.Body); err != nil {
		r.logger.Error("Failed to render response",
			zap.String("request_id", middleware.GetRequestID(req.Context())),
			zap.String("path", req.URL.Path),
			zap.Error(err),
		)
		_ = r.renderer.WriteError(w, req, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Failed to render response")
	}
}

func (r *Router) fail(w http.ResponseWriter, req *http.Request, err error) {
	if renderErr := r.renderer.Error(w, req, err); renderErr != nil {
		r.logger.Error("Failed to render error",
			zap.String("request_id", middleware.GetRequestID(req.Context())),
			zap.Error(renderErr),
		)
	}
}
