package router

import (
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/conduit-lang/crudgen/internal/web/resource"
)

// RouteInfo describes a mounted route for introspection
type RouteInfo struct {
	Entity string `json:"entity"`
	// Path is the full route pattern including the base path
	Path string `json:"path"`
	resource.RouteInfo
}

// BasePath returns the collection path for an entity name: the snake-cased
// plural, e.g. "BlogPost" -> "/blog_posts", "Person" -> "/people"
func BasePath(entity string) string {
	return "/" + inflect.Pluralize(inflect.Underscore(entity))
}

func normalizePath(path string) string {
	path = strings.TrimRight(path, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// joinPath appends a descriptor pattern to a mount path. The collection
// pattern "/" maps onto the mount path itself.
func joinPath(base, pattern string) string {
	if pattern == "" || pattern == "/" {
		return base
	}
	return base + pattern
}
