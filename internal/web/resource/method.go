// Package resource builds the generated CRUD endpoints of an entity. Build
// resolves per-method configuration into immutable route descriptors; a
// Resource executes them through the request pipeline:
//
//	RECEIVED -> VALIDATED -> OPTIONS_MERGED -> EXECUTED -> SHAPED -> SENT
//
// The package is transport-agnostic: it consumes a Request and produces a
// Response, and reaches storage only through the Repository interface.
package resource

import (
	"fmt"
	"net/http"
	"strings"
)

// Method identifies one generated endpoint
type Method int

const (
	ReadOne Method = iota
	ReadMany
	Create
	Update
	Upsert
	Delete
	Recover
	Search
)

// AllMethods lists every method in canonical order
var AllMethods = []Method{ReadOne, ReadMany, Create, Update, Upsert, Delete, Recover, Search}

var methodNames = map[Method]string{
	ReadOne:  "READ_ONE",
	ReadMany: "READ_MANY",
	Create:   "CREATE",
	Update:   "UPDATE",
	Upsert:   "UPSERT",
	Delete:   "DELETE",
	Recover:  "RECOVER",
	Search:   "SEARCH",
}

var reservedNames = map[Method]string{
	ReadOne:  "reservedReadOne",
	ReadMany: "reservedReadMany",
	Create:   "reservedCreate",
	Update:   "reservedUpdate",
	Upsert:   "reservedUpsert",
	Delete:   "reservedDelete",
	Recover:  "reservedRecover",
	Search:   "reservedSearch",
}

// String returns the string representation of the method
func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Valid reports whether m is a known method
func (m Method) Valid() bool {
	_, ok := methodNames[m]
	return ok
}

// ReservedName returns the handler name reserved for the generated method
func (m Method) ReservedName() string {
	return reservedNames[m]
}

// ParseMethod converts a method name such as "READ_MANY" or "readMany"
func ParseMethod(s string) (Method, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for m, name := range methodNames {
		if normalized == name || normalized == strings.ReplaceAll(name, "_", "") {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown method: %s", s)
}

// HTTPMethod returns the HTTP verb the method is served under
func (m Method) HTTPMethod() string {
	switch m {
	case ReadOne, ReadMany:
		return http.MethodGet
	case Create, Recover, Search:
		return http.MethodPost
	case Update:
		return http.MethodPatch
	case Upsert:
		return http.MethodPut
	case Delete:
		return http.MethodDelete
	default:
		return ""
	}
}

// Pattern returns the path pattern relative to the resource base path. Key
// fields each occupy one path segment.
func (m Method) Pattern(keys []string) string {
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString("/{")
		sb.WriteString(k)
		sb.WriteString("}")
	}
	addressed := sb.String()

	switch m {
	case ReadMany, Create:
		return "/"
	case Search:
		return "/search"
	case Recover:
		return addressed + "/recover"
	default:
		return addressed
	}
}

// Addressed reports whether the method targets a single row by key
func (m Method) Addressed() bool {
	switch m {
	case ReadOne, Update, Upsert, Delete, Recover:
		return true
	default:
		return false
	}
}

// Reads reports whether the method only reads
func (m Method) Reads() bool {
	return m == ReadOne || m == ReadMany || m == Search
}

// SuccessStatus returns the status of a successful call
func (m Method) SuccessStatus() int {
	switch m {
	case Create, Recover:
		return http.StatusCreated
	default:
		return http.StatusOK
	}
}
