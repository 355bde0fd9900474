package resource

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"

	"github.com/conduit-lang/crudgen/internal/orm/schema"
	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
)

// writeMode selects which body rules apply
type writeMode int

const (
	modeCreate writeMode = iota
	modeUpdate
	modeUpsert
)

// decodeRows decodes a JSON object, or an array of objects when many is
// allowed. The second result reports whether the body was an array.
func decodeRows(body []byte, allowMany bool) ([]schema.Row, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, weberrors.Validation(weberrors.InvalidBody, "", "request body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		if !allowMany {
			return nil, false, weberrors.Validation(weberrors.InvalidBody, "", "expected a JSON object")
		}
		var rows []map[string]interface{}
		if err := dec.Decode(&rows); err != nil {
			return nil, false, weberrors.Validation(weberrors.InvalidBody, "", "invalid JSON array of objects: %v", err)
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			return nil, false, weberrors.Validation(weberrors.InvalidBody, "", "unexpected data after JSON array")
		}
		if len(rows) == 0 {
			return nil, false, weberrors.Validation(weberrors.InvalidBody, "", "at least one row is required")
		}
		out := make([]schema.Row, len(rows))
		for i, r := range rows {
			if r == nil {
				return nil, false, weberrors.Validation(weberrors.InvalidBody, "", "row %d is null", i)
			}
			out[i] = schema.Row(r)
		}
		return out, true, nil
	}

	var row map[string]interface{}
	if err := dec.Decode(&row); err != nil || row == nil {
		return nil, false, weberrors.Validation(weberrors.InvalidBody, "", "expected a JSON object")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, false, weberrors.Validation(weberrors.InvalidBody, "", "unexpected data after JSON object")
	}
	return []schema.Row{schema.Row(row)}, false, nil
}

// validateRow checks a body row against the field metadata and returns it
// with canonical values. Explicit nulls are kept.
func validateRow(entity *schema.Entity, row schema.Row, mode writeMode) (schema.Row, error) {
	out := make(schema.Row, len(row))
	for _, name := range sortedRowKeys(row) {
		field, ok := entity.Field(name)
		if !ok {
			return nil, weberrors.Validation(weberrors.InvalidField, name, "unknown field")
		}
		if !field.Writable {
			return nil, weberrors.Validation(weberrors.InvalidField, name, "field is not writable")
		}

		v := row[name]
		if v == nil {
			if !field.Nullable {
				return nil, weberrors.Validation(weberrors.InvalidField, name, "field cannot be null")
			}
			out[name] = nil
			continue
		}

		cv, err := field.Coerce(v)
		if err != nil {
			return nil, weberrors.Validation(weberrors.InvalidField, name, "%v", err)
		}
		out[name] = cv
	}

	if mode == modeCreate {
		if err := checkRequired(entity, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func checkRequired(entity *schema.Entity, row schema.Row) error {
	for _, f := range entity.Fields {
		if !f.Required {
			continue
		}
		if v, ok := row[f.Name]; !ok || v == nil {
			return weberrors.Validation(weberrors.MissingField, f.Name, "field is required")
		}
	}
	return nil
}

// project keeps the selected fields of a row, or every readable field when
// fields is nil. A selected field missing from the row renders as null.
func project(entity *schema.Entity, row schema.Row, fields []string) schema.Row {
	if fields == nil {
		for _, f := range entity.Fields {
			if f.Readable {
				fields = append(fields, f.Name)
			}
		}
	}
	out := make(schema.Row, len(fields))
	for _, name := range fields {
		out[name] = row[name]
	}
	return out
}

func projectAll(entity *schema.Entity, rows []schema.Row, fields []string) []schema.Row {
	out := make([]schema.Row, len(rows))
	for i, row := range rows {
		out[i] = project(entity, row, fields)
	}
	return out
}

func sortedRowKeys(row schema.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
