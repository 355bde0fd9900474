package migrate

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/crudgen/internal/orm/crud"
	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

var postgresTypes = map[schema.FieldType]string{
	schema.TypeString:    "TEXT",
	schema.TypeInt:       "BIGINT",
	schema.TypeFloat:     "DOUBLE PRECISION",
	schema.TypeBool:      "BOOLEAN",
	schema.TypeTimestamp: "TIMESTAMPTZ",
	schema.TypeUUID:      "UUID",
}

var sqliteTypes = map[schema.FieldType]string{
	schema.TypeString:    "TEXT",
	schema.TypeInt:       "INTEGER",
	schema.TypeFloat:     "REAL",
	schema.TypeBool:      "BOOLEAN",
	schema.TypeTimestamp: "TIMESTAMP",
	schema.TypeUUID:      "TEXT",
}

// CreateTable renders the CREATE TABLE statement of an entity, plus an index
// on its soft-delete column
func CreateTable(entity *schema.Entity, dialect crud.Dialect) (string, error) {
	types := postgresTypes
	if dialect == crud.SQLite {
		types = sqliteTypes
	}
	identity := entity.Identity()

	// SQLite only auto-assigns a lone INTEGER PRIMARY KEY
	inlineKey := ""
	if dialect == crud.SQLite && len(identity) == 1 {
		if f, _ := entity.Field(identity[0]); f.Generated && f.Type == schema.TypeInt {
			inlineKey = f.Name
		}
	}

	columns := make([]string, 0, len(entity.Fields)+1)
	for _, f := range entity.Fields {
		if err := checkGenerated(entity, f, dialect, inlineKey); err != nil {
			return "", err
		}

		def := fmt.Sprintf("%s %s", query.ToSnakeCase(f.Name), types[f.Type])
		switch {
		case f.Name == inlineKey:
			def = query.ToSnakeCase(f.Name) + " INTEGER PRIMARY KEY AUTOINCREMENT"
		case f.Generated && f.Type == schema.TypeInt:
			def += " GENERATED BY DEFAULT AS IDENTITY"
		}
		if !f.Nullable && f.Name != inlineKey {
			def += " NOT NULL"
		}
		columns = append(columns, def)
	}

	if inlineKey == "" {
		keys := make([]string, len(identity))
		for i, name := range identity {
			keys[i] = query.ToSnakeCase(name)
		}
		columns = append(columns, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(keys, ", ")))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\t%s\n);\n", entity.Table, strings.Join(columns, ",\n\t"))

	if entity.SupportsSoftDelete() {
		col := query.ToSnakeCase(entity.DeletedAtField)
		fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s);\n", entity.Table, col, entity.Table, col)
	}
	return b.String(), nil
}

// checkGenerated rejects generated fields the repository and the database
// cannot fill
func checkGenerated(entity *schema.Entity, f *schema.Field, dialect crud.Dialect, inlineKey string) error {
	if !f.Generated {
		return nil
	}
	switch f.Type {
	case schema.TypeUUID:
		return nil
	case schema.TypeInt:
		if dialect == crud.SQLite && f.Name != inlineKey {
			return fmt.Errorf("%s.%s: sqlite only generates a single integer primary key", entity.Name, f.Name)
		}
		return nil
	case schema.TypeTimestamp:
		if f.Name == entity.CreatedAtField || f.Name == entity.UpdatedAtField {
			return nil
		}
	}
	return fmt.Errorf("%s.%s: generated %s fields are not supported", entity.Name, f.Name, f.Type)
}

// DropTable renders the rollback of CreateTable
func DropTable(entity *schema.Entity) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;\n", entity.Table)
}
