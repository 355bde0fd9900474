// Package migrate creates the tables of manifest entities and records which
// migrations have been applied.
package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/conduit-lang/crudgen/internal/orm/crud"
	"github.com/conduit-lang/crudgen/internal/orm/schema"
)

// Migration represents a single database migration
type Migration struct {
	Name      string    // Unique name, e.g. "create_posts"
	Up        string    // SQL to apply
	Down      string    // SQL to rollback
	Checksum  string    // sha256 of Up
	Applied   bool      // Whether this migration has been applied
	AppliedAt time.Time // When the migration was applied
}

// NewMigration creates a migration and computes its checksum
func NewMigration(name, up, down string) *Migration {
	return &Migration{Name: name, Up: up, Down: down, Checksum: checksum(up)}
}

func checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

// Plan returns one create-table migration per entity, in the given order
func Plan(entities []*schema.Entity, dialect crud.Dialect) ([]*Migration, error) {
	migrations := make([]*Migration, 0, len(entities))
	seen := make(map[string]bool, len(entities))

	for _, entity := range entities {
		if err := entity.Validate(); err != nil {
			return nil, err
		}
		if seen[entity.Table] {
			return nil, fmt.Errorf("table %s is declared by more than one entity", entity.Table)
		}
		seen[entity.Table] = true

		up, err := CreateTable(entity, dialect)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, NewMigration("create_"+entity.Table, up, DropTable(entity)))
	}
	return migrations, nil
}

// Script joins the up SQL of every migration
func Script(migrations []*Migration) string {
	var b strings.Builder
	for i, m := range migrations {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "-- %s\n%s", m.Name, m.Up)
	}
	return b.String()
}
