package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/crudgen/internal/orm/crud"
	"github.com/conduit-lang/crudgen/internal/orm/schema"
)

func postEntity() *schema.Entity {
	e := schema.NewEntity("BlogPost",
		&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true, Generated: true},
		&schema.Field{Name: "title", Type: schema.TypeString},
		&schema.Field{Name: "score", Type: schema.TypeFloat, Nullable: true},
		&schema.Field{Name: "createdAt", Type: schema.TypeTimestamp, Generated: true},
		&schema.Field{Name: "deleted_at", Type: schema.TypeTimestamp, Nullable: true},
	)
	e.Table = "blog_posts"
	e.CreatedAtField = "createdAt"
	return e
}

func TestCreateTable(t *testing.T) {
	tests := []struct {
		name    string
		entity  func() *schema.Entity
		dialect crud.Dialect
		want    string
	}{
		{
			name:    "postgres identity",
			entity:  postEntity,
			dialect: crud.Postgres,
			want: `CREATE TABLE IF NOT EXISTS blog_posts (
	id BIGINT GENERATED BY DEFAULT AS IDENTITY NOT NULL,
	title TEXT NOT NULL,
	score DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ,
	PRIMARY KEY (id)
);
CREATE INDEX IF NOT EXISTS idx_blog_posts_deleted_at ON blog_posts (deleted_at);
`,
		},
		{
			name:    "sqlite autoincrement",
			entity:  postEntity,
			dialect: crud.SQLite,
			want: `CREATE TABLE IF NOT EXISTS blog_posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	score REAL,
	created_at TIMESTAMP NOT NULL,
	deleted_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_blog_posts_deleted_at ON blog_posts (deleted_at);
`,
		},
		{
			name: "composite uuid key without soft delete",
			entity: func() *schema.Entity {
				e := schema.NewEntity("Membership",
					&schema.Field{Name: "user_id", Type: schema.TypeUUID, Primary: true},
					&schema.Field{Name: "group_id", Type: schema.TypeUUID, Primary: true},
					&schema.Field{Name: "admin", Type: schema.TypeBool},
				)
				e.DeletedAtField = ""
				return e
			},
			dialect: crud.SQLite,
			want: `CREATE TABLE IF NOT EXISTS membership (
	user_id TEXT NOT NULL,
	group_id TEXT NOT NULL,
	admin BOOLEAN NOT NULL,
	PRIMARY KEY (user_id, group_id)
);
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CreateTable(tt.entity(), tt.dialect)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateTable_UnsupportedGenerated(t *testing.T) {
	tests := []struct {
		name    string
		field   *schema.Field
		dialect crud.Dialect
		want    string
	}{
		{
			name:    "generated string",
			field:   &schema.Field{Name: "slug", Type: schema.TypeString, Generated: true},
			dialect: crud.Postgres,
			want:    "generated string fields are not supported",
		},
		{
			name:    "generated timestamp outside audit fields",
			field:   &schema.Field{Name: "seen_at", Type: schema.TypeTimestamp, Generated: true},
			dialect: crud.Postgres,
			want:    "generated timestamp fields are not supported",
		},
		{
			name:    "second generated integer on sqlite",
			field:   &schema.Field{Name: "seq", Type: schema.TypeInt, Generated: true},
			dialect: crud.SQLite,
			want:    "sqlite only generates a single integer primary key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := postEntity().AddField(tt.field)
			_, err := CreateTable(e, tt.dialect)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestPlan(t *testing.T) {
	tag := schema.NewEntity("Tag", &schema.Field{Name: "slug", Type: schema.TypeString, Primary: true})
	tag.DeletedAtField = ""

	migrations, err := Plan([]*schema.Entity{postEntity(), tag}, crud.Postgres)
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, "create_blog_posts", migrations[0].Name)
	assert.Equal(t, "DROP TABLE IF EXISTS blog_posts;\n", migrations[0].Down)
	assert.Len(t, migrations[0].Checksum, 64)
	assert.Equal(t, "create_tag", migrations[1].Name)

	script := Script(migrations)
	assert.Contains(t, script, "-- create_blog_posts\nCREATE TABLE")
	assert.Contains(t, script, "\n-- create_tag\nCREATE TABLE IF NOT EXISTS tag")

	_, err = Plan([]*schema.Entity{tag, tag}, crud.Postgres)
	assert.ErrorContains(t, err, "declared by more than one entity")
}
