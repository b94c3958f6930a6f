package migrations

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/mediabundler/mediabundler/internal/util"
)

const (
	sqlite = iota
	postgres
	mysql
)

func kindOf(dialect string) (int, error) {
	switch dialect {
	case "sqlite":
		return sqlite, nil
	case "postgresql":
		return postgres, nil
	case "mysql":
		return mysql, nil
	}
	return 0, fmt.Errorf("unsupported dialect %q", dialect)
}

// initialSchemaFS renders one migration per table. Released migrations must
// not change; add new ones with higher numbers instead.
func initialSchemaFS(kind int) fs.FS {
	m := make(map[string]string, len(schema))
	for i, tbl := range schema {
		m[fmt.Sprintf("%03d_%s.up.sql", i+1, tbl.name)] = tbl.SQL(kind)
	}
	return util.MapFS(m)
}

var schema = []*sqlTable{
	createSQLTable("resources").
		IntegerPrimaryKeyAutoincrementColumn("id").
		VarCharNonNullUniqueColumn("resource_id").
		VarCharNonNullColumn("kind").
		TextColumn("label").
		VarCharColumn("mime_type").
		IntegerNonNullColumn("removed").
		TextColumn("tags").
		TextColumn("episodes").
		TextColumn("files").
		TextColumn("path").
		TextColumn("file_name").
		VarCharColumn("xxhash").
		VarCharColumn("md5").
		BigIntColumn("size").
		VarCharColumn("bundle_stage").
		TextColumn("bundle_members"),
	createSQLTable("resource_locators").
		IntegerNonNullColumn("resource_id").
		VarCharNonNullColumn("stage_id").
		TextNonNullColumn("locator").
		PrimaryKey("resource_id", "stage_id").
		ForeignKeyOnDeleteCascade("resource_id", "resources(id)"),
	createSQLTable("process_operations").
		IntegerNonNullColumn("resource_id").
		IntegerNonNullColumn("seq").
		VarCharNonNullColumn("stage_id").
		VarCharNonNullColumn("fingerprint").
		PrimaryKey("resource_id", "seq").
		Unique("stage_id", "fingerprint").
		ForeignKeyOnDeleteCascade("resource_id", "resources(id)"),
	createSQLTable("process_builds").
		IntegerNonNullColumn("resource_id").
		VarCharNonNullColumn("build_id").
		PrimaryKey("resource_id", "build_id").
		ForeignKeyOnDeleteCascade("resource_id", "resources(id)"),
	createSQLTable("episodes").
		VarCharPrimaryKeyColumn("episode_id").
		TextColumn("label"),
}

type sqlColumn struct {
	Name                    string
	Type                    sqlDataType
	AutoIncrementPrimaryKey bool
	PrimaryKey              bool
	Unique                  bool
	NotNull                 bool
}

type sqlDataType interface {
	SQL(kind int) string
}

type sqlInteger struct{}
type sqlBigInt struct{}
type sqlText struct{}
type sqlVarChar struct{}

func (sqlInteger) SQL(kind int) string {
	if kind == mysql {
		return "INT"
	}
	return "INTEGER"
}

func (sqlBigInt) SQL(kind int) string {
	if kind == sqlite {
		return "INTEGER"
	}
	return "BIGINT"
}

func (sqlText) SQL(_ int) string {
	return "TEXT"
}

func (sqlVarChar) SQL(kind int) string {
	if kind == sqlite {
		return "TEXT"
	}
	return "VARCHAR(255)"
}

func (c sqlColumn) SQL(kind int) string {
	if c.AutoIncrementPrimaryKey {
		switch kind {
		case postgres:
			return c.Name + " SERIAL"
		case mysql:
			return c.Name + " INT AUTO_INCREMENT"
		}
		return c.Name + " INTEGER"
	}

	parts := []string{c.Name, c.Type.SQL(kind)}
	if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	return strings.Join(parts, " ")
}

type sqlForeignKey struct {
	Column          string
	References      string
	OnDeleteCascade bool
}

type sqlTable struct {
	name              string
	columns           []sqlColumn
	primaryKeyColumns []string
	foreignKeys       []sqlForeignKey
	unique            [][]string
	iteration         string // prefix for constraint names
}

func createSQLTable(name string) *sqlTable {
	return &sqlTable{name: name, iteration: "mb_v1"}
}

func (t *sqlTable) column(col sqlColumn) *sqlTable {
	t.columns = append(t.columns, col)
	return t
}

func (t *sqlTable) IntegerPrimaryKeyAutoincrementColumn(name string) *sqlTable {
	return t.column(sqlColumn{Name: name, Type: sqlInteger{}, AutoIncrementPrimaryKey: true})
}

func (t *sqlTable) IntegerNonNullColumn(name string) *sqlTable {
	return t.column(sqlColumn{Name: name, Type: sqlInteger{}, NotNull: true})
}

func (t *sqlTable) BigIntColumn(name string) *sqlTable {
	return t.column(sqlColumn{Name: name, Type: sqlBigInt{}})
}

func (t *sqlTable) VarCharNonNullUniqueColumn(name string) *sqlTable {
	return t.column(sqlColumn{Name: name, Type: sqlVarChar{}, NotNull: true, Unique: true})
}

func (t *sqlTable) VarCharPrimaryKeyColumn(name string) *sqlTable {
	return t.column(sqlColumn{Name: name, Type: sqlVarChar{}, PrimaryKey: true})
}

func (t *sqlTable) VarCharNonNullColumn(name string) *sqlTable {
	return t.column(sqlColumn{Name: name, Type: sqlVarChar{}, NotNull: true})
}

func (t *sqlTable) VarCharColumn(name string) *sqlTable {
	return t.column(sqlColumn{Name: name, Type: sqlVarChar{}})
}

func (t *sqlTable) TextNonNullColumn(name string) *sqlTable {
	return t.column(sqlColumn{Name: name, Type: sqlText{}, NotNull: true})
}

func (t *sqlTable) TextColumn(name string) *sqlTable {
	return t.column(sqlColumn{Name: name, Type: sqlText{}})
}

func (t *sqlTable) PrimaryKey(columns ...string) *sqlTable {
	t.primaryKeyColumns = columns
	return t
}

func (t *sqlTable) Unique(columns ...string) *sqlTable {
	t.unique = append(t.unique, columns)
	return t
}

func (t *sqlTable) ForeignKeyOnDeleteCascade(column string, references string) *sqlTable {
	t.foreignKeys = append(t.foreignKeys, sqlForeignKey{Column: column, References: references, OnDeleteCascade: true})
	return t
}

// SQL renders the CREATE TABLE statement. Constraints carry names we control
// so later migrations can address them on every dialect.
func (t *sqlTable) SQL(kind int) string {
	c := make([]string, 0, len(t.columns)+len(t.foreignKeys)+len(t.unique)+1)
	for _, col := range t.columns {
		c = append(c, col.SQL(kind))
	}

	for _, col := range t.columns {
		if col.AutoIncrementPrimaryKey || col.PrimaryKey {
			c = append(c, fmt.Sprintf("CONSTRAINT %[1]s_%[2]s_%[3]s_pkey PRIMARY KEY (%[3]s)", t.iteration, t.name, col.Name))
		}
		if col.Unique {
			c = append(c, fmt.Sprintf("CONSTRAINT %[1]s_%[2]s_%[3]s_unique UNIQUE (%[3]s)", t.iteration, t.name, col.Name))
		}
	}

	if len(t.primaryKeyColumns) > 0 {
		c = append(c, fmt.Sprintf("CONSTRAINT %s_%s_%s_pkey PRIMARY KEY (%s)",
			t.iteration, t.name,
			strings.Join(t.primaryKeyColumns, "_"),
			strings.Join(t.primaryKeyColumns, ", ")))
	}

	for _, fk := range t.foreignKeys {
		// refs look like "table(col)"
		fTbl, fCol, _ := strings.Cut(strings.TrimSuffix(fk.References, ")"), "(")
		f := fmt.Sprintf("CONSTRAINT %s_%s_%s_%s_%s_fkey FOREIGN KEY (%s) REFERENCES %s",
			t.iteration, t.name, fk.Column, fTbl, fCol, fk.Column, fk.References)
		if fk.OnDeleteCascade {
			f += " ON DELETE CASCADE"
		}
		c = append(c, f)
	}

	for _, cols := range t.unique {
		c = append(c, fmt.Sprintf("CONSTRAINT %s_%s_%s_unique UNIQUE (%s)",
			t.iteration, t.name, strings.Join(cols, "_"), strings.Join(cols, ", ")))
	}

	return `CREATE TABLE IF NOT EXISTS ` + t.name + ` (` + strings.Join(c, ", ") + `);`
}
