package migrations

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mediabundler/mediabundler/internal/config"
)

func TestTableSQL(t *testing.T) {
	cases := []struct {
		kind int
		exp  []string
	}{
		{kind: sqlite, exp: []string{"id INTEGER", "resource_id TEXT NOT NULL", "size INTEGER"}},
		{kind: postgres, exp: []string{"id SERIAL", "resource_id VARCHAR(255) NOT NULL", "size BIGINT"}},
		{kind: mysql, exp: []string{"id INT AUTO_INCREMENT", "resource_id VARCHAR(255) NOT NULL", "size BIGINT"}},
	}

	for _, tc := range cases {
		stmt := schema[0].SQL(tc.kind)
		for _, exp := range tc.exp {
			if !strings.Contains(stmt, exp) {
				t.Errorf("kind %d: expected %q in %s", tc.kind, exp, stmt)
			}
		}
		if !strings.Contains(stmt, "CONSTRAINT mb_v1_resources_resource_id_unique UNIQUE (resource_id)") {
			t.Errorf("kind %d: missing unique constraint in %s", tc.kind, stmt)
		}
	}

	ops := schema[2].SQL(sqlite)
	for _, exp := range []string{
		"CONSTRAINT mb_v1_process_operations_stage_id_fingerprint_unique UNIQUE (stage_id, fingerprint)",
		"CONSTRAINT mb_v1_process_operations_resource_id_resources_id_fkey FOREIGN KEY (resource_id) REFERENCES resources(id) ON DELETE CASCADE",
		"CONSTRAINT mb_v1_process_operations_resource_id_seq_pkey PRIMARY KEY (resource_id, seq)",
	} {
		if !strings.Contains(ops, exp) {
			t.Errorf("expected %q in %s", exp, ops)
		}
	}
}

func TestMigrateSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Database{SQL: &config.SQLDatabase{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "catalog.db"),
	}}

	// Running twice exercises the no-change path.
	for range 2 {
		db, err := New().WithConfig(cfg).WithMigrate(true).Run(ctx)
		if err != nil {
			t.Fatal(err)
		}

		for _, tbl := range schema {
			var n int
			if err := db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tbl.name).Scan(&n); err != nil {
				t.Fatalf("table %s: %v", tbl.name, err)
			}
		}
		db.CloseDB()
	}
}
