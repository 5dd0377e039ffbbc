package db

import "testing"

func TestInitSchemaCreatesTables(t *testing.T) {
	db := openTestDB(t)

	exists, err := SchemaExists(db)
	if err != nil {
		t.Fatalf("schema exists: %v", err)
	}
	if exists {
		t.Fatal("expected empty database")
	}

	requireSchema(t, db)
	requireSchema(t, db)

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	defer rows.Close()

	tables := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		tables[name] = true
	}
	for _, want := range []string{"frayline_messages", "frayline_reactions", "frayline_read_to", "frayline_config"} {
		if !tables[want] {
			t.Fatalf("missing table %s", want)
		}
	}

	version, err := GetConfig(db, "schema_version")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version %q", version)
	}
}
