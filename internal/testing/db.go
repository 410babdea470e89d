package testing

import (
	"path/filepath"
	"testing"

	"github.com/aristath/steward/internal/database"
)

// NewTestDB creates a temporary SQLite database for testing with automatic
// schema migration. The database lives in t.TempDir and is closed on cleanup.
//
// Supported names:
//   - "vault"  - applies vault_schema.sql
//   - "config" - applies config_schema.sql
//   - "cache"  - applies cache_schema.sql
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	profile := database.ProfileStandard
	if name == "vault" {
		profile = database.ProfileVault
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
