package testing

import (
	"testing"
	"time"

	"github.com/aristath/greenfolio/internal/database"
)

// InsertRun stores a minimal allocate run created at the given time.
// The payload is an empty msgpack map.
func InsertRun(t *testing.T, db *database.DB, id string, createdAt time.Time) {
	t.Helper()

	_, err := db.Conn().Exec(`
		INSERT INTO runs (id, kind, status, asset_count, summary, payload, created_at)
		VALUES (?, 'allocate', 'optimal', 3, '', x'80', ?)
	`, id, createdAt.Unix())
	if err != nil {
		t.Fatalf("Failed to insert run %s: %v", id, err)
	}
}
