package engine

import (
	"context"
	"errors"
	"os"
	"testing"

	"pensa/internal/db"
	"pensa/internal/migrate"
)

func TestImportErrorPassesStorageFaultsThrough(t *testing.T) {
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("workspace: %v", err)
	}
	garbage := make([]byte, 4096)
	for i := range garbage {
		garbage[i] = byte(i * 7)
	}
	if err := os.WriteFile(db.Path(dir), garbage, 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	conn, fault := db.Open(db.Config{Workspace: dir})
	if fault == nil {
		fault = migrate.Migrate(context.Background(), conn)
		conn.Close()
	}
	if !db.IsStorageFault(fault) {
		t.Fatalf("expected a storage fault to start from, got %v", fault)
	}

	err := importError("issues", "issue pn-00000001", fault)
	var ve ValidationError
	if errors.As(err, &ve) {
		t.Fatalf("storage fault must not become a validation error: %v", err)
	}
	if !db.IsStorageFault(err) {
		t.Fatalf("storage fault classification lost: %v", err)
	}
}
