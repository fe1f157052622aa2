package repo

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSQLite_CreatesAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intake_test.db")

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	// Migrated schema accepts a patient row.
	if err := InsertPatient(context.Background(), db, testPatient("P10101010")); err != nil {
		t.Fatalf("InsertPatient after migrate: %v", err)
	}
}

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "intake_test.db")
	if _, err := OpenSQLite(path); err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}
