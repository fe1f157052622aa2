package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-intake-backend/internal/domain"
)

func newPatientRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("patient_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func testPatient(id string) *domain.Patient {
	return &domain.Patient{
		PatientID:  id,
		Name:       "John Smith",
		Age:        35,
		HeightCM:   180,
		Gender:     "male",
		BloodGroup: "O+",
		WeightKG:   75.5,
		CreatedAt:  time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestGetPatient_NotFound(t *testing.T) {
	db := newPatientRepoDB(t, &domain.Patient{})

	p, err := GetPatient(context.Background(), db, "P00000000")
	if p != nil {
		t.Fatalf("expected nil patient, got %+v", p)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertPatient_RoundTrip(t *testing.T) {
	db := newPatientRepoDB(t, &domain.Patient{})

	want := testPatient("P12345678")
	if err := InsertPatient(context.Background(), db, want); err != nil {
		t.Fatalf("InsertPatient: %v", err)
	}

	got, err := GetPatient(context.Background(), db, "P12345678")
	if err != nil {
		t.Fatalf("GetPatient: %v", err)
	}
	if got.Name != want.Name || got.Age != want.Age || got.BloodGroup != want.BloodGroup {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, want)
	}
	if got.HeightCM != want.HeightCM || got.WeightKG != want.WeightKG || got.Gender != want.Gender {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, want)
	}
}

func TestInsertPatient_DuplicateID(t *testing.T) {
	db := newPatientRepoDB(t, &domain.Patient{})

	if err := InsertPatient(context.Background(), db, testPatient("P55555555")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := InsertPatient(context.Background(), db, testPatient("P55555555"))
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	// The original row survives the collision untouched.
	got, err := GetPatient(context.Background(), db, "P55555555")
	if err != nil {
		t.Fatalf("GetPatient after collision: %v", err)
	}
	if got.Name != "John Smith" {
		t.Fatalf("original row mutated: %+v", got)
	}
}

func TestPatientExists(t *testing.T) {
	db := newPatientRepoDB(t, &domain.Patient{})

	exists, err := PatientExists(context.Background(), db, "P99999999")
	if err != nil {
		t.Fatalf("PatientExists: %v", err)
	}
	if exists {
		t.Fatal("empty store reported existing patient")
	}

	if err := InsertPatient(context.Background(), db, testPatient("P99999999")); err != nil {
		t.Fatalf("InsertPatient: %v", err)
	}
	exists, err = PatientExists(context.Background(), db, "P99999999")
	if err != nil {
		t.Fatalf("PatientExists: %v", err)
	}
	if !exists {
		t.Fatal("inserted patient not reported as existing")
	}
}

func TestInsertPatient_Error_NoTable(t *testing.T) {
	db := newPatientRepoDB(t /* no migrations */)
	err := InsertPatient(context.Background(), db, testPatient("P00000001"))
	if err == nil || errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected raw DB error without table, got %v", err)
	}
}
