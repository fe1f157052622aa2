// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Patient
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a patient is not found, GetPatient returns gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - InsertPatient translates a primary-key uniqueness violation into
//     ErrDuplicateID; identity resolution treats that as an ID collision
//     and retries with a fresh candidate.
//   - On other DB errors (connectivity issues, missing schema, etc.), the
//     raw gorm error is propagated.
//
// Functions:
//
//   - GetPatient(ctx, db, patientID) -> *domain.Patient, error
//     Fetches a single patient by ID, or ErrNotFound if missing.
//
//   - PatientExists(ctx, db, patientID) -> (bool, error)
//     Cheap existence predicate used before candidate-ID insertion.
//
//   - InsertPatient(ctx, db, p) -> error
//     Inserts a new Patient row; ErrDuplicateID on a colliding primary key.
//
// This repository is designed to be wrapped by a higher-level service
// (see services.IdentityService) which enforces ID issuance and validation
// rules.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-intake-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicateID indicates that an insert collided with an existing
// patient_id. The existence-check-then-insert sequence is not atomic on its
// own; the unique primary key makes the insert the authoritative check.
var ErrDuplicateID = errors.New("duplicate patient id")

// GetPatient fetches a single patient by its ID. If the record does not
// exist, it returns ErrNotFound. On other DB errors, the raw error is
// returned.
func GetPatient(ctx context.Context, db *gorm.DB, patientID string) (*domain.Patient, error) {
	var p domain.Patient
	err := db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PatientExists reports whether a patient row with the given ID exists.
// On DB error, it returns the error.
func PatientExists(ctx context.Context, db *gorm.DB, patientID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Patient{}).
		Where("patient_id = ?", patientID).
		Count(&n).Error
	return n > 0, err
}

// InsertPatient inserts a new Patient row and returns ErrDuplicateID when
// the primary key already exists. On other failures, it returns the DB error.
func InsertPatient(ctx context.Context, db *gorm.DB, p *domain.Patient) error {
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicateID
		}
		return err
	}
	return nil
}
