// Package services – IdentityService
//
// This file implements IdentityService, the lookup-or-create step that
// establishes which Patient record a consultation session operates on.
// Lookup never creates as a side effect. Create validates the demographic
// field set, issues a collision-free patient ID ("P" followed by 8 uniformly
// random digits), and persists the record.
//
// ID issuance is a bounded retry loop: a candidate is checked against the
// store's existence predicate, and the insert itself treats a uniqueness
// violation as a collision rather than a fatal error, so two concurrent
// creates can never both win the same candidate. After MaxAttempts
// collisions the create fails with ErrIDGenerationExhausted.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the patient ID (an opaque issued identifier, not PII).
package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-intake-backend/internal/domain"
	"github.com/tbourn/go-intake-backend/internal/repo"
)

// defaultIDAttempts bounds the candidate-ID retry loop.
const defaultIDAttempts = 5

// PatientRepo defines the repository contract required by IdentityService.
// Implementations are responsible for persistence of patient records.
type PatientRepo interface {
	// GetPatient fetches a patient by ID or returns repo.ErrNotFound.
	GetPatient(ctx context.Context, db *gorm.DB, patientID string) (*domain.Patient, error)

	// PatientExists reports whether a patient row exists for the ID.
	PatientExists(ctx context.Context, db *gorm.DB, patientID string) (bool, error)

	// InsertPatient inserts a new row; repo.ErrDuplicateID on PK collision.
	InsertPatient(ctx context.Context, db *gorm.DB, p *domain.Patient) error
}

// IdentityService resolves patient identity for consultation sessions:
// lookup of returning patients and creation of new profiles with
// collision-free ID issuance.
type IdentityService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the patient repository used by this service.
	Repo PatientRepo

	// MaxAttempts caps candidate-ID generation per create. Values <= 0 use
	// the default of 5.
	MaxAttempts int

	// newID generates a candidate patient ID. Test seam; defaults to
	// NewPatientID.
	newID func() string
}

// NewIdentityService constructs an IdentityService with default ID issuance.
func NewIdentityService(db *gorm.DB, r PatientRepo) *IdentityService {
	return &IdentityService{
		DB:          db,
		Repo:        r,
		MaxAttempts: defaultIDAttempts,
		newID:       NewPatientID,
	}
}

// NewPatientID returns a candidate patient identifier: the fixed prefix "P"
// followed by 8 digits drawn from a uniform random source.
func NewPatientID() string {
	return fmt.Sprintf("P%08d", rand.IntN(100000000))
}

// Lookup fetches the patient record for patientID. A miss returns
// ErrPatientNotFound; Lookup never creates a record.
func (s *IdentityService) Lookup(ctx context.Context, patientID string) (*domain.Patient, error) {
	tr := otel.Tracer("services/IdentityService")
	ctx, span := tr.Start(ctx, "Lookup",
		trace.WithAttributes(attribute.String("patient.id", patientID)),
	)
	defer span.End()

	p, err := s.Repo.GetPatient(ctx, s.DB, patientID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create validates the demographic field set, issues a fresh patient ID and
// persists the record. On an ID collision it regenerates and retries up to
// MaxAttempts times before failing with ErrIDGenerationExhausted.
//
// Validation failures surface as *domain.FieldError (errors.Is
// domain.ErrInvalidField) naming the field to re-collect.
func (s *IdentityService) Create(ctx context.Context, fields domain.ProfileFields) (*domain.Patient, error) {
	tr := otel.Tracer("services/IdentityService")
	ctx, span := tr.Start(ctx, "Create")
	defer span.End()

	if err := fields.Validate(); err != nil {
		return nil, err
	}

	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = defaultIDAttempts
	}
	gen := s.newID
	if gen == nil {
		gen = NewPatientID
	}

	for i := 0; i < attempts; i++ {
		id := gen()

		// Existence predicate first; the unique primary key on insert is the
		// authoritative collision check for concurrent creates.
		if exists, err := s.Repo.PatientExists(ctx, s.DB, id); err != nil {
			return nil, err
		} else if exists {
			log.Debug().Str("patient_id", id).Int("attempt", i+1).Msg("patient id collision, regenerating")
			continue
		}

		p := fields.Patient(id, time.Now().UTC())
		err := s.Repo.InsertPatient(ctx, s.DB, p)
		if errors.Is(err, repo.ErrDuplicateID) {
			log.Debug().Str("patient_id", id).Int("attempt", i+1).Msg("patient id lost insert race, regenerating")
			continue
		}
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.String("patient.id", p.PatientID))
		return p, nil
	}

	log.Warn().Int("attempts", attempts).Msg("patient id generation exhausted")
	return nil, ErrIDGenerationExhausted
}
