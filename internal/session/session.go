// Consultation session aggregate.
//
// A Session owns all per-conversation mutable state: the phase machine, the
// borrowed patient copy, the pending demographic answers, and the symptom
// ledger. Inbound conversational events are methods; each acquires the
// session mutex, so events for one session are handled strictly sequentially
// (single-writer-per-session). Multiple sessions run concurrently and share
// nothing but the patient store and the report directory, both owned by the
// injected collaborators.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-intake-backend/internal/domain"
)

// IdentityResolver is the lookup-or-create contract consumed by sessions.
// Implementations must treat the candidate-ID check-then-insert sequence as
// atomic with respect to the store (see services.IdentityService).
type IdentityResolver interface {
	// Lookup fetches an existing patient; a miss returns
	// services.ErrPatientNotFound and never creates.
	Lookup(ctx context.Context, patientID string) (*domain.Patient, error)
	// Create validates fields, issues a collision-free ID, and persists.
	Create(ctx context.Context, fields domain.ProfileFields) (*domain.Patient, error)
}

// ReportWriter renders and persists the end-of-consultation report.
type ReportWriter interface {
	// Render is pure and deterministic for equal inputs.
	Render(p *domain.Patient, symptoms []domain.Symptom, at time.Time) string
	// Save writes text to a uniquely named file and returns its path.
	Save(ctx context.Context, text, patientName string) (string, error)
}

// Session is the aggregate root for one consultation, from greeting to
// report. All methods are safe for concurrent use; internally they serialize
// on one mutex so no two phase transitions for the same session overlap.
type Session struct {
	id       string
	resolver IdentityResolver
	reports  ReportWriter

	mu        sync.Mutex
	phases    Controller
	patient   *domain.Patient
	pending   domain.ProfileFields
	ledger    Ledger
	completed bool

	// reportText is rendered once on the first completion signal and reused
	// by save retries, so a failed save never regenerates content.
	reportText  string
	completedAt time.Time
	reportPath  string

	createdAt time.Time
	updatedAt time.Time
}

// New constructs a session in GREETING. Callers normally go through
// Manager.Start, which also fires the opening transition.
func New(id string, resolver IdentityResolver, reports ReportWriter) *Session {
	now := time.Now().UTC()
	return &Session{
		id:        id,
		resolver:  resolver,
		reports:   reports,
		createdAt: now,
		updatedAt: now,
	}
}

// Start opens the conversation, moving GREETING to IDENTITY_RESOLUTION.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.phases.Fire(EventStart); err != nil {
		return err
	}
	s.touch()
	return nil
}

// SubmitPatientID resolves a returning patient by ID. On success the session
// borrows the stored record by value and skips demographic collection,
// jumping straight to symptom collection. A lookup miss returns
// services.ErrPatientNotFound with the phase unchanged, so the caller can
// offer the create-new-profile path.
func (s *Session) SubmitPatientID(ctx context.Context, patientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.phases.can(EventPatientFound) {
		return fmt.Errorf("%w: submit_patient_id in %s", ErrInvalidPhaseTransition, s.phases.Current())
	}
	p, err := s.resolver.Lookup(ctx, patientID)
	if err != nil {
		return err
	}
	borrowed := *p
	s.patient = &borrowed
	if err := s.phases.Fire(EventPatientFound); err != nil {
		return err
	}
	s.touch()
	return nil
}

// RequestNewProfile begins demographic collection for a new patient. The
// field set may be partial: the session moves to INFO_COLLECTION and keeps
// accepting SubmitDemographicField until every field validates, at which
// point the patient is created and the session advances to symptom
// collection in the same call.
func (s *Session) RequestNewProfile(ctx context.Context, fields domain.ProfileFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.phases.can(EventProfileRequested) {
		return fmt.Errorf("%w: request_new_profile in %s", ErrInvalidPhaseTransition, s.phases.Current())
	}
	if err := s.phases.Fire(EventProfileRequested); err != nil {
		return err
	}
	s.pending = fields
	s.touch()
	return s.tryCreateLocked(ctx)
}

// SubmitDemographicField records one demographic answer while in
// INFO_COLLECTION. Parse and validation failures surface as
// *domain.FieldError naming the field to re-prompt. Once the last field
// validates the patient is created and the phase advances.
func (s *Session) SubmitDemographicField(ctx context.Context, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phases.Current() != PhaseInfoCollection {
		return fmt.Errorf("%w: submit_demographic_field in %s", ErrInvalidPhaseTransition, s.phases.Current())
	}
	if err := s.pending.Set(field, value); err != nil {
		return err
	}
	s.touch()
	return s.tryCreateLocked(ctx)
}

// tryCreateLocked creates the patient and advances to SYMPTOM_COLLECTION
// once the pending field set is complete and valid. Incomplete sets are not
// an error; the caller keeps collecting. Callers must hold s.mu.
func (s *Session) tryCreateLocked(ctx context.Context) error {
	if !s.pending.Complete() {
		return nil
	}
	if err := s.pending.Validate(); err != nil {
		return err
	}
	p, err := s.resolver.Create(ctx, s.pending)
	if err != nil {
		return err
	}
	borrowed := *p
	s.patient = &borrowed
	s.pending = domain.ProfileFields{}
	if err := s.phases.Fire(EventInfoComplete); err != nil {
		return err
	}
	s.touch()
	return nil
}

// ReportSymptom appends one complaint to the ledger. Only legal during
// SYMPTOM_COLLECTION; an empty description fails with
// services.ErrInvalidSymptom and records nothing.
func (s *Session) ReportSymptom(description string, severity *domain.Severity, duration, notes *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phases.Current() != PhaseSymptomCollection {
		return fmt.Errorf("%w: report_symptom in %s", ErrInvalidPhaseTransition, s.phases.Current())
	}
	if err := s.ledger.Add(domain.Symptom{
		Description: description,
		Severity:    severity,
		Duration:    duration,
		Notes:       notes,
	}); err != nil {
		return err
	}
	s.touch()
	return nil
}

// RequestCorrection amends one demographic field mid symptom collection.
// The machine takes the single backward edge to INFO_COLLECTION, applies the
// corrected value to the session's borrowed patient copy, and returns to
// SYMPTOM_COLLECTION without touching accumulated symptoms. The durable
// PatientStore record is deliberately left unchanged: corrections are
// session-local and reach the outside world only through the report.
func (s *Session) RequestCorrection(field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phases.Current() != PhaseSymptomCollection || s.patient == nil {
		return fmt.Errorf("%w: request_correction in %s", ErrInvalidPhaseTransition, s.phases.Current())
	}

	// Parse and validate before taking the edge so a bad value rejects
	// cleanly with the phase unchanged.
	var amended domain.ProfileFields
	if err := amended.Set(field, value); err != nil {
		return err
	}

	if err := s.phases.Fire(EventCorrection); err != nil {
		return err
	}
	amended.Apply(s.patient)
	if err := s.phases.Fire(EventInfoComplete); err != nil {
		return err
	}
	s.touch()
	return nil
}

// SignalComplete is the caller's opaque end-of-conversation signal. On the
// first call it renders the report, persists it, and moves the session to
// REPORTED, returning the saved path. If persistence fails the session stays
// in COMPLETION and a later call retries the save with the already-rendered
// text. Once REPORTED, further calls return the existing path without
// re-triggering generation. An empty symptom list is legitimate; the report
// then carries an explicit "no symptoms" line.
func (s *Session) SignalComplete(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phases.Current() {
	case PhaseReported:
		return s.reportPath, nil
	case PhaseSymptomCollection:
		if s.patient == nil {
			return "", fmt.Errorf("%w: signal_complete without patient", ErrInvalidPhaseTransition)
		}
		if err := s.phases.Fire(EventComplete); err != nil {
			return "", err
		}
		s.completedAt = time.Now().UTC()
		s.reportText = s.reports.Render(s.patient, s.ledger.All(), s.completedAt)
	case PhaseCompletion:
		// Save retry; reportText was rendered on the first signal.
	default:
		return "", fmt.Errorf("%w: signal_complete in %s", ErrInvalidPhaseTransition, s.phases.Current())
	}

	path, err := s.reports.Save(ctx, s.reportText, s.patient.Name)
	if err != nil {
		log.Error().Err(err).Str("session_id", s.id).Msg("report save failed, session stays in COMPLETION")
		s.touch()
		return "", err
	}
	if err := s.phases.Fire(EventReportSaved); err != nil {
		return "", err
	}
	s.reportPath = path
	s.completed = true
	s.touch()
	log.Info().Str("session_id", s.id).Str("report_path", path).Msg("consultation reported")
	return path, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CurrentPhase returns the conversation phase.
func (s *Session) CurrentPhase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phases.Current()
}

// Completed reports whether the consultation reached REPORTED.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// PatientSnapshot returns a copy of the session's patient, if resolved.
func (s *Session) PatientSnapshot() (domain.Patient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patient == nil {
		return domain.Patient{}, false
	}
	return *s.patient, true
}

// SymptomSnapshot returns the reported symptoms in insertion order.
func (s *Session) SymptomSnapshot() []domain.Symptom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.All()
}

// MissingFields lists demographic fields still to collect; empty once a
// patient is resolved.
func (s *Session) MissingFields() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patient != nil {
		return nil
	}
	return s.pending.Missing()
}

// ReportLocation returns the saved report path; absent until REPORTED.
func (s *Session) ReportLocation() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reportPath == "" {
		return "", false
	}
	return s.reportPath, true
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns the time of the last accepted event.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// touch records event time. Callers must hold s.mu.
func (s *Session) touch() { s.updatedAt = time.Now().UTC() }
