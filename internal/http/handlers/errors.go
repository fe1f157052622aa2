// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These symbolic constants are mapped to HTTP responses via the fail()
// helper, giving clients a stable, machine-readable error taxonomy that
// supplements human-readable messages. Generic codes mirror common HTTP
// status semantics; domain-specific codes cover consultation-engine outcomes
// that status alone cannot convey. Raw internal error identifiers are never
// shown to patients — messages stay conversational.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodePatientNotFound = "patient_not_found"
	ErrCodeInvalidField    = "invalid_field"
	ErrCodeInvalidSymptom  = "invalid_symptom"
	ErrCodePhaseConflict   = "phase_conflict"
	ErrCodeIDExhausted     = "id_generation_exhausted"
	ErrCodeReportFailed    = "report_save_failed"
)
