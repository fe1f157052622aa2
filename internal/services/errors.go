// Package services defines the business logic of the consultation engine:
// identity resolution and report generation. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service and session
// layers; translation into user-facing messages or HTTP status codes should
// be performed at the handler layer.
package services

import "errors"

var (
	// ErrPatientNotFound indicates that a patient ID lookup missed. It is
	// recoverable: the conversation layer offers the create-new-profile path.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrIDGenerationExhausted is returned when the bounded number of
	// candidate patient IDs all collided with existing records. It is fatal
	// for that create attempt; the caller may retry later.
	ErrIDGenerationExhausted = errors.New("patient id generation exhausted")

	// ErrInvalidSymptom is returned when a reported symptom has an empty
	// description. Recoverable: the caller re-prompts.
	ErrInvalidSymptom = errors.New("symptom description must not be empty")

	// ErrReportPersistenceFailed indicates that saving the rendered report
	// failed after bounded retries. The session stays in COMPLETION so the
	// caller can retry the save without regenerating the report.
	ErrReportPersistenceFailed = errors.New("report persistence failed")
)
