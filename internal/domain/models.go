// Package domain defines the persistence and value models for patients and
// symptoms. Patient is mapped with GORM and forms the durable data layer of
// the intake application; Symptom is a session-scoped value that never
// outlives its consultation except through the generated report.
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Patient represents a registered patient record. The record is created
// exactly once during identity resolution and is immutable afterwards;
// in-session corrections mutate only the session's borrowed copy.
//
// Fields:
//   - PatientID: stable identifier in the form "P" followed by 8 digits;
//     primary key, issued once and never reassigned.
//   - Name: full name as given during intake.
//   - Age: whole years, must be positive.
//   - HeightCM / WeightKG: metric measurements, must be positive.
//   - Gender: free-form self-description (open enum, non-empty).
//   - BloodGroup: ABO group with Rh sign, e.g. "O+", "AB-".
//   - CreatedAt: set once at creation, never mutated.
type Patient struct {
	PatientID  string    `json:"patient_id"  gorm:"type:varchar(16);primaryKey"`
	Name       string    `json:"name"        gorm:"type:varchar(255);not null"`
	Age        int       `json:"age"         gorm:"not null"`
	HeightCM   float64   `json:"height_cm"   gorm:"not null"`
	Gender     string    `json:"gender"      gorm:"type:varchar(32);not null"`
	BloodGroup string    `json:"blood_group" gorm:"type:varchar(4);not null"`
	WeightKG   float64   `json:"weight_kg"   gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for Patient.
func (Patient) TableName() string { return "patients" }

// Severity grades a reported symptom. The set is closed; free-text nuance
// belongs in the symptom's Notes.
type Severity string

// Allowed severity grades.
const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// ParseSeverity maps a case-insensitive string onto a Severity. It returns
// an error for values outside the allowed set; the empty string is the
// caller's signal for "not graded" and is rejected here on purpose.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityMild:
		return SeverityMild, nil
	case SeverityModerate:
		return SeverityModerate, nil
	case SeveritySevere:
		return SeveritySevere, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// Symptom is one complaint reported during a consultation. Optional
// sub-fields use pointers so the report renderer can distinguish "absent"
// from "empty" without sentinel values.
type Symptom struct {
	Description string    `json:"description"`
	Severity    *Severity `json:"severity,omitempty"`
	Duration    *string   `json:"duration,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
	ReportedAt  time.Time `json:"reported_at"`
}

// ErrInvalidField is the base error wrapped by every demographic validation
// failure. Callers branch on it with errors.Is and read the offending field
// from the wrapping FieldError.
var ErrInvalidField = errors.New("invalid demographic field")

// FieldError reports a single invalid demographic field. It wraps
// ErrInvalidField so callers can detect the class without string matching.
type FieldError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid demographic field %q: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrInvalidField) succeed.
func (e *FieldError) Unwrap() error { return ErrInvalidField }

// bloodGroupRE accepts the ABO groups with an explicit Rh sign.
var bloodGroupRE = regexp.MustCompile(`^(A|B|AB|O)[+-]$`)

// Demographic field names as used by the intake events and FieldError.
const (
	FieldName       = "name"
	FieldAge        = "age"
	FieldHeightCM   = "height_cm"
	FieldGender     = "gender"
	FieldBloodGroup = "blood_group"
	FieldWeightKG   = "weight_kg"
)

// ProfileFields carries the demographic answers collected during intake,
// before a Patient record exists. Optional pointers distinguish "not yet
// asked" from a submitted value, so incremental collection can tell which
// questions remain open.
type ProfileFields struct {
	Name       *string  `json:"name,omitempty"`
	Age        *int     `json:"age,omitempty"`
	HeightCM   *float64 `json:"height_cm,omitempty"`
	Gender     *string  `json:"gender,omitempty"`
	BloodGroup *string  `json:"blood_group,omitempty"`
	WeightKG   *float64 `json:"weight_kg,omitempty"`
}

// Complete reports whether every demographic question has an answer.
// It does not validate the answers; see Validate.
func (f ProfileFields) Complete() bool {
	return f.Name != nil && f.Age != nil && f.HeightCM != nil &&
		f.Gender != nil && f.BloodGroup != nil && f.WeightKG != nil
}

// Missing lists the demographic fields still unanswered, in intake order.
func (f ProfileFields) Missing() []string {
	var out []string
	if f.Name == nil {
		out = append(out, FieldName)
	}
	if f.Age == nil {
		out = append(out, FieldAge)
	}
	if f.HeightCM == nil {
		out = append(out, FieldHeightCM)
	}
	if f.Gender == nil {
		out = append(out, FieldGender)
	}
	if f.BloodGroup == nil {
		out = append(out, FieldBloodGroup)
	}
	if f.WeightKG == nil {
		out = append(out, FieldWeightKG)
	}
	return out
}

// Validate checks that all demographic fields are present and well-formed.
// It returns a *FieldError naming the first offending field, so the caller
// can re-prompt for exactly that answer.
func (f ProfileFields) Validate() error {
	if f.Name == nil || strings.TrimSpace(*f.Name) == "" {
		return &FieldError{Field: FieldName, Reason: "must not be empty"}
	}
	if f.Age == nil || *f.Age <= 0 {
		return &FieldError{Field: FieldAge, Reason: "must be a positive integer"}
	}
	if f.HeightCM == nil || *f.HeightCM <= 0 {
		return &FieldError{Field: FieldHeightCM, Reason: "must be positive"}
	}
	if f.Gender == nil || strings.TrimSpace(*f.Gender) == "" {
		return &FieldError{Field: FieldGender, Reason: "must not be empty"}
	}
	if f.BloodGroup == nil || !bloodGroupRE.MatchString(strings.ToUpper(strings.TrimSpace(*f.BloodGroup))) {
		return &FieldError{Field: FieldBloodGroup, Reason: "must match ABO group with Rh sign, e.g. O+ or AB-"}
	}
	if f.WeightKG == nil || *f.WeightKG <= 0 {
		return &FieldError{Field: FieldWeightKG, Reason: "must be positive"}
	}
	return nil
}

// Set assigns one demographic answer by field name, parsing the raw string
// representation. Unknown field names and unparsable values come back as
// *FieldError so the conversation layer can re-prompt.
func (f *ProfileFields) Set(field, value string) error {
	value = strings.TrimSpace(value)
	switch field {
	case FieldName:
		if value == "" {
			return &FieldError{Field: FieldName, Reason: "must not be empty"}
		}
		f.Name = &value
	case FieldAge:
		n, err := parsePositiveInt(value)
		if err != nil {
			return &FieldError{Field: FieldAge, Reason: "must be a positive integer"}
		}
		f.Age = &n
	case FieldHeightCM:
		v, err := parsePositiveFloat(value)
		if err != nil {
			return &FieldError{Field: FieldHeightCM, Reason: "must be positive"}
		}
		f.HeightCM = &v
	case FieldGender:
		if value == "" {
			return &FieldError{Field: FieldGender, Reason: "must not be empty"}
		}
		f.Gender = &value
	case FieldBloodGroup:
		bg := strings.ToUpper(value)
		if !bloodGroupRE.MatchString(bg) {
			return &FieldError{Field: FieldBloodGroup, Reason: "must match ABO group with Rh sign, e.g. O+ or AB-"}
		}
		f.BloodGroup = &bg
	case FieldWeightKG:
		v, err := parsePositiveFloat(value)
		if err != nil {
			return &FieldError{Field: FieldWeightKG, Reason: "must be positive"}
		}
		f.WeightKG = &v
	default:
		return &FieldError{Field: field, Reason: "unknown field"}
	}
	return nil
}

// Apply overwrites the answered fields onto an existing patient copy.
// Used by the session-local correction path; the durable record is not
// touched.
func (f ProfileFields) Apply(p *Patient) {
	if f.Name != nil {
		p.Name = *f.Name
	}
	if f.Age != nil {
		p.Age = *f.Age
	}
	if f.HeightCM != nil {
		p.HeightCM = *f.HeightCM
	}
	if f.Gender != nil {
		p.Gender = *f.Gender
	}
	if f.BloodGroup != nil {
		p.BloodGroup = strings.ToUpper(*f.BloodGroup)
	}
	if f.WeightKG != nil {
		p.WeightKG = *f.WeightKG
	}
}

// Patient materializes a Patient record from a complete, validated field set.
// The caller supplies the issued ID and creation time.
func (f ProfileFields) Patient(id string, createdAt time.Time) *Patient {
	return &Patient{
		PatientID:  id,
		Name:       strings.TrimSpace(*f.Name),
		Age:        *f.Age,
		HeightCM:   *f.HeightCM,
		Gender:     strings.TrimSpace(*f.Gender),
		BloodGroup: strings.ToUpper(strings.TrimSpace(*f.BloodGroup)),
		WeightKG:   *f.WeightKG,
		CreatedAt:  createdAt,
	}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("not a positive integer: %q", s)
	}
	return n, nil
}

func parsePositiveFloat(s string) (float64, error) {
	var v float64
	if _, err := fmt.Sscanf(s, "%g", &v); err != nil || v <= 0 {
		return 0, fmt.Errorf("not a positive number: %q", s)
	}
	return v, nil
}
