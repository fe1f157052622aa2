// Package services – ReportService
//
// This file implements ReportService, which synthesizes the diagnostic
// summary artifact at the end of a consultation. Rendering is a pure
// function of (patient, symptoms, consultation time); saving writes the text
// under a configured directory with a filename derived from the sanitized
// patient name and a high-resolution timestamp, creating the directory when
// absent and retrying transient write failures with backoff.
//
// Two saves with identical inputs intentionally yield two distinct files;
// the session layer is responsible for invoking the save at most once per
// consultation.
package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-intake-backend/internal/domain"
)

const (
	defaultSaveAttempts = 3
	defaultSaveBackoff  = 200 * time.Millisecond

	// DefaultReportDir is where reports land when no directory is configured.
	DefaultReportDir = "doctor"
)

// ReportService renders and persists consultation reports.
type ReportService struct {
	// Dir is the target directory for saved reports. Empty means
	// DefaultReportDir.
	Dir string

	// MaxAttempts caps save retries; Backoff is the delay between them.
	// Zero values fall back to defaults (3 attempts, 200ms).
	MaxAttempts int
	Backoff     time.Duration

	// Test seams. now feeds the filename timestamp; writeFile performs the
	// actual write. Both default to the real implementations.
	now       func() time.Time
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// NewReportService constructs a ReportService writing into dir.
func NewReportService(dir string) *ReportService {
	return &ReportService{
		Dir:         dir,
		MaxAttempts: defaultSaveAttempts,
		Backoff:     defaultSaveBackoff,
		now:         time.Now,
		writeFile:   os.WriteFile,
	}
}

// Render produces the diagnostic report text for a completed consultation.
// It is deterministic for equal (patient, symptoms, at) inputs: the embedded
// consultation and generation timestamps both derive from at, so re-rendering
// for a save retry yields byte-identical content.
func (s *ReportService) Render(p *domain.Patient, symptoms []domain.Symptom, at time.Time) string {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString("HEALTH ASSISTANT DIAGNOSTIC REPORT\n")
	b.WriteString("========================================\n\n")
	fmt.Fprintf(&b, "CONSULTATION DATE: %s\n", at.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "PATIENT ID: %s\n\n", p.PatientID)

	b.WriteString("PATIENT INFORMATION:\n")
	fmt.Fprintf(&b, "Name: %s\n", p.Name)
	fmt.Fprintf(&b, "Age: %d years\n", p.Age)
	fmt.Fprintf(&b, "Height: %.1f cm\n", p.HeightCM)
	fmt.Fprintf(&b, "Weight: %.1f kg\n", p.WeightKG)
	fmt.Fprintf(&b, "Gender: %s\n", p.Gender)
	fmt.Fprintf(&b, "Blood Group: %s\n", p.BloodGroup)
	if p.CreatedAt.IsZero() {
		b.WriteString("Profile Created: Unknown\n")
	} else {
		fmt.Fprintf(&b, "Profile Created: %s\n", p.CreatedAt.Format("2006-01-02"))
	}
	b.WriteString("\nSYMPTOMS REPORTED:\n")

	if len(symptoms) == 0 {
		b.WriteString("No symptoms were reported during this consultation.\n")
	} else {
		for i, sym := range symptoms {
			fmt.Fprintf(&b, "%d. %s\n", i+1, sym.Description)
			if sym.Severity != nil {
				fmt.Fprintf(&b, "   Severity: %s\n", *sym.Severity)
			}
			if sym.Duration != nil {
				fmt.Fprintf(&b, "   Duration: %s\n", *sym.Duration)
			}
			if sym.Notes != nil {
				fmt.Fprintf(&b, "   Notes: %s\n", *sym.Notes)
			}
		}
	}

	fmt.Fprintf(&b, "\nREPORT GENERATED: %s\n\n", at.Format("2006-01-02 15:04:05"))
	b.WriteString("NOTE: This is an initial assessment based on reported symptoms.\n")
	b.WriteString("Please consult a qualified healthcare provider for a full diagnosis.\n")

	return b.String()
}

// Save writes the rendered report under the configured directory and returns
// the full path. The directory is created when absent. Filenames combine the
// sanitized patient name with a nanosecond-resolution timestamp; should the
// target path still exist, a disambiguating suffix is appended rather than
// overwriting. Transient write failures are retried MaxAttempts times with
// Backoff between attempts; a terminal failure wraps
// ErrReportPersistenceFailed.
func (s *ReportService) Save(ctx context.Context, text, patientName string) (string, error) {
	_, span := otel.Tracer("services/ReportService").Start(ctx, "Save")
	defer span.End()

	dir := s.Dir
	if dir == "" {
		dir = DefaultReportDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create reports folder: %v", ErrReportPersistenceFailed, err)
	}

	now := s.now
	if now == nil {
		now = time.Now
	}
	write := s.writeFile
	if write == nil {
		write = os.WriteFile
	}
	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = defaultSaveAttempts
	}

	stamp := now().Format("20060102_150405.000000000")
	base := fmt.Sprintf("%s_%s", SanitizeName(patientName), stamp)
	path := filepath.Join(dir, base+".txt")

	// Disambiguate if the underlying storage truncated timestamp resolution.
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.txt", base, i))
	}
	span.SetAttributes(attribute.String("report.path", path))

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && s.Backoff > 0 {
			time.Sleep(s.Backoff)
		}
		if lastErr = write(path, []byte(text), 0o644); lastErr == nil {
			return path, nil
		}
		log.Warn().Err(lastErr).Str("path", path).Int("attempt", i+1).Msg("report save failed")
	}
	return "", fmt.Errorf("%w: %v", ErrReportPersistenceFailed, lastErr)
}

// SanitizeName reduces a patient name to a filesystem-safe form: diacritics
// are folded to their base letters, spaces become underscores, letters,
// digits and hyphens are kept, and everything else is dropped. An empty
// result falls back to "patient".
func SanitizeName(name string) string {
	// Fold diacritics (e.g. "José" -> "Jose") before filtering.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, name); err == nil {
		name = folded
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "patient"
	}
	return out
}
