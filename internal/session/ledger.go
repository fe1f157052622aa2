package session

import (
	"strings"
	"time"

	"github.com/tbourn/go-intake-backend/internal/domain"
	"github.com/tbourn/go-intake-backend/internal/services"
)

// Ledger is the append-only, session-scoped collection of reported symptoms.
// Entries keep their insertion order and are never removed or rewritten.
// Identical descriptions reported twice are stored twice: symptoms are free
// text, and conflating them is a conversation-layer concern.
//
// Ledger is not safe for concurrent use on its own; the owning Session
// serializes access.
type Ledger struct {
	entries []domain.Symptom
}

// Add validates and appends one symptom. An empty description fails with
// services.ErrInvalidSymptom and leaves the ledger untouched.
func (l *Ledger) Add(sym domain.Symptom) error {
	if strings.TrimSpace(sym.Description) == "" {
		return services.ErrInvalidSymptom
	}
	if sym.ReportedAt.IsZero() {
		sym.ReportedAt = time.Now().UTC()
	}
	l.entries = append(l.entries, sym)
	return nil
}

// Len returns the number of recorded symptoms.
func (l *Ledger) Len() int { return len(l.entries) }

// All returns the symptoms in insertion order. The result is a copy; mutating
// it does not affect ledger state.
func (l *Ledger) All() []domain.Symptom {
	out := make([]domain.Symptom, len(l.entries))
	copy(out, l.entries)
	return out
}
