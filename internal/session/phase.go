// Package session implements the consultation session engine: the
// conversation-phase state machine, the append-only symptom ledger, the
// session aggregate that composes them with identity resolution and report
// generation, and an in-memory registry for concurrently active sessions.
package session

import (
	"errors"
	"fmt"
)

// Phase is a named stage of the fixed conversation state machine.
type Phase int

// Conversation phases, in forward order. Reported is terminal.
const (
	PhaseGreeting Phase = iota
	PhaseIdentityResolution
	PhaseInfoCollection
	PhaseSymptomCollection
	PhaseCompletion
	PhaseReported
)

// String returns the wire name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseGreeting:
		return "GREETING"
	case PhaseIdentityResolution:
		return "IDENTITY_RESOLUTION"
	case PhaseInfoCollection:
		return "INFO_COLLECTION"
	case PhaseSymptomCollection:
		return "SYMPTOM_COLLECTION"
	case PhaseCompletion:
		return "COMPLETION"
	case PhaseReported:
		return "REPORTED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Event is a conversation occurrence that may advance the phase machine.
type Event int

// Events recognized by the phase machine.
const (
	// EventStart opens the conversation.
	EventStart Event = iota
	// EventPatientFound fires on a successful lookup of a returning patient;
	// demographics are on file, so info collection is skipped.
	EventPatientFound
	// EventProfileRequested fires when the caller begins collecting
	// demographics for a new profile.
	EventProfileRequested
	// EventInfoComplete fires once all demographic fields are present and
	// valid (for a new profile this includes the successful create).
	EventInfoComplete
	// EventCorrection fires when the patient wants to amend demographic
	// data mid symptom collection. The only backward edge.
	EventCorrection
	// EventComplete is the caller's opaque "conversation complete" signal.
	EventComplete
	// EventReportSaved fires after the report was rendered and persisted.
	EventReportSaved
)

// String returns the event name for logs and errors.
func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventPatientFound:
		return "patient_found"
	case EventProfileRequested:
		return "profile_requested"
	case EventInfoComplete:
		return "info_complete"
	case EventCorrection:
		return "correction"
	case EventComplete:
		return "complete"
	case EventReportSaved:
		return "report_saved"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// ErrInvalidPhaseTransition is returned for any (phase, event) pair outside
// the transition table. It indicates a protocol violation by the integrating
// layer, not a user-facing condition; the phase is left unchanged.
var ErrInvalidPhaseTransition = errors.New("invalid phase transition")

// transitions is the explicit edge set of the conversation machine. Any pair
// absent from this table is rejected.
var transitions = map[Phase]map[Event]Phase{
	PhaseGreeting: {
		EventStart: PhaseIdentityResolution,
	},
	PhaseIdentityResolution: {
		EventPatientFound:     PhaseSymptomCollection,
		EventProfileRequested: PhaseInfoCollection,
	},
	PhaseInfoCollection: {
		EventInfoComplete: PhaseSymptomCollection,
	},
	PhaseSymptomCollection: {
		EventCorrection: PhaseInfoCollection,
		EventComplete:   PhaseCompletion,
	},
	PhaseCompletion: {
		EventReportSaved: PhaseReported,
	},
}

// Controller is the finite-state machine governing which actions are legal
// at each point in the conversation. The zero value starts in GREETING.
type Controller struct {
	phase Phase
}

// Current returns the current phase.
func (c *Controller) Current() Phase { return c.phase }

// Completed reports whether the conversation reached its terminal phase.
func (c *Controller) Completed() bool { return c.phase == PhaseReported }

// Fire applies an event. If the (phase, event) pair is not in the transition
// table, it returns ErrInvalidPhaseTransition and leaves the phase unchanged;
// rejection is idempotent.
func (c *Controller) Fire(ev Event) error {
	next, ok := transitions[c.phase][ev]
	if !ok {
		return fmt.Errorf("%w: %s in %s", ErrInvalidPhaseTransition, ev, c.phase)
	}
	c.phase = next
	return nil
}

// can reports whether ev is legal in the current phase without firing it.
func (c *Controller) can(ev Event) bool {
	_, ok := transitions[c.phase][ev]
	return ok
}
