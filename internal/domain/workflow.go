package domain

import "time"

// Step tags what input a workflow expects next. The zero value is NONE, which
// is never persisted: no record means no workflow.
type Step string

const (
	StepNone                 Step = ""
	StepAwaitingTitle        Step = "awaiting_title"
	StepAwaitingDescription  Step = "awaiting_description"
	StepAwaitingTarget       Step = "awaiting_target"
	StepAwaitingQuery        Step = "awaiting_query"
	StepAwaitingConfirmation Step = "awaiting_confirmation"
)

// AwaitingStep returns the step that collects the named field.
func AwaitingStep(field string) Step {
	switch field {
	case FieldTitle:
		return StepAwaitingTitle
	case FieldDescription:
		return StepAwaitingDescription
	case FieldTarget:
		return StepAwaitingTarget
	case FieldQuery:
		return StepAwaitingQuery
	}
	return StepNone
}

// Field returns the field a step collects, or "" for non-field steps.
func (s Step) Field() string {
	switch s {
	case StepAwaitingTitle:
		return FieldTitle
	case StepAwaitingDescription:
		return FieldDescription
	case StepAwaitingTarget:
		return FieldTarget
	case StepAwaitingQuery:
		return FieldQuery
	}
	return ""
}

// AwaitingField reports whether s is one of the AWAITING_FIELD steps.
func (s Step) AwaitingField() bool {
	return s.Field() != ""
}

// PendingAction is the partially built action carried between turns.
type PendingAction struct {
	Kind    ActionKind        `json:"kind"`
	Fields  map[string]string `json:"fields,omitempty"`
	Options []TaskOption      `json:"options,omitempty"`
	// TicketToken links an AWAITING_CONFIRMATION workflow to its ticket.
	TicketToken string `json:"ticket_token,omitempty"`
}

// WorkflowState is an in-progress multi-turn conversation for one user.
// Version and ExpiresAt are populated from the store and are not serialized
// into the stored value.
type WorkflowState struct {
	UserID        string        `json:"user_id"`
	Step          Step          `json:"step"`
	PendingAction PendingAction `json:"pending_action"`
	UpdatedAt     time.Time     `json:"updated_at"`

	Version   string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ConfirmationTicket gates a destructive action until the user approves it.
type ConfirmationTicket struct {
	Token     string         `json:"token"`
	UserID    string         `json:"user_id"`
	Action    ResolvedAction `json:"action"`
	IssuedAt  time.Time      `json:"issued_at"`
	ExpiresAt time.Time      `json:"expires_at"`

	Version string `json:"-"`
}
