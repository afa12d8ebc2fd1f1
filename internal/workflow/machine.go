// Package workflow persists per-user multi-turn conversation state and
// single-use confirmation tickets on the keyed state store.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"todo-assistant/internal/domain"
	"todo-assistant/internal/repository"
)

const (
	DefaultWorkflowTTL = 5 * time.Minute
	DefaultTicketTTL   = 5 * time.Minute
)

// ErrTicketNotFound covers every reason a ticket cannot be used: never
// issued, expired, already consumed, or owned by another user.
var ErrTicketNotFound = errors.New("workflow: confirmation ticket not found")

// ErrInvalidTransition is returned by Advance for a step change the state
// machine does not allow.
var ErrInvalidTransition = errors.New("workflow: invalid transition")

var newToken = func() string { return uuid.NewString() }

// Machine reads and writes workflow records and tickets. It holds no
// in-process state; the store version is the only serialisation point.
type Machine struct {
	store       repository.Store
	workflowTTL time.Duration
	ticketTTL   time.Duration
	now         func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithWorkflowTTL sets the lifetime of a workflow record.
func WithWorkflowTTL(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.workflowTTL = d
		}
	}
}

// WithTicketTTL sets the lifetime of a confirmation ticket.
func WithTicketTTL(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.ticketTTL = d
		}
	}
}

// WithClock injects the clock used for UpdatedAt/ExpiresAt stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMachine creates a Machine on store.
func NewMachine(store repository.Store, opts ...Option) (*Machine, error) {
	if store == nil {
		return nil, errors.New("workflow: store must not be nil")
	}
	m := &Machine{
		store:       store,
		workflowTTL: DefaultWorkflowTTL,
		ticketTTL:   DefaultTicketTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ValidTransition reports whether a workflow may move from one step to
// another. NONE is the absence of a record.
func ValidTransition(from, to domain.Step) bool {
	switch {
	case from == domain.StepNone:
		// Execute directly, start collecting a field, or ask for confirmation
		// when a destructive action arrives complete.
		return to == domain.StepNone || to.AwaitingField() || to == domain.StepAwaitingConfirmation
	case from.AwaitingField():
		return to == domain.StepNone || to.AwaitingField() || to == domain.StepAwaitingConfirmation
	case from == domain.StepAwaitingConfirmation:
		return to == domain.StepNone
	}
	return false
}

// Load returns the user's workflow. found is false when there is none,
// including when it expired.
func (m *Machine) Load(ctx context.Context, userID string) (domain.WorkflowState, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.WorkflowState{}, false, errors.New("workflow: user id is required")
	}
	st, ver, found, err := repository.GetJSON[domain.WorkflowState](ctx, m.store, repository.WorkflowKey(userID))
	if err != nil {
		return domain.WorkflowState{}, false, fmt.Errorf("workflow: Load: %w", err)
	}
	if !found {
		return domain.WorkflowState{UserID: userID}, false, nil
	}
	st.Version = ver
	return st, true, nil
}

// Advance writes next over prev. The write is conditional on prev.Version,
// or create-only when prev is NONE, so a racing writer yields
// repository.ErrConflict. Moving to NONE goes through Clear instead.
func (m *Machine) Advance(ctx context.Context, prev, next domain.WorkflowState) (domain.WorkflowState, error) {
	if next.Step == domain.StepNone {
		return domain.WorkflowState{}, fmt.Errorf("%w: use Clear to end a workflow", ErrInvalidTransition)
	}
	if !ValidTransition(prev.Step, next.Step) {
		return domain.WorkflowState{}, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, prev.Step, next.Step)
	}
	if next.UserID == "" {
		next.UserID = prev.UserID
	}
	if next.UserID == "" {
		return domain.WorkflowState{}, errors.New("workflow: user id is required")
	}

	now := m.now()
	next.UpdatedAt = now
	next.ExpiresAt = now.Add(m.workflowTTL)

	expected := ""
	if prev.Step != domain.StepNone {
		expected = prev.Version
	}
	ver, err := repository.PutJSON(ctx, m.store, repository.WorkflowKey(next.UserID), next, repository.PutOptions{
		TTL:             m.workflowTTL,
		Concurrency:     repository.FirstWrite,
		ExpectedVersion: expected,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return domain.WorkflowState{}, err
		}
		return domain.WorkflowState{}, fmt.Errorf("workflow: Advance: %w", err)
	}
	next.Version = ver
	return next, nil
}

// Clear ends the workflow with a versioned delete. Clearing NONE is a no-op.
// A concurrent writer yields repository.ErrConflict.
func (m *Machine) Clear(ctx context.Context, st domain.WorkflowState) error {
	if st.Step == domain.StepNone || st.Version == "" {
		return nil
	}
	err := m.store.Delete(ctx, repository.WorkflowKey(st.UserID), repository.DeleteOptions{ExpectedVersion: st.Version})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return err
		}
		return fmt.Errorf("workflow: Clear: %w", err)
	}
	return nil
}

// IssueTicket stores a single-use ticket for a destructive action.
func (m *Machine) IssueTicket(ctx context.Context, userID string, action domain.ResolvedAction) (domain.ConfirmationTicket, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.ConfirmationTicket{}, errors.New("workflow: user id is required")
	}
	now := m.now()
	action.RequiresConfirmation = true
	t := domain.ConfirmationTicket{
		Token:     newToken(),
		UserID:    userID,
		Action:    action,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ticketTTL),
	}
	ver, err := repository.PutJSON(ctx, m.store, repository.TicketKey(t.Token), t, repository.PutOptions{
		TTL:         m.ticketTTL,
		Concurrency: repository.FirstWrite,
	})
	if err != nil {
		return domain.ConfirmationTicket{}, fmt.Errorf("workflow: IssueTicket: %w", err)
	}
	t.Version = ver
	return t, nil
}

// ConsumeTicket atomically removes the ticket and returns it. Only the first
// caller for a given token succeeds; everyone else gets ErrTicketNotFound. A
// ticket owned by another user is left untouched.
func (m *Machine) ConsumeTicket(ctx context.Context, token, userID string) (domain.ConfirmationTicket, error) {
	if strings.TrimSpace(token) == "" {
		return domain.ConfirmationTicket{}, ErrTicketNotFound
	}
	key := repository.TicketKey(token)
	t, ver, found, err := repository.GetJSON[domain.ConfirmationTicket](ctx, m.store, key)
	if err != nil {
		return domain.ConfirmationTicket{}, fmt.Errorf("workflow: ConsumeTicket: %w", err)
	}
	if !found || t.UserID != userID {
		return domain.ConfirmationTicket{}, ErrTicketNotFound
	}
	if err := m.store.Delete(ctx, key, repository.DeleteOptions{ExpectedVersion: ver}); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return domain.ConfirmationTicket{}, ErrTicketNotFound
		}
		return domain.ConfirmationTicket{}, fmt.Errorf("workflow: ConsumeTicket: %w", err)
	}
	t.Version = ver
	return t, nil
}

// DiscardTicket consumes the ticket without returning it; used on cancel.
func (m *Machine) DiscardTicket(ctx context.Context, token, userID string) error {
	_, err := m.ConsumeTicket(ctx, token, userID)
	return err
}
