package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"todo-assistant/internal/domain"
	"todo-assistant/internal/intent"
	"todo-assistant/internal/repository"
	"todo-assistant/internal/workflow"
)

const (
	defaultMaxMessageLen = 1000
	defaultTaskTimeout   = 10 * time.Second
	defaultEventSource   = "todo-assistant/chat"
)

// Response outcomes.
const (
	OutcomeExecuted  = "executed"
	OutcomeClarify   = "clarify"
	OutcomeConfirm   = "confirm"
	OutcomeNoMatch   = "no_match"
	OutcomeCancelled = "cancelled"
	OutcomeStale     = "stale"
	OutcomeReminder  = "reminder"
)

// TaskService is the task domain API. Every call is scoped to one user.
type TaskService interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	SearchTasks(ctx context.Context, userID, query string) ([]domain.Task, error)
	CreateTask(ctx context.Context, userID string, draft domain.TaskDraft) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error)
	CompleteTask(ctx context.Context, userID, taskID string) (domain.Task, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
	DeleteAllTasks(ctx context.Context, userID string) ([]string, error)
}

type IntentResolver interface {
	Resolve(ctx context.Context, userID, text string, st domain.WorkflowState) (intent.Resolution, error)
}

type WorkflowStore interface {
	Load(ctx context.Context, userID string) (domain.WorkflowState, bool, error)
	Advance(ctx context.Context, prev, next domain.WorkflowState) (domain.WorkflowState, error)
	Clear(ctx context.Context, st domain.WorkflowState) error
	IssueTicket(ctx context.Context, userID string, action domain.ResolvedAction) (domain.ConfirmationTicket, error)
	ConsumeTicket(ctx context.Context, token, userID string) (domain.ConfirmationTicket, error)
}

type EventPublisher interface {
	PublishOrDefer(ctx context.Context, topic string, ev domain.DomainEvent) bool
}

// Dependencies are the collaborators of a ChatService. Guard defaults to
// intent.RuleGuard and Limiter to an in-process limiter.
type Dependencies struct {
	Tasks     TaskService
	Resolver  IntentResolver
	Workflows WorkflowStore
	Events    EventPublisher
	Guard     intent.Guard
	Limiter   RateLimiter
	Logger    *slog.Logger
}

type ChatService struct {
	tasks     TaskService
	resolver  IntentResolver
	workflows WorkflowStore
	events    EventPublisher
	guard     intent.Guard
	limiter   RateLimiter
	logger    *slog.Logger
	metrics   *metrics

	maxMessageLen int
	taskTimeout   time.Duration
	retryTries    uint
	eventSource   string
	newBackOff    func() backoff.BackOff
	now           func() time.Time
}

type Option func(*ChatService)

func WithMaxMessageLen(n int) Option {
	return func(s *ChatService) {
		if n > 0 {
			s.maxMessageLen = n
		}
	}
}

// WithTaskTimeout bounds each task domain call.
func WithTaskTimeout(d time.Duration) Option {
	return func(s *ChatService) {
		if d > 0 {
			s.taskTimeout = d
		}
	}
}

func WithRetryTries(n uint) Option {
	return func(s *ChatService) {
		if n > 0 {
			s.retryTries = n
		}
	}
}

func WithEventSource(src string) Option {
	return func(s *ChatService) {
		if src = strings.TrimSpace(src); src != "" {
			s.eventSource = src
		}
	}
}

func NewChatService(deps Dependencies, opts ...Option) (*ChatService, error) {
	if deps.Tasks == nil {
		return nil, errors.New("usecase: task service must not be nil")
	}
	if deps.Resolver == nil {
		return nil, errors.New("usecase: intent resolver must not be nil")
	}
	if deps.Workflows == nil {
		return nil, errors.New("usecase: workflow store must not be nil")
	}
	if deps.Events == nil {
		return nil, errors.New("usecase: event publisher must not be nil")
	}
	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("usecase: metrics: %w", err)
	}
	s := &ChatService{
		tasks:         deps.Tasks,
		resolver:      deps.Resolver,
		workflows:     deps.Workflows,
		events:        deps.Events,
		guard:         deps.Guard,
		limiter:       deps.Limiter,
		logger:        deps.Logger,
		metrics:       m,
		maxMessageLen: defaultMaxMessageLen,
		taskTimeout:   defaultTaskTimeout,
		retryTries:    defaultRetryTries,
		eventSource:   defaultEventSource,
		newBackOff:    defaultBackOff,
		now:           time.Now,
	}
	if s.guard == nil {
		s.guard = intent.RuleGuard{}
	}
	if s.limiter == nil {
		s.limiter = NewLocalLimiter(30, 10)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type ChatInput struct {
	// PrincipalID is the authenticated user. It is the only identity used
	// for data access.
	PrincipalID string
	// ClaimedUserID is the user_id sent in the request body. Display only.
	ClaimedUserID string
	Message       string
	SessionID     string
}

type ConfirmInput struct {
	PrincipalID   string
	ClaimedUserID string
	Token         string
	Cancel        bool
}

type Response struct {
	Text                  string
	Intent                domain.ActionKind
	Outcome               string
	ActionResult          *domain.ActionResult
	RequiresClarification bool
	MissingField          string
	Options               []domain.TaskOption
	RequiresConfirmation  bool
	ConfirmationToken     string
	SessionID             string
}

// ProcessMessage runs one chat turn for the authenticated user.
func (s *ChatService) ProcessMessage(ctx context.Context, in ChatInput) (Response, error) {
	resp, err := s.processMessage(ctx, in)
	if err != nil {
		s.metrics.failure(ctx, CodeOf(err))
		return Response{}, err
	}
	resp.SessionID = strings.TrimSpace(in.SessionID)
	if resp.SessionID == "" {
		resp.SessionID = newUUID()
	}
	s.metrics.message(ctx, resp.Outcome)
	return resp, nil
}

// ConfirmAction approves or cancels the action held by a confirmation
// ticket. The ticket is consumed before anything executes, so a token
// confirms at most one mutation.
func (s *ChatService) ConfirmAction(ctx context.Context, in ConfirmInput) (Response, error) {
	resp, err := s.confirmAction(ctx, in)
	if err != nil {
		s.metrics.failure(ctx, CodeOf(err))
		return Response{}, err
	}
	s.metrics.message(ctx, resp.Outcome)
	return resp, nil
}

func (s *ChatService) processMessage(ctx context.Context, in ChatInput) (Response, error) {
	userID, err := s.principal(in.PrincipalID, in.ClaimedUserID)
	if err != nil {
		return Response{}, err
	}
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return Response{}, newError(ErrorValidation, "empty_message", nil)
	}
	if utf8.RuneCountInString(msg) > s.maxMessageLen {
		return Response{}, newError(ErrorValidation, "message_too_long", nil)
	}
	if err := s.admit(ctx, userID); err != nil {
		return Response{}, err
	}
	if err := s.screen(ctx, userID, msg); err != nil {
		return Response{}, err
	}

	st, err := retry(ctx, s.retryTries, s.newBackOff, func() (domain.WorkflowState, error) {
		st, _, err := s.workflows.Load(ctx, userID)
		return st, err
	})
	if err != nil {
		return Response{}, newError(ErrorInternal, "state_load_error", err)
	}

	if st.Step == domain.StepAwaitingConfirmation {
		return s.answerConfirmation(ctx, userID, msg, st)
	}

	res, err := retry(ctx, s.retryTries, s.newBackOff, func() (intent.Resolution, error) {
		return s.resolver.Resolve(ctx, userID, msg, st)
	})
	if err != nil {
		return Response{}, s.resolveError(userID, err)
	}
	s.logger.Debug("intent resolved", "user_id", userID, "kind", res.Action.Kind, "outcome", res.Outcome, "confidence", res.Confidence)

	switch res.Outcome {
	case intent.OutcomeClarify:
		return s.clarify(ctx, st, res)
	case intent.OutcomeConfirm:
		return s.requestConfirmation(ctx, st, res)
	case intent.OutcomeNoMatch:
		if _, err := s.clearWorkflow(ctx, st); err != nil {
			s.logger.Warn("failed to end workflow after unmatched target", "user_id", userID, "err", err)
		}
		return Response{Text: noMatchText(res.Action), Intent: res.Action.Kind, Outcome: OutcomeNoMatch}, nil
	case intent.OutcomeExecute:
		ok, err := s.clearWorkflow(ctx, st)
		if err != nil {
			return Response{}, newError(ErrorInternal, "state_write_error", err)
		}
		if !ok {
			return staleResponse(res.Action.Kind), nil
		}
		return s.execute(ctx, userID, res.Action)
	}
	return Response{}, newError(ErrorInternal, "unknown_resolution", fmt.Errorf("outcome %q", res.Outcome))
}

func (s *ChatService) confirmAction(ctx context.Context, in ConfirmInput) (Response, error) {
	userID, err := s.principal(in.PrincipalID, in.ClaimedUserID)
	if err != nil {
		return Response{}, err
	}
	token := strings.TrimSpace(in.Token)
	if token == "" {
		return Response{}, newError(ErrorValidation, "missing_confirmation_token", nil)
	}
	if err := s.admit(ctx, userID); err != nil {
		return Response{}, err
	}
	return s.confirm(ctx, userID, token, in.Cancel)
}

func (s *ChatService) principal(principalID, claimed string) (string, error) {
	id := strings.TrimSpace(principalID)
	if id == "" {
		return "", newError(ErrorAuth, "missing_principal", nil)
	}
	if c := strings.TrimSpace(claimed); c != "" && c != id {
		s.logger.Warn("ignoring user_id that differs from the authenticated principal", "principal", id, "claimed", c)
	}
	return id, nil
}

func (s *ChatService) admit(ctx context.Context, userID string) error {
	ok, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		s.logger.Warn("rate limiter unavailable, admitting request", "user_id", userID, "err", err)
		return nil
	}
	if !ok {
		return newError(ErrorRateLimited, "user_rate_limited", nil)
	}
	return nil
}

func (s *ChatService) screen(ctx context.Context, userID, msg string) error {
	v, err := retry(ctx, s.retryTries, s.newBackOff, func() (intent.Verdict, error) {
		return s.guard.Check(ctx, msg)
	})
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return newError(ErrorRateLimited, "moderation_rate_limited", err)
		}
		return newError(ErrorInternal, "safety_check_error", err)
	}
	if !v.Safe {
		s.logger.Warn("blocked unsafe message", "user_id", userID, "reason", v.Reason)
		return newError(ErrorUnsafeAction, v.Reason, nil)
	}
	return nil
}

func (s *ChatService) resolveError(userID string, err error) error {
	switch {
	case errors.Is(err, intent.ErrIntentRecognition):
		return newError(ErrorIntentRecognition, "low_confidence", err)
	case errors.Is(err, intent.ErrEntityExtraction):
		return newError(ErrorEntityExtraction, "malformed_entities", err)
	case errors.Is(err, intent.ErrTargetLookup):
		return newError(ErrorTaskAPI, "task_lookup_error", err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, "nlu_rate_limited", err)
	}
	s.logger.Error("intent resolution failed", "user_id", userID, "err", err)
	return newError(ErrorInternal, "nlu_error", err)
}

func (s *ChatService) clarify(ctx context.Context, st domain.WorkflowState, res intent.Resolution) (Response, error) {
	step := domain.AwaitingStep(res.MissingField)
	if step == domain.StepNone {
		return Response{}, newError(ErrorInternal, "unknown_field", fmt.Errorf("field %q", res.MissingField))
	}
	next := domain.WorkflowState{
		UserID: st.UserID,
		Step:   step,
		PendingAction: domain.PendingAction{
			Kind:    res.Action.Kind,
			Fields:  res.Action.Parameters,
			Options: res.Options,
		},
	}
	ok, err := s.advance(ctx, st, next)
	if err != nil {
		return Response{}, newError(ErrorInternal, "state_write_error", err)
	}
	if !ok {
		return staleResponse(res.Action.Kind), nil
	}
	return Response{
		Text:                  clarifyText(res.Action.Kind, res.MissingField, res.Options),
		Intent:                res.Action.Kind,
		Outcome:               OutcomeClarify,
		RequiresClarification: true,
		MissingField:          res.MissingField,
		Options:               res.Options,
	}, nil
}

func (s *ChatService) requestConfirmation(ctx context.Context, st domain.WorkflowState, res intent.Resolution) (Response, error) {
	ticket, err := retry(ctx, s.retryTries, s.newBackOff, func() (domain.ConfirmationTicket, error) {
		return s.workflows.IssueTicket(ctx, st.UserID, res.Action)
	})
	if err != nil {
		return Response{}, newError(ErrorInternal, "ticket_issue_error", err)
	}
	next := domain.WorkflowState{
		UserID: st.UserID,
		Step:   domain.StepAwaitingConfirmation,
		PendingAction: domain.PendingAction{
			Kind:        res.Action.Kind,
			Fields:      res.Action.Parameters,
			TicketToken: ticket.Token,
		},
	}
	ok, err := s.advance(ctx, st, next)
	if err != nil || !ok {
		if _, derr := s.workflows.ConsumeTicket(ctx, ticket.Token, st.UserID); derr != nil {
			s.logger.Warn("failed to discard orphaned ticket", "user_id", st.UserID, "err", derr)
		}
		if err != nil {
			return Response{}, newError(ErrorInternal, "state_write_error", err)
		}
		return staleResponse(res.Action.Kind), nil
	}
	return Response{
		Text:                 confirmText(res.Action),
		Intent:               res.Action.Kind,
		Outcome:              OutcomeConfirm,
		RequiresConfirmation: true,
		ConfirmationToken:    ticket.Token,
	}, nil
}

// answerConfirmation handles a chat reply while a confirmation is pending.
// yes and no go through the same ticket path as ConfirmAction.
func (s *ChatService) answerConfirmation(ctx context.Context, userID, msg string, st domain.WorkflowState) (Response, error) {
	token := st.PendingAction.TicketToken
	approve, ok := parseConfirmation(msg)
	if !ok {
		action := domain.ResolvedAction{Kind: st.PendingAction.Kind, Parameters: st.PendingAction.Fields, RequiresConfirmation: true}
		return Response{
			Text:                 confirmText(action),
			Intent:               action.Kind,
			Outcome:              OutcomeReminder,
			RequiresConfirmation: true,
			ConfirmationToken:    token,
		}, nil
	}
	return s.confirm(ctx, userID, token, !approve)
}

func (s *ChatService) confirm(ctx context.Context, userID, token string, cancel bool) (Response, error) {
	ticket, err := retry(ctx, s.retryTries, s.newBackOff, func() (domain.ConfirmationTicket, error) {
		return s.workflows.ConsumeTicket(ctx, token, userID)
	})
	s.releaseConfirmation(ctx, userID, token)
	if err != nil {
		if errors.Is(err, workflow.ErrTicketNotFound) {
			return Response{}, newError(ErrorConfirmationExpired, "ticket_not_found", err)
		}
		return Response{}, newError(ErrorInternal, "ticket_consume_error", err)
	}
	if cancel {
		s.logger.Info("destructive action cancelled", "user_id", userID, "kind", ticket.Action.Kind)
		return Response{Text: cancelledText, Intent: ticket.Action.Kind, Outcome: OutcomeCancelled}, nil
	}
	return s.execute(ctx, userID, ticket.Action)
}

// releaseConfirmation ends the AWAITING_CONFIRMATION workflow bound to token.
// Failures are logged; the workflow expires on its own.
func (s *ChatService) releaseConfirmation(ctx context.Context, userID, token string) {
	st, found, err := s.workflows.Load(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to load workflow after confirmation", "user_id", userID, "err", err)
		return
	}
	if !found || st.Step != domain.StepAwaitingConfirmation || st.PendingAction.TicketToken != token {
		return
	}
	if err := s.workflows.Clear(ctx, st); err != nil && !errors.Is(err, repository.ErrConflict) {
		s.logger.Warn("failed to end confirmation workflow", "user_id", userID, "err", err)
	}
}

// advance moves the workflow from prev to next under the conflict policy.
func (s *ChatService) advance(ctx context.Context, prev, next domain.WorkflowState) (bool, error) {
	return s.onConflict(ctx, prev, func() error {
		_, err := retry(ctx, s.retryTries, s.newBackOff, func() (domain.WorkflowState, error) {
			return s.workflows.Advance(ctx, prev, next)
		})
		return err
	})
}

// clearWorkflow claims st by deleting it at its version. Claiming NONE
// always succeeds.
func (s *ChatService) clearWorkflow(ctx context.Context, st domain.WorkflowState) (bool, error) {
	if st.Step == domain.StepNone {
		return true, nil
	}
	return s.onConflict(ctx, st, func() error {
		_, err := retry(ctx, s.retryTries, s.newBackOff, func() (struct{}, error) {
			return struct{}{}, s.workflows.Clear(ctx, st)
		})
		return err
	})
}

// onConflict runs write and, on a version conflict, re-reads the workflow
// once. If nobody else moved it the write is retried once; otherwise the
// request was based on stale state and false is returned.
func (s *ChatService) onConflict(ctx context.Context, prev domain.WorkflowState, write func() error) (bool, error) {
	err := write()
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return false, err
	}
	cur, found, err := s.workflows.Load(ctx, prev.UserID)
	if err != nil {
		return false, err
	}
	unchanged := (found && cur.Version == prev.Version) || (!found && prev.Step == domain.StepNone)
	if !unchanged {
		s.logger.Info("workflow moved concurrently, dropping stale request", "user_id", prev.UserID, "step", cur.Step)
		return false, nil
	}
	if err := write(); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func staleResponse(kind domain.ActionKind) Response {
	return Response{Text: staleRequestText, Intent: kind, Outcome: OutcomeStale}
}

var newUUID = func() string {
	return uuid.NewString()
}
