package intent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"todo-assistant/internal/domain"
)

// DefaultThreshold is the minimum top-candidate confidence.
const DefaultThreshold = 0.5

// Outcome is what the orchestrator should do with a resolution.
type Outcome string

const (
	// OutcomeExecute: the action is complete and safe to run now.
	OutcomeExecute Outcome = "execute"
	// OutcomeClarify: a field is missing or the target is ambiguous.
	OutcomeClarify Outcome = "clarify"
	// OutcomeConfirm: the action is complete and destructive.
	OutcomeConfirm Outcome = "confirm"
	// OutcomeNoMatch: the target matched no task.
	OutcomeNoMatch Outcome = "no_match"
)

// TaskLister is the read side of the task domain used for target matching.
type TaskLister interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
}

// Resolution is the pipeline result.
type Resolution struct {
	Outcome Outcome
	// Action carries every field collected so far, including the resolved
	// task id and title once a target is matched.
	Action domain.ResolvedAction
	// MissingField is the field to ask for when Outcome is OutcomeClarify.
	MissingField string
	// Options enumerates ambiguous target matches. Never auto-selected.
	Options    []domain.TaskOption
	Confidence float64
}

// Resolver implements the resolution policy over a Classifier.
type Resolver struct {
	nlu       Classifier
	tasks     TaskLister
	threshold float64
}

// NewResolver creates a Resolver. threshold <= 0 uses DefaultThreshold.
func NewResolver(nlu Classifier, tasks TaskLister, threshold float64) (*Resolver, error) {
	if nlu == nil {
		return nil, errors.New("intent: classifier must not be nil")
	}
	if tasks == nil {
		return nil, errors.New("intent: task lister must not be nil")
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Resolver{nlu: nlu, tasks: tasks, threshold: threshold}, nil
}

// Resolve resolves text for userID against the current workflow. While a
// field is awaited the text is taken literally as that field's value and the
// NLU is not consulted. The AWAITING_CONFIRMATION step is handled by the
// caller and is treated here like NONE.
func (r *Resolver) Resolve(ctx context.Context, userID, text string, st domain.WorkflowState) (Resolution, error) {
	if st.Step.AwaitingField() {
		return r.continueWorkflow(ctx, userID, text, st)
	}

	c, err := r.nlu.Classify(ctx, text)
	if err != nil {
		if errors.Is(err, ErrEntityExtraction) || errors.Is(err, ErrIntentRecognition) {
			return Resolution{}, err
		}
		return Resolution{}, fmt.Errorf("intent: classify: %w", err)
	}
	top, ok := c.Top()
	if !ok || !top.Kind.Valid() || top.Confidence < r.threshold {
		return Resolution{}, ErrIntentRecognition
	}
	entities, err := validateEntities(c.Entities)
	if err != nil {
		return Resolution{}, err
	}

	fields := make(map[string]string)
	for _, name := range relevantFields(top.Kind) {
		if v := entities[name]; v != "" {
			fields[name] = v
		}
	}
	res, err := r.complete(ctx, userID, top.Kind, fields)
	res.Confidence = top.Confidence
	return res, err
}

func (r *Resolver) continueWorkflow(ctx context.Context, userID, text string, st domain.WorkflowState) (Resolution, error) {
	kind := st.PendingAction.Kind
	fields := make(map[string]string, len(st.PendingAction.Fields)+1)
	for k, v := range st.PendingAction.Fields {
		fields[k] = v
	}
	field := st.Step.Field()
	value := strings.TrimSpace(text)
	if value == "" {
		return Resolution{
			Outcome:      OutcomeClarify,
			Action:       domain.ResolvedAction{Kind: kind, Parameters: fields},
			MissingField: field,
			Options:      st.PendingAction.Options,
			Confidence:   1,
		}, nil
	}

	if field == domain.FieldTarget {
		delete(fields, domain.ParamTaskID)
		delete(fields, domain.ParamTaskTitle)
		picked := pickOption(value, st.PendingAction.Options)
		switch len(picked) {
		case 0:
			fields[domain.FieldTarget] = value
		case 1:
			fields[domain.FieldTarget] = picked[0].Title
			fields[domain.ParamTaskID] = picked[0].ID
			fields[domain.ParamTaskTitle] = picked[0].Title
		default:
			// Several options carry this exact title; only a number can
			// tell them apart.
			fields[domain.FieldTarget] = value
			return Resolution{
				Outcome:      OutcomeClarify,
				Action:       domain.ResolvedAction{Kind: kind, Parameters: fields},
				MissingField: domain.FieldTarget,
				Options:      picked,
				Confidence:   1,
			}, nil
		}
	} else {
		fields[field] = value
	}
	res, err := r.complete(ctx, userID, kind, fields)
	res.Confidence = 1
	return res, err
}

// complete checks required fields in order and matches the target.
func (r *Resolver) complete(ctx context.Context, userID string, kind domain.ActionKind, fields map[string]string) (Resolution, error) {
	action := domain.ResolvedAction{Kind: kind, Parameters: fields}
	clarify := func(field string) Resolution {
		return Resolution{Outcome: OutcomeClarify, Action: action, MissingField: field}
	}

	switch kind {
	case domain.ActionCreateTask:
		if fields[domain.FieldTitle] == "" {
			return clarify(domain.FieldTitle), nil
		}
	case domain.ActionSearchTasks:
		if fields[domain.FieldQuery] == "" {
			return clarify(domain.FieldQuery), nil
		}
	case domain.ActionUpdateTask, domain.ActionCompleteTask, domain.ActionDeleteTask:
		if fields[domain.FieldTarget] == "" {
			return clarify(domain.FieldTarget), nil
		}
		if fields[domain.ParamTaskID] == "" {
			res, matched, err := r.matchTarget(ctx, userID, action)
			if err != nil || !matched {
				return res, err
			}
		}
		if kind == domain.ActionUpdateTask && fields[domain.FieldTitle] == "" && fields[domain.FieldDescription] == "" {
			if fields[EntityUpdateField] == domain.FieldDescription {
				return clarify(domain.FieldDescription), nil
			}
			return clarify(domain.FieldTitle), nil
		}
	}

	if kind.Destructive() {
		action.RequiresConfirmation = true
		return Resolution{Outcome: OutcomeConfirm, Action: action}, nil
	}
	return Resolution{Outcome: OutcomeExecute, Action: action}, nil
}

// matchTarget resolves the target by case-insensitive substring on title. On
// a single match it fills the task id and title into action.Parameters.
func (r *Resolver) matchTarget(ctx context.Context, userID string, action domain.ResolvedAction) (Resolution, bool, error) {
	tasks, err := r.tasks.ListTasks(ctx, userID)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("%w: list tasks: %w", ErrTargetLookup, err)
	}
	needle := strings.ToLower(action.Parameters[domain.FieldTarget])
	var matches []domain.TaskOption
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Title), needle) {
			matches = append(matches, domain.TaskOption{ID: t.ID, Title: t.Title})
		}
	}
	switch len(matches) {
	case 0:
		return Resolution{Outcome: OutcomeNoMatch, Action: action}, false, nil
	case 1:
		action.Parameters[domain.ParamTaskID] = matches[0].ID
		action.Parameters[domain.ParamTaskTitle] = matches[0].Title
		return Resolution{}, true, nil
	default:
		return Resolution{
			Outcome:      OutcomeClarify,
			Action:       action,
			MissingField: domain.FieldTarget,
			Options:      matches,
		}, false, nil
	}
}

// pickOption returns the options an answer selects: the one at a 1-based
// number, or every option whose title equals the answer. A title shared by
// several options selects all of them.
func pickOption(value string, opts []domain.TaskOption) []domain.TaskOption {
	if len(opts) == 0 {
		return nil
	}
	if n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(value, "#"), ".")); err == nil {
		if n >= 1 && n <= len(opts) {
			return []domain.TaskOption{opts[n-1]}
		}
		return nil
	}
	var picked []domain.TaskOption
	for _, o := range opts {
		if strings.EqualFold(strings.TrimSpace(o.Title), value) {
			picked = append(picked, o)
		}
	}
	return picked
}

func relevantFields(kind domain.ActionKind) []string {
	switch kind {
	case domain.ActionCreateTask:
		return []string{domain.FieldTitle, domain.FieldDescription}
	case domain.ActionUpdateTask:
		return []string{domain.FieldTarget, domain.FieldTitle, domain.FieldDescription, EntityUpdateField}
	case domain.ActionCompleteTask, domain.ActionDeleteTask:
		return []string{domain.FieldTarget}
	case domain.ActionSearchTasks:
		return []string{domain.FieldQuery}
	}
	return nil
}
