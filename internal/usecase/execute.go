package usecase

import (
	"context"
	"errors"
	"fmt"

	"todo-assistant/internal/domain"
	"todo-assistant/internal/events"
)

type pendingEvent struct {
	eventType string
	payload   any
}

// execute runs a resolved action against the task domain and, for
// mutations, publishes the matching event. A failed or timed out task call
// publishes nothing.
func (s *ChatService) execute(ctx context.Context, userID string, action domain.ResolvedAction) (Response, error) {
	tctx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	result, ev, err := s.apply(tctx, userID, action)
	if ev != nil {
		s.publish(ctx, *ev)
	}
	if err != nil {
		s.logger.Error("task action failed", "user_id", userID, "kind", action.Kind, "err", err)
		reason := "task_api_error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "task_api_timeout"
		}
		return Response{}, newError(ErrorTaskAPI, reason, err)
	}
	s.metrics.action(ctx, string(action.Kind))
	s.logger.Info("task action executed", "user_id", userID, "kind", action.Kind)
	return Response{
		Text:         resultText(action.Kind, result),
		Intent:       action.Kind,
		Outcome:      OutcomeExecuted,
		ActionResult: &result,
	}, nil
}

// apply performs one action. It may return an event together with an error
// when part of a bulk mutation committed before the failure.
func (s *ChatService) apply(ctx context.Context, userID string, action domain.ResolvedAction) (domain.ActionResult, *pendingEvent, error) {
	taskID := action.Param(domain.ParamTaskID)
	switch action.Kind {
	case domain.ActionCreateTask:
		task, err := s.tasks.CreateTask(ctx, userID, domain.TaskDraft{
			Title:       action.Param(domain.FieldTitle),
			Description: action.Param(domain.FieldDescription),
		})
		if err != nil {
			return domain.ActionResult{}, nil, err
		}
		return domain.ActionResult{Task: &task}, s.taskEvent(domain.EventTaskCreated, userID, task, nil), nil

	case domain.ActionUpdateTask:
		var (
			patch   domain.TaskPatch
			updated []string
		)
		if v := action.Param(domain.FieldTitle); v != "" {
			patch.Title = &v
			updated = append(updated, domain.FieldTitle)
		}
		if v := action.Param(domain.FieldDescription); v != "" {
			patch.Description = &v
			updated = append(updated, domain.FieldDescription)
		}
		if len(updated) == 0 {
			return domain.ActionResult{}, nil, errors.New("update without changes")
		}
		task, err := s.tasks.UpdateTask(ctx, userID, taskID, patch)
		if err != nil {
			return domain.ActionResult{}, nil, err
		}
		return domain.ActionResult{Task: &task}, s.taskEvent(domain.EventTaskUpdated, userID, task, updated), nil

	case domain.ActionCompleteTask:
		task, err := s.tasks.CompleteTask(ctx, userID, taskID)
		if err != nil {
			return domain.ActionResult{}, nil, err
		}
		return domain.ActionResult{Task: &task}, s.taskEvent(domain.EventTaskCompleted, userID, task, nil), nil

	case domain.ActionDeleteTask:
		if err := s.tasks.DeleteTask(ctx, userID, taskID); err != nil {
			return domain.ActionResult{}, nil, err
		}
		task := domain.Task{ID: taskID, Title: action.Param(domain.ParamTaskTitle), UserID: userID}
		return domain.ActionResult{Task: &task}, s.taskEvent(domain.EventTaskDeleted, userID, task, nil), nil

	case domain.ActionDeleteAllTasks:
		ids, err := s.tasks.DeleteAllTasks(ctx, userID)
		n := len(ids)
		var ev *pendingEvent
		if n > 0 {
			ev = &pendingEvent{
				eventType: domain.EventTaskBulkDeleted,
				payload:   domain.BulkDeletedPayload{UserID: userID, TaskIDs: ids, DeletedCount: n},
			}
		}
		if err != nil {
			return domain.ActionResult{}, ev, err
		}
		return domain.ActionResult{DeletedCount: &n}, ev, nil

	case domain.ActionListTasks:
		tasks, err := retry(ctx, s.retryTries, s.newBackOff, func() ([]domain.Task, error) {
			return s.tasks.ListTasks(ctx, userID)
		})
		if err != nil {
			return domain.ActionResult{}, nil, err
		}
		return domain.ActionResult{Tasks: nonNil(tasks)}, nil, nil

	case domain.ActionSearchTasks:
		query := action.Param(domain.FieldQuery)
		tasks, err := retry(ctx, s.retryTries, s.newBackOff, func() ([]domain.Task, error) {
			return s.tasks.SearchTasks(ctx, userID, query)
		})
		if err != nil {
			return domain.ActionResult{}, nil, err
		}
		return domain.ActionResult{Tasks: nonNil(tasks)}, nil, nil

	case domain.ActionGetUserInfo:
		return domain.ActionResult{UserID: userID}, nil, nil
	}
	return domain.ActionResult{}, nil, fmt.Errorf("unsupported action %q", action.Kind)
}

func (s *ChatService) taskEvent(eventType, userID string, task domain.Task, updated []string) *pendingEvent {
	at := task.UpdatedAt
	if at.IsZero() {
		at = s.now().UTC()
	}
	return &pendingEvent{
		eventType: eventType,
		payload: domain.TaskEventPayload{
			TaskID:        task.ID,
			UserID:        userID,
			Title:         task.Title,
			Description:   task.Description,
			Completed:     task.Completed,
			UpdatedFields: updated,
			UpdatedAt:     at,
		},
	}
}

// publish emits ev on the topic named after its type. The mutation already
// committed, so failures are deferred to background retry, never surfaced.
func (s *ChatService) publish(ctx context.Context, pe pendingEvent) {
	ev, err := events.NewEvent(pe.eventType, s.eventSource, pe.payload)
	if err != nil {
		s.logger.Error("failed to build event", "type", pe.eventType, "err", err)
		return
	}
	if s.events.PublishOrDefer(ctx, ev.Type, ev) {
		s.metrics.deferredEvent(ctx, ev.Type)
	}
}

func nonNil(tasks []domain.Task) []domain.Task {
	if tasks == nil {
		return []domain.Task{}
	}
	return tasks
}
