package domain

// ActionKind identifies what a resolved user command does to the task domain.
type ActionKind string

const (
	ActionCreateTask     ActionKind = "create_task"
	ActionUpdateTask     ActionKind = "update_task"
	ActionCompleteTask   ActionKind = "complete_task"
	ActionDeleteTask     ActionKind = "delete_task"
	ActionDeleteAllTasks ActionKind = "delete_all_tasks"
	ActionListTasks      ActionKind = "list_tasks"
	ActionSearchTasks    ActionKind = "search_tasks"
	// ActionGetUserInfo answers "who am I" from the authenticated principal.
	ActionGetUserInfo ActionKind = "get_user_info"
)

// Field names collected from the user across turns.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldTarget      = "target"
	FieldQuery       = "query"
)

// Parameters filled in once a target task has been resolved.
const (
	ParamTaskID    = "task_id"
	ParamTaskTitle = "task_title"
)

// Destructive reports whether the action needs explicit confirmation.
func (k ActionKind) Destructive() bool {
	return k == ActionDeleteTask || k == ActionDeleteAllTasks
}

// Mutating reports whether the action changes the task domain.
func (k ActionKind) Mutating() bool {
	switch k {
	case ActionCreateTask, ActionUpdateTask, ActionCompleteTask, ActionDeleteTask, ActionDeleteAllTasks:
		return true
	}
	return false
}

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionCreateTask, ActionUpdateTask, ActionCompleteTask, ActionDeleteTask,
		ActionDeleteAllTasks, ActionListTasks, ActionSearchTasks, ActionGetUserInfo:
		return true
	}
	return false
}

// ResolvedAction is the output of intent resolution. It is never persisted on
// its own: it is executed immediately or wrapped into a WorkflowState or a
// ConfirmationTicket.
type ResolvedAction struct {
	Kind                 ActionKind        `json:"kind"`
	Parameters           map[string]string `json:"parameters,omitempty"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
}

// Param returns a parameter value or "" when absent.
func (a ResolvedAction) Param(name string) string {
	if a.Parameters == nil {
		return ""
	}
	return a.Parameters[name]
}

// ActionResult is what an executed action reports back to the caller.
type ActionResult struct {
	Task         *Task  `json:"task,omitempty"`
	Tasks        []Task `json:"tasks,omitempty"`
	DeletedCount *int   `json:"deleted_count,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}
