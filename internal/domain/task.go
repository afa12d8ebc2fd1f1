package domain

import "time"

// Task is the task entity owned by the external task service.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskDraft carries the fields for a task that does not exist yet.
type TaskDraft struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// TaskPatch is a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

// TaskOption is one candidate offered to the user during disambiguation.
type TaskOption struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}
