package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"todo-assistant/internal/domain"
)

func TestParseConfirmation(t *testing.T) {
	cases := []struct {
		in      string
		confirm bool
		ok      bool
	}{
		{"yes", true, true},
		{" Yes! ", true, true},
		{"OK.", true, true},
		{"no", false, true},
		{"Cancel", false, true},
		{"yes please delete it", false, false},
		{"maybe", false, false},
		{"", false, false},
	}
	for _, tc := range cases {
		confirm, ok := parseConfirmation(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.confirm, confirm, tc.in)
	}
}

func TestClarifyText(t *testing.T) {
	require.Equal(t, "What would you like to name your task?", clarifyText(domain.ActionCreateTask, domain.FieldTitle, nil))
	require.Equal(t, "What should the new title be?", clarifyText(domain.ActionUpdateTask, domain.FieldTitle, nil))
	require.Equal(t, "Which task would you like to delete?", clarifyText(domain.ActionDeleteTask, domain.FieldTarget, nil))

	txt := clarifyText(domain.ActionDeleteTask, domain.FieldTarget, []domain.TaskOption{{ID: "1", Title: "A"}, {ID: "2", Title: "B"}})
	require.Contains(t, txt, "\n1. A\n2. B\n")
}

func TestResultText(t *testing.T) {
	zero, three := 0, 3
	require.Equal(t, "You didn't have any tasks to delete.", resultText(domain.ActionDeleteAllTasks, domain.ActionResult{DeletedCount: &zero}))
	require.Equal(t, "Done! I've deleted 3 tasks.", resultText(domain.ActionDeleteAllTasks, domain.ActionResult{DeletedCount: &three}))
	require.Equal(t, "You don't have any tasks at the moment.", resultText(domain.ActionListTasks, domain.ActionResult{}))

	tasks := make([]domain.Task, 12)
	for i := range tasks {
		tasks[i] = domain.Task{Title: "t", Completed: i == 0}
	}
	txt := resultText(domain.ActionListTasks, domain.ActionResult{Tasks: tasks})
	require.Contains(t, txt, "You have 12 tasks:")
	require.Contains(t, txt, "[x] t")
	require.Contains(t, txt, "...and 2 more")
}
