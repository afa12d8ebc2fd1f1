package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"todo-assistant/internal/domain"
)

func TestRuleClassifier(t *testing.T) {
	cases := []struct {
		in       string
		kind     domain.ActionKind
		entities map[string]string
	}{
		{"Add a task: Buy groceries", domain.ActionCreateTask, map[string]string{"title": "Buy groceries"}},
		{"please add a new task called \"Call mom\"", domain.ActionCreateTask, map[string]string{"title": "Call mom"}},
		{"add a task", domain.ActionCreateTask, map[string]string{}},
		{"remind me to water the plants", domain.ActionCreateTask, map[string]string{"title": "water the plants"}},
		{"create task Report with description quarterly numbers", domain.ActionCreateTask, map[string]string{"title": "Report", "description": "quarterly numbers"}},
		{"mark buy groceries as done", domain.ActionCompleteTask, map[string]string{"target": "buy groceries"}},
		{"complete the laundry task", domain.ActionCompleteTask, map[string]string{"target": "laundry"}},
		{"laundry is done!", domain.ActionCompleteTask, map[string]string{"target": "laundry"}},
		{"delete all my tasks", domain.ActionDeleteAllTasks, map[string]string{}},
		{"Clear my list", domain.ActionDeleteAllTasks, map[string]string{}},
		{"delete the dentist task", domain.ActionDeleteTask, map[string]string{"target": "dentist"}},
		{"remove a task", domain.ActionDeleteTask, map[string]string{}},
		{"rename groceries to weekly shop", domain.ActionUpdateTask, map[string]string{"target": "groceries", "title": "weekly shop"}},
		{"change the description of report to include charts", domain.ActionUpdateTask, map[string]string{"target": "report", "description": "include charts"}},
		{"update the description of report", domain.ActionUpdateTask, map[string]string{"target": "report", EntityUpdateField: "description"}},
		{"edit report title to Q3 report", domain.ActionUpdateTask, map[string]string{"target": "report", "title": "Q3 report"}},
		{"show my tasks", domain.ActionListTasks, map[string]string{}},
		{"what are my tasks?", domain.ActionListTasks, map[string]string{}},
		{"find tasks about groceries", domain.ActionSearchTasks, map[string]string{"query": "groceries"}},
		{"search", domain.ActionSearchTasks, map[string]string{}},
		{"show me tasks containing party", domain.ActionSearchTasks, map[string]string{"query": "party"}},
		{"Who am I?", domain.ActionGetUserInfo, map[string]string{}},
		{"what's my user id", domain.ActionGetUserInfo, map[string]string{}},
		{"show me my account info", domain.ActionGetUserInfo, map[string]string{}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			c, err := RuleClassifier{}.Classify(context.Background(), tc.in)
			require.NoError(t, err)
			top, ok := c.Top()
			require.True(t, ok)
			require.Equal(t, tc.kind, top.Kind)
			require.GreaterOrEqual(t, top.Confidence, DefaultThreshold)
			require.Equal(t, tc.entities, c.Entities)
		})
	}
}

func TestRuleClassifier_LowConfidenceAndUnknown(t *testing.T) {
	c, err := RuleClassifier{}.Classify(context.Background(), "I think maybe something should be done about it")
	require.NoError(t, err)
	top, ok := c.Top()
	require.True(t, ok)
	require.Less(t, top.Confidence, DefaultThreshold)

	c, err = RuleClassifier{}.Classify(context.Background(), "what's the weather like")
	require.NoError(t, err)
	_, ok = c.Top()
	require.False(t, ok)
}

func TestRuleGuard(t *testing.T) {
	g := RuleGuard{}
	for _, safe := range []string{"delete the dentist task", "Add a task: Buy groceries", "remove all my tasks"} {
		v, err := g.Check(context.Background(), safe)
		require.NoError(t, err)
		require.True(t, v.Safe, safe)
	}
	cases := map[string]string{
		"add task'; DROP TABLE tasks; --":         "sql_injection",
		"add a task with password=hunter2":        "credential",
		"add task <script>alert(1)</script>":      "script_injection",
		"I want to end my life":                   "self_harm",
		"a a a a a a a a a a a a a a a a a a a a": "excessive_repetition",
	}
	for in, reason := range cases {
		v, err := g.Check(context.Background(), in)
		require.NoError(t, err)
		require.False(t, v.Safe, in)
		require.Equal(t, reason, v.Reason, in)
	}
}

func TestChain(t *testing.T) {
	calls := 0
	flag := GuardFunc(func(context.Context, string) (Verdict, error) {
		calls++
		return Verdict{Reason: "flagged"}, nil
	})
	v, err := Chain(RuleGuard{}, nil, flag).Check(context.Background(), "add milk")
	require.NoError(t, err)
	require.False(t, v.Safe)
	require.Equal(t, "flagged", v.Reason)
	require.Equal(t, 1, calls)

	v, err = Chain(RuleGuard{}, flag).Check(context.Background(), "DROP TABLE x")
	require.NoError(t, err)
	require.Equal(t, "sql_injection", v.Reason)
	require.Equal(t, 1, calls, "later guards are skipped once one flags")
}
