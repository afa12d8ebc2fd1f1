package usecase

import (
	"fmt"
	"strings"

	"todo-assistant/internal/domain"
)

const (
	staleRequestText     = "Something changed while I was working on that. Could you say it again?"
	cancelledText        = "Okay, I cancelled that. Nothing was changed."
	confirmReminderText  = "Please reply 'yes' to confirm or 'no' to cancel."
	maxListedTitlesInMsg = 10
)

// clarifyText asks for the missing field, enumerating options when the target
// was ambiguous.
func clarifyText(kind domain.ActionKind, field string, options []domain.TaskOption) string {
	if len(options) > 0 {
		var b strings.Builder
		b.WriteString("Which task do you mean? I found several that match:")
		for i, o := range options {
			fmt.Fprintf(&b, "\n%d. %s", i+1, o.Title)
		}
		b.WriteString("\nReply with the number or the full title.")
		return b.String()
	}
	switch field {
	case domain.FieldTitle:
		if kind == domain.ActionUpdateTask {
			return "What should the new title be?"
		}
		return "What would you like to name your task?"
	case domain.FieldDescription:
		return "What should the new description be?"
	case domain.FieldQuery:
		return "What are you looking for in your tasks?"
	case domain.FieldTarget:
		switch kind {
		case domain.ActionUpdateTask:
			return "Which task would you like to update?"
		case domain.ActionDeleteTask:
			return "Which task would you like to delete?"
		case domain.ActionCompleteTask:
			return "Which task would you like to mark as complete?"
		}
	}
	return "Could you please provide more details?"
}

func confirmText(action domain.ResolvedAction) string {
	switch action.Kind {
	case domain.ActionDeleteAllTasks:
		return "Are you sure you want to delete all of your tasks? This cannot be undone. " + confirmReminderText
	case domain.ActionDeleteTask:
		return fmt.Sprintf("Are you sure you want to delete the task '%s'? This cannot be undone. %s",
			action.Param(domain.ParamTaskTitle), confirmReminderText)
	}
	return "Are you sure? " + confirmReminderText
}

func noMatchText(action domain.ResolvedAction) string {
	return fmt.Sprintf("I couldn't find any tasks containing '%s'.", action.Param(domain.FieldTarget))
}

// resultText summarizes an executed action.
func resultText(kind domain.ActionKind, res domain.ActionResult) string {
	title := ""
	if res.Task != nil {
		title = res.Task.Title
	}
	switch kind {
	case domain.ActionCreateTask:
		return fmt.Sprintf("Done! I've added '%s' to your tasks.", title)
	case domain.ActionUpdateTask:
		return fmt.Sprintf("Done! I've updated '%s'.", title)
	case domain.ActionCompleteTask:
		return fmt.Sprintf("Great! I've marked '%s' as complete.", title)
	case domain.ActionDeleteTask:
		return fmt.Sprintf("Done! I've deleted '%s'.", title)
	case domain.ActionDeleteAllTasks:
		n := 0
		if res.DeletedCount != nil {
			n = *res.DeletedCount
		}
		if n == 0 {
			return "You didn't have any tasks to delete."
		}
		return fmt.Sprintf("Done! I've deleted %d task%s.", n, plural(n))
	case domain.ActionGetUserInfo:
		return fmt.Sprintf("You're signed in as %s.", res.UserID)
	case domain.ActionListTasks:
		if len(res.Tasks) == 0 {
			return "You don't have any tasks at the moment."
		}
		return fmt.Sprintf("You have %d task%s:%s", len(res.Tasks), plural(len(res.Tasks)), listing(res.Tasks))
	case domain.ActionSearchTasks:
		if len(res.Tasks) == 0 {
			return "I couldn't find any tasks matching your search."
		}
		return fmt.Sprintf("I found %d matching task%s:%s", len(res.Tasks), plural(len(res.Tasks)), listing(res.Tasks))
	}
	return "Done!"
}

func listing(tasks []domain.Task) string {
	var b strings.Builder
	for i, t := range tasks {
		if i == maxListedTitlesInMsg {
			fmt.Fprintf(&b, "\n...and %d more", len(tasks)-i)
			break
		}
		mark := " "
		if t.Completed {
			mark = "x"
		}
		fmt.Fprintf(&b, "\n[%s] %s", mark, t.Title)
	}
	return b.String()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

var (
	affirmatives = map[string]bool{"yes": true, "y": true, "confirm": true, "ok": true, "okay": true, "sure": true, "proceed": true}
	negatives    = map[string]bool{"no": true, "n": true, "cancel": true, "stop": true, "nope": true, "abort": true}
)

// parseConfirmation classifies a free-text reply to a confirmation prompt.
// It returns ok=false when the reply is neither yes nor no.
func parseConfirmation(text string) (confirm, ok bool) {
	w := strings.Trim(strings.ToLower(strings.TrimSpace(text)), ".!")
	switch {
	case affirmatives[w]:
		return true, true
	case negatives[w]:
		return false, true
	}
	return false, false
}
