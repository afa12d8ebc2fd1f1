package intent

import (
	"context"
	"regexp"
	"strings"

	"todo-assistant/internal/domain"
)

const (
	strongMatch = 0.9
	looseMatch  = 0.75
	keywordOnly = 0.35
)

// rule maps one anchored pattern to an action. Each named group becomes an
// entity; the "field" group selects which field the "value" group fills.
type rule struct {
	kind       domain.ActionKind
	confidence float64
	re         *regexp.Regexp
}

var rules = []rule{
	{domain.ActionGetUserInfo, strongMatch, regexp.MustCompile(`(?i)^(?:who\s+am\s+i|what(?:'s|\s+is)\s+my\s+(?:user\s*)?(?:id|name|account)|(?:show|get|tell)\s+(?:me\s+)?(?:my\s+)(?:user\s+|account\s+)?(?:info|information|details|profile))$`)},

	{domain.ActionDeleteAllTasks, strongMatch, regexp.MustCompile(`(?i)^(?:delete|remove|clear|erase|wipe)\s+(?:out\s+)?(?:all|every(?:thing)?)(?:\s+(?:of\s+)?(?:my|the))?(?:\s+tasks?)?(?:\s+list)?$`)},
	{domain.ActionDeleteAllTasks, strongMatch, regexp.MustCompile(`(?i)^(?:clear|wipe)\s+(?:my|the)\s+(?:task\s+)?list$`)},

	{domain.ActionDeleteTask, strongMatch, regexp.MustCompile(`(?i)^(?:delete|remove|drop|erase)\s+(?:the\s+|my\s+|a\s+)?(?:task\b\s*:?\s*)?(?P<target>.*)$`)},

	{domain.ActionCompleteTask, strongMatch, regexp.MustCompile(`(?i)^(?:mark|set)\s+(?:the\s+)?(?:task\s+)?(?P<target>.+?)\s+as\s+(?:done|complete|completed|finished)$`)},
	{domain.ActionCompleteTask, strongMatch, regexp.MustCompile(`(?i)^(?P<target>.+?)\s+is\s+(?:done|finished|complete|completed)$`)},

	{domain.ActionUpdateTask, strongMatch, regexp.MustCompile(`(?i)^(?:update|change|modify|edit|set)\s+(?:the\s+)?(?P<field>title|name|description)\s+of\s+(?:the\s+)?(?:task\s+)?(?P<target>.+?)\s+to\s+(?P<value>.+)$`)},
	{domain.ActionUpdateTask, strongMatch, regexp.MustCompile(`(?i)^(?:update|change|modify|edit)\s+(?:the\s+)?(?:task\s+)?(?P<target>.+?)(?:'s)?\s+(?P<field>title|name|description)\s+to\s+(?P<value>.+)$`)},
	{domain.ActionUpdateTask, strongMatch, regexp.MustCompile(`(?i)^rename\s+(?:the\s+)?(?:task\s+)?(?P<target>.+?)\s+to\s+(?P<title>.+)$`)},
	{domain.ActionUpdateTask, strongMatch, regexp.MustCompile(`(?i)^(?:update|change|modify|edit)\s+(?:the\s+)?(?P<field>title|name|description)\s+of\s+(?:the\s+)?(?:task\s+)?(?P<target>.+)$`)},

	{domain.ActionCompleteTask, strongMatch, regexp.MustCompile(`(?i)^(?:complete|finish|check\s+off)\s+(?:the\s+|my\s+|a\s+)?(?:task\b\s*:?\s*)?(?P<target>.*)$`)},
	{domain.ActionUpdateTask, strongMatch, regexp.MustCompile(`(?i)^(?:update|change|modify|edit)\s+(?:the\s+|my\s+|a\s+)?(?:task\b\s*:?\s*)?(?P<target>.*)$`)},

	{domain.ActionSearchTasks, strongMatch, regexp.MustCompile(`(?i)^(?:show|list|display)\s+(?:me\s+)?(?:my\s+|the\s+)?tasks?\s+(?:about|containing|with|like|matching|for)\s+(?P<query>.+)$`)},
	{domain.ActionSearchTasks, strongMatch, regexp.MustCompile(`(?i)^(?:find|search|look\s+for|look\s+up)(?:\s+for)?(?:\s+(?:my|the))?(?:\s+tasks?)?(?:\s+(?:about|containing|with|like|matching|for|called|named))?\s*(?P<query>.*)$`)},

	{domain.ActionListTasks, strongMatch, regexp.MustCompile(`(?i)^(?:show|list|display|view|get|see)(?:\s+me)?(?:\s+all)?(?:\s+(?:of\s+)?(?:my|the))?\s+(?:tasks?|to-?dos?|list)$`)},
	{domain.ActionListTasks, strongMatch, regexp.MustCompile(`(?i)^what(?:'s|\s+is|\s+are)?\s+(?:on\s+)?(?:my|the)\s+(?:tasks?|to-?dos?|list|to-?do\s+list)$`)},

	{domain.ActionCreateTask, strongMatch, regexp.MustCompile(`(?i)^(?:add|create|make|new)\s+(?:a\s+)?(?:new\s+)?task(?:\s+(?:called|named|titled|to))?\s*:?\s*(?P<title>.*)$`)},
	{domain.ActionCreateTask, strongMatch, regexp.MustCompile(`(?i)^remind\s+me\s+to\s+(?P<title>.+)$`)},
	{domain.ActionCreateTask, looseMatch, regexp.MustCompile(`(?i)^(?:add|create)\s+(?P<title>.+?)(?:\s+to\s+(?:my|the)\s+(?:list|tasks?|to-?dos?))?$`)},
}

var (
	politePrefix = regexp.MustCompile(`(?i)^(?:please|could you|can you|would you|hey|ok(?:ay)?)[,\s]+`)
	descSplit    = regexp.MustCompile(`(?i)^(.+?)\s+(?:with\s+(?:the\s+)?description|described\s+as|description\s*:)\s*(.+)$`)
)

// keywordHints back the anchored rules with a loose scan. A hit yields a
// candidate below the default threshold, so the user is asked to rephrase.
var keywordHints = []struct {
	kind  domain.ActionKind
	words []string
}{
	{domain.ActionDeleteTask, []string{"delete", "remove"}},
	{domain.ActionCompleteTask, []string{"done", "complete", "finish"}},
	{domain.ActionUpdateTask, []string{"update", "change", "edit", "rename"}},
	{domain.ActionSearchTasks, []string{"find", "search"}},
	{domain.ActionListTasks, []string{"show", "list"}},
	{domain.ActionCreateTask, []string{"add", "create", "new task"}},
}

// RuleClassifier is a deterministic pattern classifier. It needs no network
// and is the default NLU for local runs and tests.
type RuleClassifier struct{}

var _ Classifier = RuleClassifier{}

func (RuleClassifier) Classify(_ context.Context, text string) (Classification, error) {
	s := normalize(text)
	for _, r := range rules {
		m := r.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		return Classification{
			Candidates: []Candidate{{Kind: r.kind, Confidence: r.confidence}},
			Entities:   extract(r, m),
		}, nil
	}

	lower := strings.ToLower(s)
	for _, h := range keywordHints {
		for _, w := range h.words {
			if strings.Contains(lower, w) {
				return Classification{Candidates: []Candidate{{Kind: h.kind, Confidence: keywordOnly}}}, nil
			}
		}
	}
	return Classification{}, nil
}

func normalize(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	s = politePrefix.ReplaceAllString(s, "")
	return strings.TrimRight(s, ".!? ")
}

func extract(r rule, m []string) map[string]string {
	out := make(map[string]string)
	var field, value string
	for i, name := range r.re.SubexpNames() {
		if name == "" || i >= len(m) {
			continue
		}
		v := strings.TrimSpace(m[i])
		switch name {
		case "field":
			field = strings.ToLower(v)
		case "value":
			value = v
		case domain.FieldTarget:
			out[name] = cleanTarget(v)
		default:
			out[name] = unquote(v)
		}
	}
	if field == "name" {
		field = domain.FieldTitle
	}
	if field != "" {
		if value != "" {
			out[field] = unquote(value)
		} else {
			out[EntityUpdateField] = field
		}
	}
	if title := out[domain.FieldTitle]; title != "" && r.kind == domain.ActionCreateTask {
		if d := descSplit.FindStringSubmatch(title); d != nil {
			out[domain.FieldTitle] = unquote(strings.TrimSpace(d[1]))
			out[domain.FieldDescription] = unquote(strings.TrimSpace(d[2]))
		}
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out
}

func cleanTarget(s string) string {
	s = unquote(s)
	lower := strings.ToLower(s)
	if strings.HasSuffix(lower, " task") {
		s = strings.TrimSpace(s[:len(s)-len(" task")])
	}
	return s
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
