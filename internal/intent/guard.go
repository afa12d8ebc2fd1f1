package intent

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Verdict is a safety screen result. Reason is a stable machine-readable tag.
type Verdict struct {
	Safe   bool
	Reason string
}

// Guard screens a message before it reaches the NLU or the task domain.
type Guard interface {
	Check(ctx context.Context, text string) (Verdict, error)
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(ctx context.Context, text string) (Verdict, error)

func (f GuardFunc) Check(ctx context.Context, text string) (Verdict, error) {
	return f(ctx, text)
}

// RuleGuard blocks injection-shaped input, credentials and a fixed list of
// restricted topics. Task verbs such as "delete" are allowed.
type RuleGuard struct{}

var _ Guard = RuleGuard{}

var guardPatterns = []struct {
	reason string
	re     *regexp.Regexp
}{
	{"sql_injection", regexp.MustCompile(`(?i)\b(?:drop\s+table|truncate\s+table|insert\s+into|select\s+\*\s+from|delete\s+from|alter\s+table|union\s+select)\b`)},
	{"command_execution", regexp.MustCompile(`(?i)(?:\brm\s+-rf\b|\bsubprocess\.|\bos\.system\b|\beval\(|\bexec\()`)},
	{"credential", regexp.MustCompile(`(?i)\b(?:password|secret|api[_-]?key|token)\s*[:=]\s*\S+`)},
	{"script_injection", regexp.MustCompile(`(?i)<\s*script\b`)},
}

var restrictedPhrases = map[string]string{
	"suicide":           "self_harm",
	"kill myself":       "self_harm",
	"end my life":       "self_harm",
	"hurt myself":       "self_harm",
	"self harm":         "self_harm",
	"hate speech":       "restricted_topic",
	"harassment":        "restricted_topic",
	"porn":              "explicit_content",
	"sexually explicit": "explicit_content",
}

func (RuleGuard) Check(_ context.Context, text string) (Verdict, error) {
	for _, p := range guardPatterns {
		if p.re.MatchString(text) {
			return Verdict{Reason: p.reason}, nil
		}
	}
	lower := strings.ToLower(text)
	for phrase, reason := range restrictedPhrases {
		if strings.Contains(lower, phrase) {
			return Verdict{Reason: reason}, nil
		}
	}
	words := strings.Fields(lower)
	if len(words) >= 10 {
		uniq := make(map[string]struct{}, len(words))
		for _, w := range words {
			uniq[w] = struct{}{}
		}
		if float64(len(uniq))/float64(len(words)) < 0.2 {
			return Verdict{Reason: "excessive_repetition"}, nil
		}
	}
	return Verdict{Safe: true}, nil
}

// Chain runs guards in order and returns the first unsafe verdict. A guard
// error stops the chain.
func Chain(guards ...Guard) Guard {
	return GuardFunc(func(ctx context.Context, text string) (Verdict, error) {
		for _, g := range guards {
			if g == nil {
				continue
			}
			v, err := g.Check(ctx, text)
			if err != nil {
				return Verdict{}, errors.Join(errors.New("intent: guard failed"), err)
			}
			if !v.Safe {
				return v, nil
			}
		}
		return Verdict{Safe: true}, nil
	})
}
