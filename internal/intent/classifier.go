// Package intent turns a user message plus the current workflow into a
// resolved task action or a request for more input.
package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"todo-assistant/internal/domain"
)

// EntityUpdateField names which field an update targets when the user did
// not give a value ("change the description of X").
const EntityUpdateField = "update_field"

const maxEntityLen = 500

var (
	// ErrIntentRecognition means no intent reached the confidence threshold.
	ErrIntentRecognition = errors.New("intent: intent not recognized")
	// ErrEntityExtraction means the classifier returned unusable entities.
	ErrEntityExtraction = errors.New("intent: malformed entities")
	// ErrTargetLookup wraps failures of the task listing used for matching.
	ErrTargetLookup = errors.New("intent: target lookup failed")
)

// Candidate is one intent hypothesis.
type Candidate struct {
	Kind       domain.ActionKind `json:"intent"`
	Confidence float64           `json:"confidence"`
}

// Classification is the NLU output. Candidates are ordered by confidence,
// highest first.
type Classification struct {
	Candidates []Candidate       `json:"candidates"`
	Entities   map[string]string `json:"entities"`
}

// Top returns the best candidate, if any.
func (c Classification) Top() (Candidate, bool) {
	if len(c.Candidates) == 0 {
		return Candidate{}, false
	}
	return c.Candidates[0], true
}

// Classifier is the NLU collaborator.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

var entityKeys = map[string]bool{
	domain.FieldTitle:       true,
	domain.FieldDescription: true,
	domain.FieldTarget:      true,
	domain.FieldQuery:       true,
	EntityUpdateField:       true,
}

// validateEntities keeps known entity keys and rejects values that cannot be
// used as task fields.
func validateEntities(in map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if !entityKeys[k] {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !utf8.ValidString(v) || utf8.RuneCountInString(v) > maxEntityLen {
			return nil, fmt.Errorf("%w: %s", ErrEntityExtraction, k)
		}
		if strings.IndexFunc(v, func(r rune) bool { return unicode.IsControl(r) && r != '\t' }) >= 0 {
			return nil, fmt.Errorf("%w: %s contains control characters", ErrEntityExtraction, k)
		}
		if k == EntityUpdateField && v != domain.FieldTitle && v != domain.FieldDescription {
			return nil, fmt.Errorf("%w: update_field %q", ErrEntityExtraction, v)
		}
		out[k] = v
	}
	return out, nil
}
