package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"todo-assistant/internal/intent"
	"todo-assistant/internal/repository"
	"todo-assistant/internal/workflow"
)

const defaultRetryTries = 3

// retry runs op with bounded exponential backoff. Errors the caller has to
// act on (conflicts, missing tickets, unrecognized intents, 4xx responses)
// are returned on the first attempt.
func retry[T any](ctx context.Context, tries uint, newBackOff func() backoff.BackOff, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !transient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(newBackOff()), backoff.WithMaxTries(tries))
}

func transient(err error) bool {
	switch {
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, workflow.ErrTicketNotFound),
		errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, intent.ErrIntentRecognition),
		errors.Is(err, intent.ErrEntityExtraction),
		errors.Is(err, context.Canceled):
		return false
	}
	if status, ok := upstreamStatusCode(err); ok {
		return status >= 500
	}
	return true
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}
