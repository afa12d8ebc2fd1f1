package openai

import (
	"context"
	"errors"

	"todo-assistant/internal/intent"
)

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged bool `json:"flagged"`
	} `json:"results"`
}

// Moderate calls the Moderations API and returns true if the input is flagged.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	var payload moderationResponse
	if err := c.call(ctx, "moderation", "/moderations", moderationRequest{Input: input}, &payload); err != nil {
		return false, err
	}
	if len(payload.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	return payload.Results[0].Flagged, nil
}

// Guard exposes Moderate as an intent.Guard.
func (c *Client) Guard() intent.Guard {
	return intent.GuardFunc(func(ctx context.Context, text string) (intent.Verdict, error) {
		flagged, err := c.Moderate(ctx, text)
		if err != nil {
			return intent.Verdict{}, err
		}
		if flagged {
			return intent.Verdict{Reason: "moderation_flagged"}, nil
		}
		return intent.Verdict{Safe: true}, nil
	})
}
