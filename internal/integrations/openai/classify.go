package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"todo-assistant/internal/domain"
	"todo-assistant/internal/intent"
)

const classifyPrompt = `You classify messages sent to a personal to-do assistant.
Intents: create_task, update_task, complete_task, delete_task, delete_all_tasks, list_tasks, search_tasks, get_user_info, unknown.
Return up to three candidates ordered by confidence between 0 and 1.
Entities, null when absent:
- title: the task title to create, or the new title for an update
- description: the task description to set
- target: words identifying an existing task to update, complete or delete
- query: search words for search_tasks
- update_field: "title" or "description" when the user names the field to change without a value
Copy entity text from the message; do not invent values.`

var classifySchema = json.RawMessage(`{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"candidates":{
			"type":"array",
			"items":{
				"type":"object",
				"additionalProperties":false,
				"properties":{
					"intent":{"type":"string","enum":["create_task","update_task","complete_task","delete_task","delete_all_tasks","list_tasks","search_tasks","get_user_info","unknown"]},
					"confidence":{"type":"number"}
				},
				"required":["intent","confidence"]
			}
		},
		"entities":{
			"type":"object",
			"additionalProperties":false,
			"properties":{
				"title":{"type":["string","null"]},
				"description":{"type":["string","null"]},
				"target":{"type":["string","null"]},
				"query":{"type":["string","null"]},
				"update_field":{"type":["string","null"],"enum":["title","description",null]}
			},
			"required":["title","description","target","query","update_field"]
		}
	},
	"required":["candidates","entities"]
}`)

type classifyOutput struct {
	Candidates []struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	} `json:"candidates"`
	Entities map[string]*string `json:"entities"`
}

var _ intent.Classifier = (*Client)(nil)

// Classify asks the chat model for intent candidates and entities using a
// strict JSON schema. Output that does not parse is an entity extraction
// failure; unknown intents are left out of the candidates.
func (c *Client) Classify(ctx context.Context, text string) (intent.Classification, error) {
	content, err := c.complete(ctx, []message{
		{Role: "system", Content: classifyPrompt},
		{Role: "user", Content: text},
	}, &responseFormat{
		Type:       "json_schema",
		JSONSchema: jsonSchemaConfig{Name: "task_intent", Strict: true, Schema: classifySchema},
	})
	if err != nil {
		return intent.Classification{}, err
	}

	var out classifyOutput
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return intent.Classification{}, fmt.Errorf("%w: openai: %v", intent.ErrEntityExtraction, err)
	}

	res := intent.Classification{Entities: make(map[string]string)}
	for _, cand := range out.Candidates {
		kind := domain.ActionKind(cand.Intent)
		if !kind.Valid() {
			continue
		}
		res.Candidates = append(res.Candidates, intent.Candidate{Kind: kind, Confidence: cand.Confidence})
	}
	sort.SliceStable(res.Candidates, func(i, j int) bool {
		return res.Candidates[i].Confidence > res.Candidates[j].Confidence
	})
	for k, v := range out.Entities {
		if v != nil && *v != "" {
			res.Entities[k] = *v
		}
	}
	return res, nil
}
