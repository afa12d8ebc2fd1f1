// Package taskapi is the HTTP client for the task service that owns task
// records. Every call is scoped to one user through the X-User-Id header and
// authenticated with a service token from the parameter store.
package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"todo-assistant/internal/domain"
	"todo-assistant/internal/integrations/paramstore"
)

var (
	// ErrNotFound is returned when the task does not exist for the user.
	ErrNotFound = errors.New("taskapi: task not found")
	// ErrStale is returned when an update loses the If-Unmodified-Since check.
	ErrStale = errors.New("taskapi: task was modified concurrently")
)

// HTTPStatusError captures non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("taskapi: unexpected status %d from %s %s: %s", e.StatusCode, e.Method, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the task service REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	getter     paramstore.Getter
	tokenParam string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates a Client. The service token is read from
// <paramPrefix>/task-api-token on every call; the paramstore client caches it.
func NewClient(ps paramstore.Getter, paramPrefix, baseURL string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("taskapi: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("taskapi: parameter prefix must not be empty")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("taskapi: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		getter:     ps,
		tokenParam: paramPrefix + "/task-api-token",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type listResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

// ListTasks returns every task of userID.
func (c *Client) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	var out listResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks", userID, nil, nil, &out); err != nil {
		return nil, fmt.Errorf("taskapi: ListTasks: %w", err)
	}
	return out.Tasks, nil
}

// SearchTasks returns tasks whose title or description contains query.
func (c *Client) SearchTasks(ctx context.Context, userID, query string) ([]domain.Task, error) {
	var out listResponse
	path := "/api/tasks?search=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, userID, nil, nil, &out); err != nil {
		return nil, fmt.Errorf("taskapi: SearchTasks: %w", err)
	}
	return out.Tasks, nil
}

// GetTask returns one task.
func (c *Client) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	var out domain.Task
	if err := c.do(ctx, http.MethodGet, taskPath(taskID), userID, nil, nil, &out); err != nil {
		return domain.Task{}, fmt.Errorf("taskapi: GetTask: %w", err)
	}
	return out, nil
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, userID string, draft domain.TaskDraft) (domain.Task, error) {
	if strings.TrimSpace(draft.Title) == "" {
		return domain.Task{}, errors.New("taskapi: CreateTask: title is required")
	}
	var out domain.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", userID, nil, draft, &out); err != nil {
		return domain.Task{}, fmt.Errorf("taskapi: CreateTask: %w", err)
	}
	return out, nil
}

// UpdateTask reads the task and writes patch conditioned on the updated_at it
// read, so a concurrent edit surfaces as ErrStale instead of being lost.
func (c *Client) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	cur, err := c.GetTask(ctx, userID, taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("taskapi: UpdateTask: %w", err)
	}
	hdr := http.Header{}
	if !cur.UpdatedAt.IsZero() {
		hdr.Set("If-Unmodified-Since", cur.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	var out domain.Task
	if err := c.do(ctx, http.MethodPut, taskPath(taskID), userID, hdr, patch, &out); err != nil {
		return domain.Task{}, fmt.Errorf("taskapi: UpdateTask: %w", err)
	}
	return out, nil
}

// CompleteTask marks a task completed.
func (c *Client) CompleteTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	var out domain.Task
	body := map[string]bool{"completed": true}
	if err := c.do(ctx, http.MethodPatch, taskPath(taskID)+"/complete", userID, nil, body, &out); err != nil {
		return domain.Task{}, fmt.Errorf("taskapi: CompleteTask: %w", err)
	}
	return out, nil
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, userID, taskID string) error {
	if err := c.do(ctx, http.MethodDelete, taskPath(taskID), userID, nil, nil, nil); err != nil {
		return fmt.Errorf("taskapi: DeleteTask: %w", err)
	}
	return nil
}

// DeleteAllTasks deletes every task of userID and returns the ids it removed.
// A task that disappears between list and delete is skipped.
func (c *Client) DeleteAllTasks(ctx context.Context, userID string) ([]string, error) {
	tasks, err := c.ListTasks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("taskapi: DeleteAllTasks: %w", err)
	}
	deleted := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if err := c.DeleteTask(ctx, userID, t.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("taskapi: DeleteAllTasks: %w", err)
		}
		deleted = append(deleted, t.ID)
	}
	return deleted, nil
}

func taskPath(id string) string {
	return "/api/tasks/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path, userID string, hdr http.Header, in, out any) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	token, err := paramstore.Token(ctx, c.getter, c.tokenParam)
	if err != nil {
		return fmt.Errorf("resolve service token: %w", err)
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-User-Id", userID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case res.StatusCode == http.StatusPreconditionFailed:
		return ErrStale
	case res.StatusCode < 200 || res.StatusCode >= 300:
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, Method: method, URL: u, Body: string(buf)}
	}

	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 4<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
