package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"todo-assistant/internal/domain"
	"todo-assistant/internal/intent"
)

// fakeGetter is a minimal paramstore.Getter stub.
type fakeGetter struct {
	val    string
	err    error
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"sk-test"}`},
		"/todo-assistant",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
		WithModel("gpt-mock"),
	)
	require.NoError(t, err)
	return c
}

// chatReply wraps content in a chat completion envelope.
func chatReply(t *testing.T, content string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
	})
	require.NoError(t, err)
	return b
}

func TestEndpoint(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/moderations"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/moderations"},
		{"http://localhost:8080", "http://localhost:8080/v1/moderations"},
		{"", "https://api.openai.com/v1/moderations"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, endpoint(tc.base, "/moderations"), "base=%q", tc.base)
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/todo-assistant")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")

	_, err = NewClient(&fakeGetter{}, " / ")
	require.Error(t, err)

	c, err := NewClient(&fakeGetter{}, "/todo-assistant/")
	require.NoError(t, err)
	require.Equal(t, "/todo-assistant/open-ai-token", c.keyParam)
	require.Equal(t, defaultModel, c.model)
}

func TestCall_SendsKeyFromParamStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-from-ssm", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"results":[{"flagged":false}]}`))
	}))
	defer srv.Close()

	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/todo-assistant", WithBaseURL(srv.URL))
	require.NoError(t, err)
	require.Equal(t, "/todo-assistant/open-ai-token", c.keyParam)

	_, err = c.Moderate(context.Background(), "hi")
	require.NoError(t, err)
	_, err = c.Moderate(context.Background(), "hi again")
	require.NoError(t, err)
	require.Equal(t, 2, calls, "caching belongs to the parameter store")
}

func TestResolveAPIKey_BadSecret(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"other":"x"}`}, "/todo-assistant")
	require.NoError(t, err)
	_, err = c.Moderate(context.Background(), "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "resolve API key")
}

func TestClassify_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), `"name":"task_intent"`)
		require.Contains(t, string(body), `"model":"gpt-mock"`)
		require.Contains(t, string(body), `"strict":true`)
		_, _ = w.Write(chatReply(t, `{
			"candidates":[{"intent":"unknown","confidence":0.95},{"intent":"list_tasks","confidence":0.3},{"intent":"complete_task","confidence":0.8}],
			"entities":{"title":null,"description":null,"target":"buy groceries","query":"","update_field":null}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	got, err := c.Classify(context.Background(), "mark buy groceries as done")
	require.NoError(t, err)
	require.Equal(t, []intent.Candidate{
		{Kind: domain.ActionCompleteTask, Confidence: 0.8},
		{Kind: domain.ActionListTasks, Confidence: 0.3},
	}, got.Candidates)
	require.Equal(t, map[string]string{"target": "buy groceries"}, got.Entities)
}

func TestClassify_MalformedModelOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(chatReply(t, `not json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Classify(context.Background(), "x")
	require.ErrorIs(t, err, intent.ErrEntityExtraction)
}

func TestClassify_UpstreamStatus(t *testing.T) {
	for _, status := range []int{400, 429, 500} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"x"}`))
		}))
		c := newTestClient(t, srv)
		_, err := c.Classify(context.Background(), "x")
		srv.Close()

		require.Error(t, err)
		var se *HTTPStatusError
		require.True(t, errors.As(err, &se))
		require.Equal(t, status, se.HTTPStatusCode())
	}
}

func TestClassify_NoChoicesAndBadEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	c := newTestClient(t, srv)
	_, err := c.Classify(context.Background(), "x")
	srv.Close()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()
	c = newTestClient(t, srv)
	_, err = c.Classify(context.Background(), "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode chat response")
}

func TestClassify_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write(chatReply(t, `{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Classify(context.Background(), "x")
	require.Error(t, err)
}

func TestModerate(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		flagged bool
		errMsg  string
	}{
		{name: "not flagged", status: 200, body: `{"results":[{"flagged":false}]}`},
		{name: "flagged", status: 200, body: `{"results":[{"flagged":true}]}`, flagged: true},
		{name: "empty results", status: 200, body: `{"results":[]}`, errMsg: "no results"},
		{name: "malformed", status: 200, body: `{`, errMsg: "decode moderation"},
		{name: "429", status: 429, body: `{}`, errMsg: "429"},
		{name: "500", status: 500, body: `{}`, errMsg: "500"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/v1/moderations", r.URL.Path)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			flagged, err := newTestClient(t, srv).Moderate(context.Background(), "hello")
			if tc.errMsg != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.flagged, flagged)
		})
	}
}

func TestModerate_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/todo-assistant")
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Moderate(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestGuard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"flagged":true}]}`))
	}))
	defer srv.Close()

	v, err := newTestClient(t, srv).Guard().Check(context.Background(), "something nasty")
	require.NoError(t, err)
	require.False(t, v.Safe)
	require.Equal(t, "moderation_flagged", v.Reason)
}
