package narrative

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeMessages(t *testing.T, text string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			require.NoError(t, json.Unmarshal(body, seen))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_test_001",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": text}},
			"model":       DefaultModel,
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 42, "output_tokens": 7},
		})
	}))
}

func TestClaudeGenerator_Summarize(t *testing.T) {
	var seen map[string]any
	ts := fakeMessages(t, "  Surgery began 15.4 hours after arrival.  ", &seen)
	defer ts.Close()

	g := NewClaudeGenerator("test-key", "", zerolog.Nop(), option.WithBaseURL(ts.URL), option.WithMaxRetries(0))
	text, err := g.Summarize(context.Background(), Input{Prompt: "summarize this"})
	require.NoError(t, err)
	assert.Equal(t, "Surgery began 15.4 hours after arrival.", text)

	assert.Equal(t, DefaultModel, seen["model"])
	msgs, ok := seen["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Contains(t, string(mustJSON(t, msgs[0])), "summarize this")
	assert.Contains(t, string(mustJSON(t, seen["system"])), "quality abstractors")
}

func TestClaudeGenerator_Questions(t *testing.T) {
	ts := fakeMessages(t, "1. First?\n2. Second?", nil)
	defer ts.Close()

	g := NewClaudeGenerator("test-key", "claude-haiku-4-5-20251001", zerolog.Nop(), option.WithBaseURL(ts.URL), option.WithMaxRetries(0))
	qs, err := g.Questions(context.Background(), Input{Prompt: "questions please"})
	require.NoError(t, err)
	assert.Equal(t, []string{"First?", "Second?"}, qs)
}

func TestClaudeGenerator_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	g := NewClaudeGenerator("test-key", "", zerolog.Nop(), option.WithBaseURL(ts.URL), option.WithMaxRetries(0))
	_, err := g.Summarize(context.Background(), Input{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic summary")
}

func TestClaudeGenerator_EmptyPrompt(t *testing.T) {
	g := NewClaudeGenerator("test-key", "", zerolog.Nop())
	_, err := g.Summarize(context.Background(), Input{Prompt: "  "})
	assert.Error(t, err)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
