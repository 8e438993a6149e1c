package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"municonsole_back/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDisabledWithoutKey(t *testing.T) {
	client, err := NewClient(config.LLMConfig{BaseURL: "https://api.example.com/v1"})
	require.NoError(t, err)
	assert.Nil(t, client)

	_, err = NewClient(config.LLMConfig{APIKey: "k", BaseURL: "ftp://nope"})
	assert.Error(t, err)
}

func TestClientChat(t *testing.T) {
	var received completionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":" Hello there "}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer server.Close()

	client, err := NewClient(config.LLMConfig{APIKey: "secret", BaseURL: server.URL + "/v1/", ModelID: "fallback-model"})
	require.NoError(t, err)

	temperature := 0.2
	result, err := client.Chat(context.Background(), Request{
		Messages:    []Turn{{Role: "system", Content: "Be brief."}, {Content: "hi"}, {Role: RoleAssistant, Content: "  "}},
		Temperature: &temperature,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", result.Content)
	assert.Equal(t, 5, result.Usage.TotalTokens)

	assert.Equal(t, "fallback-model", received.Model)
	assert.False(t, received.Stream)
	assert.Equal(t, []completionMessage{{Role: "system", Content: "Be brief."}, {Role: RoleUser, Content: "hi"}}, received.Messages)
	require.NotNil(t, received.Temperature)
	assert.InDelta(t, 0.2, *received.Temperature, 1e-9)
}

func TestClientChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{
			`{"choices":[{"delta":{"content":"Bins are "}}]}`,
			`not json`,
			`{"choices":[{"delta":{"content":"emptied."},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":3,"total_tokens":7}}`,
		} {
			fmt.Fprintf(w, ": keep-alive\ndata: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client, err := NewClient(config.LLMConfig{APIKey: "secret", BaseURL: server.URL})
	require.NoError(t, err)

	var deltas []Delta
	result, err := client.ChatStream(context.Background(), Request{Model: "m", Messages: []Turn{{Role: RoleUser, Content: "when?"}}}, func(d Delta) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Bins are emptied.", result.Content)
	assert.Equal(t, 7, result.Usage.TotalTokens)
	require.Len(t, deltas, 3)
	assert.Equal(t, "Bins are ", deltas[0].Content)
	assert.Equal(t, "Bins are emptied.", deltas[1].FullContent)
	assert.True(t, deltas[2].Done)
}

func TestClientReportsProviderErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(config.LLMConfig{APIKey: "secret", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), Request{Messages: []Turn{{Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	_, err = client.Chat(context.Background(), Request{Messages: []Turn{{Content: " "}}})
	assert.EqualError(t, err, "chat: messages contain no content")
}
