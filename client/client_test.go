package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"municonsole_back/knowledgebase"
	"municonsole_back/notifications"
	"municonsole_back/pagination"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func knowledgeServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	pages := map[string]pagination.Page[knowledgebase.Item]{
		"":   {Items: []knowledgebase.Item{{ID: 5}, {ID: 4}}, NextCursor: "c1", HasMore: true},
		"c1": {Items: []knowledgebase.Item{{ID: 3}, {ID: 2}}, NextCursor: "c2", HasMore: true},
		"c2": {Items: []knowledgebase.Item{{ID: 1}}},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "incorrect Username or Password"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok", "expire": "2030-01-01T00:00:00Z"})
	})
	mux.HandleFunc("GET /api/knowledgebase", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if r.URL.Query().Get("assistant_id") == "9" {
			_ = json.NewEncoder(w).Encode(pagination.Page[knowledgebase.Item]{Items: []knowledgebase.Item{{ID: 90}}})
			return
		}
		_ = json.NewEncoder(w).Encode(pages[r.URL.Query().Get("cursor")])
	})
	mux.HandleFunc("POST /api/notifications", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid notification", "code": "invalid_argument", "fields": map[string]string{"title": "Title is required"}})
	})
	return httptest.NewServer(mux)
}

func ids(items []knowledgebase.Item) []uint64 {
	out := make([]uint64, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

func TestLoginKeepsToken(t *testing.T) {
	var requests atomic.Int32
	server := knowledgeServer(t, &requests)
	defer server.Close()

	c := New(server.URL + "/")
	_, err := c.Login(context.Background(), "a@example.org", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Empty(t, c.Token())

	result, err := c.Login(context.Background(), "a@example.org", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok", result.Token)
	assert.Equal(t, "tok", c.Token())
}

func TestAllKnowledgeFollowsCursors(t *testing.T) {
	var requests atomic.Int32
	server := knowledgeServer(t, &requests)
	defer server.Close()

	items, err := New(server.URL, WithToken("tok")).AllKnowledge(context.Background(), KnowledgeQuery{MunicipalityID: 1, AssistantID: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 4, 3, 2, 1}, ids(items))
	assert.EqualValues(t, 3, requests.Load())
}

func TestLoadMoreKnowledgeAccumulates(t *testing.T) {
	var requests atomic.Int32
	server := knowledgeServer(t, &requests)
	defer server.Close()
	c := New(server.URL, WithToken("tok"))
	ctx := context.Background()
	var acc pagination.Accumulator[knowledgebase.Item]
	q := KnowledgeQuery{MunicipalityID: 1, AssistantID: 2}

	items, more, err := c.LoadMoreKnowledge(ctx, &acc, q)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, []uint64{5, 4}, ids(items))

	items, _, err = c.LoadMoreKnowledge(ctx, &acc, q)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 4, 3, 2}, ids(items))

	q.AssistantID = 9
	items, more, err = c.LoadMoreKnowledge(ctx, &acc, q)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, []uint64{90}, ids(items))

	before := requests.Load()
	items, more, err = c.LoadMoreKnowledge(ctx, &acc, q)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, []uint64{90}, ids(items))
	assert.Equal(t, before, requests.Load())
}

func TestAPIErrorCarriesFields(t *testing.T) {
	var requests atomic.Int32
	server := knowledgeServer(t, &requests)
	defer server.Close()

	_, err := New(server.URL, WithToken("tok")).SendNotification(context.Background(), notifications.SendInput{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_argument", apiErr.Code)
	assert.Equal(t, "Title is required", apiErr.Fields["title"])
	assert.Contains(t, err.Error(), "invalid notification")
}
