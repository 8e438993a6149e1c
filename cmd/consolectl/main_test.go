package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFileName)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Server)

	cfg.Server = "http://localhost:8080"
	cfg.Token = "secret"
	require.NoError(t, cfg.save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	require.NoError(t, os.WriteFile(path, []byte("server = "), 0o600))
	_, err = loadConfig(path)
	assert.Error(t, err)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoginThenListKnowledge(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"incorrect email or password","code":"unauthenticated"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"tok-1","expire":"2030-01-01T00:00:00Z"}`))
	})
	mux.HandleFunc("GET /api/knowledgebase", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"items":[{"id":2,"title":"Waste pickup","source":"url","status":"completed"}],"next_cursor":"c1","has_more":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"id":1,"title":"Opening hours","source":"text","status":"pending"}],"has_more":false}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	path := filepath.Join(t.TempDir(), configFileName)

	_, err := run(t, "--config", path, "--server", server.URL, "login", "--email", "a@b.c", "--password", "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incorrect email or password")

	out, err := run(t, "--config", path, "--server", server.URL, "login", "--email", "a@b.c", "--password", "pw")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as a@b.c")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cfg.Token)
	assert.Equal(t, server.URL, cfg.Server)

	out, err = run(t, "--config", path, "knowledge", "list", "--municipality", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Waste pickup")
	assert.NotContains(t, out, "Opening hours")
	assert.Contains(t, out, "--cursor c1")

	out, err = run(t, "--config", path, "knowledge", "list", "--municipality", "3", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Waste pickup")
	assert.Contains(t, out, "Opening hours")
}

func TestCommandsRequireLogin(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFileName)
	_, err := run(t, "--config", path, "--server", "http://127.0.0.1:1", "municipalities", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}
