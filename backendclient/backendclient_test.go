package backendclient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/js402/ollamagate/backendclient"
	"github.com/stretchr/testify/require"
)

func fakeOllama(t *testing.T, models ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		entries := []map[string]any{}
		for _, m := range models {
			entries = append(entries, map[string]any{"name": m, "model": m})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"models": entries}))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestListModelNamesIncludesBareForm(t *testing.T) {
	srv := fakeOllama(t, "mistral:7b", "llama2:latest")
	client, err := backendclient.New(srv.URL)
	require.NoError(t, err)

	names, err := client.ListModelNames(t.Context())
	require.NoError(t, err)
	require.Contains(t, names, "mistral:7b")
	require.Contains(t, names, "mistral")
	require.Contains(t, names, "llama2:latest")
	require.Contains(t, names, "llama2")
}

func TestModelExists(t *testing.T) {
	srv := fakeOllama(t, "mistral:7b")
	client, err := backendclient.New(srv.URL)
	require.NoError(t, err)

	require.True(t, client.ModelExists(t.Context(), "mistral:7b"))
	require.True(t, client.ModelExists(t.Context(), "mistral"))
	require.True(t, client.ModelExists(t.Context(), "mistral:othertag"))
	require.False(t, client.ModelExists(t.Context(), "llama2:7b"))
}

func TestModelExistsBackendDown(t *testing.T) {
	srv := fakeOllama(t)
	url := srv.URL
	srv.Close()

	client, err := backendclient.New(url)
	require.NoError(t, err)
	require.False(t, client.ModelExists(t.Context(), "anything"))
}

func TestBareName(t *testing.T) {
	require.Equal(t, "llama2", backendclient.BareName("llama2:7b"))
	require.Equal(t, "llama2", backendclient.BareName("llama2"))
}
