package libhub_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/js402/ollamagate/libs/libhub"
	"github.com/stretchr/testify/require"
)

func TestListFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/models/owner/model", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"siblings":[{"rfilename":"config.json"},{"rfilename":"model-Q4_K_M.gguf"}]}`)
	}))
	defer srv.Close()

	client := libhub.New(libhub.Config{BaseURL: srv.URL, Token: "secret"})
	files, err := client.ListFiles(t.Context(), "owner/model")
	require.NoError(t, err)
	require.Equal(t, []string{"config.json", "model-Q4_K_M.gguf"}, files)
}

func TestListFilesErrorMapping(t *testing.T) {
	for status, want := range map[int]error{
		http.StatusNotFound:     libhub.ErrRepoNotFound,
		http.StatusUnauthorized: libhub.ErrAuthRequired,
		http.StatusForbidden:    libhub.ErrRepoGated,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		client := libhub.New(libhub.Config{BaseURL: srv.URL})
		_, err := client.ListFiles(t.Context(), "owner/model")
		require.ErrorIs(t, err, want)
		srv.Close()
	}
}

func TestGetConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/owner/model/raw/main/config.json", r.URL.Path)
		fmt.Fprint(w, `{"architectures":["LlamaForCausalLM"]}`)
	}))
	defer srv.Close()

	client := libhub.New(libhub.Config{BaseURL: srv.URL})
	config, err := client.GetConfig(t.Context(), "owner/model")
	require.NoError(t, err)
	require.Equal(t, []any{"LlamaForCausalLM"}, config["architectures"])
}

func TestDownloadFile(t *testing.T) {
	const payload = "gguf-bytes-gguf-bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/owner/model/resolve/main/weights.gguf", r.URL.Path)
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	outDir := t.TempDir()
	client := libhub.New(libhub.Config{BaseURL: srv.URL})
	path, err := client.DownloadFile(t.Context(), "owner/model", "weights.gguf", outDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(outDir, "weights.gguf"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, payload, string(data))
}

func TestDownloadFileResumesFromPartial(t *testing.T) {
	const payload = "0123456789abcdef"
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		if strings.HasPrefix(gotRange, "bytes=") {
			offset, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(gotRange, "bytes="), "-"))
			require.NoError(t, err)
			w.WriteHeader(http.StatusPartialContent)
			fmt.Fprint(w, payload[offset:])
			return
		}
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	outDir := t.TempDir()
	partial := filepath.Join(outDir, "weights.gguf.partial")
	require.NoError(t, os.WriteFile(partial, []byte(payload[:6]), 0o644))

	client := libhub.New(libhub.Config{BaseURL: srv.URL})
	path, err := client.DownloadFile(t.Context(), "owner/model", "weights.gguf", outDir)
	require.NoError(t, err)
	require.Equal(t, "bytes=6-", gotRange)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, payload, string(data))

	_, err = os.Stat(partial)
	require.True(t, os.IsNotExist(err))
}

func TestDownloadFileRestartsWhenRangeIgnored(t *testing.T) {
	const payload = "full-payload"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Plain 200 regardless of the range header.
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "weights.gguf.partial"), []byte("stale-half"), 0o644))

	client := libhub.New(libhub.Config{BaseURL: srv.URL})
	path, err := client.DownloadFile(t.Context(), "owner/model", "weights.gguf", outDir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, payload, string(data))
}

func TestDownloadFileSkipsExisting(t *testing.T) {
	outDir := t.TempDir()
	dest := filepath.Join(outDir, "weights.gguf")
	require.NoError(t, os.WriteFile(dest, []byte("already-here"), 0o644))

	// No server: a request would fail, proving none is made.
	client := libhub.New(libhub.Config{BaseURL: "http://127.0.0.1:1"})
	path, err := client.DownloadFile(t.Context(), "owner/model", "weights.gguf", outDir)
	require.NoError(t, err)
	require.Equal(t, dest, path)
}
