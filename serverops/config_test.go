package serverops_test

import (
	"testing"

	"github.com/js402/ollamagate/serverops"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	// Empty values are zero values, so the defaults win regardless of the
	// ambient environment.
	for _, key := range []string{"OLLAMA_BACKEND", "LISTEN_PORT", "RATE_LIMIT", "DISK_THRESHOLD", "CLEANUP_DAYS"} {
		t.Setenv(key, "")
	}

	cfg := &serverops.Config{}
	require.NoError(t, serverops.LoadConfig(cfg))
	require.Equal(t, "http://127.0.0.1:11435", cfg.OllamaBackend)
	require.Equal(t, "11434", cfg.ListenPort)
	require.Equal(t, "5", cfg.RateLimit)
	require.Equal(t, "90", cfg.DiskThreshold)
	require.Equal(t, "30", cfg.CleanupDays)
}

func TestLoadConfigEnvironmentWins(t *testing.T) {
	t.Setenv("RATE_LIMIT", "7")
	t.Setenv("OLLAMA_BACKEND", "http://10.0.0.5:11434")

	cfg := &serverops.Config{}
	require.NoError(t, serverops.LoadConfig(cfg))
	require.Equal(t, "7", cfg.RateLimit)
	require.Equal(t, "http://10.0.0.5:11434", cfg.OllamaBackend)
	// Unset settings still default.
	require.Equal(t, "11434", cfg.ListenPort)
}

func TestValidateConfig(t *testing.T) {
	cfg := &serverops.Config{}
	require.NoError(t, serverops.LoadConfig(cfg))
	require.NoError(t, serverops.ValidateConfig(cfg))

	bad := *cfg
	bad.RateLimit = "many"
	require.Error(t, serverops.ValidateConfig(&bad))

	bad = *cfg
	bad.OllamaBackend = "not-a-url"
	require.Error(t, serverops.ValidateConfig(&bad))
}
