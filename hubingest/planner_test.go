package hubingest_test

import (
	"context"
	"testing"

	"github.com/js402/ollamagate/hubingest"
	"github.com/js402/ollamagate/libs/libhub"
	"github.com/stretchr/testify/require"
)

// fakeHub serves canned metadata keyed by repo id.
type fakeHub struct {
	files   map[string][]string
	configs map[string]map[string]any
	listed  []string
}

func (f *fakeHub) ListFiles(ctx context.Context, repo string) ([]string, error) {
	f.listed = append(f.listed, repo)
	files, ok := f.files[repo]
	if !ok {
		return nil, libhub.ErrRepoNotFound
	}
	return files, nil
}

func (f *fakeHub) GetConfig(ctx context.Context, repo string) (map[string]any, error) {
	config, ok := f.configs[repo]
	if !ok {
		return nil, libhub.ErrFileNotFound
	}
	return config, nil
}

func (f *fakeHub) DownloadFile(ctx context.Context, repo, filename, outDir string) (string, error) {
	return "", libhub.ErrFileNotFound
}

func TestPlanPackagedRepo(t *testing.T) {
	hub := &fakeHub{files: map[string][]string{
		"owner/model-GGUF": {"README.md", "model-Q4_K_M.gguf", "model-Q8_0.gguf"},
	}}

	profile, err := hubingest.NewPlanner(hub).Plan(t.Context(), "owner/model-GGUF")
	require.NoError(t, err)
	require.True(t, profile.HasPackagedArtifact)
	require.Equal(t, "owner/model-GGUF", profile.ArtifactRepo)
	require.Equal(t, []string{"model-Q4_K_M.gguf", "model-Q8_0.gguf"}, profile.ArtifactFiles)
}

func TestPlanConvertibleRepo(t *testing.T) {
	hub := &fakeHub{
		files:   map[string][]string{"owner/model": {"config.json", "model.safetensors"}},
		configs: map[string]map[string]any{"owner/model": {"architectures": []any{"LlamaForCausalLM"}}},
	}

	profile, err := hubingest.NewPlanner(hub).Plan(t.Context(), "owner/model")
	require.NoError(t, err)
	require.False(t, profile.HasPackagedArtifact)
	require.True(t, profile.IsConvertible)
	require.Equal(t, "LlamaForCausalLM", profile.Architecture)
}

func TestPlanFindsMirror(t *testing.T) {
	hub := &fakeHub{
		files: map[string][]string{
			"owner/my_model":          {"config.json", "model.safetensors"},
			"bartowski/my-model-GGUF": {"my-model-Q4_K_M.gguf"},
		},
		configs: map[string]map[string]any{"owner/my_model": {"architectures": []any{"UnknownArch"}}},
	}

	profile, err := hubingest.NewPlanner(hub).Plan(t.Context(), "owner/my_model")
	require.NoError(t, err)
	require.True(t, profile.HasPackagedArtifact)
	require.Equal(t, "bartowski/my-model-GGUF", profile.ArtifactRepo)
	// TheBloke variants were probed before bartowski ones.
	require.Contains(t, hub.listed, "TheBloke/my_model-GGUF")
}

func TestPlanUnprocessable(t *testing.T) {
	hub := &fakeHub{
		files:   map[string][]string{"owner/exotic": {"config.json", "model.safetensors"}},
		configs: map[string]map[string]any{"owner/exotic": {"architectures": []any{"ExoticForCausalLM"}}},
	}

	_, err := hubingest.NewPlanner(hub).Plan(t.Context(), "owner/exotic")
	require.ErrorIs(t, err, hubingest.ErrUnprocessable)
	require.ErrorContains(t, err, "ExoticForCausalLM")
}

func TestSelectArtifactExactMatch(t *testing.T) {
	files := []string{"m-Q2_K.gguf", "m-Q4_K_M.gguf", "m-Q8_0.gguf"}
	require.Equal(t, "m-Q4_K_M.gguf", hubingest.SelectArtifact(files, "Q4_K_M"))
}

func TestSelectArtifactFallsBackToPreferenceOrder(t *testing.T) {
	files := []string{"m-Q2_K.gguf", "m-Q4_K_M.gguf", "m-Q8_0.gguf"}
	// No Q5_K_M present: the first higher-quality tag in preference order wins.
	require.Equal(t, "m-Q8_0.gguf", hubingest.SelectArtifact(files, "Q5_K_M"))
}

func TestSelectArtifactNormalizesTags(t *testing.T) {
	files := []string{"m.q4-k-m.gguf"}
	require.Equal(t, "m.q4-k-m.gguf", hubingest.SelectArtifact(files, "Q4_K_M"))
}

func TestSelectArtifactLastResort(t *testing.T) {
	files := []string{"mystery-a.gguf", "mystery-b.gguf"}
	require.Equal(t, "mystery-a.gguf", hubingest.SelectArtifact(files, "Q4_K_M"))
	require.Empty(t, hubingest.SelectArtifact(nil, "Q4_K_M"))
}

func TestModelName(t *testing.T) {
	require.Equal(t, "my-model", hubingest.ModelName("owner/My_Model", ""))
	require.Equal(t, "custom-name", hubingest.ModelName("owner/My_Model", "Custom_Name"))
}
