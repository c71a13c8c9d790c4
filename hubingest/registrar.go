package hubingest

import (
	"context"
	"strings"

	"github.com/js402/ollamagate/backendclient"
)

// DefaultParameters are the sampling defaults every imported model starts with.
func DefaultParameters() map[string]any {
	return map[string]any{
		"temperature": 0.7,
		"top_p":       0.9,
		"stop":        []string{"<|im_start|>", "<|im_end|>"},
	}
}

// ModelName derives the backend catalog name for an ingested repository.
// A custom name wins; otherwise the repo basename is used. Names are
// lowercased with underscores flattened to dashes, the daemon's convention.
func ModelName(repo string, custom string) string {
	name := custom
	if name == "" {
		name = repo
		if _, after, found := strings.Cut(repo, "/"); found {
			name = after
		}
	}
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

// register hands the finished artifact to the backend daemon.
func (p *Pipeline) register(ctx context.Context, name string, artifactPath string) error {
	return p.backend.Import(ctx, backendclient.ImportSpec{
		Name:         name,
		ArtifactPath: artifactPath,
		Parameters:   DefaultParameters(),
	})
}
