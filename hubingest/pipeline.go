package hubingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/js402/ollamagate/backendclient"
	"github.com/js402/ollamagate/libs/libhub"
)

// Request is one hub ingestion job as parsed off a queue row.
type Request struct {
	Repo  string `json:"repo_id"`
	Quant string `json:"quant,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Pipeline executes ingestion requests end to end: plan, fetch or convert,
// register. All intermediate files live under the cache root, partitioned per
// repository; finished artifacts land under {cache}/gguf.
type Pipeline struct {
	hub      libhub.Client
	planner  *Planner
	tools    *ToolRunner
	backend  *backendclient.Client
	cacheDir string
	keepWork bool
}

func NewPipeline(hub libhub.Client, tools *ToolRunner, backend *backendclient.Client, cacheDir string, keepWork bool) *Pipeline {
	return &Pipeline{
		hub:      hub,
		planner:  NewPlanner(hub),
		tools:    tools,
		backend:  backend,
		cacheDir: cacheDir,
		keepWork: keepWork,
	}
}

// Run processes one ingestion request. Every failure is returned to the caller
// so the worker can record it on the queue row.
func (p *Pipeline) Run(ctx context.Context, req Request) error {
	quant := req.Quant
	if quant == "" {
		quant = DefaultQuant
	}
	name := ModelName(req.Repo, req.Name)

	profile, err := p.planner.Plan(ctx, req.Repo)
	if err != nil {
		return err
	}

	if profile.HasPackagedArtifact {
		return p.runPackaged(ctx, profile, name, quant)
	}
	return p.runConvert(ctx, req.Repo, name, quant)
}

func (p *Pipeline) runPackaged(ctx context.Context, profile *RepoProfile, name string, quant string) error {
	file := SelectArtifact(profile.ArtifactFiles, quant)
	log.Printf("Fetching packaged artifact %s from %s", file, profile.ArtifactRepo)

	path, err := p.hub.DownloadFile(ctx, profile.ArtifactRepo, file, p.artifactDir())
	if err != nil {
		return err
	}
	return p.register(ctx, name, path)
}

func (p *Pipeline) runConvert(ctx context.Context, repo string, name string, quant string) error {
	workDir := filepath.Join(p.cacheDir, repoDirName(repo))
	if !p.keepWork {
		defer func() {
			if err := os.RemoveAll(workDir); err != nil {
				log.Printf("Failed to clean working directory %s: %v", workDir, err)
			}
		}()
	}

	srcDir := filepath.Join(workDir, "src")
	files, err := p.hub.ListFiles(ctx, repo)
	if err != nil {
		return err
	}
	for _, f := range files {
		if !isWeightFile(f) {
			continue
		}
		if _, err := p.hub.DownloadFile(ctx, repo, f, srcDir); err != nil {
			return err
		}
	}
	if _, err := os.Stat(filepath.Join(srcDir, "config.json")); err != nil {
		return fmt.Errorf("hubingest: %s is missing config.json after download: %w", repo, err)
	}

	log.Printf("Converting %s to GGUF", repo)
	intermediate := filepath.Join(workDir, "f16.gguf")
	if err := p.tools.Convert(ctx, srcDir, intermediate); err != nil {
		return err
	}

	final := filepath.Join(p.artifactDir(), fmt.Sprintf("%s-%s.gguf", name, strings.ToLower(quant)))
	if err := os.MkdirAll(p.artifactDir(), 0o755); err != nil {
		return fmt.Errorf("hubingest: failed to create artifact directory: %w", err)
	}
	if strings.EqualFold(quant, "F16") {
		if err := os.Rename(intermediate, final); err != nil {
			return fmt.Errorf("hubingest: failed to move artifact into place: %w", err)
		}
	} else {
		log.Printf("Quantizing %s to %s", repo, quant)
		if err := p.tools.Quantize(ctx, intermediate, final, quant); err != nil {
			return err
		}
	}

	return p.register(ctx, name, final)
}

func (p *Pipeline) artifactDir() string {
	return filepath.Join(p.cacheDir, "gguf")
}

// repoDirName maps a repo id onto a single cache directory segment.
func repoDirName(repo string) string {
	return strings.ReplaceAll(repo, "/", "_")
}

var weightExtensions = []string{".safetensors", ".bin", ".json", ".model", ".tiktoken"}

func isWeightFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range weightExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
