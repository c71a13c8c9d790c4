// Package hubingest turns a hub repository id into a model registered with the
// backend daemon. The planner classifies the repository, the pipeline then
// either fetches a pre-built GGUF artifact or converts and quantizes the raw
// weights with external tools before handing the result to the registrar.
package hubingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/js402/ollamagate/libs/libhub"
)

// ErrUnprocessable indicates a repository that is neither packaged as GGUF nor
// convertible by the supported toolchain.
var ErrUnprocessable = errors.New("hubingest: repository cannot be processed")

// ArtifactExtension is the packaged-artifact suffix the planner looks for.
const ArtifactExtension = ".gguf"

// SupportedArchitectures is the set the converter tool handles.
var SupportedArchitectures = map[string]struct{}{
	"LlamaForCausalLM":   {},
	"MistralForCausalLM": {},
	"MixtralForCausalLM": {},
	"Qwen2ForCausalLM":   {},
	"GemmaForCausalLM":   {},
	"Gemma2ForCausalLM":  {},
	"Phi3ForCausalLM":    {},
}

// MirrorProviders are probed, in order, for community-packaged GGUF mirrors.
var MirrorProviders = []string{"TheBloke", "bartowski", "mradermacher", "QuantFactory"}

// QuantPreferences orders quantization tags from highest to lowest quality.
var QuantPreferences = []string{
	"Q8_0", "Q6_K", "Q5_K_M", "Q5_K_S", "Q4_K_M", "Q4_K_S", "Q4_0", "Q3_K_M", "Q3_K_S", "Q2_K",
}

// DefaultQuant is used when a request does not name a quantization.
const DefaultQuant = "Q4_K_M"

// RepoProfile is the planner's verdict on a repository.
type RepoProfile struct {
	Repo                string
	Architecture        string
	IsConvertible       bool
	HasPackagedArtifact bool
	ArtifactRepo        string
	ArtifactFiles       []string
}

// Planner classifies hub repositories.
type Planner struct {
	hub libhub.Client
}

func NewPlanner(hub libhub.Client) *Planner {
	return &Planner{hub: hub}
}

// Plan decides how the repository can become a backend model: directly via its
// own packaged artifacts, via a community mirror, or through conversion.
func (p *Planner) Plan(ctx context.Context, repo string) (*RepoProfile, error) {
	files, err := p.hub.ListFiles(ctx, repo)
	if err != nil {
		return nil, err
	}

	profile := &RepoProfile{Repo: repo}
	if packaged := filterArtifacts(files); len(packaged) > 0 {
		profile.HasPackagedArtifact = true
		profile.ArtifactRepo = repo
		profile.ArtifactFiles = packaged
		return profile, nil
	}

	config, err := p.hub.GetConfig(ctx, repo)
	if err == nil {
		if archs, ok := config["architectures"].([]any); ok && len(archs) > 0 {
			if arch, ok := archs[0].(string); ok {
				profile.Architecture = arch
				_, profile.IsConvertible = SupportedArchitectures[arch]
			}
		}
	}

	if mirror := p.findMirror(ctx, repo); mirror != nil {
		profile.HasPackagedArtifact = true
		profile.ArtifactRepo = mirror.repo
		profile.ArtifactFiles = mirror.files
		return profile, nil
	}

	if !profile.IsConvertible {
		return nil, fmt.Errorf("%w: %s has architecture %q, no GGUF mirror found and conversion is unsupported",
			ErrUnprocessable, repo, profile.Architecture)
	}
	return profile, nil
}

type mirrorHit struct {
	repo  string
	files []string
}

// findMirror probes the known providers for a community-packaged GGUF variant
// of the repository. The first repo holding at least one artifact wins.
func (p *Planner) findMirror(ctx context.Context, repo string) *mirrorHit {
	name := repo
	if _, after, found := strings.Cut(repo, "/"); found {
		name = after
	}

	for _, provider := range MirrorProviders {
		for _, variant := range nameVariants(name) {
			for _, candidate := range []string{
				fmt.Sprintf("%s/%s-GGUF", provider, variant),
				fmt.Sprintf("%s/%s-gguf", provider, strings.ToLower(variant)),
			} {
				files, err := p.hub.ListFiles(ctx, candidate)
				if err != nil {
					continue
				}
				if packaged := filterArtifacts(files); len(packaged) > 0 {
					return &mirrorHit{repo: candidate, files: packaged}
				}
			}
		}
	}
	return nil
}

// nameVariants generates the spellings mirrors commonly use for a model name.
func nameVariants(name string) []string {
	variants := []string{name}
	seen := map[string]struct{}{name: {}}
	for _, v := range []string{
		strings.ReplaceAll(name, "_", "-"),
		strings.ReplaceAll(name, "-", "_"),
		strings.ToLower(name),
	} {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			variants = append(variants, v)
		}
	}
	return variants
}

func filterArtifacts(files []string) []string {
	var artifacts []string
	for _, f := range files {
		if strings.HasSuffix(strings.ToLower(f), ArtifactExtension) {
			artifacts = append(artifacts, f)
		}
	}
	return artifacts
}

// SelectArtifact picks the file best matching the requested quantization:
// an exact tag containment first, then the first tag found walking the
// preference order from the highest quality down, then simply the first file.
func SelectArtifact(files []string, quant string) string {
	if len(files) == 0 {
		return ""
	}

	want := normalizeQuant(quant)
	for _, f := range files {
		if strings.Contains(normalizeQuant(f), want) {
			return f
		}
	}

	for _, tag := range QuantPreferences {
		for _, f := range files {
			if strings.Contains(normalizeQuant(f), tag) {
				return f
			}
		}
	}

	return files[0]
}

func normalizeQuant(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
}
