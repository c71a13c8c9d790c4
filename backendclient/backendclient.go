// Package backendclient wraps the Ollama API client with the handful of
// operations the gateway and the download worker need: catalog probing,
// pulls, deletes, and artifact import.
package backendclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	catalogTimeout = 10 * time.Second
	healthTimeout  = 5 * time.Second
)

type Client struct {
	baseURL *url.URL
	api     *api.Client
}

func New(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL %q: %w", baseURL, err)
	}
	return &Client{
		baseURL: u,
		api:     api.NewClient(u, http.DefaultClient),
	}, nil
}

// BaseURL returns the backend's base URL string.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Tags returns the backend's raw model catalog.
func (c *Client) Tags(ctx context.Context) (*api.ListResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()
	return c.api.List(ctx)
}

// ListModelNames returns every backend model under both its full name:tag form
// and its bare name form, so callers can match either.
func (c *Client) ListModelNames(ctx context.Context) (map[string]struct{}, error) {
	resp, err := c.Tags(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(resp.Models)*2)
	for _, m := range resp.Models {
		names[m.Name] = struct{}{}
		names[BareName(m.Name)] = struct{}{}
	}
	return names, nil
}

// ModelExists reports whether the backend already holds the model, matching the
// full name or the name without its tag. A probe failure counts as "not
// present": the pull path then proceeds to queue the model rather than
// rejecting the request outright.
func (c *Client) ModelExists(ctx context.Context, model string) bool {
	names, err := c.ListModelNames(ctx)
	if err != nil {
		return false
	}
	if _, ok := names[model]; ok {
		return true
	}
	_, ok := names[BareName(model)]
	return ok
}

// Ping checks backend reachability with the health-probe timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return c.api.Heartbeat(ctx)
}

// Pull streams the backend's own model download, reporting progress through fn.
func (c *Client) Pull(ctx context.Context, model string, fn func(api.ProgressResponse) error) error {
	err := c.api.Pull(ctx, &api.PullRequest{Model: model}, fn)
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", model, err)
	}
	return nil
}

// Delete removes a model from the backend.
func (c *Client) Delete(ctx context.Context, model string) error {
	return c.api.Delete(ctx, &api.DeleteRequest{Model: model})
}

// ImportSpec describes a local artifact to register with the backend.
type ImportSpec struct {
	// Name is the model name as it will appear in the catalog.
	Name string
	// ArtifactPath is the local GGUF file to import.
	ArtifactPath string
	// System is an optional system prompt baked into the model.
	System string
	// Template is an optional chat template.
	Template string
	// Parameters holds default sampling parameters (temperature, top_p, stop).
	Parameters map[string]any
}

// Import registers a local artifact with the backend over its native import
// channel: the file is uploaded as a blob, then a create request references it
// by digest. No shell, no modelfile string.
func (c *Client) Import(ctx context.Context, spec ImportSpec) error {
	f, err := os.Open(spec.ArtifactPath)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return fmt.Errorf("failed to hash artifact: %w", err)
	}
	digest := "sha256:" + hex.EncodeToString(hash.Sum(nil))
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind artifact: %w", err)
	}

	if err := c.api.CreateBlob(ctx, digest, f); err != nil {
		return fmt.Errorf("failed to upload artifact blob: %w", err)
	}

	err = c.api.Create(ctx, &api.CreateRequest{
		Model:      spec.Name,
		Files:      map[string]string{filepath.Base(spec.ArtifactPath): digest},
		System:     spec.System,
		Template:   spec.Template,
		Parameters: spec.Parameters,
	}, func(pr api.ProgressResponse) error { return nil })
	if err != nil {
		return fmt.Errorf("failed to create model %s: %w", spec.Name, err)
	}
	return nil
}

// BareName strips the tag from a model reference: "llama2:7b" -> "llama2".
func BareName(model string) string {
	name, _, _ := strings.Cut(model, ":")
	return name
}
