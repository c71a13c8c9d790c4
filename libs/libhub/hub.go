// Package libhub talks to a Hugging Face style model hub: repository metadata,
// raw config files, and large artifact downloads with resume support.
package libhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrRepoNotFound indicates the repository does not exist on the hub.
	ErrRepoNotFound = errors.New("libhub: repository not found")
	// ErrAuthRequired indicates the hub rejected the request for missing credentials.
	ErrAuthRequired = errors.New("libhub: authentication required")
	// ErrRepoGated indicates the repository is gated and the credential is insufficient.
	ErrRepoGated = errors.New("libhub: repository is gated, access not granted")
	// ErrFileNotFound indicates a file within the repository does not exist.
	ErrFileNotFound = errors.New("libhub: file not found")
)

const metadataTimeout = 30 * time.Second

// Client is the hub surface the ingestion pipeline consumes.
type Client interface {
	// ListFiles enumerates the repository's file names.
	ListFiles(ctx context.Context, repo string) ([]string, error)
	// GetConfig fetches and decodes the repository's config.json.
	GetConfig(ctx context.Context, repo string) (map[string]any, error)
	// DownloadFile fetches a repository file into outDir, resuming partial
	// downloads, and returns the final path.
	DownloadFile(ctx context.Context, repo string, filename string, outDir string) (string, error)
}

// Config carries the hub endpoint and credential.
type Config struct {
	// BaseURL is the hub host, e.g. https://huggingface.co.
	BaseURL string
	// Token is an optional bearer credential for gated repositories.
	Token string
}

type client struct {
	baseURL    string
	token      string
	metaClient *http.Client
	dlClient   *http.Client
}

func New(cfg Config) Client {
	return &client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		metaClient: &http.Client{Timeout: metadataTimeout},
		dlClient:   &http.Client{Timeout: downloadTimeout},
	}
}

func (c *client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func statusToError(repo string, status int) error {
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrRepoNotFound, repo)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrAuthRequired, repo)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrRepoGated, repo)
	default:
		return fmt.Errorf("libhub: unexpected status %d for %s", status, repo)
	}
}

type repoMetadata struct {
	Siblings []struct {
		RFilename string `json:"rfilename"`
	} `json:"siblings"`
}

func (c *client) ListFiles(ctx context.Context, repo string) ([]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("%s/api/models/%s", c.baseURL, repo))
	if err != nil {
		return nil, err
	}
	resp, err := c.metaClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("libhub: metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusToError(repo, resp.StatusCode)
	}

	var meta repoMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("libhub: failed to decode repo metadata: %w", err)
	}

	files := make([]string, 0, len(meta.Siblings))
	for _, s := range meta.Siblings {
		files = append(files, s.RFilename)
	}
	return files, nil
}

func (c *client) GetConfig(ctx context.Context, repo string) (map[string]any, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("%s/%s/raw/main/config.json", c.baseURL, repo))
	if err != nil {
		return nil, err
	}
	resp, err := c.metaClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("libhub: config request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s/config.json", ErrFileNotFound, repo)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusToError(repo, resp.StatusCode)
	}

	var config map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&config); err != nil {
		return nil, fmt.Errorf("libhub: failed to decode config.json: %w", err)
	}
	return config, nil
}
