package libhub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Artifact downloads are large; each attempt may run for up to an hour.
const downloadTimeout = time.Hour

// DownloadFile fetches {repo}/{filename} into outDir and returns the final
// path. A partial download is kept next to the target under a .partial suffix;
// on re-entry the fetch resumes from the partial's byte offset via a range
// request when the hub honors it, and restarts from zero when it does not.
// The final name only ever appears via rename, so a concurrent reader never
// observes a torn file.
func (c *client) DownloadFile(ctx context.Context, repo string, filename string, outDir string) (string, error) {
	dest := filepath.Join(outDir, filepath.FromSlash(filename))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("libhub: failed to create output directory: %w", err)
	}

	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	partial := dest + ".partial"
	var offset int64
	if info, err := os.Stat(partial); err == nil {
		offset = info.Size()
	}

	url := fmt.Sprintf("%s/%s/resolve/main/%s", c.baseURL, repo, filename)
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return "", err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.dlClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("libhub: download request failed: %w", err)
	}
	defer resp.Body.Close()

	var out *os.File
	switch resp.StatusCode {
	case http.StatusPartialContent:
		out, err = os.OpenFile(partial, os.O_WRONLY|os.O_APPEND, 0o644)
	case http.StatusOK:
		// Either a fresh download or the hub ignored the range request.
		out, err = os.Create(partial)
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s/%s", ErrFileNotFound, repo, filename)
	default:
		return "", statusToError(repo, resp.StatusCode)
	}
	if err != nil {
		return "", fmt.Errorf("libhub: failed to open partial file: %w", err)
	}

	_, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		// Keep the partial for the next attempt to resume from.
		return "", fmt.Errorf("libhub: download interrupted for %s/%s: %w", repo, filename, copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("libhub: failed to finalize partial file: %w", closeErr)
	}

	if err := os.Rename(partial, dest); err != nil {
		return "", fmt.Errorf("libhub: failed to move artifact into place: %w", err)
	}
	return dest, nil
}
