package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/js402/ollamagate/backendclient"
	"github.com/js402/ollamagate/diskguard"
	"github.com/js402/ollamagate/downloadservice"
	"github.com/js402/ollamagate/hubingest"
	"github.com/js402/ollamagate/serverops"
	"github.com/ollama/ollama/api"
)

// Intercepted request bodies stay small; the pass-through path streams and is
// not subject to this limit.
const maxInterceptBody = 1 << 20

type modelRequest struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

func (m modelRequest) resolve() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Model
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request) ([]byte, T, error) {
	var v T
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInterceptBody))
	if err != nil {
		return nil, v, fmt.Errorf("%w: %w", serverops.ErrDecodeInvalidJSON, err)
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, v, fmt.Errorf("%w: %w", serverops.ErrDecodeInvalidJSON, err)
	}
	return body, v, nil
}

type rateLimitInfo struct {
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}

// handlePull intercepts POST /api/pull: models the backend already holds pass
// through untouched, everything else is queued behind the disk guard and the
// daily quota.
func (g *Gateway) handlePull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := clientAddr(r)

	body, req, err := decodeBody[modelRequest](w, r)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}
	model := req.resolve()
	if model == "" {
		_ = serverops.Error(w, r, serverops.ErrMissingModelName, serverops.CreateOperation)
		return
	}

	if g.backend.ModelExists(ctx, model) {
		log.Printf("Model %s already exists, passing through", model)
		g.proxyRequest(w, r, bytes.NewReader(body), int64(len(body)))
		return
	}

	if ok, report := diskguard.Check(g.config.DiskPath, g.config.DiskThreshold); !ok {
		log.Printf("Disk space critical (%d%%), rejecting pull request", report.UsedPercent)
		_ = serverops.Encode(w, r, http.StatusInsufficientStorage, map[string]any{
			"error":   "Insufficient storage",
			"message": fmt.Sprintf("Disk usage at %d%% (threshold: %d%%)", report.UsedPercent, g.config.DiskThreshold),
			"disk":    report,
		})
		return
	}

	allowed, remaining, err := g.service.CheckQuota(ctx, clientIP)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ServerOperation)
		return
	}
	if !allowed {
		log.Printf("Rate limit exceeded for %s", clientIP)
		_ = serverops.Encode(w, r, http.StatusTooManyRequests, map[string]any{
			"error":      "Rate limit exceeded",
			"message":    fmt.Sprintf("Maximum %d model requests per day", g.config.RateLimit),
			"rate_limit": rateLimitInfo{Remaining: 0, Limit: g.config.RateLimit},
		})
		return
	}

	result, err := g.service.Enqueue(ctx, model, clientIP)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}
	// A fresh insert spends a quota slot; a dedup hit does not.
	if result.Status == downloadservice.StatusQueued {
		if err := g.service.ConsumeQuota(ctx, clientIP); err != nil {
			_ = serverops.Error(w, r, err, serverops.ServerOperation)
			return
		}
		remaining--
	}

	response := map[string]any{
		"status":     result.Status,
		"message":    result.Message,
		"rate_limit": rateLimitInfo{Remaining: remaining, Limit: g.config.RateLimit},
	}
	if result.QueueID != 0 {
		response["queue_id"] = result.QueueID
	}
	_ = serverops.Encode(w, r, http.StatusAccepted, response)
}

type hubQueueRequest struct {
	RepoID string `json:"repo_id"`
	Model  string `json:"model"`
	Quant  string `json:"quant"`
	Name   string `json:"name"`
}

// handleHubQueue intercepts POST /api/hf/queue and queues a hub repository for
// the ingestion pipeline.
func (g *Gateway) handleHubQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := clientAddr(r)

	_, req, err := decodeBody[hubQueueRequest](w, r)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}
	repo := req.RepoID
	if repo == "" {
		repo = req.Model
	}
	if repo == "" {
		_ = serverops.Error(w, r, serverops.ErrMissingModelName, serverops.CreateOperation)
		return
	}

	allowed, _, err := g.service.CheckQuota(ctx, clientIP)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ServerOperation)
		return
	}
	if !allowed {
		log.Printf("Rate limit exceeded for %s", clientIP)
		_ = serverops.Encode(w, r, http.StatusTooManyRequests, map[string]any{
			"error":   "Rate limit exceeded",
			"message": fmt.Sprintf("Maximum %d model requests per day", g.config.RateLimit),
		})
		return
	}

	result, err := g.service.EnqueueHub(ctx, hubingest.Request{Repo: repo, Quant: req.Quant, Name: req.Name}, clientIP)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}
	if result.Status == downloadservice.StatusQueued {
		if err := g.service.ConsumeQuota(ctx, clientIP); err != nil {
			_ = serverops.Error(w, r, err, serverops.ServerOperation)
			return
		}
	}

	response := map[string]any{
		"status":  result.Status,
		"message": result.Message,
		"type":    "huggingface",
	}
	if result.QueueID != 0 {
		response["queue_id"] = result.QueueID
	}
	_ = serverops.Encode(w, r, http.StatusAccepted, response)
}

func (g *Gateway) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	state, err := g.service.QueueState(r.Context())
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}
	_ = serverops.Encode(w, r, http.StatusOK, state)
}

// handleQueueDelete removes a pending queue row by model name.
func (g *Gateway) handleQueueDelete(w http.ResponseWriter, r *http.Request) {
	_, req, err := decodeBody[modelRequest](w, r)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.DeleteOperation)
		return
	}
	model := req.resolve()
	if model == "" {
		_ = serverops.Error(w, r, serverops.ErrMissingModelName, serverops.DeleteOperation)
		return
	}

	removed, err := g.service.RemoveFromQueue(r.Context(), model)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.DeleteOperation)
		return
	}
	if removed == 0 {
		_ = serverops.Encode(w, r, http.StatusNotFound, map[string]string{
			"status":  "not_found",
			"message": fmt.Sprintf("Model %s not in queue (or already processing)", model),
		})
		return
	}
	log.Printf("Removed %s from queue", model)
	_ = serverops.Encode(w, r, http.StatusOK, map[string]string{
		"status":  "deleted",
		"message": fmt.Sprintf("Model %s removed from queue", model),
	})
}

// handleModelDelete intercepts DELETE /api/delete. Queued models are removed
// locally; real models are deleted on the backend. Catalog consumers send the
// synthetic label back verbatim, so it is unwrapped before either path.
func (g *Gateway) handleModelDelete(w http.ResponseWriter, r *http.Request) {
	_, req, err := decodeBody[modelRequest](w, r)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.DeleteOperation)
		return
	}
	model := req.resolve()
	if model == "" {
		_ = serverops.Error(w, r, serverops.ErrMissingModelName, serverops.DeleteOperation)
		return
	}
	model = unwrapQueuedLabel(model)

	removed, err := g.service.RemoveFromQueue(r.Context(), model)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.DeleteOperation)
		return
	}
	if removed > 0 {
		log.Printf("Removed queued model %s from queue", model)
		_ = serverops.Encode(w, r, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	// Not queued: forward with a re-marshalled clean body in case the name
	// arrived wrapped.
	cleanBody, err := json.Marshal(map[string]string{"name": model})
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ServerOperation)
		return
	}
	g.proxyRequest(w, r, bytes.NewReader(cleanBody), int64(len(cleanBody)))
}

// unwrapQueuedLabel strips the synthetic catalog decoration:
// "* llama2:7b [QUEUED]" -> "llama2:7b".
func unwrapQueuedLabel(model string) string {
	if strings.HasPrefix(model, "* ") && strings.Contains(model, "[QUEUED]") {
		model = strings.Replace(model, "* ", "", 1)
		model = strings.Replace(model, " [QUEUED]", "", 1)
		return strings.TrimSpace(model)
	}
	return model
}

// handleTags merges the backend catalog with synthetic entries for queued
// models that are not present yet.
func (g *Gateway) handleTags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	catalog, err := g.backend.Tags(ctx)
	if err != nil {
		log.Printf("Failed to fetch tags from backend: %v", err)
		_ = serverops.Error(w, r, serverops.ErrBackendUnavailable, serverops.ProxyOperation)
		return
	}

	present := make(map[string]struct{}, len(catalog.Models)*2)
	for _, m := range catalog.Models {
		present[m.Name] = struct{}{}
		present[backendclient.BareName(m.Name)] = struct{}{}
	}

	pending, err := g.service.PendingModels(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}
	for _, entry := range pending {
		if _, ok := present[entry.Model]; ok {
			continue
		}
		if _, ok := present[backendclient.BareName(entry.Model)]; ok {
			continue
		}
		catalog.Models = append(catalog.Models, syntheticEntry(entry.Model, entry.CreatedAt))
	}

	_ = serverops.Encode(w, r, http.StatusOK, catalog)
}

func syntheticEntry(model string, createdAt time.Time) api.ListModelResponse {
	return api.ListModelResponse{
		Name:       fmt.Sprintf("* %s [QUEUED]", model),
		Model:      model,
		ModifiedAt: createdAt,
		Size:       0,
		Digest:     "pending",
		Details: api.ModelDetails{
			Format:            "pending",
			Family:            "queued",
			Families:          []string{"queued"},
			ParameterSize:     "unknown",
			QuantizationLevel: "N/A",
		},
	}
}

// handleHealth aggregates the proxy, backend, disk, and database probes.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]any{}
	overall := "healthy"

	degrade := func(to string) {
		if overall == "unhealthy" {
			return
		}
		if to == "unhealthy" || overall == "healthy" {
			overall = to
		}
	}

	checks["proxy"] = map[string]string{"status": "ok"}

	if err := g.backend.Ping(ctx); err != nil {
		checks["backend"] = map[string]string{"status": "error", "url": g.config.BackendURL, "error": err.Error()}
		degrade("unhealthy")
	} else {
		checks["backend"] = map[string]string{"status": "ok", "url": g.config.BackendURL}
	}

	_, diskReport := diskguard.Check(g.config.DiskPath, g.config.DiskThreshold)
	checks["disk"] = diskReport
	switch diskReport.Status {
	case diskguard.StatusCritical:
		degrade("unhealthy")
	case diskguard.StatusWarning, diskguard.StatusError:
		degrade("degraded")
	}

	if err := g.service.CheckDatabase(ctx); err != nil {
		checks["database"] = map[string]string{"status": "error", "error": err.Error()}
		degrade("degraded")
	} else {
		checks["database"] = map[string]string{"status": "ok"}
	}

	_ = serverops.Encode(w, r, http.StatusOK, map[string]any{
		"status":    overall,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
