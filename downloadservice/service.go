// Package downloadservice owns the download queue: enqueueing with
// deduplication, quota accounting, startup maintenance, and the background
// worker cycle that drains pending rows into the backend daemon.
package downloadservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/js402/ollamagate/backendclient"
	"github.com/js402/ollamagate/hubingest"
	"github.com/js402/ollamagate/libs/libbus"
	"github.com/js402/ollamagate/libs/libdb"
	"github.com/js402/ollamagate/serverops/store"
)

// Bus subjects.
const (
	// SubjectProgress carries download progress events.
	SubjectProgress = "model_download"
	// SubjectTrigger signals the worker that a new row was enqueued.
	SubjectTrigger = "queue_new"
)

// Enqueue outcomes.
const (
	StatusQueued        = "queued"
	StatusAlreadyQueued = "already_queued"
)

// EnqueueResult reports the outcome of an enqueue attempt.
type EnqueueResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	QueueID int64  `json:"queue_id,omitempty"`
}

// QueueState is the admin view of the queue.
type QueueState struct {
	Counts store.QueueCounts   `json:"counts"`
	Queue  []*store.QueueEntry `json:"queue"`
	Recent []*store.QueueEntry `json:"recent"`
}

type Service interface {
	// Enqueue queues a backend-native model pull. Dedup against pending rows of
	// the same kind; quota accounting stays with the caller.
	Enqueue(ctx context.Context, model string, requester string) (*EnqueueResult, error)
	// EnqueueHub queues a hub ingestion request, deduplicating on the repo id.
	EnqueueHub(ctx context.Context, req hubingest.Request, requester string) (*EnqueueResult, error)
	// QueueState returns counts plus the active and recent rows.
	QueueState(ctx context.Context) (*QueueState, error)
	// PendingModels returns one entry per distinct pending model.
	PendingModels(ctx context.Context) ([]*store.QueueEntry, error)
	// RemoveFromQueue deletes pending rows for the model, returning the count.
	RemoveFromQueue(ctx context.Context, model string) (int64, error)
	// CheckQuota reports whether the address may enqueue and how many slots remain.
	CheckQuota(ctx context.Context, ip string) (bool, int, error)
	// ConsumeQuota spends one quota slot for the address.
	ConsumeQuota(ctx context.Context, ip string) error
	// CheckDatabase verifies the store answers queries. Used by the health endpoint.
	CheckDatabase(ctx context.Context) error
	// RunStartupMaintenance recovers orphans, sweeps expired rows, and
	// reconciles completed rows against the backend catalog.
	RunStartupMaintenance(ctx context.Context) error
	// RunDownloadCycle processes at most one queue row and returns.
	RunDownloadCycle(ctx context.Context) error
}

type service struct {
	dbInstance  libdb.DBManager
	psInstance  libbus.Messenger
	backend     *backendclient.Client
	pipeline    *hubingest.Pipeline
	rateLimit   int
	cleanupDays int
}

func New(dbInstance libdb.DBManager, psInstance libbus.Messenger, backend *backendclient.Client, pipeline *hubingest.Pipeline, rateLimit int, cleanupDays int) Service {
	return &service{
		dbInstance:  dbInstance,
		psInstance:  psInstance,
		backend:     backend,
		pipeline:    pipeline,
		rateLimit:   rateLimit,
		cleanupDays: cleanupDays,
	}
}

func (s *service) Enqueue(ctx context.Context, model string, requester string) (*EnqueueResult, error) {
	tx := s.dbInstance.WithoutTransaction()

	_, err := store.New(tx).GetPendingByModel(ctx, model, store.KindOllama)
	if err == nil {
		return &EnqueueResult{
			Status:  StatusAlreadyQueued,
			Message: fmt.Sprintf("Model %s is already in the download queue", model),
		}, nil
	}
	if !errors.Is(err, libdb.ErrNotFound) {
		return nil, err
	}

	entry := &store.QueueEntry{Model: model, Kind: store.KindOllama, RequesterIP: requester}
	if err := store.New(tx).EnqueueModel(ctx, entry); err != nil {
		// A concurrent enqueue can win between the dedup probe and the
		// insert; the partial unique index turns that into a dedup hit.
		if errors.Is(err, libdb.ErrUniqueViolation) {
			return &EnqueueResult{
				Status:  StatusAlreadyQueued,
				Message: fmt.Sprintf("Model %s is already in the download queue", model),
			}, nil
		}
		return nil, err
	}
	log.Printf("Queued model %s (id=%d) from %s", model, entry.ID, requester)
	s.notifyWorker(ctx)

	return &EnqueueResult{
		Status:  StatusQueued,
		Message: fmt.Sprintf("Model %s added to download queue", model),
		QueueID: entry.ID,
	}, nil
}

func (s *service) EnqueueHub(ctx context.Context, req hubingest.Request, requester string) (*EnqueueResult, error) {
	tx := s.dbInstance.WithoutTransaction()

	pending, err := store.New(tx).ListPendingByKind(ctx, store.KindHuggingFace)
	if err != nil {
		return nil, err
	}
	for _, row := range pending {
		if ParseHubRequest(row.Model).Repo == req.Repo {
			return &EnqueueResult{
				Status:  StatusAlreadyQueued,
				Message: fmt.Sprintf("HuggingFace model %s is already in queue", req.Repo),
			}, nil
		}
	}

	entry := &store.QueueEntry{
		Model:       encodeHubRequest(req),
		Kind:        store.KindHuggingFace,
		RequesterIP: requester,
	}
	if err := store.New(tx).EnqueueModel(ctx, entry); err != nil {
		if errors.Is(err, libdb.ErrUniqueViolation) {
			return &EnqueueResult{
				Status:  StatusAlreadyQueued,
				Message: fmt.Sprintf("HuggingFace model %s is already in queue", req.Repo),
			}, nil
		}
		return nil, err
	}
	log.Printf("Queued HuggingFace model %s (id=%d) from %s", req.Repo, entry.ID, requester)
	s.notifyWorker(ctx)

	return &EnqueueResult{
		Status:  StatusQueued,
		Message: fmt.Sprintf("HuggingFace model %s added to download queue", req.Repo),
		QueueID: entry.ID,
	}, nil
}

func (s *service) QueueState(ctx context.Context) (*QueueState, error) {
	tx := s.dbInstance.WithoutTransaction()

	counts, err := store.New(tx).CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	active, err := store.New(tx).ListActive(ctx, 50)
	if err != nil {
		return nil, err
	}
	recent, err := store.New(tx).ListRecent(ctx, 10)
	if err != nil {
		return nil, err
	}
	return &QueueState{Counts: counts, Queue: active, Recent: recent}, nil
}

func (s *service) PendingModels(ctx context.Context) ([]*store.QueueEntry, error) {
	return store.New(s.dbInstance.WithoutTransaction()).ListPendingModels(ctx)
}

func (s *service) RemoveFromQueue(ctx context.Context, model string) (int64, error) {
	return store.New(s.dbInstance.WithoutTransaction()).DeletePendingByModel(ctx, model)
}

func (s *service) CheckQuota(ctx context.Context, ip string) (bool, int, error) {
	count, err := store.New(s.dbInstance.WithoutTransaction()).CountRequestsToday(ctx, ip)
	if err != nil {
		return false, 0, err
	}
	remaining := max(0, s.rateLimit-count)
	return count < s.rateLimit, remaining, nil
}

func (s *service) ConsumeQuota(ctx context.Context, ip string) error {
	return store.New(s.dbInstance.WithoutTransaction()).IncrementRequestCount(ctx, ip)
}

func (s *service) CheckDatabase(ctx context.Context) error {
	var one int
	return s.dbInstance.WithoutTransaction().QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

// RunStartupMaintenance restores queue invariants after a restart. Reconciling
// completed rows needs the backend catalog; when the backend is unreachable the
// reconciliation is skipped rather than resetting everything.
func (s *service) RunStartupMaintenance(ctx context.Context) error {
	tx := s.dbInstance.WithoutTransaction()

	reset, err := store.New(tx).ResetOrphanedDownloads(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset orphaned downloads: %w", err)
	}
	if reset > 0 {
		log.Printf("Reset %d orphaned 'downloading' entries to 'pending'", reset)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.cleanupDays)
	swept, err := store.New(tx).SweepExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to sweep expired entries: %w", err)
	}
	if swept > 0 {
		log.Printf("Cleaned up %d old entries (older than %d days)", swept, s.cleanupDays)
	}

	names, err := s.backend.ListModelNames(ctx)
	if err != nil {
		log.Printf("Could not verify completed models: %v", err)
		return nil
	}
	completed, err := store.New(tx).ListCompleted(ctx)
	if err != nil {
		return fmt.Errorf("failed to list completed entries: %w", err)
	}
	var orphaned []int64
	for _, entry := range completed {
		subject := entry.Model
		if entry.Kind == store.KindHuggingFace {
			req := ParseHubRequest(entry.Model)
			subject = hubingest.ModelName(req.Repo, req.Name)
		}
		if _, ok := names[subject]; ok {
			continue
		}
		if _, ok := names[backendclient.BareName(subject)]; ok {
			continue
		}
		log.Printf("Model %q marked completed but not found in backend", subject)
		orphaned = append(orphaned, entry.ID)
	}
	if len(orphaned) > 0 {
		if err := store.New(tx).ResetToPending(ctx, orphaned...); err != nil {
			return fmt.Errorf("failed to reset orphaned completed entries: %w", err)
		}
		log.Printf("Reset %d orphaned 'completed' entries to 'pending'", len(orphaned))
	}
	return nil
}

func (s *service) notifyWorker(ctx context.Context) {
	if err := s.psInstance.Publish(ctx, SubjectTrigger, []byte("{}")); err != nil {
		log.Printf("Failed to publish worker trigger: %v", err)
	}
}

// ParseHubRequest decodes a hub queue row's model field. Plain repo ids are
// stored bare; requests with a custom quant or name are stored as JSON.
func ParseHubRequest(model string) hubingest.Request {
	if len(model) > 0 && model[0] == '{' {
		var req hubingest.Request
		if err := json.Unmarshal([]byte(model), &req); err == nil && req.Repo != "" {
			return req
		}
	}
	return hubingest.Request{Repo: model}
}

func encodeHubRequest(req hubingest.Request) string {
	if (req.Quant == "" || req.Quant == hubingest.DefaultQuant) && req.Name == "" {
		return req.Repo
	}
	b, err := json.Marshal(req)
	if err != nil {
		return req.Repo
	}
	return string(b)
}
