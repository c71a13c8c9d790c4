package downloadservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/js402/ollamagate/libs/libdb"
	"github.com/js402/ollamagate/serverops/store"
	"github.com/ollama/ollama/api"
)

// RunDownloadCycle claims and processes at most one pending queue row, then
// returns. The caller owns the execution loop; see libroutine.Pool.StartLoop.
// Ownership of a row is taken by the conditional pending->downloading update in
// ClaimNextPending, so a second worker in the same process can never double-
// process a row. Rows left in downloading by a dead process are recovered at
// startup, not here.
func (s *service) RunDownloadCycle(ctx context.Context) error {
	tx := s.dbInstance.WithoutTransaction()

	entry, err := store.New(tx).ClaimNextPending(ctx)
	if err != nil {
		if errors.Is(err, libdb.ErrNotFound) {
			return nil
		}
		return err
	}
	log.Printf("Processing queue entry %d: %s (%s)", entry.ID, entry.Model, entry.Kind)

	var processErr error
	switch entry.Kind {
	case store.KindHuggingFace:
		processErr = s.pipeline.Run(ctx, ParseHubRequest(entry.Model))
	default:
		processErr = s.pullNative(ctx, entry.Model)
	}

	if processErr != nil {
		if err := store.New(tx).SetQueueStatus(ctx, entry.ID, store.StatusFailed, processErr.Error()); err != nil {
			log.Printf("Failed to mark entry %d failed: %v", entry.ID, err)
		}
		return fmt.Errorf("failed processing queue entry %d (%s): %w", entry.ID, entry.Model, processErr)
	}

	if err := store.New(tx).SetQueueStatus(ctx, entry.ID, store.StatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to mark entry %d completed: %w", entry.ID, err)
	}
	log.Printf("Completed queue entry %d: %s", entry.ID, entry.Model)
	return nil
}

// pullNative lets the backend daemon download the model itself, republishing
// its progress stream on the bus.
func (s *service) pullNative(ctx context.Context, model string) error {
	return s.backend.Pull(ctx, model, func(pr api.ProgressResponse) error {
		message, err := json.Marshal(store.Status{
			Status:    pr.Status,
			Digest:    pr.Digest,
			Total:     pr.Total,
			Completed: pr.Completed,
			Model:     model,
		})
		if err != nil {
			return nil
		}
		if err := s.psInstance.Publish(ctx, SubjectProgress, message); err != nil {
			log.Printf("Failed to publish progress for %s: %v", model, err)
		}
		return nil
	})
}
