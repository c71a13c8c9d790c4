package store

import (
	"context"
	"fmt"
	"time"
)

const queueColumns = `id, model, type, requester_ip, status, COALESCE(error, ''), created_at, updated_at`

func scanQueueEntry(row interface{ Scan(...any) error }) (*QueueEntry, error) {
	var entry QueueEntry
	err := row.Scan(
		&entry.ID,
		&entry.Model,
		&entry.Kind,
		&entry.RequesterIP,
		&entry.Status,
		&entry.Error,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// EnqueueModel inserts a new pending row and fills in the generated id and
// timestamps. Deduplication against already-pending rows is the caller's job.
func (s *store) EnqueueModel(ctx context.Context, entry *QueueEntry) error {
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Kind == "" {
		entry.Kind = KindOllama
	}
	entry.Status = StatusPending

	result, err := s.Exec.ExecContext(ctx, `
		INSERT INTO queue (model, type, requester_ip, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Model,
		entry.Kind,
		entry.RequesterIP,
		entry.Status,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return err
	}
	entry.ID, err = result.LastInsertId()
	return err
}

func (s *store) GetPendingByModel(ctx context.Context, model string, kind string) (*QueueEntry, error) {
	return scanQueueEntry(s.Exec.QueryRowContext(ctx, `
		SELECT `+queueColumns+`
		FROM queue
		WHERE model = ? AND type = ? AND status = ?
		ORDER BY created_at, id
		LIMIT 1`,
		model, kind, StatusPending,
	))
}

// ClaimNextPending flips the oldest pending row to downloading and returns it.
// The status predicate in the WHERE clause makes the claim conditional, so two
// workers can never own the same row. Returns libdb.ErrNotFound when the queue
// is drained.
func (s *store) ClaimNextPending(ctx context.Context) (*QueueEntry, error) {
	return scanQueueEntry(s.Exec.QueryRowContext(ctx, `
		UPDATE queue
		SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM queue WHERE status = ? ORDER BY created_at, id LIMIT 1
		) AND status = ?
		RETURNING `+queueColumns,
		StatusDownloading, time.Now().UTC(), StatusPending, StatusPending,
	))
}

func (s *store) SetQueueStatus(ctx context.Context, id int64, status string, errMsg string) error {
	result, err := s.Exec.ExecContext(ctx, `
		UPDATE queue
		SET status = ?, error = NULLIF(?, ''), updated_at = ?
		WHERE id = ?`,
		status, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update queue entry %d: %w", id, err)
	}
	return checkRowsAffected(result)
}

// DeletePendingByModel removes pending rows only; a row that is downloading or
// in a terminal state stays untouched.
func (s *store) DeletePendingByModel(ctx context.Context, model string) (int64, error) {
	result, err := s.Exec.ExecContext(ctx, `
		DELETE FROM queue
		WHERE model = ? AND status = ?`,
		model, StatusPending,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *store) CountByStatus(ctx context.Context) (QueueCounts, error) {
	var counts QueueCounts
	rows, err := s.Exec.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM queue GROUP BY status`)
	if err != nil {
		return counts, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return counts, err
		}
		switch status {
		case StatusPending:
			counts.Pending = count
		case StatusDownloading:
			counts.Downloading = count
		case StatusCompleted:
			counts.Completed = count
		case StatusFailed:
			counts.Failed = count
		}
	}
	return counts, rows.Err()
}

func (s *store) listQueue(ctx context.Context, query string, args ...any) ([]*QueueEntry, error) {
	rows, err := s.Exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	entries := []*QueueEntry{}
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return entries, nil
}

// ListActive returns pending and downloading rows in FIFO order.
func (s *store) ListActive(ctx context.Context, limit int) ([]*QueueEntry, error) {
	return s.listQueue(ctx, `
		SELECT `+queueColumns+`
		FROM queue
		WHERE status IN (?, ?)
		ORDER BY created_at, id
		LIMIT ?`,
		StatusPending, StatusDownloading, limit,
	)
}

// ListRecent returns terminal rows, most recently updated first.
func (s *store) ListRecent(ctx context.Context, limit int) ([]*QueueEntry, error) {
	return s.listQueue(ctx, `
		SELECT `+queueColumns+`
		FROM queue
		WHERE status IN (?, ?)
		ORDER BY updated_at DESC, id DESC
		LIMIT ?`,
		StatusCompleted, StatusFailed, limit,
	)
}

// ListPendingModels returns one row per distinct pending model, oldest first.
// Used for the synthetic catalog merge.
func (s *store) ListPendingModels(ctx context.Context) ([]*QueueEntry, error) {
	return s.listQueue(ctx, `
		SELECT `+queueColumns+`
		FROM queue
		WHERE status = ? AND id IN (
			SELECT MIN(id) FROM queue WHERE status = ? GROUP BY model
		)
		ORDER BY created_at, id`,
		StatusPending, StatusPending,
	)
}

// ListPendingByKind returns every pending row of the kind, oldest first.
func (s *store) ListPendingByKind(ctx context.Context, kind string) ([]*QueueEntry, error) {
	return s.listQueue(ctx, `
		SELECT `+queueColumns+`
		FROM queue
		WHERE status = ? AND type = ?
		ORDER BY created_at, id`,
		StatusPending, kind,
	)
}

func (s *store) ListCompleted(ctx context.Context) ([]*QueueEntry, error) {
	return s.listQueue(ctx, `
		SELECT `+queueColumns+`
		FROM queue
		WHERE status = ?
		ORDER BY created_at, id`,
		StatusCompleted,
	)
}

// ResetToPending moves the given rows back to pending, clearing any error.
func (s *store) ResetToPending(ctx context.Context, ids ...int64) error {
	now := time.Now().UTC()
	for _, id := range ids {
		_, err := s.Exec.ExecContext(ctx, `
			UPDATE queue
			SET status = ?, error = NULL, updated_at = ?
			WHERE id = ?`,
			StatusPending, now, id,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ResetOrphanedDownloads flips every downloading row back to pending. Called at
// startup; rows left downloading belong to a process that no longer exists.
func (s *store) ResetOrphanedDownloads(ctx context.Context) (int64, error) {
	result, err := s.Exec.ExecContext(ctx, `
		UPDATE queue
		SET status = ?, updated_at = ?
		WHERE status = ?`,
		StatusPending, time.Now().UTC(), StatusDownloading,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SweepExpired deletes terminal rows not updated since the cutoff.
func (s *store) SweepExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.Exec.ExecContext(ctx, `
		DELETE FROM queue
		WHERE status IN (?, ?) AND updated_at < ?`,
		StatusCompleted, StatusFailed, olderThan,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
