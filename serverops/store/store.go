package store

import (
	"context"
	"database/sql"
	_ "embed"
	"path/filepath"
	"testing"
	"time"

	"github.com/js402/ollamagate/libs/libdb"
	"github.com/stretchr/testify/require"
)

// Queue entry kinds. KindOllama rows name a model the backend daemon can pull
// itself; KindHuggingFace rows name a hub repository that goes through the
// ingestion pipeline first.
const (
	KindOllama      = "ollama"
	KindHuggingFace = "huggingface"
)

// Queue entry statuses.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// QueueEntry is one persisted download request.
type QueueEntry struct {
	ID          int64     `json:"id"`
	Model       string    `json:"model"`
	Kind        string    `json:"type"`
	RequesterIP string    `json:"requester_ip"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// QueueCounts holds the per-status row counts for the queue endpoint.
type QueueCounts struct {
	Pending     int `json:"pending"`
	Downloading int `json:"downloading"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
}

// Status describes download progress as published on the bus.
type Status struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Model     string `json:"model"`
}

type Store interface {
	EnqueueModel(ctx context.Context, entry *QueueEntry) error
	GetPendingByModel(ctx context.Context, model string, kind string) (*QueueEntry, error)
	ClaimNextPending(ctx context.Context) (*QueueEntry, error)
	SetQueueStatus(ctx context.Context, id int64, status string, errMsg string) error
	DeletePendingByModel(ctx context.Context, model string) (int64, error)
	CountByStatus(ctx context.Context) (QueueCounts, error)
	ListActive(ctx context.Context, limit int) ([]*QueueEntry, error)
	ListRecent(ctx context.Context, limit int) ([]*QueueEntry, error)
	ListPendingModels(ctx context.Context) ([]*QueueEntry, error)
	ListPendingByKind(ctx context.Context, kind string) ([]*QueueEntry, error)
	ListCompleted(ctx context.Context) ([]*QueueEntry, error)
	ResetToPending(ctx context.Context, ids ...int64) error
	ResetOrphanedDownloads(ctx context.Context) (int64, error)
	SweepExpired(ctx context.Context, olderThan time.Time) (int64, error)

	CountRequestsToday(ctx context.Context, ip string) (int, error)
	IncrementRequestCount(ctx context.Context, ip string) error
}

//go:embed schema.sql
var Schema string

type store struct {
	libdb.Exec
}

func New(exec libdb.Exec) Store {
	return &store{exec}
}

// Migrate brings a pre-existing database file forward. Older deployments wrote
// the queue table without the type column; add it in place when missing.
func Migrate(ctx context.Context, exec libdb.Exec) error {
	rows, err := exec.QueryContext(ctx, `PRAGMA table_info(queue)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	hasKind := false
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == "type" {
			hasKind = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if !hasKind {
		if _, err := exec.ExecContext(ctx, `ALTER TABLE queue ADD COLUMN type TEXT DEFAULT 'ollama'`); err != nil {
			return err
		}
	}

	// The dedup invariant lives in the schema: at most one pending row per
	// (model, type). Created here rather than in schema.sql because it needs
	// the type column, which pre-existing databases gain just above.
	_, err = exec.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_pending_model
		ON queue(model, type) WHERE status = 'pending'`)
	return err
}

func checkRowsAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return libdb.ErrNotFound
	}
	return nil
}

// SetupStore initializes a throwaway on-disk SQLite instance for tests and
// returns the store bound to it.
func SetupStore(t *testing.T) (context.Context, Store) {
	t.Helper()

	ctx := context.TODO()
	path := filepath.Join(t.TempDir(), "queue.db")
	dbManager, err := libdb.NewSqliteDBManager(ctx, path, Schema)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, dbManager.Close())
	})

	require.NoError(t, Migrate(ctx, dbManager.WithoutTransaction()))
	return ctx, New(dbManager.WithoutTransaction())
}
