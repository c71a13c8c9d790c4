package libdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

type sqliteDBManager struct {
	dbInstance *sql.DB
}

// NewSqliteDBManager opens (creating parent directories as needed) the database
// file at path, verifies the connection, and initializes the schema.
// The database is opened in WAL mode with a busy timeout so that the gateway's
// request handlers and the background worker can share the single file.
func NewSqliteDBManager(ctx context.Context, path string, schema string) (DBManager, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", translateError(err))
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database connection failed: %w", translateError(err))
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", translateError(err))
	}

	log.Printf("Database ready at %s", path)
	return &sqliteDBManager{dbInstance: db}, nil
}

// WithoutTransaction returns an executor that uses the base DB.
func (sm *sqliteDBManager) WithoutTransaction() Exec {
	return &txAwareDB{db: sm.dbInstance}
}

// WithTransaction starts a transaction and returns an executor bound to it
// along with commit and release functions.
func (sm *sqliteDBManager) WithTransaction(ctx context.Context) (Exec, CommitTx, ReleaseTx, error) {
	tx, err := sm.dbInstance.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: begin transaction failed: %w", ErrTxFailed, translateError(err))
	}

	store := &txAwareDB{tx: tx}
	finalized := false

	commitFn := func(ctx context.Context) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("%w: context error: %v, rollback failed: %v",
					ErrTxFailed, ctxErr, translateError(rbErr))
			}
			finalized = true
			return fmt.Errorf("%w: %v", ErrTxFailed, ctxErr)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: %v", ErrTxFailed, translateError(err))
		}
		finalized = true
		return nil
	}

	releaseFn := func() error {
		if finalized {
			return nil
		}
		finalized = true
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("%w: rollback failed: %v", ErrTxFailed, translateError(err))
		}
		return nil
	}

	return store, commitFn, releaseFn, nil
}

// Close shuts down the underlying DB.
func (sm *sqliteDBManager) Close() error {
	return sm.dbInstance.Close()
}

// txAwareDB wraps a *sql.DB and/or *sql.Tx to implement Exec.
type txAwareDB struct {
	db *sql.DB
	tx *sql.Tx
}

func (s *txAwareDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.tx != nil {
		res, err := s.tx.ExecContext(ctx, query, args...)
		return res, translateError(err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	return res, translateError(err)
}

func (s *txAwareDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s.tx != nil {
		rows, err := s.tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, translateError(err)
		}
		return rows, nil
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	return rows, nil
}

func (s *txAwareDB) QueryRowContext(ctx context.Context, query string, args ...any) QueryRower {
	var r *sql.Row
	if s.tx != nil {
		r = s.tx.QueryRowContext(ctx, query, args...)
	} else {
		r = s.db.QueryRowContext(ctx, query, args...)
	}
	return &row{inner: r}
}

// row wraps *sql.Row and implements QueryRower.
type row struct {
	inner *sql.Row
}

// Scan calls the underlying Scan and translates the error.
func (r *row) Scan(dest ...any) error {
	err := r.inner.Scan(dest...)
	return translateError(err)
}

// translateError translates raw errors into our package-specific errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrQueryCanceled
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrUniqueViolation
		case sqlite3.ErrConstraintForeignKey:
			return ErrForeignKeyViolation
		case sqlite3.ErrConstraintNotNull:
			return ErrNotNullViolation
		case sqlite3.ErrConstraintCheck:
			return ErrCheckViolation
		}
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return ErrConstraintViolation
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return ErrLockNotAvailable
		case sqlite3.ErrInterrupt:
			return ErrQueryCanceled
		case sqlite3.ErrTooBig:
			return ErrDataTruncation
		default:
			return fmt.Errorf("libdb: sqlite error: %w", err)
		}
	}

	return fmt.Errorf("libdb: unexpected error: %w", err)
}
