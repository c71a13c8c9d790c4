/*
Package libdb provides an interface for interacting with
a SQL database, currently with a specific implementation for SQLite
using mattn/go-sqlite3.

Key Features:

 1. Abstraction: Defines interfaces (`DBManager`, `Exec`, `QueryRower`) to decouple
    application code from specific database driver details.

 2. Simplified Transaction Management: The `DBManager.WithTransaction` method
    provides a clear pattern for handling database transactions, returning
    separate functions for committing (`CommitTx`) and releasing/rolling back
    (`ReleaseTx`). The `ReleaseTx` function is designed for use with `defer`
    to ensure transactions are always finalized and connections are released,
    even in cases of errors or panics.

 3. Centralized Error Translation: Maps common low-level database errors
    (like sql.ErrNoRows or SQLite constraint codes) to a consistent
    set of exported package errors (e.g., ErrNotFound, ErrUniqueViolation,
    ErrLockNotAvailable). This simplifies error handling in application code.

Usage Example (Transaction):

	func handleRequest(ctx context.Context, mgr libdb.DBManager) error {
	    exec, commit, release, err := mgr.WithTransaction(ctx)
	    if err != nil {
	        return fmt.Errorf("failed to start transaction: %w", err)
	    }
	    // Always defer release() to ensure cleanup (rollback on error/panic, no-op after commit)
	    defer release()

	    _, err = exec.ExecContext(ctx, "UPDATE settings SET value = ? WHERE key = ?", "new_value", "setting_key")
	    if err != nil {
	        return fmt.Errorf("failed to update setting: %w", err)
	    }

	    if err = commit(ctx); err != nil {
	        return fmt.Errorf("transaction commit failed: %w", err)
	    }
	    return nil
	}
*/
package libdb
