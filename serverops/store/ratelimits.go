package store

import (
	"context"
	"errors"
	"time"

	"github.com/js402/ollamagate/libs/libdb"
)

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// CountRequestsToday returns how many requests the address spent today.
// Absent rows count as zero.
func (s *store) CountRequestsToday(ctx context.Context, ip string) (int, error) {
	var count int
	err := s.Exec.QueryRowContext(ctx, `
		SELECT request_count FROM rate_limits
		WHERE ip_address = ? AND request_date = ?`,
		ip, today(),
	).Scan(&count)
	if errors.Is(err, libdb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// IncrementRequestCount adds one quota slot for the address. The upsert is a
// single statement so concurrent requests cannot double-credit a slot.
func (s *store) IncrementRequestCount(ctx context.Context, ip string) error {
	_, err := s.Exec.ExecContext(ctx, `
		INSERT INTO rate_limits (ip_address, request_date, request_count)
		VALUES (?, ?, 1)
		ON CONFLICT(ip_address, request_date)
		DO UPDATE SET request_count = request_count + 1`,
		ip, today(),
	)
	return err
}
