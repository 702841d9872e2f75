package repository

import (
	"context"
	"fmt"
	"time"
)

func (s *SQLiteDB) SetAuthorized(ctx context.Context, principal string, authorized bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authorized_principals (principal, authorized, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(principal) DO UPDATE SET authorized = excluded.authorized, updated_at = excluded.updated_at`,
		principal, authorized, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("error storing principal: %w", err)
	}
	return nil
}

func (s *SQLiteDB) ListAuthorized(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT principal FROM authorized_principals WHERE authorized = 1 ORDER BY principal`)
	if err != nil {
		return nil, fmt.Errorf("error listing principals: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("error scanning principal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
