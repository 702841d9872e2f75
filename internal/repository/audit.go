package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

func (s *SQLiteDB) AppendAudit(ctx context.Context, n models.Notification) error {
	var details sql.NullString
	if len(n.Details) > 0 {
		b, err := json.Marshal(n.Details)
		if err != nil {
			return fmt.Errorf("error encoding audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (kind, aggregate_type, aggregate_id, principal, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(n.Kind), n.AggregateType, n.AggregateID, n.Principal, details, formatTime(n.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("error appending audit log: %w", err)
	}
	return nil
}

func (s *SQLiteDB) ListAudit(ctx context.Context, limit, offset int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, aggregate_type, aggregate_id, principal, details, timestamp
		FROM audit_log ORDER BY id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("error listing audit log: %w", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var (
			n        models.Notification
			kind, ts string
			details  sql.NullString
		)
		if err := rows.Scan(&kind, &n.AggregateType, &n.AggregateID, &n.Principal, &details, &ts); err != nil {
			return nil, fmt.Errorf("error scanning audit entry: %w", err)
		}
		n.Kind = models.NotificationKind(kind)
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &n.Details); err != nil {
				return nil, fmt.Errorf("error decoding audit details: %w", err)
			}
		}
		if n.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) CountAudit(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting audit log: %w", err)
	}
	return n, nil
}
