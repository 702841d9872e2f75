package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

const eventColumns = `id, category, location, fingerprint, severity_score, severity_level,
	confidence, breakdown, probabilities, reporter, verified, verified_by, verified_at,
	population_affected, infrastructure_damage, impact_area, created_at`

func (s *SQLiteDB) InsertEvent(ctx context.Context, e *models.DisasterEvent) (int64, error) {
	breakdown, err := json.Marshal(e.Breakdown)
	if err != nil {
		return 0, fmt.Errorf("error encoding breakdown: %w", err)
	}
	probabilities, err := json.Marshal(e.Probabilities)
	if err != nil {
		return 0, fmt.Errorf("error encoding probabilities: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO disaster_events (
			category, location, fingerprint, severity_score, severity_level, confidence,
			breakdown, probabilities, reporter, verified, population_affected,
			infrastructure_damage, impact_area, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		string(e.Category), e.Location, e.Fingerprint.String(), e.SeverityScore, string(e.SeverityLevel),
		e.Confidence, string(breakdown), string(probabilities), e.Reporter, e.PopulationAffected,
		e.InfrastructureDamage, e.ImpactArea, formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrFingerprintExists
		}
		return 0, fmt.Errorf("error inserting event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error reading event id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO processed_fingerprints (fingerprint, event_id, processed_at) VALUES (?, ?, ?)`,
		e.Fingerprint.String(), id, formatTime(e.CreatedAt),
	); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrFingerprintExists
		}
		return 0, fmt.Errorf("error recording fingerprint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing event: %w", err)
	}
	return id, nil
}

func (s *SQLiteDB) GetEvent(ctx context.Context, id int64) (*models.DisasterEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM disaster_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteDB) MarkVerified(ctx context.Context, id int64, by string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE disaster_events SET verified = 1, verified_by = ?, verified_at = ? WHERE id = ? AND verified = 0`,
		by, formatTime(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("error verifying event: %w", err)
	}
	return rowsAffected(res)
}

func (s *SQLiteDB) ListEvents(ctx context.Context, limit, offset int) ([]models.DisasterEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM disaster_events ORDER BY id ASC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("error listing events: %w", err)
	}
	defer rows.Close()

	events := make([]models.DisasterEvent, 0, limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (s *SQLiteDB) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM disaster_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting events: %w", err)
	}
	return n, nil
}

func (s *SQLiteDB) ListFingerprints(ctx context.Context) ([]models.Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint FROM processed_fingerprints`)
	if err != nil {
		return nil, fmt.Errorf("error listing fingerprints: %w", err)
	}
	defer rows.Close()

	var fps []models.Fingerprint
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("error scanning fingerprint: %w", err)
		}
		fp, err := models.ParseFingerprint(raw)
		if err != nil {
			return nil, err
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (*models.DisasterEvent, error) {
	var (
		e                                 models.DisasterEvent
		category, level, fingerprint      string
		breakdown, probabilities, created string
		verifiedAt                        sql.NullString
	)
	err := sc.Scan(
		&e.ID, &category, &e.Location, &fingerprint, &e.SeverityScore, &level,
		&e.Confidence, &breakdown, &probabilities, &e.Reporter, &e.Verified, &e.VerifiedBy, &verifiedAt,
		&e.PopulationAffected, &e.InfrastructureDamage, &e.ImpactArea, &created,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("error scanning event: %w", err)
	}

	e.Category = models.Category(category)
	e.SeverityLevel = models.SeverityLevel(level)
	if e.Fingerprint, err = models.ParseFingerprint(fingerprint); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(breakdown), &e.Breakdown); err != nil {
		return nil, fmt.Errorf("error decoding breakdown: %w", err)
	}
	if err := json.Unmarshal([]byte(probabilities), &e.Probabilities); err != nil {
		return nil, fmt.Errorf("error decoding probabilities: %w", err)
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		t, err := parseTime(verifiedAt.String)
		if err != nil {
			return nil, err
		}
		e.VerifiedAt = &t
	}
	return &e, nil
}
