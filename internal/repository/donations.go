package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

const donationColumns = `id, event_id, donor, amount, purpose, status, ledger_verified, created_at`

func (s *SQLiteDB) InsertDonation(ctx context.Context, d *models.Donation) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO donations (event_id, donor, amount, purpose, status, ledger_verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.EventID, d.Donor, d.Amount, d.Purpose, string(d.Status), d.LedgerVerified, formatTime(d.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("error inserting donation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error reading donation id: %w", err)
	}

	if err := creditCustody(ctx, tx, d.Amount); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing donation: %w", err)
	}
	return id, nil
}

func (s *SQLiteDB) GetDonation(ctx context.Context, id int64) (*models.Donation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+donationColumns+` FROM donations WHERE id = ?`, id)
	d, err := scanDonation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *SQLiteDB) ListDonationsByEvent(ctx context.Context, eventID int64) ([]models.Donation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+donationColumns+` FROM donations WHERE event_id = ? ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("error listing donations: %w", err)
	}
	defer rows.Close()

	out := []models.Donation{}
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDonation(sc scanner) (*models.Donation, error) {
	var (
		d               models.Donation
		status, created string
	)
	err := sc.Scan(&d.ID, &d.EventID, &d.Donor, &d.Amount, &d.Purpose, &status, &d.LedgerVerified, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("error scanning donation: %w", err)
	}
	d.Status = models.DonationStatus(status)
	if d.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &d, nil
}
