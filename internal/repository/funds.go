package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

const fundColumns = `id, event_id, total_amount, distributed_amount, status, approved_by, created_at, updated_at`

func (s *SQLiteDB) InsertFund(ctx context.Context, f *models.FundPool) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fund_pools (event_id, total_amount, distributed_amount, status, approved_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.EventID, f.TotalAmount, f.Distributed, string(f.Status), f.ApprovedBy,
		formatTime(f.CreatedAt), formatTime(f.UpdatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("error inserting fund: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error reading fund id: %w", err)
	}
	return id, nil
}

func (s *SQLiteDB) GetFund(ctx context.Context, id int64) (*models.FundPool, error) {
	var (
		f                        models.FundPool
		status, created, updated string
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+fundColumns+` FROM fund_pools WHERE id = ?`, id).Scan(
		&f.ID, &f.EventID, &f.TotalAmount, &f.Distributed, &status, &f.ApprovedBy, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting fund: %w", err)
	}
	f.Status = models.FundStatus(status)
	if f.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if f.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteDB) ListFundIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM fund_pools ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("error listing funds: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning fund id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteDB) ApplyDistribution(ctx context.Context, d *models.Distribution, prevDistributed int64, status models.FundStatus) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE fund_pools
		SET distributed_amount = ?, status = ?, updated_at = ?
		WHERE id = ? AND distributed_amount = ? AND status = ?`,
		prevDistributed+d.Amount, string(status), formatTime(d.CreatedAt),
		d.FundID, prevDistributed, string(models.FundApproved),
	)
	if err != nil {
		return 0, fmt.Errorf("error updating fund: %w", err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return 0, err
	} else if !ok {
		return 0, ErrConflict
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE custody SET balance = balance - ? WHERE id = 1 AND balance >= ?`,
		d.Amount, d.Amount,
	)
	if err != nil {
		return 0, fmt.Errorf("error debiting custody: %w", err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return 0, err
	} else if !ok {
		return 0, ErrInsufficientCustody
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO distributions (fund_id, recipient, amount, transfer_ref, distributed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.FundID, d.Recipient, d.Amount, d.TransferRef, d.DistributedBy, formatTime(d.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("error inserting distribution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error reading distribution id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing distribution: %w", err)
	}
	return id, nil
}

func (s *SQLiteDB) ListDistributions(ctx context.Context, fundID int64) ([]models.Distribution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fund_id, recipient, amount, transfer_ref, distributed_by, created_at
		FROM distributions WHERE fund_id = ? ORDER BY id ASC`, fundID)
	if err != nil {
		return nil, fmt.Errorf("error listing distributions: %w", err)
	}
	defer rows.Close()

	out := []models.Distribution{}
	for rows.Next() {
		var (
			d       models.Distribution
			created string
		)
		if err := rows.Scan(&d.ID, &d.FundID, &d.Recipient, &d.Amount, &d.TransferRef, &d.DistributedBy, &created); err != nil {
			return nil, fmt.Errorf("error scanning distribution: %w", err)
		}
		if d.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) CustodyBalance(ctx context.Context) (int64, error) {
	var balance int64
	if err := s.db.QueryRowContext(ctx, `SELECT balance FROM custody WHERE id = 1`).Scan(&balance); err != nil {
		return 0, fmt.Errorf("error reading custody balance: %w", err)
	}
	return balance, nil
}

func (s *SQLiteDB) Deposit(ctx context.Context, amount int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := creditCustody(ctx, tx, amount); err != nil {
		return 0, err
	}
	var balance int64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM custody WHERE id = 1`).Scan(&balance); err != nil {
		return 0, fmt.Errorf("error reading custody balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing deposit: %w", err)
	}
	return balance, nil
}

// creditCustody adds a positive amount to custody. SQLite turns an
// overflowing integer sum into a REAL, so the bound is checked in the update.
func creditCustody(ctx context.Context, tx *sql.Tx, amount int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE custody SET balance = balance + ? WHERE id = 1 AND balance <= ? - ?`,
		amount, int64(math.MaxInt64), amount,
	)
	if err != nil {
		return fmt.Errorf("error crediting custody: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error crediting custody: %w", err)
	}
	if n == 0 {
		return ErrCustodyOverflow
	}
	return nil
}
