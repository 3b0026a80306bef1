package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/digkill/TGVisionBot/internal/models"
)

// MySQLAccountStore implements AccountStore on MySQL. Guards are expressed
// in the UPDATE statements themselves so concurrent requests for the same
// user resolve inside the database.
type MySQLAccountStore struct {
	db *sql.DB
}

func NewMySQLAccountStore(db *sql.DB) *MySQLAccountStore {
	return &MySQLAccountStore{db: db}
}

func (s *MySQLAccountStore) DB() *sql.DB {
	return s.db
}

func (s *MySQLAccountStore) Get(ctx context.Context, userID string) (*models.Account, error) {
	const query = `
SELECT user_id, credits, is_premium, last_reset, COALESCE(referred_by, ''), created_at, updated_at
FROM accounts WHERE user_id = ?`
	row := s.db.QueryRowContext(ctx, query, userID)
	var a models.Account
	var premium int
	if err := row.Scan(&a.UserID, &a.Credits, &premium, &a.LastReset, &a.ReferredBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.IsPremium = premium != 0

	referrals, err := s.listReferrals(ctx, userID)
	if err != nil {
		return nil, err
	}
	a.Referrals = referrals
	return &a, nil
}

func (s *MySQLAccountStore) Ensure(ctx context.Context, userID string, defaultCredits int) (*models.Account, bool, error) {
	account, err := s.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if account != nil {
		return account, false, nil
	}

	const query = `
INSERT INTO accounts (user_id, credits, is_premium, last_reset)
VALUES (?, ?, 0, NOW())`
	if _, err := s.db.ExecContext(ctx, query, userID, defaultCredits); err != nil {
		// Two first contacts can race on the insert; the loser reads back.
		if isDuplicateKey(err) {
			account, getErr := s.Get(ctx, userID)
			if getErr != nil {
				return nil, false, getErr
			}
			return account, false, nil
		}
		return nil, false, fmt.Errorf("insert account: %w", err)
	}

	account, err = s.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return account, true, nil
}

func (s *MySQLAccountStore) ResetCredits(ctx context.Context, userID string, credits int, staleBefore time.Time) (bool, error) {
	const query = `
UPDATE accounts SET credits = ?, last_reset = NOW(), updated_at = NOW()
WHERE user_id = ? AND last_reset <= ?`
	res, err := s.db.ExecContext(ctx, query, credits, userID, staleBefore)
	if err != nil {
		return false, fmt.Errorf("reset credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reset rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *MySQLAccountStore) ConsumeCredit(ctx context.Context, userID string) (bool, error) {
	const query = `
UPDATE accounts SET credits = credits - 1, updated_at = NOW()
WHERE user_id = ? AND credits > 0`
	res, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("consume credit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *MySQLAccountStore) AddCredits(ctx context.Context, userID string, delta int) error {
	const query = `UPDATE accounts SET credits = GREATEST(credits + ?, 0), updated_at = NOW() WHERE user_id = ?`
	if _, err := s.db.ExecContext(ctx, query, delta, userID); err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	return nil
}

func (s *MySQLAccountStore) SetPremium(ctx context.Context, userID string, premium bool) error {
	value := 0
	if premium {
		value = 1
	}
	const query = `UPDATE accounts SET is_premium = ?, updated_at = NOW() WHERE user_id = ?`
	if _, err := s.db.ExecContext(ctx, query, value, userID); err != nil {
		return fmt.Errorf("set premium: %w", err)
	}
	return nil
}

func (s *MySQLAccountStore) AddReferral(ctx context.Context, referrerID, refereeID string, bonus int) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// A referee is claimable exactly once, by whichever referrer gets here
	// first. The guarded update and the unique key on referrals back each
	// other up.
	res, err := tx.ExecContext(ctx, `
UPDATE accounts SET referred_by = ?, updated_at = NOW()
WHERE user_id = ? AND (referred_by IS NULL OR referred_by = '')`, referrerID, refereeID)
	if err != nil {
		return fmt.Errorf("claim referee: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateReferral
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO referrals (referrer_id, referee_id) VALUES (?, ?)`, referrerID, refereeID); err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateReferral
		}
		return fmt.Errorf("insert referral: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET credits = credits + ?, updated_at = NOW() WHERE user_id = ?`, bonus, referrerID); err != nil {
		return fmt.Errorf("credit referrer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit referral tx: %w", err)
	}
	return nil
}

func (s *MySQLAccountStore) ListIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT user_id FROM accounts`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *MySQLAccountStore) listReferrals(ctx context.Context, referrerID string) ([]string, error) {
	const query = `SELECT referee_id FROM referrals WHERE referrer_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, referrerID)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
