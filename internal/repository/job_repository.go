package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/TGVisionBot/internal/models"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Log(ctx context.Context, userID string, kind models.JobKind, prompt string, ok bool) error {
	okValue := 0
	if ok {
		okValue = 1
	}
	const query = `
INSERT INTO job_logs (user_id, kind, prompt, ok)
VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, userID, kind, prompt, okValue); err != nil {
		return fmt.Errorf("insert job log: %w", err)
	}
	return nil
}

func (r *JobRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM job_logs WHERE user_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}
