package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ayush/research-ai-agent/reportgen/internal/models"
)

// PgxPool is the subset of *pgxpool.Pool the ledger uses.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// RunLedger records the lifecycle of report runs in PostgreSQL.
type RunLedger struct {
	pool PgxPool
}

func NewRunLedger(pool PgxPool) *RunLedger {
	return &RunLedger{pool: pool}
}

// Migrate creates the report_runs table if it doesn't exist.
func (s *RunLedger) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS report_runs (
			id                 TEXT PRIMARY KEY,
			user_id            TEXT         NOT NULL,
			topic              TEXT         NOT NULL,
			status             VARCHAR(20)  NOT NULL,
			section_count      INT          NOT NULL DEFAULT 0,
			completed_sections INT          NOT NULL DEFAULT 0,
			document_id        VARCHAR(24)  NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ  DEFAULT NOW(),
			finished_at        TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS report_runs_user_idx ON report_runs (user_id, created_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("migrate report_runs: %w", err)
	}
	return nil
}

func (s *RunLedger) Create(ctx context.Context, id, userID, topic string) (*models.RunRecord, error) {
	r := models.RunRecord{ID: id, UserID: userID, Topic: topic, Status: string(models.StatusIdle)}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO report_runs (id, user_id, topic, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		id, userID, topic, r.Status,
	).Scan(&r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &r, nil
}

// UpdateProgress stores the current status and section counters of a run.
// Finished rows are left alone.
func (s *RunLedger) UpdateProgress(ctx context.Context, id, status string, sectionCount, completed int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE report_runs SET status = $2, section_count = $3, completed_sections = $4 WHERE id = $1 AND status <> 'finished'`,
		id, status, sectionCount, completed,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFinished closes a run and links the stored report document.
func (s *RunLedger) MarkFinished(ctx context.Context, id, documentID string, sectionCount int, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE report_runs
		 SET status = $2, section_count = $3, completed_sections = $3, document_id = $4, finished_at = $5
		 WHERE id = $1`,
		id, string(models.StatusFinished), sectionCount, documentID, at,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RunLedger) Get(ctx context.Context, id string) (*models.RunRecord, error) {
	var r models.RunRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, topic, status, section_count, completed_sections, document_id, created_at, finished_at
		 FROM report_runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.UserID, &r.Topic, &r.Status, &r.SectionCount, &r.CompletedSections, &r.DocumentID, &r.CreatedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// ListByUser returns a user's runs, newest first.
func (s *RunLedger) ListByUser(ctx context.Context, userID string, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, topic, status, section_count, completed_sections, document_id, created_at, finished_at
		 FROM report_runs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunRecord
	for rows.Next() {
		var r models.RunRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Topic, &r.Status, &r.SectionCount, &r.CompletedSections, &r.DocumentID, &r.CreatedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
