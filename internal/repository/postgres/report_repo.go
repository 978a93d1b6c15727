package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/repository"
)

var _ repository.ReportSink = (*pgReportRepo)(nil)

const stdoutTailBytes = 8192

type pgReportRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresReportRepository creates a PostgreSQL-backed report sink.
func NewPostgresReportRepository(pool *pgxpool.Pool) repository.ReportSink {
	return &pgReportRepo{pool: pool}
}

// SaveReport replaces the stored job row and its step rows in one transaction.
func (r *pgReportRepo) SaveReport(ctx context.Context, job *domain.RepositoryJob) error {
	var profile []byte
	if job.Profile != nil {
		var err error
		if profile, err = json.Marshal(job.Profile); err != nil {
			return fmt.Errorf("postgres: encode profile: %w", err)
		}
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO scan_jobs (repo_id, clone_url, status, phase, reason, attempts, profile, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (repo_id) DO UPDATE SET
				clone_url = EXCLUDED.clone_url,
				status = EXCLUDED.status,
				phase = EXCLUDED.phase,
				reason = EXCLUDED.reason,
				attempts = EXCLUDED.attempts,
				profile = EXCLUDED.profile,
				updated_at = EXCLUDED.updated_at`,
			job.ID(), job.Repo.CloneURL, string(job.Status), job.Phase, job.Reason,
			job.Attempts, profile, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("postgres: upsert job: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM scan_steps WHERE repo_id = $1`, job.ID()); err != nil {
			return fmt.Errorf("postgres: clear steps: %w", err)
		}

		batch := &pgx.Batch{}
		for i, s := range job.Steps {
			if s.State == domain.StepPending {
				continue
			}
			reports, err := json.Marshal(nonNil(s.Reports))
			if err != nil {
				return fmt.Errorf("postgres: encode reports: %w", err)
			}
			batch.Queue(`
				INSERT INTO scan_steps (repo_id, position, scanner, state, exit_code, started_at, ended_at, reason, reports, stdout_tail)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				job.ID(), i, s.Scanner.ID, string(s.State), s.ExitCode,
				nullTime(s.StartedAt), nullTime(s.EndedAt), s.Reason, reports,
				tail(s.Stdout, stdoutTailBytes),
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: insert steps: %w", err)
		}
		return nil
	})
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	// Drop a leading partial rune; Postgres rejects invalid UTF-8.
	for len(s) > 0 && s[0]&0xC0 == 0x80 {
		s = s[1:]
	}
	return s
}
