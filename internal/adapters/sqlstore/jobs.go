package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

const jobColumns = `id, prompt_original, prompt_normalized, molecule, subject_key, scope, status,
	canonical_result, error, data_completeness_score, confidence_overall, created_at, updated_at, completed_at`

func (s *Store) CreateJob(ctx context.Context, job domain.Job) error {
	scope, err := json.Marshal(job.Scope)
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}
	var result sql.NullString
	if job.CanonicalResult != nil {
		b, err := json.Marshal(job.CanonicalResult)
		if err != nil {
			return fmt.Errorf("marshal canonical result: %w", err)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(job.ID),
		job.PromptOriginal,
		job.PromptNormalized,
		job.Molecule,
		job.SubjectKey,
		string(scope),
		string(job.Status),
		result,
		nullString(job.Error),
		job.DataCompletenessScore,
		job.ConfidenceOverall,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, string(id))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, err
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateStatus is a single guarded statement; terminal rows never match.
func (s *Store) UpdateStatus(ctx context.Context, id domain.JobID, status domain.JobStatus, opts ...domain.UpdateOption) error {
	upd := domain.ApplyUpdateOptions(opts...)
	now := time.Now().UTC()

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(status), now}

	if upd.Result != nil {
		b, err := json.Marshal(upd.Result)
		if err != nil {
			return fmt.Errorf("marshal canonical result: %w", err)
		}
		sets = append(sets, "canonical_result = ?", "data_completeness_score = ?", "confidence_overall = ?")
		args = append(args, string(b), upd.Result.DataCompletenessScore, upd.Result.ConfidenceOverall)
	}
	if upd.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *upd.Error)
	}
	if status == domain.JobStatusCompleted {
		sets = append(sets, "completed_at = ?")
		args = append(args, now)
	}
	args = append(args, string(id))

	res, err := s.exec(ctx, `
		UPDATE jobs SET `+strings.Join(sets, ", ")+`
		WHERE id = ? AND status NOT IN ('completed', 'failed')`, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	found, err := s.exists(ctx, "jobs", string(id))
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrJobNotFound
	}
	return domain.ErrJobTerminal
}

func scanJob(row scanner) (domain.Job, error) {
	var (
		job          domain.Job
		id, status   string
		scope        string
		result       sql.NullString
		errMsg       sql.NullString
		completeness sql.NullFloat64
		confidence   sql.NullFloat64
		completedAt  sql.NullTime
	)
	err := row.Scan(
		&id, &job.PromptOriginal, &job.PromptNormalized, &job.Molecule, &job.SubjectKey, &scope, &status,
		&result, &errMsg, &completeness, &confidence, &job.CreatedAt, &job.UpdatedAt, &completedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}

	job.ID = domain.JobID(id)
	job.Status = domain.JobStatus(status)
	job.Error = stringPtr(errMsg)
	job.DataCompletenessScore = floatPtr(completeness)
	job.ConfidenceOverall = floatPtr(confidence)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.CompletedAt = timePtr(completedAt)

	if err := json.Unmarshal([]byte(scope), &job.Scope); err != nil {
		return domain.Job{}, fmt.Errorf("decode scope of job %s: %w", id, err)
	}
	if result.Valid {
		var r domain.CanonicalResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return domain.Job{}, fmt.Errorf("decode canonical result of job %s: %w", id, err)
		}
		job.CanonicalResult = &r
	}
	return job, nil
}
