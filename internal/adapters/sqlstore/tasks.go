package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

const taskColumns = `id, job_id, worker_type, params, status, retries, priority, depends_on,
	started_at, finished_at, error_message, created_at`

func (s *Store) CreateTask(ctx context.Context, task domain.Task) error {
	dependsOn := task.DependsOn
	if dependsOn == nil {
		dependsOn = []domain.TaskID{}
	}
	deps, err := json.Marshal(dependsOn)
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}
	params := task.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	_, err = s.exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(task.ID),
		string(task.JobID),
		string(task.WorkerType),
		string(params),
		string(task.Status),
		task.Retries,
		task.Priority,
		string(deps),
		task.StartedAt,
		task.FinishedAt,
		nullString(task.ErrorMessage),
		task.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, string(id))
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return task, err
}

func (s *Store) ListTasks(ctx context.Context, jobID domain.JobID) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE job_id = ? ORDER BY created_at, id`, string(jobID))
	if err != nil {
		return nil, fmt.Errorf("list tasks of job %s: %w", jobID, err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *Store) MarkRunning(ctx context.Context, id domain.TaskID) (bool, error) {
	return s.guarded(ctx, id, `
		UPDATE tasks SET status = 'running', started_at = ?
		WHERE id = ? AND status = 'pending'`,
		time.Now().UTC(), string(id))
}

func (s *Store) MarkCompleted(ctx context.Context, id domain.TaskID) (bool, error) {
	return s.guarded(ctx, id, `
		UPDATE tasks SET status = 'completed', finished_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		time.Now().UTC(), string(id))
}

func (s *Store) MarkFailed(ctx context.Context, id domain.TaskID, reason string) (bool, error) {
	return s.guarded(ctx, id, `
		UPDATE tasks SET status = 'failed', finished_at = ?, error_message = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		time.Now().UTC(), domain.TruncateError(reason), string(id))
}

// guarded runs a conditional transition. Zero affected rows is a no-op for
// an existing task and ErrTaskNotFound otherwise.
func (s *Store) guarded(ctx context.Context, id domain.TaskID, query string, args ...any) (bool, error) {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition task %s: %w", id, err)
	}
	if n > 0 {
		return true, nil
	}

	found, err := s.exists(ctx, "tasks", string(id))
	if err != nil {
		return false, err
	}
	if !found {
		return false, domain.ErrTaskNotFound
	}
	return false, nil
}

func (s *Store) IncrementRetries(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	res, err := s.exec(ctx, `UPDATE tasks SET retries = retries + 1 WHERE id = ?`, string(id))
	if err != nil {
		return domain.Task{}, fmt.Errorf("increment retries of task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return s.GetTask(ctx, id)
}

func scanTask(row scanner) (domain.Task, error) {
	var (
		task                domain.Task
		id, jobID           string
		worker, status      string
		params, deps        string
		startedAt, finished sql.NullTime
		errMsg              sql.NullString
	)
	err := row.Scan(
		&id, &jobID, &worker, &params, &status, &task.Retries, &task.Priority, &deps,
		&startedAt, &finished, &errMsg, &task.CreatedAt,
	)
	if err != nil {
		return domain.Task{}, err
	}

	task.ID = domain.TaskID(id)
	task.JobID = domain.JobID(jobID)
	task.WorkerType = domain.WorkerType(worker)
	task.Params = json.RawMessage(params)
	task.Status = domain.TaskStatus(status)
	task.StartedAt = timePtr(startedAt)
	task.FinishedAt = timePtr(finished)
	task.ErrorMessage = stringPtr(errMsg)
	task.CreatedAt = task.CreatedAt.UTC()

	if err := json.Unmarshal([]byte(deps), &task.DependsOn); err != nil {
		return domain.Task{}, fmt.Errorf("decode depends_on of task %s: %w", id, err)
	}
	return task, nil
}
