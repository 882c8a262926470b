package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

const responseColumns = `id, task_id, job_id, worker, status, confidence, ts, outputs, sources, notes,
	raw_envelope, created_at`

// SaveResponse relies on the unique task_id index; a conflicting insert is
// dropped and reported as false.
func (s *Store) SaveResponse(ctx context.Context, resp domain.WorkerResponse) (bool, error) {
	sources := resp.Sources
	if sources == nil {
		sources = []domain.Source{}
	}
	src, err := json.Marshal(sources)
	if err != nil {
		return false, fmt.Errorf("marshal sources: %w", err)
	}
	var outputs sql.NullString
	if len(resp.Outputs) > 0 {
		outputs = sql.NullString{String: string(resp.Outputs), Valid: true}
	}

	res, err := s.exec(ctx, `
		INSERT INTO worker_responses (`+responseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO NOTHING`,
		string(resp.ID),
		string(resp.TaskID),
		string(resp.JobID),
		string(resp.Worker),
		string(resp.Status),
		resp.Confidence,
		resp.Timestamp.UTC(),
		outputs,
		string(src),
		nullString(resp.Notes),
		string(resp.RawEnvelope),
		resp.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert worker response for task %s: %w", resp.TaskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert worker response for task %s: %w", resp.TaskID, err)
	}
	return n > 0, nil
}

func (s *Store) GetResponseByTask(ctx context.Context, taskID domain.TaskID) (domain.WorkerResponse, error) {
	var (
		resp                 domain.WorkerResponse
		id, task, job        string
		worker, status       string
		outputs, notes       sql.NullString
		sources, rawEnvelope string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+responseColumns+` FROM worker_responses WHERE task_id = ?`, string(taskID),
	).Scan(
		&id, &task, &job, &worker, &status, &resp.Confidence, &resp.Timestamp, &outputs, &sources, &notes,
		&rawEnvelope, &resp.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WorkerResponse{}, domain.ErrResponseNotFound
	}
	if err != nil {
		return domain.WorkerResponse{}, fmt.Errorf("get worker response for task %s: %w", taskID, err)
	}

	resp.ID = domain.ResponseID(id)
	resp.TaskID = domain.TaskID(task)
	resp.JobID = domain.JobID(job)
	resp.Worker = domain.WorkerType(worker)
	resp.Status = domain.EnvelopeStatus(status)
	resp.Timestamp = resp.Timestamp.UTC()
	resp.CreatedAt = resp.CreatedAt.UTC()
	resp.Notes = stringPtr(notes)
	resp.RawEnvelope = json.RawMessage(rawEnvelope)
	if outputs.Valid {
		resp.Outputs = json.RawMessage(outputs.String)
	}
	if err := json.Unmarshal([]byte(sources), &resp.Sources); err != nil {
		return domain.WorkerResponse{}, fmt.Errorf("decode sources for task %s: %w", taskID, err)
	}
	return resp, nil
}
