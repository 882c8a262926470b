package sqlstore

import (
	"context"
	"fmt"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

func (s *Store) SaveArtifact(ctx context.Context, art domain.Artifact) error {
	_, err := s.exec(ctx, `
		INSERT INTO artifacts (id, job_id, type, storage_uri, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(art.ID),
		string(art.JobID),
		string(art.Type),
		art.StorageURI,
		art.SizeBytes,
		art.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert artifact %s: %w", art.ID, err)
	}
	return nil
}

func (s *Store) ListArtifacts(ctx context.Context, jobID domain.JobID) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, type, storage_uri, size_bytes, created_at
		FROM artifacts WHERE job_id = ? ORDER BY created_at, id`, string(jobID))
	if err != nil {
		return nil, fmt.Errorf("list artifacts of job %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		var (
			art          domain.Artifact
			id, job, typ string
		)
		if err := rows.Scan(&id, &job, &typ, &art.StorageURI, &art.SizeBytes, &art.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		art.ID = domain.ArtifactID(id)
		art.JobID = domain.JobID(job)
		art.Type = domain.ArtifactType(typ)
		art.CreatedAt = art.CreatedAt.UTC()
		out = append(out, art)
	}
	return out, rows.Err()
}

func (s *Store) SaveLLMCall(ctx context.Context, call domain.LLMCall) error {
	_, err := s.exec(ctx, `
		INSERT INTO llm_calls (id, job_id, stage, model, prompt, response, prompt_tokens, response_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(call.ID),
		string(call.JobID),
		call.Stage,
		call.Model,
		call.Prompt,
		call.Response,
		call.PromptTokens,
		call.ResponseTokens,
		call.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert llm call %s: %w", call.ID, err)
	}
	return nil
}

func (s *Store) ListLLMCalls(ctx context.Context, jobID domain.JobID) ([]domain.LLMCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, stage, model, prompt, response, prompt_tokens, response_tokens, created_at
		FROM llm_calls WHERE job_id = ? ORDER BY created_at, id`, string(jobID))
	if err != nil {
		return nil, fmt.Errorf("list llm calls of job %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []domain.LLMCall
	for rows.Next() {
		var (
			call    domain.LLMCall
			id, job string
		)
		err := rows.Scan(&id, &job, &call.Stage, &call.Model, &call.Prompt, &call.Response,
			&call.PromptTokens, &call.ResponseTokens, &call.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan llm call: %w", err)
		}
		call.ID = domain.LLMCallID(id)
		call.JobID = domain.JobID(job)
		call.CreatedAt = call.CreatedAt.UTC()
		out = append(out, call)
	}
	return out, rows.Err()
}
