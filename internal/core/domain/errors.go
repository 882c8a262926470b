package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrResponseNotFound = errors.New("worker response not found")
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrJobTerminal is returned when a status update targets a completed or failed job.
	ErrJobTerminal = errors.New("job is in a terminal state")

	// ErrTimeout is the only failure of the response waiter.
	ErrTimeout = errors.New("timed out waiting for worker response")

	ErrUnknownWorker = errors.New("unknown worker type")
)

// IsNotFound reports whether err refers to an unknown job, task, response or artifact.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrResponseNotFound) ||
		errors.Is(err, ErrArtifactNotFound)
}

// DispatchError means the broker rejected a task. The task has already been marked failed.
type DispatchError struct {
	TaskID TaskID
	Worker WorkerType
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch error: task %s to %s: %v", e.TaskID, e.Worker, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// SchemaError means a payload failed validation against a named schema.
type SchemaError struct {
	Schema string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %s: %v", e.Schema, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// StageError wraps any other failure inside a pipeline stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// AsStageError attaches the failing stage to err. A *StageError passes through
// unchanged; typed causes (*SchemaError, *DispatchError, ErrTimeout) are
// wrapped and stay reachable through errors.As and errors.Is.
func AsStageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}
