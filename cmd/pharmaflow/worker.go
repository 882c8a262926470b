package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manthysbr/pharmaflow/internal/adapters/docker"
	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/schema"
	"github.com/manthysbr/pharmaflow/internal/workers"
)

func newWorkerCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "worker", Short: "Worker runtime"}

	var stdin bool
	exec := &cobra.Command{
		Use:   "exec",
		Short: "Run one task message and post its envelope to the callback URL",
		Long: fmt.Sprintf(`Reads the task message from %s (base64 JSON), or from stdin with --stdin,
runs the worker it names and delivers the envelope. Without a callback URL the
envelope is printed instead.`, docker.MessageEnv),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := readMessage(cmd.InOrStdin(), stdin)
			if err != nil {
				return err
			}
			return c.workerExec(cmd.Context(), cmd.OutOrStdout(), msg)
		},
	}
	exec.Flags().BoolVar(&stdin, "stdin", false, "read the task message as JSON from stdin")

	cmd.AddCommand(exec)
	return cmd
}

func readMessage(in io.Reader, fromStdin bool) (domain.TaskMessage, error) {
	if !fromStdin {
		value := strings.TrimSpace(os.Getenv(docker.MessageEnv))
		if value == "" {
			return domain.TaskMessage{}, fmt.Errorf("%s is not set", docker.MessageEnv)
		}
		return docker.DecodeMessage(value)
	}
	var msg domain.TaskMessage
	if err := json.NewDecoder(in).Decode(&msg); err != nil {
		return msg, fmt.Errorf("decode task message: %w", err)
	}
	return msg, nil
}

func (c *cli) workerExec(ctx context.Context, out io.Writer, msg domain.TaskMessage) error {
	logger := c.logger.With("task_id", msg.TaskID, "worker", msg.Worker)

	objects, _, err := openObjects(ctx, logger, c.cfg.S3)
	if err != nil {
		return err
	}
	validator, err := schema.New()
	if err != nil {
		return err
	}
	// llm calls are logged by the orchestrator only; a worker has no store
	generator, err := buildGenerator(logger, *c.cfg, validator, nil)
	if err != nil {
		return err
	}
	registry, err := buildRegistry(logger, *c.cfg, generator, objects)
	if err != nil {
		return err
	}

	env := registry.Execute(ctx, msg)
	if msg.CallbackURL == "" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	status, err := workers.NewCallbackClient(logger, nil).Deliver(ctx, msg, env)
	if err != nil {
		return fmt.Errorf("deliver envelope: %w", err)
	}
	logger.Info("envelope delivered", "status", status.Status, "envelope_status", env.Status)
	return nil
}
