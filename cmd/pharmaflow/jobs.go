package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

func newJobsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect research jobs"}
	cmd.PersistentFlags().Bool("json", false, "output JSON")
	cmd.AddCommand(newJobsListCmd(c), newJobsShowCmd(c))
	return cmd
}

func newJobsListCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return c.withStore(cmd.Context(), func(ctx context.Context, store ports.Store) error {
				jobs, err := store.ListJobs(ctx, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), jobs)
				}
				renderJobs(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs")
	return cmd
}

func newJobsShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job with its tasks and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			id := domain.JobID(args[0])
			return c.withStore(cmd.Context(), func(ctx context.Context, store ports.Store) error {
				job, err := store.GetJob(ctx, id)
				if err != nil {
					return err
				}
				tasks, err := store.ListTasks(ctx, id)
				if err != nil {
					return err
				}
				artifacts, err := store.ListArtifacts(ctx, id)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"job":       job,
						"tasks":     tasks,
						"artifacts": artifacts,
					})
				}
				renderJob(cmd.OutOrStdout(), job, tasks, artifacts)
				return nil
			})
		},
	}
}

func (c *cli) withStore(ctx context.Context, fn func(context.Context, ports.Store) error) error {
	store, err := openStore(ctx, c.logger, c.cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderJobs(w io.Writer, jobs []domain.Job) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Molecule", "Status", "Confidence", "Created", "Completed"})
	for _, j := range jobs {
		tw.AppendRow(table.Row{j.ID, j.Molecule, j.Status, formatScore(j.ConfidenceOverall), formatTime(&j.CreatedAt), formatTime(j.CompletedAt)})
	}
	tw.Render()
}

func renderJob(w io.Writer, job domain.Job, tasks []domain.Task, artifacts []domain.Artifact) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.AppendRows([]table.Row{
		{"ID", job.ID},
		{"Molecule", job.Molecule},
		{"Prompt", job.PromptOriginal},
		{"Status", job.Status},
		{"Data completeness", formatScore(job.DataCompletenessScore)},
		{"Confidence", formatScore(job.ConfidenceOverall)},
		{"Created", formatTime(&job.CreatedAt)},
		{"Completed", formatTime(job.CompletedAt)},
	})
	if job.Error != nil {
		summary.AppendRow(table.Row{"Error", *job.Error})
	}
	summary.Render()

	tt := table.NewWriter()
	tt.SetOutputMirror(w)
	tt.SetTitle("Tasks")
	tt.AppendHeader(table.Row{"ID", "Worker", "Status", "Retries", "Finished", "Error"})
	for _, t := range tasks {
		errMsg := ""
		if t.ErrorMessage != nil {
			errMsg = *t.ErrorMessage
		}
		tt.AppendRow(table.Row{t.ID, t.WorkerType, t.Status, t.Retries, formatTime(t.FinishedAt), errMsg})
	}
	tt.Render()

	if len(artifacts) == 0 {
		return
	}
	at := table.NewWriter()
	at.SetOutputMirror(w)
	at.SetTitle("Artifacts")
	at.AppendHeader(table.Row{"Type", "URI", "Size"})
	for _, a := range artifacts {
		at.AppendRow(table.Row{a.Type, a.StorageURI, a.SizeBytes})
	}
	at.Render()
}

func formatScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
