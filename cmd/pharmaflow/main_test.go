package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/pharmaflow/internal/adapters/docker"
	"github.com/manthysbr/pharmaflow/internal/adapters/memory"
	"github.com/manthysbr/pharmaflow/internal/config"
	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

func TestRenderJob(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	job := domain.NewJob("Metformin", "metformin", nil)
	require.NoError(t, store.CreateJob(ctx, job))
	task := domain.NewTask(job.ID, domain.WorkerClinicalTrials, nil)
	require.NoError(t, store.CreateTask(ctx, task))
	_, err := store.MarkFailed(ctx, task.ID, "registry returned 503")
	require.NoError(t, err)

	var buf bytes.Buffer
	tasks, _ := store.ListTasks(ctx, job.ID)
	renderJob(&buf, job, tasks, nil)
	out := buf.String()
	assert.Contains(t, out, "Metformin")
	assert.Contains(t, out, "registry returned 503")
	assert.NotContains(t, out, "ARTIFACTS")

	buf.Reset()
	renderJobs(&buf, []domain.Job{job})
	assert.Contains(t, buf.String(), string(job.ID))
	assert.Contains(t, buf.String(), "queued")
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "pharmaflow dev\n", out.String())
}

func TestReadMessage(t *testing.T) {
	msg := domain.TaskMessage{JobID: "j", TaskID: "t", Worker: domain.WorkerPatent, Params: json.RawMessage(`{"molecule":"Aspirin"}`)}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	t.Setenv(docker.MessageEnv, base64.StdEncoding.EncodeToString(raw))
	got, err := readMessage(strings.NewReader(""), false)
	require.NoError(t, err)
	assert.Equal(t, msg.TaskID, got.TaskID)

	got, err = readMessage(bytes.NewReader(raw), true)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerPatent, got.Worker)

	t.Setenv(docker.MessageEnv, "")
	_, err = readMessage(strings.NewReader(""), false)
	assert.ErrorContains(t, err, docker.MessageEnv)
}

func TestWorkerExecPrintsEnvelopeWithoutCallback(t *testing.T) {
	t.Setenv("PHARMAFLOW_LLM_MODE", "off")
	v := config.New()
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	c := &cli{v: v, cfg: cfg, logger: newLogger("error")}

	msg := domain.TaskMessage{JobID: "j", TaskID: "t", Worker: domain.WorkerPatent, Params: json.RawMessage(`{"molecule":"Aspirin"}`)}
	var out bytes.Buffer
	require.NoError(t, c.workerExec(context.Background(), &out, msg))

	var env domain.Envelope
	require.NoError(t, json.Unmarshal(out.Bytes(), &env))
	assert.Equal(t, domain.EnvelopeOK, env.Status)
	assert.JSONEq(t, `{"patents":[]}`, string(env.Outputs))
}

func TestWorkerEnvDropsEmptyValues(t *testing.T) {
	cfg := config.Config{}
	cfg.LLM.Mode = "remote"
	cfg.S3.Enabled = true
	env := workerEnv(cfg)
	assert.Equal(t, "remote", env["PHARMAFLOW_LLM_MODE"])
	assert.Equal(t, "true", env["PHARMAFLOW_S3_ENABLED"])
	_, ok := env["PHARMAFLOW_LLM_API_KEY"]
	assert.False(t, ok)
}

func TestSecretSeal(t *testing.T) {
	t.Setenv(config.SecretKeyEnv, "cli-test-key")
	t.Setenv(config.SecretKeyFileEnv, "")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("gsk-live-123\n"))
	root.SetArgs([]string{"secret", "seal"})
	require.NoError(t, root.Execute())

	sealed := strings.TrimSpace(out.String())
	require.True(t, config.IsSealed(sealed))
	key, err := config.NewSecretKey("cli-test-key")
	require.NoError(t, err)
	plain, err := key.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "gsk-live-123", plain)

	_, err = secretValue(strings.NewReader(""), nil)
	assert.ErrorContains(t, err, "no value")
}
