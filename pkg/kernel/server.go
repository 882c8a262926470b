// Package kernel serves the research API, the worker callback endpoint and
// job event streams over HTTP.
package kernel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/manthysbr/pharmaflow/internal/auth"
	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
	"github.com/manthysbr/pharmaflow/internal/core/services"
)

// APIKeyHeader carries the user credential on /api routes.
const APIKeyHeader = "X-API-Key"

// TokenVerifier checks the credential a worker presents for a task.
type TokenVerifier interface {
	Verify(taskID domain.TaskID, presented string) error
}

type Config struct {
	CORSOrigins []string
	APIKeys     []string
	Version     string
}

type Server struct {
	logger    *slog.Logger
	research  *services.ResearchService
	ingestion *services.Ingestion
	verifier  TokenVerifier
	objects   ports.ObjectStore
	keys      auth.APIKeys
	cfg       Config
}

// NewServer wires the HTTP surface. verifier may be nil, which rejects every
// worker callback.
func NewServer(
	logger *slog.Logger,
	research *services.ResearchService,
	ingestion *services.Ingestion,
	verifier TokenVerifier,
	objects ports.ObjectStore,
	cfg Config,
) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{
		logger:    logger,
		research:  research,
		ingestion: ingestion,
		verifier:  verifier,
		objects:   objects,
		keys:      auth.NewAPIKeys(cfg.APIKeys),
		cfg:       cfg,
	}
}

// Handler returns the router with CORS applied.
func (s *Server) Handler() http.Handler {
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		var details map[string]any
		if len(errs) > 0 {
			messages := make([]string, 0, len(errs))
			for _, e := range errs {
				messages = append(messages, e.Error())
			}
			details = map[string]any{"errors": messages}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(s.requestLogger)
	router.Use(s.apiKeyAuth)

	hcfg := huma.DefaultConfig("Pharmaflow API", s.cfg.Version)
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)

	// SSE bypasses huma so events can be flushed as they arrive.
	router.Get("/api/research/{job_id}/events", s.handleJobEvents)

	registerHealth(api)
	s.registerResearch(api)
	s.registerTasks(api)
	s.registerCallback(api)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", APIKeyHeader},
	}).Handler(router)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/health" {
			return
		}
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status())
	})
}

// apiKeyAuth guards the user facing /api routes. Worker callbacks carry their
// own credential and are checked by the callback handler.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if !s.keys.Allow(r.Header.Get(APIKeyHeader)) {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid API key", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func (s *Server) registerResearch(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-research",
		Method:        http.MethodPost,
		Path:          "/api/research",
		Summary:       "Submit a research job",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body ResearchRequest
	}) (*struct {
		Body ResearchAccepted
	}, error) {
		scope := make([]domain.Stage, 0, len(input.Body.Scope))
		for _, st := range input.Body.Scope {
			scope = append(scope, domain.Stage(st))
		}
		job, err := s.research.Submit(ctx, input.Body.Molecule, input.Body.Prompt, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResearchAccepted
		}{Body: ResearchAccepted{JobID: job.ID, Status: job.Status}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-research",
		Method:      http.MethodGet,
		Path:        "/api/research",
		Summary:     "List recent research jobs",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []JobSummary
	}, error) {
		jobs, err := s.research.List(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]JobSummary, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, jobSummary(j))
		}
		return &struct {
			Body []JobSummary
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "research-status",
		Method:      http.MethodGet,
		Path:        "/api/research/{job_id}/status",
		Summary:     "Get job status and result",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body JobStatusResponse
	}, error) {
		view, err := s.research.Get(ctx, domain.JobID(input.JobID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobStatusResponse
		}{Body: jobStatusResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "cancel-research",
		Method:        http.MethodPost,
		Path:          "/api/research/{job_id}/cancel",
		Summary:       "Cancel a running job",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body ResearchAccepted
	}, error) {
		job, err := s.research.Cancel(ctx, domain.JobID(input.JobID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResearchAccepted
		}{Body: ResearchAccepted{JobID: job.ID, Status: job.Status}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-artifact",
		Method:      http.MethodGet,
		Path:        "/api/research/{job_id}/download/{kind}",
		Summary:     "Download a rendered document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
		Kind  string `path:"kind" enum:"pdf,slides,ppt"`
	}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		key := domain.ReportObjectKey(domain.JobID(input.JobID))
		if input.Kind != "pdf" {
			key = domain.SlidesObjectKey(domain.JobID(input.JobID))
		}
		body, info, err := s.objects.GetObject(ctx, "artifacts", key)
		if err != nil {
			if errors.Is(err, domain.ErrArtifactNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "artifact not found, research might still be processing", nil)
			}
			return nil, handleError(err)
		}
		defer body.Close()
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, handleError(err)
		}
		contentType := info.ContentType
		if contentType == "" {
			contentType = "application/pdf"
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        contentType,
			ContentDisposition: `attachment; filename="` + key + `"`,
			Body:               data,
		}, nil
	})
}

func (s *Server) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "retry-task",
		Method:        http.MethodPost,
		Path:          "/api/tasks/{task_id}/retry",
		Summary:       "Re-dispatch a failed task",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse
	}, error) {
		task, err := s.research.RetryTask(ctx, domain.TaskID(input.TaskID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse
		}{Body: taskResponse(task)}, nil
	})
}

func (s *Server) registerCallback(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/internal/task/{task_id}/complete",
		Summary:     "Worker completion callback",
		Hidden:      true,
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID  string `path:"task_id"`
		Token   string `header:"X-Worker-Token"`
		RawBody []byte
	}) (*struct {
		Body CallbackResponse
	}, error) {
		taskID := domain.TaskID(input.TaskID)
		if s.verifier == nil {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "worker callbacks are disabled", nil)
		}
		if err := s.verifier.Verify(taskID, input.Token); err != nil {
			s.logger.Warn("rejected worker callback", "task_id", taskID, "error", err)
			return nil, handleError(err)
		}

		res, err := s.ingestion.IngestForTask(ctx, taskID, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		status := "stored"
		if res.Duplicate {
			status = "duplicate"
		}
		return &struct {
			Body CallbackResponse
		}{Body: CallbackResponse{Status: status, TaskID: taskID}}, nil
	})
}
