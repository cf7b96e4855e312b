// Package server exposes the HTTP API: the payment-gated job protocol,
// the chat and user surfaces, transaction planning, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"yieldpilot/internal/app"
	"yieldpilot/internal/domain"
	"yieldpilot/internal/jobs"
	"yieldpilot/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig

	// Now is replaceable in tests.
	Now func() time.Time
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_job_state"`
	Message string         `json:"message" example:"job is in a terminal state"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the YieldPilot API.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("server: app is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newMetricsMiddleware(cfg.App))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))

	hcfg := huma.DefaultConfig("YieldPilot API", cfg.App.Config.Service.Version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAvailability(group, cfg)
	registerInputSchema(group, cfg)
	registerJobs(group, cfg)
	registerEvents(group, cfg)
	registerChat(group, cfg)
	registerUsers(group, cfg)
	registerTransactions(group, cfg)
	registerOpenAPI(router, api, basePath)

	router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(cfg.App.Metrics.Registry, promhttp.HandlerOpts{}))

	startWebhookDispatcher(cfg.App)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain sentinels onto the error envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, jobs.ErrInvalidJobState):
		return newAPIError(http.StatusBadRequest, "invalid_job_state", err.Error(), nil)
	case errors.Is(err, jobs.ErrInvalidAgentType):
		return newAPIError(http.StatusBadRequest, "invalid_agent_type", err.Error(), nil)
	case errors.Is(err, jobs.ErrAgentUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "agent_unavailable", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "agent_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func newMetricsMiddleware(a *app.App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, req)
			a.Metrics.HTTPRequests.WithLabelValues(req.Method, fmt.Sprintf("%dxx", rec.status/100)).Inc()
		})
	}
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

func registerAvailability(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "availability",
		Method:      http.MethodGet,
		Path:        "/availability",
		Summary:     "Agent availability and service terms",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AvailabilityResponse `json:"body"`
	}, error) {
		agentInfo := cfg.App.Registry.Availability()
		available := false
		for _, info := range agentInfo {
			if info.Available {
				available = true
				break
			}
		}
		return &struct {
			Body AvailabilityResponse `json:"body"`
		}{Body: AvailabilityResponse{
			Available: available,
			Agents:    agentInfo,
			Timestamp: cfg.Now().UTC().Format(time.RFC3339),
			Version:   cfg.App.Config.Service.Version,
		}}, nil
	})
}

func registerInputSchema(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "input-schema",
		Method:      http.MethodGet,
		Path:        "/input_schema",
		Summary:     "Input schema for an agent type",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		AgentType string `query:"agent_type"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if !domain.ValidAgentType(input.AgentType) {
			return nil, newAPIError(http.StatusBadRequest, "invalid_agent_type",
				fmt.Sprintf("unknown agent type %q", input.AgentType), nil)
		}
		agent, ok := cfg.App.Registry.Get(domain.AgentType(input.AgentType))
		if !ok {
			return nil, handleError(fmt.Errorf("%w: %s", jobs.ErrAgentUnavailable, input.AgentType))
		}
		schema := agent.InputSchema()
		data, _ := json.Marshal(schema)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})
}

func registerJobs(api huma.API, cfg Config) {
	orch := cfg.App.Orchestrator

	huma.Register(api, huma.Operation{
		OperationID: "start-job",
		Method:      http.MethodPost,
		Path:        "/start_job",
		Summary:     "Start a payment-gated job",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body StartJobRequest `json:"body"`
	}) (*struct {
		Body StartJobResponse `json:"body"`
	}, error) {
		if input.Body.AgentType == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "agent_type is required", nil)
		}
		job, payReq, err := orch.StartJob(ctx, input.Body.AgentType, input.Body.InputData, input.Body.IdentifierFromPurchaser)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StartJobResponse `json:"body"`
		}{Body: StartJobResponse{
			JobID:          job.JobID,
			Status:         job.Status,
			PaymentRequest: payReq,
			CreatedAt:      job.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Job status projection",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `query:"job_id"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		job, err := orch.GetStatus(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "provide-input",
		Method:      http.MethodPost,
		Path:        "/provide_input",
		Summary:     "Merge additional input into a pending job",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body ProvideInputRequest `json:"body"`
	}) (*struct {
		Body ProvideInputResponse `json:"body"`
	}, error) {
		if input.Body.JobID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "job_id is required", nil)
		}
		job, err := orch.ProvideInput(ctx, input.Body.JobID, input.Body.AdditionalInput)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProvideInputResponse `json:"body"`
		}{Body: ProvideInputResponse{
			JobID:     job.JobID,
			Status:    job.Status,
			UpdatedAt: job.UpdatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodDelete,
		Path:        "/jobs/{job_id}",
		Summary:     "Cancel a non-terminal job",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		job, err := orch.Cancel(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List all jobs",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []JobSummary `json:"body"`
	}, error) {
		return &struct {
			Body []JobSummary `json:"body"`
		}{Body: jobSummaries(orch.List(ctx))}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Job lifecycle event log",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		AfterID int64 `query:"after_id"`
		Limit   int   `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := cfg.App.Repo.ListEvents(ctx, input.AfterID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: domainEvents(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-job-events",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/events",
		Summary:     "Events for one job",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := cfg.App.Repo.ListJobEvents(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: domainEvents(items)}, nil
	})
}

func domainEvents(items []repo.Event) []domain.Event {
	out := make([]domain.Event, 0, len(items))
	for _, e := range items {
		out = append(out, domain.Event{
			ID:        e.ID,
			TS:        e.TS,
			Type:      e.Type,
			JobID:     e.JobID,
			AgentType: e.AgentType,
			Payload:   e.Payload,
		})
	}
	return out
}

func registerChat(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "chat-message",
		Method:      http.MethodPost,
		Path:        "/chat/message",
		Summary:     "Send a chat message",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body ChatMessageRequest `json:"body"`
	}) (*struct {
		Body ChatMessageResponse `json:"body"`
	}, error) {
		if input.Body.ConversationID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "conversation_id is required", nil)
		}
		if strings.TrimSpace(input.Body.Message) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "message is required", nil)
		}
		conv, err := cfg.App.Repo.GetConversation(ctx, input.Body.ConversationID)
		if err != nil {
			return nil, handleError(err)
		}
		if p, ok := principalFromContext(ctx); ok && p.UserID != conv.UserID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "conversation belongs to another user", nil)
		}
		reply, err := cfg.App.Chat.ProcessMessage(ctx, conv.ID, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChatMessageResponse `json:"body"`
		}{Body: ChatMessageResponse{ConversationID: conv.ID, Reply: reply}}, nil
	})
}

func registerUsers(api huma.API, cfg Config) {
	r := cfg.App.Repo

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if !strings.Contains(input.Body.Email, "@") {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "valid email is required", nil)
		}
		u := repo.User{
			ID:          uuid.NewString(),
			Email:       input.Body.Email,
			DisplayName: input.Body.DisplayName,
			CreatedAt:   cfg.Now().UTC().Format(time.RFC3339),
		}
		if err := r.CreateUser(ctx, u); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "unique") {
				return nil, newAPIError(http.StatusConflict, "conflict", "email already registered", nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{id}",
		Summary:     "Get user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		u, err := r.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-user-conversations",
		Method:      http.MethodGet,
		Path:        "/users/{id}/conversations",
		Summary:     "List a user's conversations",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []ConversationResponse `json:"body"`
	}, error) {
		items, err := r.ListConversations(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ConversationResponse, 0, len(items))
		for _, c := range items {
			out = append(out, conversationResponse(c))
		}
		return &struct {
			Body []ConversationResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-conversation",
		Method:        http.MethodPost,
		Path:          "/conversations",
		Summary:       "Create conversation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateConversationRequest `json:"body"`
	}) (*struct {
		Body ConversationResponse `json:"body"`
	}, error) {
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		if _, err := r.GetUser(ctx, input.Body.UserID); err != nil {
			return nil, handleError(err)
		}
		now := cfg.Now().UTC().Format(time.RFC3339)
		c := repo.Conversation{
			ID:        uuid.NewString(),
			UserID:    input.Body.UserID,
			Title:     input.Body.Title,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.CreateConversation(ctx, c); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConversationResponse `json:"body"`
		}{Body: conversationResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-conversation",
		Method:      http.MethodGet,
		Path:        "/conversations/{id}",
		Summary:     "Get conversation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ConversationResponse `json:"body"`
	}, error) {
		c, err := r.GetConversation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConversationResponse `json:"body"`
		}{Body: conversationResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-conversation",
		Method:      http.MethodDelete,
		Path:        "/conversations/{id}",
		Summary:     "Delete conversation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := r.DeleteConversation(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/conversations/{id}/messages",
		Summary:     "List conversation messages",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"100"`
	}) (*struct {
		Body []MessageResponse `json:"body"`
	}, error) {
		if _, err := r.GetConversation(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := r.ListMessages(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MessageResponse `json:"body"`
		}{Body: messageResponses(items)}, nil
	})
}

func registerTransactions(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "plan-transaction",
		Method:      http.MethodPost,
		Path:        "/transactions/plan",
		Summary:     "Plan an unsigned transaction stub",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body PlanTransactionRequest `json:"body"`
	}) (*struct {
		Body PlanTransactionResponse `json:"body"`
	}, error) {
		b := cfg.App.TxBuilder
		req := input.Body
		var tx domain.UnsignedTx
		switch req.Type {
		case "transfer":
			tx = b.Transfer(req.FromAddress, req.ToAddress, req.AmountLovelace)
		case "dex_swap":
			tx = b.Swap(req.Protocol, req.PoolID, req.FromToken, req.ToToken, req.AmountIn, req.MinAmountOut, req.UserAddress)
		case "add_liquidity":
			tx = b.AddLiquidity(req.Protocol, req.PoolID, req.TokenA, req.TokenB, req.AmountA, req.AmountB, req.UserAddress)
		case "remove_liquidity":
			tx = b.RemoveLiquidity(req.Protocol, req.PoolID, req.LPTokenAmount, req.UserAddress)
		case "lending_supply":
			tx = b.LendingSupply(req.Protocol, req.Asset, req.Amount, req.UserAddress)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request",
				fmt.Sprintf("unknown transaction type %q", req.Type), nil)
		}
		return &struct {
			Body PlanTransactionResponse `json:"body"`
		}{Body: PlanTransactionResponse{
			Transaction:          tx,
			EstimatedFeeLovelace: b.EstimateFees(tx),
		}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, req *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>YieldPilot API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}
