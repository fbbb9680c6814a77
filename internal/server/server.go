// Package server exposes the marketplace over HTTP for dashboards and
// automation. It is a thin authenticated facade over the engine; relays stay
// the source of truth.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"unstuck/internal/engine"
	"unstuck/internal/relay"
	"unstuck/internal/session"
	"unstuck/internal/wallet"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Session  *session.Session
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"relay_unavailable"`
	Message string         `json:"message" example:"no relay accepted the connection"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Unstuck API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Unstuck API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTasks(group, cfg)
	registerBids(group, cfg)
	registerWork(group, cfg)
	registerProfiles(group, cfg)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ce relay.ConnectionError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusBadGateway, "relay_unavailable", err.Error(), nil)
	}
	var pe relay.PublishError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadGateway, "publish_failed", err.Error(), map[string]any{"event_id": pe.EventID})
	}
	var we wallet.ProviderError
	if errors.As(err, &we) {
		return newAPIError(http.StatusBadGateway, "wallet_unavailable", err.Error(), map[string]any{"op": we.Op})
	}
	if errors.Is(err, engine.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, session.ErrNotLoggedIn) {
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadGateway:
		return "relay_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func connect(ctx context.Context, cfg Config) huma.StatusError {
	if cfg.Session == nil {
		return nil
	}
	if err := cfg.Session.EnsureConnected(ctx); err != nil {
		return handleError(err)
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Unstuck API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Mutations require Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
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

func registerTasks(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List task aggregates",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AggregateResponse `json:"body"`
	}, error) {
		if err := connect(ctx, cfg); err != nil {
			return nil, err
		}
		items, err := cfg.Engine.Load(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AggregateResponse `json:"body"`
		}{Body: mapAggregates(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get one task aggregate",
		Errors:      []int{http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body AggregateResponse `json:"body"`
	}, error) {
		if err := connect(ctx, cfg); err != nil {
			return nil, err
		}
		agg, err := cfg.Engine.LoadOne(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AggregateResponse `json:"body"`
		}{Body: aggregateResponse(agg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Post a task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body PostTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := pubkeyFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := connect(ctx, cfg); err != nil {
			return nil, err
		}
		opts := engine.TaskPostOptions{Title: input.Body.Title}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.Image != nil {
			opts.Image = *input.Body.Image
		}
		if input.Body.MaxPrice != nil {
			opts.MaxPrice = *input.Body.MaxPrice
		}
		task, err := cfg.Engine.PostTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(task)}, nil
	})
}

func registerBids(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "place-bid",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/bids",
		Summary:       "Place a bid on a task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   PlaceBidRequest `json:"body"`
	}) (*struct {
		Body BidResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := pubkeyFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := connect(ctx, cfg); err != nil {
			return nil, err
		}
		agg, err := cfg.Engine.LoadOne(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.BidOptions{
			TaskID:     input.TaskID,
			TaskAuthor: agg.Task.Author(),
			Amount:     input.Body.Amount,
		}
		if input.Body.Invoice != nil {
			opts.Invoice = *input.Body.Invoice
		}
		bid, err := cfg.Engine.PlaceBid(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResponse `json:"body"`
		}{Body: bidResponse(bid)}, nil
	})
}

func registerWork(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-work",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/work",
		Summary:       "Submit work for a task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   SubmitWorkRequest `json:"body"`
	}) (*struct {
		Body WorkResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := pubkeyFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := connect(ctx, cfg); err != nil {
			return nil, err
		}
		agg, err := cfg.Engine.LoadOne(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.WorkOptions{
			TaskID:     input.TaskID,
			TaskAuthor: agg.Task.Author(),
			Content:    input.Body.Content,
		}
		if input.Body.Format != nil {
			opts.Format = *input.Body.Format
		}
		work, err := cfg.Engine.SubmitWork(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkResponse `json:"body"`
		}{Body: workResponse(work)}, nil
	})
}

func registerProfiles(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/profiles/{pubkey}",
		Summary:     "Get a pubkey's profile",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		PubKey string `path:"pubkey"`
	}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		if err := connect(ctx, cfg); err != nil {
			return nil, err
		}
		p, err := cfg.Session.Profile(ctx, input.PubKey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: profileResponse(p)}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		pubkey := strings.TrimSpace(input.Body.PubKey)
		if pubkey == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "pubkey is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, pubkey)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
