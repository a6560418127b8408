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
	"github.com/rs/cors"

	"kintsugi/internal/engine"
	"kintsugi/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_claimed"`
	Message string         `json:"message" example:"assignment already claimed by another operative"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"claimed\"}"`
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

// New returns an HTTP handler exposing the Kintsugi API.
func New(cfg Config) (http.Handler, error) {
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
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Api-Key"},
		AllowCredentials: false,
	}).Handler)
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Kintsugi API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Engine)
	registerWorkshop(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerTodos(group, cfg.Engine)
	registerJournal(group, cfg.Engine)
	registerFocus(group, cfg.Engine)
	registerMessages(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	if cfg.Auth.DevAuth {
		registerDevAuth(group, cfg.Auth)
	}
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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrAlreadyClaimed) {
		return newAPIError(http.StatusConflict, "already_claimed", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrNotOwner) {
		return newAPIError(http.StatusForbidden, "not_owner", err.Error(), nil)
	}
	var ise engine.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_state", err.Error(), map[string]any{"status": ise.Status})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "not_owner"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "already_claimed"
	case http.StatusUnprocessableEntity:
		return "invalid_state"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Kintsugi API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}

func registerWorkshop(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "activate-workshop",
		Method:      http.MethodPost,
		Path:        "/me/workshop/activate",
		Summary:     "Switch to private mode",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		updated, err := e.ActivateWorkshop(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-workshop",
		Method:      http.MethodPost,
		Path:        "/me/workshop/deactivate",
		Summary:     "Return to public mode",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		updated, err := e.DeactivateWorkshop(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(updated)}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments",
		Summary:     "List visible assignments",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AssignmentResponse `json:"body"`
	}, error) {
		empty := &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: []AssignmentResponse{}}
		p, ok := principalFromContext(ctx)
		if !ok || p.TokenIdentifier == "" {
			return empty, nil
		}
		u, err := e.GetOrCreateUser(ctx, p.TokenIdentifier, p.Name, p.Email)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.VisibleAssignments(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: mapAssignments(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-claimed-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments/claimed",
		Summary:     "List assignments claimed by the caller",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AssignmentResponse `json:"body"`
	}, error) {
		empty := &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: []AssignmentResponse{}}
		p, ok := principalFromContext(ctx)
		if !ok || p.TokenIdentifier == "" {
			return empty, nil
		}
		u, err := e.GetOrCreateUser(ctx, p.TokenIdentifier, p.Name, p.Email)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ClaimedAssignments(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: mapAssignments(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-located-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments/located",
		Summary:     "List assignments with coordinates for the map view",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AssignmentResponse `json:"body"`
	}, error) {
		empty := &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: []AssignmentResponse{}}
		if p, ok := principalFromContext(ctx); !ok || p.TokenIdentifier == "" {
			return empty, nil
		}
		items, err := e.LocatedAssignments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: mapAssignments(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-assignment",
		Method:      http.MethodGet,
		Path:        "/assignments/{id}",
		Summary:     "Get assignment",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AssignmentResponse `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx, e); authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetAssignment(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentResponse `json:"body"`
		}{Body: assignmentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-assignment",
		Method:        http.MethodPost,
		Path:          "/assignments",
		Summary:       "Create assignment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAssignmentRequest `json:"body"`
	}) (*struct {
		Body AssignmentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAssignment(ctx, createAssignmentOptions(input.Body, u.ID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentResponse `json:"body"`
		}{Body: assignmentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "seed-assignments",
		Method:      http.MethodPost,
		Path:        "/assignments/seed",
		Summary:     "Load the starter assignment set",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SeedResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.SeedAssignments(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SeedResponse `json:"body"`
		}{Body: SeedResponse{Seeded: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-assignment",
		Method:      http.MethodPost,
		Path:        "/assignments/{id}/claim",
		Summary:     "Claim an assignment",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AssignmentResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.ClaimAssignment(ctx, input.ID, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentResponse `json:"body"`
		}{Body: assignmentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unclaim-assignment",
		Method:      http.MethodPost,
		Path:        "/assignments/{id}/unclaim",
		Summary:     "Release a claimed assignment",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AssignmentResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UnclaimAssignment(ctx, input.ID, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentResponse `json:"body"`
		}{Body: assignmentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-assignment",
		Method:      http.MethodPost,
		Path:        "/assignments/{id}/complete",
		Summary:     "Complete a claimed assignment",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body CompletionResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		a, reward, err := e.CompleteAssignment(ctx, input.ID, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletionResponse `json:"body"`
		}{Body: CompletionResponse{
			Assignment:     assignmentResponse(a),
			ReputationGain: reward,
		}}, nil
	})
}

func registerTodos(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-todos",
		Method:      http.MethodGet,
		Path:        "/todos",
		Summary:     "List todos",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TodoResponse `json:"body"`
	}, error) {
		empty := &struct {
			Body []TodoResponse `json:"body"`
		}{Body: []TodoResponse{}}
		p, ok := principalFromContext(ctx)
		if !ok || p.TokenIdentifier == "" {
			return empty, nil
		}
		u, err := e.GetOrCreateUser(ctx, p.TokenIdentifier, p.Name, p.Email)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTodos(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TodoResponse `json:"body"`
		}{Body: mapTodos(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-todo",
		Method:        http.MethodPost,
		Path:          "/todos",
		Summary:       "Create todo",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTodoRequest `json:"body"`
	}) (*struct {
		Body TodoResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTodo(ctx, u.ID, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TodoResponse `json:"body"`
		}{Body: todoResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-todo",
		Method:      http.MethodPost,
		Path:        "/todos/{id}/toggle",
		Summary:     "Toggle todo completion",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TodoResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ToggleTodo(ctx, input.ID, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TodoResponse `json:"body"`
		}{Body: todoResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-todo",
		Method:      http.MethodDelete,
		Path:        "/todos/{id}",
		Summary:     "Delete todo",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTodo(ctx, input.ID, u.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerJournal(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-journal-entries",
		Method:      http.MethodGet,
		Path:        "/journal",
		Summary:     "List journal entries",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []JournalEntryResponse `json:"body"`
	}, error) {
		empty := &struct {
			Body []JournalEntryResponse `json:"body"`
		}{Body: []JournalEntryResponse{}}
		p, ok := principalFromContext(ctx)
		if !ok || p.TokenIdentifier == "" {
			return empty, nil
		}
		u, err := e.GetOrCreateUser(ctx, p.TokenIdentifier, p.Name, p.Email)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListJournalEntries(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []JournalEntryResponse `json:"body"`
		}{Body: mapJournalEntries(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-journal-entry",
		Method:        http.MethodPost,
		Path:          "/journal",
		Summary:       "Create journal entry",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateJournalEntryRequest `json:"body"`
	}) (*struct {
		Body CreateJournalEntryResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CreateJournalEntry(ctx, u.ID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateJournalEntryResponse `json:"body"`
		}{Body: CreateJournalEntryResponse{
			Entry:             journalEntryResponse(res.Entry),
			WorkshopActivated: res.Activated,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-journal-entry",
		Method:      http.MethodDelete,
		Path:        "/journal/{id}",
		Summary:     "Delete journal entry",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteJournalEntry(ctx, input.ID, u.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerFocus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-focus-sessions",
		Method:      http.MethodGet,
		Path:        "/focus",
		Summary:     "List focus sessions with total",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body FocusSummaryResponse `json:"body"`
	}, error) {
		empty := &struct {
			Body FocusSummaryResponse `json:"body"`
		}{Body: FocusSummaryResponse{Sessions: []FocusSessionResponse{}}}
		p, ok := principalFromContext(ctx)
		if !ok || p.TokenIdentifier == "" {
			return empty, nil
		}
		u, err := e.GetOrCreateUser(ctx, p.TokenIdentifier, p.Name, p.Email)
		if err != nil {
			return nil, handleError(err)
		}
		sessions, err := e.Repo.ListFocusSessions(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		total, err := e.Repo.TotalFocusSeconds(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := FocusSummaryResponse{Sessions: []FocusSessionResponse{}, TotalSeconds: total}
		for _, s := range sessions {
			resp.Sessions = append(resp.Sessions, focusSessionResponse(s))
		}
		return &struct {
			Body FocusSummaryResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-focus-session",
		Method:        http.MethodPost,
		Path:          "/focus",
		Summary:       "Record a completed focus session",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body RecordFocusSessionRequest `json:"body"`
	}) (*struct {
		Body FocusSessionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.RecordFocusSession(ctx, u.ID, input.Body.DurationSeconds)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FocusSessionResponse `json:"body"`
		}{Body: focusSessionResponse(s)}, nil
	})
}

func registerMessages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-channels",
		Method:      http.MethodGet,
		Path:        "/channels",
		Summary:     "List channels the caller has posted to",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ChannelListResponse `json:"body"`
	}, error) {
		empty := &struct {
			Body ChannelListResponse `json:"body"`
		}{Body: ChannelListResponse{Channels: []string{}}}
		p, ok := principalFromContext(ctx)
		if !ok || p.TokenIdentifier == "" {
			return empty, nil
		}
		u, err := e.GetOrCreateUser(ctx, p.TokenIdentifier, p.Name, p.Email)
		if err != nil {
			return nil, handleError(err)
		}
		channels, err := e.Repo.ListChannels(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChannelListResponse `json:"body"`
		}{Body: ChannelListResponse{Channels: nonNilSlice(channels)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "channel-history",
		Method:      http.MethodGet,
		Path:        "/channels/{channel}/messages",
		Summary:     "Channel history, oldest first",
	}, func(ctx context.Context, input *struct {
		Channel string `path:"channel"`
	}) (*struct {
		Body []MessageResponse `json:"body"`
	}, error) {
		empty := &struct {
			Body []MessageResponse `json:"body"`
		}{Body: []MessageResponse{}}
		if p, ok := principalFromContext(ctx); !ok || p.TokenIdentifier == "" {
			return empty, nil
		}
		items, err := e.Repo.ListChannelMessages(ctx, input.Channel)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MessageResponse `json:"body"`
		}{Body: mapMessages(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "send-message",
		Method:        http.MethodPost,
		Path:          "/channels/{channel}/messages",
		Summary:       "Send a message to a channel",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Channel string             `path:"channel"`
		Body    SendMessageRequest `json:"body"`
	}) (*struct {
		Body MessageResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, authErr := userFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SendMessage(ctx, u.ID, input.Channel, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MessageResponse `json:"body"`
		}{Body: messageResponse(m)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events, newest first",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx, e); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		if limit > 200 {
			limit = 200
		}
		items, err := e.Repo.ListEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			resp = append(resp, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: resp}, nil
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
		subject := strings.TrimSpace(input.Body.TokenIdentifier)
		if subject == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "token_identifier is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, subject, input.Body.Name, input.Body.Email)
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
