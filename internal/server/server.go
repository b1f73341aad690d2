package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"momentum/internal/app"
	"momentum/internal/conversation"
	"momentum/internal/domain"
	"momentum/internal/events"
	"momentum/internal/store"
	"momentum/internal/transport"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task \"Pay rent\" not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the momentum API.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, logger))
	hcfg := huma.DefaultConfig("Momentum API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := &handlers{app: cfg.App, logger: logger}
	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerDispatch(group, h)
	registerEntities(group, h)
	registerConversations(group, h)
	registerAudit(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	app    *app.App
	logger *zap.Logger
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var amb domain.AmbiguousError
	if errors.As(err, &amb) {
		candidates := make([]map[string]string, 0, len(amb.Candidates))
		for _, c := range amb.Candidates {
			candidates = append(candidates, map[string]string{"id": c.ID, "title": c.Title})
		}
		return newAPIError(http.StatusConflict, "ambiguous_reference", err.Error(), map[string]any{"candidates": candidates})
	}
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	if domain.IsNotFound(err) || errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, conversation.ErrNoPending) {
		return newAPIError(http.StatusConflict, "nothing_pending", err.Error(), nil)
	}
	var te domain.TransportError
	if errors.As(err, &te) {
		return newAPIError(http.StatusServiceUnavailable, "assistant_unavailable", err.Error(), map[string]any{"op": te.Op})
	}
	if errors.Is(err, transport.ErrNoCredentials) {
		return newAPIError(http.StatusServiceUnavailable, "assistant_unavailable", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unknown") || strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
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
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			if oas.Components != nil && oas.Components.Schemas != nil {
				oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "")
			}
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
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
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Momentum API Docs</title>
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

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{UserID: p.UserID, Tier: p.Tier, Source: p.Source}}, nil
	})
}

// caller builds the domain caller for the authenticated request.
func (h *handlers) caller(ctx context.Context) (domain.Caller, huma.StatusError) {
	p, err := principalFromRequest(ctx)
	if err != nil {
		return domain.Caller{}, err
	}
	return h.app.Caller(p.UserID, p.Tier), nil
}

type resultBody struct {
	Body ResultResponse `json:"body"`
}

func registerDispatch(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "dispatch",
		Method:      http.MethodPost,
		Path:        "/dispatch",
		Summary:     "Run one command envelope",
		Description: "Rejections are reported with success=false and a readable message, not an HTTP error.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body DispatchRequest `json:"body"`
	}) (*resultBody, error) {
		caller, err := h.caller(ctx)
		if err != nil {
			return nil, err
		}
		res := h.app.Dispatch(ctx, caller, input.Body.envelope())
		return &resultBody{Body: resultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "call",
		Method:      http.MethodPost,
		Path:        "/calls",
		Summary:     "Run an assistant-style function call",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CallRequest `json:"body"`
	}) (*resultBody, error) {
		caller, authErr := h.caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.app.DispatchCall(ctx, caller, input.Body.Name, input.Body.Arguments)
		if err != nil {
			return nil, handleError(err)
		}
		return &resultBody{Body: resultResponse(res)}, nil
	})
}

func registerEntities(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-entities",
		Method:      http.MethodGet,
		Path:        "/entities/{kind}",
		Summary:     "List or search records of one kind",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Kind             string `path:"kind" example:"tasks"`
		Query            string `query:"query"`
		Date             string `query:"date" example:"this week"`
		IncludeCompleted bool   `query:"include_completed"`
		Limit            int    `query:"limit"`
	}) (*resultBody, error) {
		caller, err := h.caller(ctx)
		if err != nil {
			return nil, err
		}
		env := domain.Envelope{Type: domain.EntityKind(input.Kind), Action: domain.ActionList, Parameters: map[string]any{}}
		if input.Query != "" {
			env.Action = domain.ActionSearch
			env.Parameters["query"] = input.Query
		}
		if input.Date != "" {
			env.Parameters["date"] = input.Date
		}
		if input.IncludeCompleted {
			env.Parameters["include_completed"] = true
		}
		if input.Limit > 0 {
			env.Parameters["limit"] = float64(input.Limit)
		}
		res := h.app.Dispatch(ctx, caller, env)
		return &resultBody{Body: resultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-entity",
		Method:      http.MethodGet,
		Path:        "/entities/{kind}/{id}",
		Summary:     "Fetch one record by id",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Kind string `path:"kind"`
		ID   string `path:"id"`
	}) (*struct {
		Body any `json:"body"`
	}, error) {
		if _, err := h.caller(ctx); err != nil {
			return nil, err
		}
		kind, ok := domain.ParseKind(strings.ToLower(input.Kind))
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown kind %q", input.Kind), nil)
		}
		item, err := getEntity(ctx, h.app.Stores, kind, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body any `json:"body"`
		}{Body: item}, nil
	})
}

func getEntity(ctx context.Context, s domain.Stores, kind domain.EntityKind, id string) (any, error) {
	switch kind {
	case domain.KindEvent:
		return get(ctx, s.Events, id)
	case domain.KindTask:
		return get(ctx, s.Tasks, id)
	case domain.KindHabit:
		return get(ctx, s.Habits, id)
	case domain.KindGoal:
		return get(ctx, s.Goals, id)
	case domain.KindMilestone:
		return get(ctx, s.Milestones, id)
	case domain.KindCategory:
		return get(ctx, s.Categories, id)
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

func get[T domain.Entity](ctx context.Context, s domain.Store[T], id string) (any, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// conversation ids are scoped per user.
func conversationKey(userID, id string) string {
	return userID + "/" + id
}

func (h *handlers) conversation(ctx context.Context, id string) (*conversation.Orchestrator, domain.Caller, error) {
	caller, authErr := h.caller(ctx)
	if authErr != nil {
		return nil, domain.Caller{}, authErr
	}
	reg, err := h.app.Conversations(ctx)
	if err != nil {
		return nil, caller, newAPIError(http.StatusServiceUnavailable, "assistant_unavailable", err.Error(), nil)
	}
	o, err := reg.Get(ctx, conversationKey(caller.UserID, id))
	if err != nil {
		return nil, caller, err
	}
	return o, caller, nil
}

func registerConversations(api huma.API, h *handlers) {
	type convPath struct {
		ID string `path:"id" example:"main"`
	}
	type pendingInput struct {
		ID        string `path:"id"`
		PendingID string `query:"pending_id" doc:"Preview to act on; the latest when empty."`
	}

	huma.Register(api, huma.Operation{
		OperationID: "send-turn",
		Method:      http.MethodPost,
		Path:        "/conversations/{id}/turns",
		Summary:     "Send a user message and wait for the assistant's turn",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body TurnRequest `json:"body"`
	}) (*struct {
		Body TurnResponse `json:"body"`
	}, error) {
		o, caller, err := h.conversation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		reply, err := o.Send(ctx, caller, input.Body.Message, nil)
		if err != nil {
			// the turn itself completed; only history persistence failed
			h.logger.Warn("turn history not saved", zap.String("conversation", o.ID), zap.Error(err))
		}
		return &struct {
			Body TurnResponse `json:"body"`
		}{Body: turnResponse(reply)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "current-turn",
		Method:      http.MethodGet,
		Path:        "/conversations/{id}/current",
		Summary:     "Partial text of the in-flight turn",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *convPath) (*struct {
		Body CurrentTurnResponse `json:"body"`
	}, error) {
		caller, authErr := h.caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp := CurrentTurnResponse{}
		if reg, err := h.app.Conversations(ctx); err == nil {
			if o, ok := reg.Lookup(conversationKey(caller.UserID, input.ID)); ok {
				resp.TurnID, resp.Text, resp.Active = o.Snapshot()
			}
		}
		return &struct {
			Body CurrentTurnResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-turn",
		Method:      http.MethodPost,
		Path:        "/conversations/{id}/cancel",
		Summary:     "Cancel the in-flight turn",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *convPath) (*struct {
		Body CancelResponse `json:"body"`
	}, error) {
		caller, authErr := h.caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp := CancelResponse{}
		if reg, err := h.app.Conversations(ctx); err == nil {
			if o, ok := reg.Lookup(conversationKey(caller.UserID, input.ID)); ok {
				resp.Cancelled = o.Cancel()
			}
		}
		return &struct {
			Body CancelResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-pending",
		Method:      http.MethodPost,
		Path:        "/conversations/{id}/confirm",
		Summary:     "Save a previewed event batch",
		Errors:      []int{http.StatusConflict, http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *pendingInput) (*resultBody, error) {
		o, caller, err := h.conversation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := o.Confirm(ctx, caller, input.PendingID)
		if errors.Is(err, conversation.ErrNoPending) {
			return nil, handleError(err)
		}
		if err != nil {
			h.logger.Warn("confirm history not saved", zap.String("conversation", o.ID), zap.Error(err))
		}
		return &resultBody{Body: resultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "discard-pending",
		Method:      http.MethodPost,
		Path:        "/conversations/{id}/discard",
		Summary:     "Drop a previewed event batch",
		Errors:      []int{http.StatusConflict, http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *pendingInput) (*resultBody, error) {
		o, _, err := h.conversation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := o.Discard(ctx, input.PendingID)
		if errors.Is(err, conversation.ErrNoPending) {
			return nil, handleError(err)
		}
		if err != nil {
			h.logger.Warn("discard history not saved", zap.String("conversation", o.ID), zap.Error(err))
		}
		return &resultBody{Body: resultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/conversations/{id}/messages",
		Summary:     "Conversation history",
		Errors:      []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *convPath) (*struct {
		Body MessagesResponse `json:"body"`
	}, error) {
		o, _, err := h.conversation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		items := o.History()
		if items == nil {
			items = []domain.Message{}
		}
		return &struct {
			Body MessagesResponse `json:"body"`
		}{Body: MessagesResponse{Items: items}}, nil
	})
}

func registerAudit(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Recent committed mutations",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []events.Record `json:"body"`
	}, error) {
		if _, err := h.caller(ctx); err != nil {
			return nil, err
		}
		if h.app.DB == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "the audit log needs the sqlite backend", nil)
		}
		recs, err := events.Tail(ctx, h.app.DB, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if recs == nil {
			recs = []events.Record{}
		}
		return &struct {
			Body []events.Record `json:"body"`
		}{Body: recs}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
