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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"rootra/internal/domain"
	"rootra/internal/engine"
	"rootra/internal/qr"
	"rootra/internal/repo"
	"rootra/internal/trace"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"batch HB-TUR001 at collected: transition advance not allowed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Rootra API and starts the webhook
// dispatcher when webhooks are configured.
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
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Rootra API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerBatches(group, cfg.Engine)
	registerTransitions(group, cfg.Engine)
	registerCertificates(group, cfg.Engine)
	registerFlags(group, cfg.Engine)
	registerTrace(group, cfg.Engine)
	registerQR(group, cfg.Engine)
	registerAlerts(group, cfg.Engine)
	registerActors(group, cfg.Engine)
	registerLog(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)
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
	var roleErr *engine.RoleError
	if errors.As(err, &roleErr) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"required_role": string(roleErr.Required)})
	}
	var transErr *engine.TransitionError
	if errors.As(err, &transErr) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"stage": string(transErr.Stage)})
	}
	var malformed *qr.MalformedPayloadError
	if errors.As(err, &malformed) {
		return newAPIError(http.StatusBadRequest, "malformed_payload", err.Error(), nil)
	}
	var mismatch *qr.SchemaMismatchError
	if errors.As(err, &mismatch) {
		return newAPIError(http.StatusBadRequest, "schema_mismatch", err.Error(), map[string]any{"field": mismatch.Field})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrDuplicateBatchID):
		return newAPIError(http.StatusConflict, "duplicate_batch_id", err.Error(), nil)
	case errors.Is(err, engine.ErrBatchFlagged):
		return newAPIError(http.StatusConflict, "batch_flagged", err.Error(), nil)
	case errors.Is(err, engine.ErrAlertClosed):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidQuantity):
		return newAPIError(http.StatusBadRequest, "invalid_quantity", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidCertificate):
		return newAPIError(http.StatusBadRequest, "invalid_certificate", err.Error(), nil)
	case errors.Is(err, engine.ErrCertificateRequired):
		return newAPIError(http.StatusUnprocessableEntity, "certificate_required", err.Error(), nil)
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
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
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
    <title>Rootra API Docs</title>
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

func registerBatches(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-batch",
		Method:        http.MethodPost,
		Path:          "/batches",
		Summary:       "Create batch",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateBatchRequest `json:"body"`
	}) (*struct {
		Body BatchResponse `json:"body"`
	}, error) {
		p, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CreateBatch(ctx, p.ActorID, p.Role, engine.CreateBatchInput{
			ID:          input.Body.ID,
			HerbName:    input.Body.HerbName,
			QuantityKg:  input.Body.QuantityKg,
			FarmerID:    p.ActorID,
			FarmerPhone: input.Body.FarmerPhone,
			Origin:      input.Body.Origin,
			Photos:      input.Body.Photos,
			Organic:     input.Body.Organic,
			Notes:       input.Body.Notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchResponse `json:"body"`
		}{Body: batchResponse(e, b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-batches",
		Method:      http.MethodGet,
		Path:        "/batches",
		Summary:     "List batches",
	}, func(ctx context.Context, input *struct {
		Stage   string `query:"stage" doc:"Filter by current stage"`
		Holder  string `query:"holder" doc:"Filter by current holder"`
		Farmer  string `query:"farmer" doc:"Filter by farmer"`
		Herb    string `query:"herb" doc:"Filter by herb name"`
		Flagged string `query:"flagged" enum:",true,false"`
		Limit   int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body struct {
			Items []BatchResponse `json:"items"`
		} `json:"body"`
	}, error) {
		if _, authErr := identityFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		filter := repo.BatchFilter{
			Stage:    domain.Stage(input.Stage),
			HolderID: input.Holder,
			FarmerID: input.Farmer,
			HerbName: input.Herb,
			Limit:    input.Limit,
		}
		if input.Flagged != "" {
			flagged := input.Flagged == "true"
			filter.Flagged = &flagged
		}
		items, err := e.Repo.ListBatches(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Items []BatchResponse `json:"items"`
			} `json:"body"`
		}{}
		resp.Body.Items = make([]BatchResponse, 0, len(items))
		for _, b := range items {
			resp.Body.Items = append(resp.Body.Items, batchResponse(e, b))
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-batch",
		Method:      http.MethodGet,
		Path:        "/batches/{batch_id}",
		Summary:     "Get batch",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BatchID string `path:"batch_id"`
	}) (*struct {
		Body BatchResponse `json:"body"`
	}, error) {
		if _, authErr := identityFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		b, err := e.Repo.GetBatch(ctx, input.BatchID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchResponse `json:"body"`
		}{Body: batchResponse(e, b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-batch-events",
		Method:      http.MethodGet,
		Path:        "/batches/{batch_id}/events",
		Summary:     "Batch event log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BatchID string `path:"batch_id"`
	}) (*struct {
		Body struct {
			Items []EventResponse `json:"items"`
		} `json:"body"`
	}, error) {
		if _, authErr := identityFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetBatch(ctx, input.BatchID); err != nil {
			return nil, handleError(err)
		}
		events, err := e.Repo.ListTransactions(ctx, input.BatchID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Items []EventResponse `json:"items"`
			} `json:"body"`
		}{}
		resp.Body.Items = mapEvents(events)
		return resp, nil
	})
}

func registerTransitions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "request-transition",
		Method:      http.MethodPost,
		Path:        "/batches/{batch_id}/transitions",
		Summary:     "Request stage transition",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		BatchID string            `path:"batch_id"`
		Body    TransitionRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		p, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.RequestTransition(ctx, input.BatchID, p.ActorID, p.Role,
			domain.Transition(input.Body.Transition), engine.TransitionInput{
				Location:      input.Body.Location,
				Notes:         input.Body.Notes,
				PaymentStatus: input.Body.PaymentStatus,
			})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-payment",
		Method:      http.MethodPost,
		Path:        "/batches/{batch_id}/payments",
		Summary:     "Record payment status for a transition leg",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BatchID string `path:"batch_id"`
		Body    struct {
			Status string `json:"status" enum:"pending,paid"`
			Notes  string `json:"notes,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		p, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.MarkPayment(ctx, input.BatchID, p.ActorID, p.Role, input.Body.Status, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(ev)}, nil
	})
}

func registerCertificates(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "attach-certificate",
		Method:      http.MethodPut,
		Path:        "/batches/{batch_id}/certificate",
		Summary:     "Attach or re-issue quality certificate",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		BatchID string             `path:"batch_id"`
		Body    CertificateRequest `json:"body"`
	}) (*struct {
		Body BatchResponse `json:"body"`
	}, error) {
		p, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.AttachCertificate(ctx, input.BatchID, p.ActorID, p.Role,
			input.Body.ID, input.Body.IssuedAt, input.Body.ExpiresAt)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchResponse `json:"body"`
		}{Body: batchResponse(e, b)}, nil
	})
}

func registerFlags(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "flag-batch",
		Method:      http.MethodPost,
		Path:        "/batches/{batch_id}/flag",
		Summary:     "Flag batch for investigation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BatchID string `path:"batch_id"`
		Body    struct {
			Reason string `json:"reason"`
		} `json:"body"`
	}) (*struct {
		Body BatchResponse `json:"body"`
	}, error) {
		p, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.FlagBatch(ctx, input.BatchID, p.ActorID, p.Role, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchResponse `json:"body"`
		}{Body: batchResponse(e, b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-flag",
		Method:      http.MethodPost,
		Path:        "/batches/{batch_id}/resolve",
		Summary:     "Resolve a flagged batch",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		BatchID string `path:"batch_id"`
		Body    struct {
			Outcome string `json:"outcome" enum:"resolved,false_alarm"`
		} `json:"body"`
	}) (*struct {
		Body BatchResponse `json:"body"`
	}, error) {
		p, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.ResolveFlag(ctx, input.BatchID, p.ActorID, p.Role, input.Body.Outcome)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchResponse `json:"body"`
		}{Body: batchResponse(e, b)}, nil
	})
}

func registerTrace(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "trace-batch",
		Method:      http.MethodGet,
		Path:        "/batches/{batch_id}/trace",
		Summary:     "Consumer journey projection",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BatchID string `path:"batch_id"`
	}) (*struct {
		Body TraceResponse `json:"body"`
	}, error) {
		if _, authErr := identityFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		b, err := e.Repo.GetBatch(ctx, input.BatchID)
		if err != nil {
			return nil, handleError(err)
		}
		events, err := e.Repo.ListTransactions(ctx, input.BatchID)
		if err != nil {
			return nil, handleError(err)
		}
		var certStatus domain.CertificateStatus
		if b.Certificate != nil {
			certStatus = e.CertificateStatus(*b.Certificate)
		}
		return &struct {
			Body TraceResponse `json:"body"`
		}{Body: TraceResponse{
			BatchID: b.ID,
			Journey: trace.Project(b, events, certStatus),
		}}, nil
	})
}

func registerQR(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "batch-qr",
		Method:      http.MethodGet,
		Path:        "/batches/{batch_id}/qr",
		Summary:     "Batch QR code image",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BatchID string `path:"batch_id"`
		Size    int    `query:"size" minimum:"0" maximum:"2048" doc:"Image size in pixels"`
	}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		if _, authErr := identityFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		b, err := e.Repo.GetBatch(ctx, input.BatchID)
		if err != nil {
			return nil, handleError(err)
		}
		png, err := qr.Image(qr.FromBatch(b), qr.Options{Size: input.Size})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: "image/png", Body: png}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decode-qr",
		Method:      http.MethodPost,
		Path:        "/qr/decode",
		Summary:     "Decode a scanned QR payload",
		Description: "Returns the embedded snapshot plus the authoritative batch when it exists. The snapshot is advisory; act on the batch.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Payload string `json:"payload" doc:"Raw payload text from the scanned code"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Snapshot qr.Snapshot    `json:"snapshot"`
			Batch    *BatchResponse `json:"batch,omitempty"`
		} `json:"body"`
	}, error) {
		if _, authErr := identityFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		snap, err := qr.Decode([]byte(input.Body.Payload))
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Snapshot qr.Snapshot    `json:"snapshot"`
				Batch    *BatchResponse `json:"batch,omitempty"`
			} `json:"body"`
		}{}
		resp.Body.Snapshot = snap
		if b, err := e.Repo.GetBatch(ctx, snap.BatchID); err == nil {
			br := batchResponse(e, b)
			resp.Body.Batch = &br
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		return resp, nil
	})
}

func registerAlerts(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "raise-alert",
		Method:        http.MethodPost,
		Path:          "/alerts",
		Summary:       "Raise fraud alert",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body struct {
			BatchID     string `json:"batch_id"`
			Type        string `json:"type"`
			Description string `json:"description,omitempty"`
			Severity    string `json:"severity" enum:"low,medium,high"`
			Location    string `json:"location,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body AlertResponse `json:"body"`
	}, error) {
		p, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.RaiseAlert(ctx, input.Body.BatchID, p.ActorID,
			input.Body.Type, input.Body.Description, input.Body.Severity, input.Body.Location)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AlertResponse `json:"body"`
		}{Body: alertResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "List fraud alerts",
	}, func(ctx context.Context, input *struct {
		BatchID  string `query:"batch_id"`
		Status   string `query:"status" enum:",pending,investigating,resolved,false_alarm"`
		Severity string `query:"severity" enum:",low,medium,high"`
		Limit    int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body struct {
			Items []AlertResponse `json:"items"`
		} `json:"body"`
	}, error) {
		if _, authErr := identityFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAlerts(ctx, repo.AlertFilter{
			BatchID:  input.BatchID,
			Status:   domain.AlertStatus(input.Status),
			Severity: input.Severity,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Items []AlertResponse `json:"items"`
			} `json:"body"`
		}{}
		resp.Body.Items = make([]AlertResponse, 0, len(items))
		for _, a := range items {
			resp.Body.Items = append(resp.Body.Items, alertResponse(a))
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-alert-status",
		Method:      http.MethodPatch,
		Path:        "/alerts/{alert_id}",
		Summary:     "Advance alert lifecycle",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AlertID string `path:"alert_id"`
		Body    struct {
			Status string `json:"status" enum:"investigating,resolved,false_alarm"`
		} `json:"body"`
	}) (*struct {
		Body AlertResponse `json:"body"`
	}, error) {
		p, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SetAlertStatus(ctx, input.AlertID, p.ActorID, p.Role, domain.AlertStatus(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AlertResponse `json:"body"`
		}{Body: alertResponse(a)}, nil
	})
}

func registerActors(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Register actor",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ID    string `json:"id,omitempty"`
			Role  string `json:"role" enum:"farmer,aggregator,processor,distributor,admin,consumer"`
			Name  string `json:"name,omitempty"`
			Phone string `json:"phone,omitempty"`
			State string `json:"state,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		p, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if p.Role != domain.RoleAdmin {
			return nil, handleError(&engine.RoleError{ActorID: p.ActorID, Role: p.Role, Transition: domain.TransitionCreate, Required: domain.RoleAdmin})
		}
		a, err := e.RegisterActor(ctx, domain.Actor{
			ID:    input.Body.ID,
			Role:  domain.Role(input.Body.Role),
			Name:  input.Body.Name,
			Phone: input.Body.Phone,
			State: input.Body.State,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-actor",
		Method:      http.MethodGet,
		Path:        "/actors/{actor_id}",
		Summary:     "Get actor",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActorID string `path:"actor_id"`
	}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		if _, authErr := identityFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetActor(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(a)}, nil
	})
}

func registerLog(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "tail-log",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the global event log",
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after" minimum:"0" doc:"Return events with seq greater than this"`
		Limit int   `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body struct {
			Items      []EventResponse `json:"items"`
			NextCursor int64           `json:"next_cursor"`
		} `json:"body"`
	}, error) {
		if _, authErr := identityFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit == 0 {
			limit = 100
		}
		events, err := e.Repo.TailTransactions(ctx, input.After, limit, nil)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Items      []EventResponse `json:"items"`
				NextCursor int64           `json:"next_cursor"`
			} `json:"body"`
		}{}
		resp.Body.Items = mapEvents(events)
		resp.Body.NextCursor = input.After
		if n := len(events); n > 0 {
			resp.Body.NextCursor = events[n-1].Seq
		}
		return resp, nil
	})
}
