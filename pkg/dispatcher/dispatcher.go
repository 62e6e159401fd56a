package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/component-runtime/pkg/catalog"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher routes COMMS requests to catalog methods.
type Dispatcher struct {
	catalog *catalog.Catalog
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(cat *catalog.Catalog) *Dispatcher {
	return &Dispatcher{catalog: cat}
}

// Dispatch routes a request to the appropriate catalog method and returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *CatalogRequest) *CatalogResponse {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.ID))

	switch req.Method {
	case MethodRegister:
		return d.handleRegister(ctx, req)
	case MethodUnregister:
		return d.handleUnregister(ctx, req)
	case MethodUnregisterProcess:
		return d.handleUnregisterProcess(ctx, req)
	case MethodResolve:
		return d.handleResolve(ctx, req)
	case MethodList:
		return d.handleList(ctx, req)
	case MethodSetStatus:
		return d.handleSetStatus(ctx, req)
	case MethodHealth:
		return &CatalogResponse{ID: req.ID, Ok: true, Result: d.catalog.Health(ctx)}
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method), false)
	}
}

func (d *Dispatcher) handleRegister(ctx context.Context, req *CatalogRequest) *CatalogResponse {
	var input catalog.RegisterInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, catalog.CodeInvalidArgument, "Failed to parse register params", false)
	}
	if input.Process == "" && req.Ctx != nil {
		input.Process = req.Ctx.Process
	}

	result, err := d.catalog.Register(ctx, &input)
	if err != nil {
		return catalogErrorToResponse(req.ID, err)
	}
	return &CatalogResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleUnregister(ctx context.Context, req *CatalogRequest) *CatalogResponse {
	var key catalog.Key
	if err := json.Unmarshal(req.Params, &key); err != nil {
		return errorResponse(req.ID, catalog.CodeInvalidArgument, "Failed to parse unregister params", false)
	}

	if err := d.catalog.Unregister(ctx, key); err != nil {
		return catalogErrorToResponse(req.ID, err)
	}
	return &CatalogResponse{ID: req.ID, Ok: true}
}

// handleUnregisterProcess refuses an empty process so that a remote caller
// never removes the serving process's own endpoints by accident.
func (d *Dispatcher) handleUnregisterProcess(ctx context.Context, req *CatalogRequest) *CatalogResponse {
	var input UnregisterProcessParams
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, catalog.CodeInvalidArgument, "Failed to parse unregisterProcess params", false)
	}
	if input.Process == "" && req.Ctx != nil {
		input.Process = req.Ctx.Process
	}
	if input.Process == "" {
		return errorResponse(req.ID, catalog.CodeInvalidArgument, "process is required", false)
	}

	n, err := d.catalog.UnregisterProcess(ctx, input.Process)
	if err != nil {
		return catalogErrorToResponse(req.ID, err)
	}
	return &CatalogResponse{ID: req.ID, Ok: true, Result: UnregisterProcessResult{Removed: n}}
}

func (d *Dispatcher) handleResolve(ctx context.Context, req *CatalogRequest) *CatalogResponse {
	var input catalog.ResolveInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, catalog.CodeInvalidArgument, "Failed to parse resolve params", false)
	}

	result, err := d.catalog.Resolve(ctx, &input)
	if err != nil {
		return catalogErrorToResponse(req.ID, err)
	}
	return &CatalogResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleList(ctx context.Context, req *CatalogRequest) *CatalogResponse {
	var input catalog.ListInput
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &input); err != nil {
			return errorResponse(req.ID, catalog.CodeInvalidArgument, "Failed to parse list params", false)
		}
	}

	result, err := d.catalog.List(ctx, &input)
	if err != nil {
		return catalogErrorToResponse(req.ID, err)
	}
	if result == nil {
		result = []catalog.Endpoint{}
	}
	return &CatalogResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleSetStatus(ctx context.Context, req *CatalogRequest) *CatalogResponse {
	var input SetStatusParams
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, catalog.CodeInvalidArgument, "Failed to parse setStatus params", false)
	}

	result, err := d.catalog.SetStatus(ctx, input.ID, input.Status, input.Healthy)
	if err != nil {
		return catalogErrorToResponse(req.ID, err)
	}
	return &CatalogResponse{ID: req.ID, Ok: true, Result: result}
}

// Serve subscribes the dispatcher on subject. Each request gets its own
// context bounded by timeout, or by the caller's shorter TimeoutMs.
func (d *Dispatcher) Serve(ctx context.Context, nc *comms.Conn, subject string, timeout time.Duration) (*comms.Subscription, error) {
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var req CatalogRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
			respond(msg, errorResponse("", CodeInvalidRequest, "Failed to decode request", false))
			return
		}

		limit := timeout
		if req.Ctx != nil && req.Ctx.TimeoutMs > 0 {
			if t := time.Duration(req.Ctx.TimeoutMs) * time.Millisecond; t < limit {
				limit = t
			}
		}
		reqCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		respond(msg, d.Dispatch(reqCtx, &req))
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Serving catalog on %s", logPrefix, subject))
	return sub, nil
}

func respond(msg *comms.Msg, resp *CatalogResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn(fmt.Sprintf("%s - respond: %v", logPrefix, err))
	}
}

// --- helpers ---

func errorResponse(id, code, message string, retryable bool) *CatalogResponse {
	return &CatalogResponse{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}

func catalogErrorToResponse(id string, err error) *CatalogResponse {
	var catErr *catalog.CatalogError
	if errors.As(err, &catErr) {
		return errorResponse(id, catErr.Code, catErr.Message, catErr.Code == catalog.CodeInternal)
	}
	return errorResponse(id, catalog.CodeInternal, err.Error(), true)
}
