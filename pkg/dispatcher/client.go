package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/component-runtime/pkg/catalog"
)

const clientLogPrefix = "dispatcher:client"

// RemoteCatalog talks to a catalog served by Dispatcher.Serve. Its methods
// mirror *catalog.Catalog and return *catalog.CatalogError for failures
// reported by the serving side.
type RemoteCatalog struct {
	nc      *comms.Conn
	subject string
	timeout time.Duration
	process string
}

// NewRemoteCatalog creates a client for the catalog on subject. Endpoints it
// registers are tagged with a fresh process id.
func NewRemoteCatalog(nc *comms.Conn, subject string, timeout time.Duration) *RemoteCatalog {
	return &RemoteCatalog{nc: nc, subject: subject, timeout: timeout, process: uuid.NewString()}
}

// Process returns the process id sent with registrations.
func (c *RemoteCatalog) Process() string { return c.process }

func (c *RemoteCatalog) call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%s - encode %s params: %w", clientLogPrefix, method, err)
	}
	req := CatalogRequest{
		ID:     uuid.NewString(),
		Method: method,
		Params: raw,
		Ctx:    &InvocationContext{Process: c.process, TimeoutMs: int(c.timeout / time.Millisecond)},
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%s - encode %s request: %w", clientLogPrefix, method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	msg, err := c.nc.RequestWithContext(ctx, c.subject, data)
	if err != nil {
		return catalog.NewCatalogError(catalog.CodeInternal, fmt.Sprintf("%s %s: %v", c.subject, method, err))
	}

	resp := CatalogResponse{Result: result}
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return fmt.Errorf("%s - decode %s response: %w", clientLogPrefix, method, err)
	}
	if !resp.Ok {
		if resp.Error == nil {
			return catalog.NewCatalogError(catalog.CodeInternal, method+" failed")
		}
		return catalog.NewCatalogError(resp.Error.Code, resp.Error.Message)
	}
	return nil
}

func (c *RemoteCatalog) Register(ctx context.Context, input *catalog.RegisterInput) (*catalog.Endpoint, error) {
	in := *input
	if in.Process == "" {
		in.Process = c.process
	}
	var out catalog.Endpoint
	if err := c.call(ctx, MethodRegister, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RemoteCatalog) Unregister(ctx context.Context, key catalog.Key) error {
	return c.call(ctx, MethodUnregister, key, nil)
}

// UnregisterProcess removes the endpoints registered by process, or by this
// client when empty.
func (c *RemoteCatalog) UnregisterProcess(ctx context.Context, process string) (int, error) {
	if process == "" {
		process = c.process
	}
	var out UnregisterProcessResult
	if err := c.call(ctx, MethodUnregisterProcess, UnregisterProcessParams{Process: process}, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

func (c *RemoteCatalog) Resolve(ctx context.Context, input *catalog.ResolveInput) (*catalog.Endpoint, error) {
	var out catalog.Endpoint
	if err := c.call(ctx, MethodResolve, input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RemoteCatalog) List(ctx context.Context, input *catalog.ListInput) ([]catalog.Endpoint, error) {
	var out []catalog.Endpoint
	if err := c.call(ctx, MethodList, input, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RemoteCatalog) SetStatus(ctx context.Context, id, status string, healthy bool) (*catalog.Endpoint, error) {
	var out catalog.Endpoint
	if err := c.call(ctx, MethodSetStatus, SetStatusParams{ID: id, Status: status, Healthy: healthy}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health asks the serving process for its catalog health. An unreachable
// catalog reports unhealthy with a failed store check.
func (c *RemoteCatalog) Health(ctx context.Context) *catalog.HealthOutput {
	var out catalog.HealthOutput
	if err := c.call(ctx, MethodHealth, struct{}{}, &out); err != nil {
		return &catalog.HealthOutput{Status: "unhealthy", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	}
	return &out
}
