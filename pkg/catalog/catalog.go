package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/component-runtime/pkg/events"
	"github.com/morezero/component-runtime/pkg/semver"
)

const logPrefix = "catalog:catalog"

// Catalog is the endpoint catalog service.
type Catalog struct {
	store     Store
	publisher events.EventPublisher
	process   string
}

// NewCatalogParams holds parameters for NewCatalog.
type NewCatalogParams struct {
	// Store defaults to a MemoryStore.
	Store     Store
	Publisher events.EventPublisher
	// Process tags every endpoint this catalog registers; a fresh id is
	// generated when empty.
	Process string
}

// NewCatalog creates a new Catalog instance.
func NewCatalog(params NewCatalogParams) *Catalog {
	store := params.Store
	if store == nil {
		store = NewMemoryStore()
	}
	pub := params.Publisher
	if pub == nil {
		pub = events.NoOpPublisher{}
	}
	process := params.Process
	if process == "" {
		process = uuid.NewString()
	}
	return &Catalog{store: store, publisher: pub, process: process}
}

// Process returns the process id stamped on registered endpoints.
func (c *Catalog) Process() string {
	return c.process
}

func validateKey(key Key) *CatalogError {
	if !semver.ValidateName(key.Component) {
		return NewCatalogError(CodeInvalidArgument, fmt.Sprintf("invalid component name %q", key.Component))
	}
	if !semver.ValidateName(key.Interface) {
		return NewCatalogError(CodeInvalidArgument, fmt.Sprintf("invalid interface name %q", key.Interface))
	}
	if key.Transport != TransportUDP && key.Transport != TransportNATS {
		return NewCatalogError(CodeInvalidArgument, fmt.Sprintf("unknown transport %q", key.Transport))
	}
	if key.Address == "" {
		return NewCatalogError(CodeInvalidArgument, "address is required")
	}
	return nil
}

// Register records an exposed interface, replacing any previous record
// with the same key.
func (c *Catalog) Register(ctx context.Context, input *RegisterInput) (*Endpoint, error) {
	slog.Info(fmt.Sprintf("%s - Register %s.%s %s://%s v%s", logPrefix,
		input.Component, input.Interface, input.Transport, input.Address, input.Version))

	if err := validateKey(input.Key); err != nil {
		return nil, err
	}
	if !semver.IsExactVersion(input.Version) {
		return nil, NewCatalogError(CodeInvalidArgument, fmt.Sprintf("invalid version %q", input.Version))
	}

	process := input.Process
	if process == "" {
		process = c.process
	}
	e, err := c.store.Upsert(ctx, *input, process)
	if err != nil {
		return nil, NewCatalogError(CodeInternal, err.Error())
	}
	c.publish(ctx, e, events.ChangeRegistered)
	return e, nil
}

// Unregister removes an endpoint.
func (c *Catalog) Unregister(ctx context.Context, key Key) error {
	slog.Info(fmt.Sprintf("%s - Unregister %s.%s %s://%s", logPrefix, key.Component, key.Interface, key.Transport, key.Address))

	e, err := c.store.Delete(ctx, key)
	if err != nil {
		return NewCatalogError(CodeInternal, err.Error())
	}
	if e == nil {
		return NewCatalogError(CodeNotFound, fmt.Sprintf("endpoint not found: %s.%s %s://%s", key.Component, key.Interface, key.Transport, key.Address))
	}
	c.publish(ctx, e, events.ChangeUnregistered)
	return nil
}

// UnregisterProcess removes every endpoint registered by process, or by
// this catalog's own process when empty, and returns how many were removed.
func (c *Catalog) UnregisterProcess(ctx context.Context, process string) (int, error) {
	if process == "" {
		process = c.process
	}
	list, err := c.store.List(ctx, ListInput{Process: process, Status: "all"})
	if err != nil {
		return 0, NewCatalogError(CodeInternal, err.Error())
	}
	n := 0
	for _, e := range list {
		if err := c.Unregister(ctx, e.Key); err != nil {
			slog.Warn(fmt.Sprintf("%s - UnregisterProcess %s.%s: %v", logPrefix, e.Component, e.Interface, err))
			continue
		}
		n++
	}
	return n, nil
}

// Resolve picks the endpoint with the highest protocol version matching
// the reference. Disabled endpoints are never returned, draining ones only
// when asked for, unhealthy ones only when nothing healthy matches.
func (c *Catalog) Resolve(ctx context.Context, input *ResolveInput) (*Endpoint, error) {
	slog.Debug(fmt.Sprintf("%s - Resolve ref=%s transport=%s", logPrefix, input.Ref, input.Transport))

	ref, err := semver.ParseEndpointRef(input.Ref)
	if err != nil {
		return nil, NewCatalogError(CodeInvalidArgument, err.Error())
	}

	list, err := c.store.List(ctx, ListInput{
		Component: ref.Component,
		Interface: ref.Interface,
		Transport: input.Transport,
		Status:    "all",
	})
	if err != nil {
		return nil, NewCatalogError(CodeInternal, err.Error())
	}

	byID := make(map[string]*Endpoint, len(list))
	var healthy, all []semver.Candidate
	for i := range list {
		e := &list[i]
		byID[e.ID] = e
		cand := semver.Candidate{ID: e.ID, Version: e.Version, Status: e.Status}
		all = append(all, cand)
		if e.Healthy {
			healthy = append(healthy, cand)
		}
	}

	params := semver.ResolveParams{Candidates: healthy, Range: ref.Range, IncludeDraining: input.IncludeDraining}
	best := semver.Resolve(params)
	if best == nil {
		params.Candidates = all
		best = semver.Resolve(params)
	}
	if best == nil {
		return nil, NewCatalogError(CodeNotFound, fmt.Sprintf("no endpoint matches %s", ref.String()))
	}
	return byID[best.ID], nil
}

// List returns endpoints matching the filters.
func (c *Catalog) List(ctx context.Context, input *ListInput) ([]Endpoint, error) {
	list, err := c.store.List(ctx, *input)
	if err != nil {
		return nil, NewCatalogError(CodeInternal, err.Error())
	}
	return list, nil
}

// SetStatus changes the status and health of an endpoint by id.
func (c *Catalog) SetStatus(ctx context.Context, id, status string, healthy bool) (*Endpoint, error) {
	switch status {
	case StatusActive, StatusDraining, StatusDisabled:
	default:
		return nil, NewCatalogError(CodeInvalidArgument, fmt.Sprintf("unknown status %q", status))
	}
	e, err := c.store.SetStatus(ctx, id, status, healthy)
	if err != nil {
		return nil, NewCatalogError(CodeInternal, err.Error())
	}
	if e == nil {
		return nil, NewCatalogError(CodeNotFound, fmt.Sprintf("endpoint not found: %s", id))
	}
	c.publish(ctx, e, events.ChangeHealth)
	return e, nil
}

// Health checks the catalog store.
func (c *Catalog) Health(ctx context.Context) *HealthOutput {
	storeOk := c.store.Ping(ctx) == nil
	count := 0
	if storeOk {
		if list, err := c.store.List(ctx, ListInput{Status: "all"}); err == nil {
			count = len(list)
		} else {
			storeOk = false
		}
	}

	status := "healthy"
	if !storeOk {
		status = "unhealthy"
	}
	return &HealthOutput{
		Status:    status,
		Checks:    HealthChecks{Store: storeOk},
		Endpoints: count,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func (c *Catalog) publish(ctx context.Context, e *Endpoint, change string) {
	err := c.publisher.PublishChanged(ctx, &events.EndpointChangedEvent{
		Component: e.Component,
		Interface: e.Interface,
		Change:    change,
		Transport: e.Transport,
		Address:   e.Address,
		Version:   e.Version,
		Process:   e.Process,
		Healthy:   e.Healthy,
		Revision:  e.Revision,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - PublishChanged failed: %v", logPrefix, err))
	}
}
