package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

const endpointColumns = `id, component, interface, transport, address, version, process, status,
	healthy, mailbox_size, commands, events, revision, registered_at, updated_at`

// Repository provides database access for the endpoint catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// =========================================================================
// ENDPOINT OPERATIONS
// =========================================================================

// UpsertEndpointParams holds parameters for UpsertEndpoint.
type UpsertEndpointParams struct {
	Component   string
	Interface   string
	Transport   string
	Address     string
	Version     string
	Process     string
	MailboxSize int
	Commands    []string
	Events      []string
}

// UpsertEndpoint creates an endpoint or refreshes an existing one with the
// same component, interface, transport and address. A refresh bumps the
// revision and resets the status to active.
func (r *Repository) UpsertEndpoint(ctx context.Context, params UpsertEndpointParams) (*Endpoint, error) {
	slog.Info(fmt.Sprintf("%s - UpsertEndpoint %s.%s %s://%s", repoLogPrefix,
		params.Component, params.Interface, params.Transport, params.Address))

	now := time.Now().UTC()
	commands := params.Commands
	if commands == nil {
		commands = []string{}
	}
	events := params.Events
	if events == nil {
		events = []string{}
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO endpoints (component, interface, transport, address, version, process,
		                        mailbox_size, commands, events, registered_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 ON CONFLICT (component, interface, transport, address) DO UPDATE SET
		   version = $5,
		   process = $6,
		   mailbox_size = $7,
		   commands = $8,
		   events = $9,
		   status = 'active',
		   healthy = TRUE,
		   revision = endpoints.revision + 1,
		   updated_at = $10
		 RETURNING `+endpointColumns,
		params.Component, params.Interface, params.Transport, params.Address, params.Version,
		params.Process, params.MailboxSize, commands, events, now)

	return scanEndpoint(row)
}

// GetEndpoint finds an endpoint by its identity. Returns nil, nil when absent.
func (r *Repository) GetEndpoint(ctx context.Context, component, iface, transport, address string) (*Endpoint, error) {
	slog.Debug(fmt.Sprintf("%s - GetEndpoint %s.%s %s://%s", repoLogPrefix, component, iface, transport, address))

	row := r.pool.QueryRow(ctx,
		`SELECT `+endpointColumns+`
		 FROM endpoints
		 WHERE component = $1 AND interface = $2 AND transport = $3 AND address = $4
		 LIMIT 1`, component, iface, transport, address)

	return scanEndpoint(row)
}

// ListEndpointsParams holds filters for ListEndpoints. Empty fields match all.
type ListEndpointsParams struct {
	Component string
	Interface string
	Transport string
	Process   string
	// Status filters by status; "all" or "" returns every status.
	Status string
}

// ListEndpoints lists endpoints ordered by component, interface, address.
func (r *Repository) ListEndpoints(ctx context.Context, params ListEndpointsParams) ([]Endpoint, error) {
	status := params.Status
	if status == "all" {
		status = ""
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+endpointColumns+`
		 FROM endpoints
		 WHERE ($1 = '' OR component = $1)
		   AND ($2 = '' OR interface = $2)
		   AND ($3 = '' OR transport = $3)
		   AND ($4 = '' OR process = $4)
		   AND ($5 = '' OR status = $5)
		 ORDER BY component, interface, transport, address`,
		params.Component, params.Interface, params.Transport, params.Process, status)
	if err != nil {
		return nil, fmt.Errorf("%s - ListEndpoints failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		e, err := scanEndpointFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - ListEndpoints rows: %w", repoLogPrefix, err)
	}
	return out, nil
}

// DeleteEndpoint removes an endpoint. Returns the deleted row, or nil when
// nothing matched.
func (r *Repository) DeleteEndpoint(ctx context.Context, component, iface, transport, address string) (*Endpoint, error) {
	slog.Info(fmt.Sprintf("%s - DeleteEndpoint %s.%s %s://%s", repoLogPrefix, component, iface, transport, address))

	row := r.pool.QueryRow(ctx,
		`DELETE FROM endpoints
		 WHERE component = $1 AND interface = $2 AND transport = $3 AND address = $4
		 RETURNING `+endpointColumns, component, iface, transport, address)

	return scanEndpoint(row)
}

// SetEndpointStatus changes the status and health of an endpoint and bumps its
// revision. Returns nil, nil when no endpoint matched.
func (r *Repository) SetEndpointStatus(ctx context.Context, id, status string, healthy bool) (*Endpoint, error) {
	slog.Info(fmt.Sprintf("%s - SetEndpointStatus id=%s status=%s healthy=%t", repoLogPrefix, id, status, healthy))

	row := r.pool.QueryRow(ctx,
		`UPDATE endpoints SET status = $2, healthy = $3, revision = revision + 1, updated_at = $4
		 WHERE id = $1
		 RETURNING `+endpointColumns, id, status, healthy, time.Now().UTC())

	return scanEndpoint(row)
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// =========================================================================
// SCAN HELPERS
// =========================================================================

func scanEndpoint(row pgx.Row) (*Endpoint, error) {
	var e Endpoint
	err := row.Scan(
		&e.ID, &e.Component, &e.Interface, &e.Transport, &e.Address, &e.Version, &e.Process, &e.Status,
		&e.Healthy, &e.MailboxSize, &e.Commands, &e.Events, &e.Revision, &e.RegisteredAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - scan endpoint failed: %w", repoLogPrefix, err)
	}
	return &e, nil
}

func scanEndpointFromRows(rows pgx.Rows) (*Endpoint, error) {
	var e Endpoint
	err := rows.Scan(
		&e.ID, &e.Component, &e.Interface, &e.Transport, &e.Address, &e.Version, &e.Process, &e.Status,
		&e.Healthy, &e.MailboxSize, &e.Commands, &e.Events, &e.Revision, &e.RegisteredAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%s - scan endpoint from rows failed: %w", repoLogPrefix, err)
	}
	return &e, nil
}
