package catalog

import (
	"context"

	"github.com/morezero/component-runtime/pkg/db"
)

// PostgresStore is a Store backed by the endpoints table.
type PostgresStore struct {
	repo *db.Repository
}

// NewPostgresStore wraps a repository.
func NewPostgresStore(repo *db.Repository) *PostgresStore {
	return &PostgresStore{repo: repo}
}

func (s *PostgresStore) Upsert(ctx context.Context, input RegisterInput, process string) (*Endpoint, error) {
	row, err := s.repo.UpsertEndpoint(ctx, db.UpsertEndpointParams{
		Component:   input.Component,
		Interface:   input.Interface,
		Transport:   input.Transport,
		Address:     input.Address,
		Version:     input.Version,
		Process:     process,
		MailboxSize: input.MailboxSize,
		Commands:    input.Commands,
		Events:      input.Events,
	})
	return fromRow(row), err
}

func (s *PostgresStore) Delete(ctx context.Context, key Key) (*Endpoint, error) {
	row, err := s.repo.DeleteEndpoint(ctx, key.Component, key.Interface, key.Transport, key.Address)
	return fromRow(row), err
}

func (s *PostgresStore) List(ctx context.Context, input ListInput) ([]Endpoint, error) {
	rows, err := s.repo.ListEndpoints(ctx, db.ListEndpointsParams{
		Component: input.Component,
		Interface: input.Interface,
		Transport: input.Transport,
		Process:   input.Process,
		Status:    input.Status,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Endpoint, 0, len(rows))
	for i := range rows {
		out = append(out, *fromRow(&rows[i]))
	}
	return out, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id, status string, healthy bool) (*Endpoint, error) {
	row, err := s.repo.SetEndpointStatus(ctx, id, status, healthy)
	return fromRow(row), err
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func fromRow(row *db.Endpoint) *Endpoint {
	if row == nil {
		return nil
	}
	return &Endpoint{
		ID: row.ID,
		Key: Key{
			Component: row.Component,
			Interface: row.Interface,
			Transport: row.Transport,
			Address:   row.Address,
		},
		Version:      row.Version,
		Process:      row.Process,
		Status:       row.Status,
		Healthy:      row.Healthy,
		MailboxSize:  row.MailboxSize,
		Commands:     row.Commands,
		Events:       row.Events,
		Revision:     row.Revision,
		RegisteredAt: row.RegisteredAt,
		UpdatedAt:    row.UpdatedAt,
	}
}
