package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const publisherLogPrefix = "events:publisher"

// EventPublisher announces catalog changes.
type EventPublisher interface {
	PublishChanged(ctx context.Context, event *EndpointChangedEvent) error
}

// NoOpPublisher drops every event.
type NoOpPublisher struct{}

func (NoOpPublisher) PublishChanged(context.Context, *EndpointChangedEvent) error { return nil }

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(ctx context.Context, event *EndpointChangedEvent) error

func (f PublisherFunc) PublishChanged(ctx context.Context, event *EndpointChangedEvent) error {
	return f(ctx, event)
}

// LogPublisher writes each change to slog at info level.
type LogPublisher struct{}

func (LogPublisher) PublishChanged(_ context.Context, e *EndpointChangedEvent) error {
	slog.Info(fmt.Sprintf("%s - %s %s.%s %s://%s healthy=%t rev=%d",
		publisherLogPrefix, e.Change, e.Component, e.Interface, e.Transport, e.Address, e.Healthy, e.Revision))
	return nil
}

// Multi publishes to every publisher in order. All publishers are tried; the
// returned error joins the failures.
func Multi(publishers ...EventPublisher) EventPublisher {
	return PublisherFunc(func(ctx context.Context, event *EndpointChangedEvent) error {
		var errs []error
		for _, p := range publishers {
			if err := p.PublishChanged(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
