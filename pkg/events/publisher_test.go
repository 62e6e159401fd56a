package events

import (
	"context"
	"errors"
	"testing"
)

func TestNoOpPublisher(t *testing.T) {
	var pub EventPublisher = NoOpPublisher{}
	if err := pub.PublishChanged(context.Background(), &EndpointChangedEvent{Component: "counter"}); err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}
}

func TestPublisherFunc(t *testing.T) {
	var captured *EndpointChangedEvent
	pub := PublisherFunc(func(_ context.Context, event *EndpointChangedEvent) error {
		captured = event
		return nil
	})

	event := &EndpointChangedEvent{Component: "counter", Interface: "Counter", Change: ChangeRegistered, Revision: 5}
	if err := pub.PublishChanged(context.Background(), event); err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}
	if captured != event {
		t.Fatal("events:publisher_test - expected the callback to receive the event")
	}
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	var calls []string
	record := func(name string, err error) EventPublisher {
		return PublisherFunc(func(context.Context, *EndpointChangedEvent) error {
			calls = append(calls, name)
			return err
		})
	}

	pub := Multi(record("a", nil), record("b", boom), LogPublisher{}, record("c", nil))
	err := pub.PublishChanged(context.Background(), &EndpointChangedEvent{Component: "counter", Change: ChangeHealth})
	if !errors.Is(err, boom) {
		t.Errorf("events:publisher_test - err = %v, want boom", err)
	}
	if len(calls) != 3 || calls[2] != "c" {
		t.Errorf("events:publisher_test - calls = %v, a failure must not stop later publishers", calls)
	}

	if err := Multi().PublishChanged(context.Background(), &EndpointChangedEvent{}); err != nil {
		t.Errorf("events:publisher_test - empty Multi = %v", err)
	}
}
