package events

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/component-runtime/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// Headers set on every change message so subscribers can filter without decoding.
const (
	HeaderChange   = "Catalog-Change"
	HeaderRevision = "Catalog-Revision"
)

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// GlobalChangeSubject replaces catalog.changed (CATALOG_CHANGE_EVENT_SUBJECT).
	GlobalChangeSubject string
}

// CommsPublisher announces catalog changes on COMMS. Each event goes to the
// interface subject catalog.changed.<component>.<interface> and to the global
// change subject.
type CommsPublisher struct {
	nc                  *comms.Conn
	globalChangeSubject string
}

func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{nc: nc, globalChangeSubject: commsutil.SubjectCatalogChanged}
	if opts != nil && opts.GlobalChangeSubject != "" {
		p.globalChangeSubject = opts.GlobalChangeSubject
	}
	return p
}

// Subjects returns where event is published, interface subject first.
func (p *CommsPublisher) Subjects(event *EndpointChangedEvent) []string {
	return []string{commsutil.BuildCatalogChangeSubject(event.Component, event.Interface), p.globalChangeSubject}
}

func (p *CommsPublisher) PublishChanged(_ context.Context, event *EndpointChangedEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	header := comms.Header{}
	header.Set(HeaderChange, event.Change)
	header.Set(HeaderRevision, strconv.FormatInt(event.Revision, 10))

	for _, subject := range p.Subjects(event) {
		msg := &comms.Msg{Subject: subject, Header: header, Data: data}
		if err := p.nc.PublishMsg(msg); err != nil {
			slog.Error(fmt.Sprintf("%s - publish %s on %s: %v", commsPublisherLogPrefix, event.Change, subject, err))
			return fmt.Errorf("%s - publish to %s: %w", commsPublisherLogPrefix, subject, err)
		}
	}
	slog.Debug(fmt.Sprintf("%s - %s %s.%s rev %d", commsPublisherLogPrefix, event.Change, event.Component, event.Interface, event.Revision))
	return nil
}
