// Package socketproxy carries component interfaces over UDP using the
// handle-addressed protocol of package wire. A Server exposes one provided
// interface of a local component; a Client builds a provided-interface
// proxy of a remote server that local components connect to like any
// other provided interface.
package socketproxy

import (
	"time"

	"github.com/morezero/component-runtime/pkg/iface"
	"github.com/morezero/component-runtime/pkg/serial"
	"github.com/morezero/component-runtime/pkg/wire"
)

// Options tune both ends of a connection. Zero fields take the defaults.
type Options struct {
	PacketSize int
	// PacketGap separates packets of one message.
	PacketGap time.Duration
	// PollInterval bounds one receive attempt of the polling loop.
	PollInterval time.Duration
	// CallTimeout bounds a blocking remote call.
	CallTimeout time.Duration
	// InitTimeout bounds the GetInitData exchange.
	InitTimeout time.Duration
	// MaxMessage bounds a reassembled message.
	MaxMessage int
	// EventQueueSize is the capacity of the server's event mailbox.
	EventQueueSize int
	// PeerIdleTimeout is how long the server keeps a peer that sent nothing
	// and has no call in progress. Its serializer and event subscriptions
	// go with it.
	PeerIdleTimeout time.Duration
	// KeepAlive is the interval at which a polled client tells the server
	// it is still there. Keep it well below the server's PeerIdleTimeout.
	KeepAlive time.Duration
}

const (
	DefaultPollInterval   = time.Millisecond
	DefaultCallTimeout    = 5 * time.Second
	DefaultInitTimeout    = 3 * time.Second
	DefaultMaxMessage     = 1 << 20
	DefaultEventQueueSize = 64

	DefaultPeerIdleTimeout = 2 * time.Minute
	DefaultKeepAlive       = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.PacketSize <= 0 {
		o.PacketSize = wire.DefaultPacketSize
	}
	if o.PacketGap <= 0 {
		o.PacketGap = wire.DefaultPacketGap
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = DefaultInitTimeout
	}
	if o.MaxMessage <= 0 {
		o.MaxMessage = DefaultMaxMessage
	}
	if o.EventQueueSize <= 0 {
		o.EventQueueSize = DefaultEventQueueSize
	}
	if o.PeerIdleTimeout <= 0 {
		o.PeerIdleTimeout = DefaultPeerIdleTimeout
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	return o
}

// RegisterTypes adds the control-operation types both ends exchange.
func RegisterTypes(types *serial.Registry) error {
	if err := iface.RegisterTypes(types); err != nil {
		return err
	}
	return wire.RegisterTypes(types)
}
