// Package deploy describes what one runtime process hosts: its local
// components, the provided interfaces it exposes over a transport, the
// remote interfaces it reaches through client proxies, and how required
// interfaces are connected to provided ones.
package deploy

// Component types the runtime knows how to build.
const (
	TypeCounter = "counter"
	TypeWatcher = "watcher"
)

// Transports.
const (
	TransportUDP  = "udp"
	TransportNATS = "nats"
)

// ComponentSpec is a local component.
type ComponentSpec struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	MailboxSize int    `yaml:"mailboxSize,omitempty" json:"mailboxSize,omitempty"`
	EventQueue  int    `yaml:"eventQueue,omitempty" json:"eventQueue,omitempty"`
}

// ServerSpec exposes one provided interface of a local component.
type ServerSpec struct {
	Component string `yaml:"component" json:"component"`
	Interface string `yaml:"interface" json:"interface"`
	Transport string `yaml:"transport" json:"transport"`
	// Address is host:port for udp and a subject for nats. An empty nats
	// address uses the default interface subject.
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}

// ClientSpec creates a component proxy for a remote provided interface.
type ClientSpec struct {
	// Name is the local name of the component proxy.
	Name string `yaml:"name" json:"name"`
	// Ref is "component.Interface[@range]".
	Ref       string `yaml:"ref" json:"ref"`
	Transport string `yaml:"transport,omitempty" json:"transport,omitempty"`
	// Address skips catalog resolution when set.
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}

// ConnectionSpec connects client.required to server.provided. Either side
// may name a local component or a client proxy.
type ConnectionSpec struct {
	Client   string `yaml:"client" json:"client"`
	Required string `yaml:"required" json:"required"`
	Server   string `yaml:"server" json:"server"`
	Provided string `yaml:"provided" json:"provided"`
}

// Deployment is the root of a deployment file.
type Deployment struct {
	Name        string           `yaml:"name" json:"name"`
	Components  []ComponentSpec  `yaml:"components,omitempty" json:"components,omitempty"`
	Servers     []ServerSpec     `yaml:"servers,omitempty" json:"servers,omitempty"`
	Clients     []ClientSpec     `yaml:"clients,omitempty" json:"clients,omitempty"`
	Connections []ConnectionSpec `yaml:"connections,omitempty" json:"connections,omitempty"`
}

// HasTransport reports whether any server or client uses transport.
func (d *Deployment) HasTransport(transport string) bool {
	for _, s := range d.Servers {
		if s.Transport == transport {
			return true
		}
	}
	for _, c := range d.Clients {
		if c.Transport == transport {
			return true
		}
	}
	return false
}
