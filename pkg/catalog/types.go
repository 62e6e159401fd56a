// Package catalog keeps the process-wide list of exposed interfaces: which
// component offers which interface, over which transport and at which
// address, so client proxies can be created by name.
package catalog

import "time"

// Transports.
const (
	TransportUDP  = "udp"
	TransportNATS = "nats"
)

// Endpoint statuses.
const (
	StatusActive   = "active"
	StatusDraining = "draining"
	StatusDisabled = "disabled"
)

// Key identifies one endpoint.
type Key struct {
	Component string `json:"component"`
	Interface string `json:"interface"`
	Transport string `json:"transport"`
	Address   string `json:"address"`
}

// Endpoint is an exposed provided interface reachable over a transport.
type Endpoint struct {
	ID string `json:"id"`
	Key
	// Version is the wire protocol version the server speaks.
	Version      string    `json:"version"`
	Process      string    `json:"process,omitempty"`
	Status       string    `json:"status"`
	Healthy      bool      `json:"healthy"`
	MailboxSize  int       `json:"mailboxSize"`
	Commands     []string  `json:"commands"`
	Events       []string  `json:"events"`
	Revision     int64     `json:"revision"`
	RegisteredAt time.Time `json:"registeredAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RegisterInput holds parameters for Register.
type RegisterInput struct {
	Key
	Version string `json:"version"`
	// Process overrides the catalog's own process id; set by remote callers.
	Process     string   `json:"process,omitempty"`
	MailboxSize int      `json:"mailboxSize,omitempty"`
	Commands    []string `json:"commands,omitempty"`
	Events      []string `json:"events,omitempty"`
}

// ResolveInput holds parameters for Resolve.
type ResolveInput struct {
	// Ref is "component.Interface[@range]".
	Ref string `json:"ref"`
	// Transport restricts candidates to one transport when set.
	Transport       string `json:"transport,omitempty"`
	IncludeDraining bool   `json:"includeDraining,omitempty"`
}

// ListInput holds filters for List. Empty fields match all.
type ListInput struct {
	Component string `json:"component,omitempty"`
	Interface string `json:"interface,omitempty"`
	Transport string `json:"transport,omitempty"`
	Process   string `json:"process,omitempty"`
	Status    string `json:"status,omitempty"`
}

// HealthOutput holds the result of Health.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Endpoints int          `json:"endpoints"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks holds individual health check results.
type HealthChecks struct {
	Store bool `json:"store"`
}

// Error codes.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeInternal        = "INTERNAL_ERROR"
)

// CatalogError is a structured error from the catalog.
type CatalogError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CatalogError) Error() string {
	return e.Code + ": " + e.Message
}

// NewCatalogError creates a new CatalogError.
func NewCatalogError(code, message string) *CatalogError {
	return &CatalogError{Code: code, Message: message}
}
