// Package events defines the endpoint catalog change event and the
// publishers that announce it.
package events

// Change kinds.
const (
	ChangeRegistered   = "registered"
	ChangeUnregistered = "unregistered"
	ChangeHealth       = "health"
)

// EndpointChangedEvent is emitted when an exposed interface appears,
// disappears or changes health in the endpoint catalog.
type EndpointChangedEvent struct {
	Component string `json:"component"`
	Interface string `json:"interface"`
	Change    string `json:"change"`
	Transport string `json:"transport"`
	Address   string `json:"address"`
	Version   string `json:"version"`
	Process   string `json:"process,omitempty"`
	Healthy   bool   `json:"healthy"`
	Revision  int64  `json:"revision"`
	Timestamp string `json:"timestamp"`
}
