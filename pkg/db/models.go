package db

import "time"

// Endpoint represents a row in the endpoints table.
type Endpoint struct {
	ID           string    `json:"id"`
	Component    string    `json:"component"`
	Interface    string    `json:"interface"`
	Transport    string    `json:"transport"`
	Address      string    `json:"address"`
	Version      string    `json:"version"`
	Process      string    `json:"process"`
	Status       string    `json:"status"`
	Healthy      bool      `json:"healthy"`
	MailboxSize  int       `json:"mailbox_size"`
	Commands     []string  `json:"commands"`
	Events       []string  `json:"events"`
	Revision     int64     `json:"revision"`
	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
