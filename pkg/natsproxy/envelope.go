// Package natsproxy carries component interfaces over COMMS (NATS)
// request/reply. It is the structured alternative to package socketproxy:
// requests and responses are JSON envelopes whose payloads hold serialized
// arguments and results, and events are published on their own subjects
// while at least one client enabled them.
package natsproxy

import (
	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/wire"
)

// Envelope operations.
const (
	OpInit     = "init"
	OpDescribe = "describe"
	OpHandle   = "handle"
	OpInvoke   = "invoke"
	OpEnable   = "enable"
	OpDisable  = "disable"
)

// InvokeRequest is the JSON envelope of every request to a served interface.
type InvokeRequest struct {
	ID       string       `json:"id"`
	ClientID string       `json:"clientId"`
	Op       string       `json:"op"`
	Command  wire.Handle  `json:"command"`
	Kind     command.Kind `json:"kind,omitempty"`
	Name     string       `json:"name,omitempty"`
	Payload  []byte       `json:"payload,omitempty"`
}

// InvokeResponse is the JSON envelope of every reply.
type InvokeResponse struct {
	ID      string         `json:"id"`
	Result  command.Result `json:"result"`
	Payload []byte         `json:"payload,omitempty"`
	Error   *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// InitReply answers OpInit.
type InitReply struct {
	ProtocolVersion string `json:"protocolVersion"`
	Interface       string `json:"interface"`
}

func errorDetail(res command.Result, message string) *ErrorDetail {
	if res.IsOK() {
		return nil
	}
	retryable := false
	switch res {
	case command.MailboxFull, command.NoFinishedEvent, command.Timeout, command.NetworkError:
		retryable = true
	}
	if message == "" {
		message = res.String()
	}
	return &ErrorDetail{Code: res.String(), Message: message, Retryable: retryable}
}
