// Package dispatcher serves the endpoint catalog over COMMS and provides a
// client for processes that share another process's catalog.
package dispatcher

import "encoding/json"

// Catalog methods.
const (
	MethodRegister          = "register"
	MethodUnregister        = "unregister"
	MethodUnregisterProcess = "unregisterProcess"
	MethodResolve           = "resolve"
	MethodList              = "list"
	MethodSetStatus         = "setStatus"
	MethodHealth            = "health"
)

// Envelope error codes not produced by the catalog itself.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeMethodNotFound = "METHOD_NOT_FOUND"
)

// CatalogRequest is the JSON envelope for incoming COMMS catalog requests.
type CatalogRequest struct {
	ID     string             `json:"id"`
	Method string             `json:"method"`
	Params json.RawMessage    `json:"params"`
	Ctx    *InvocationContext `json:"ctx,omitempty"`
}

// CatalogResponse is the JSON envelope for COMMS catalog responses.
type CatalogResponse struct {
	ID     string       `json:"id"`
	Ok     bool         `json:"ok"`
	Result any          `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	Process   string `json:"process,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// UnregisterProcessParams are the params of unregisterProcess.
type UnregisterProcessParams struct {
	Process string `json:"process"`
}

// UnregisterProcessResult is the result of unregisterProcess.
type UnregisterProcessResult struct {
	Removed int `json:"removed"`
}

// SetStatusParams are the params of setStatus.
type SetStatusParams struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Healthy bool   `json:"healthy"`
}
