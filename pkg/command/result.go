// Package command defines the typed, named commands that component interfaces
// expose, the result taxonomy shared by every execution path and the
// multicast commands used for events.
package command

import "fmt"

// Result is the outcome of executing a command, locally or remotely.
type Result int

const (
	Succeeded Result = iota
	Queued
	Disabled
	NoMailbox
	MailboxFull
	FunctionNotBound
	InvalidInputType
	MethodFailed
	NetworkError
	SerializationError
	DeserializationError
	ArgumentDynamicCreationFailed
	InvalidCommandID
	NoFinishedEvent
	Timeout
)

var resultNames = [...]string{
	Succeeded:                     "SUCCEEDED",
	Queued:                        "QUEUED",
	Disabled:                      "DISABLED",
	NoMailbox:                     "NO_MAILBOX",
	MailboxFull:                   "MAILBOX_FULL",
	FunctionNotBound:              "FUNCTION_NOT_BOUND",
	InvalidInputType:              "INVALID_INPUT_TYPE",
	MethodFailed:                  "METHOD_FAILED",
	NetworkError:                  "NETWORK_ERROR",
	SerializationError:            "SERIALIZATION_ERROR",
	DeserializationError:          "DESERIALIZATION_ERROR",
	ArgumentDynamicCreationFailed: "ARGUMENT_DYNAMIC_CREATION_FAILED",
	InvalidCommandID:              "INVALID_COMMAND_ID",
	NoFinishedEvent:               "NO_FINISHED_EVENT",
	Timeout:                       "TIMEOUT",
}

func (r Result) String() string {
	if r >= 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("RESULT(%d)", int(r))
}

// IsOK reports whether the command ran or was accepted for deferred execution.
func (r Result) IsOK() bool {
	return r == Succeeded || r == Queued
}

// Valid reports whether r is a member of the enumeration.
func (r Result) Valid() bool {
	return r >= Succeeded && r <= Timeout
}

// Error is a Result carried as an error value on setup paths.
type Error struct {
	Command string
	Result  Result
}

func (e *Error) Error() string {
	return fmt.Sprintf("command %q: %s", e.Command, e.Result)
}

// AsError returns nil for successful results and an *Error otherwise.
func AsError(name string, r Result) error {
	if r.IsOK() {
		return nil
	}
	return &Error{Command: name, Result: r}
}
