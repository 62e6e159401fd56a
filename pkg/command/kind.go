package command

import "fmt"

// Kind is the shape of a command. It never changes once a command is built.
type Kind int

const (
	KindVoid Kind = iota
	KindRead
	KindWrite
	KindQualifiedRead
	KindVoidReturn
	KindWriteReturn
)

var kindNames = [...]string{
	KindVoid:          "Void",
	KindRead:          "Read",
	KindWrite:         "Write",
	KindQualifiedRead: "QualifiedRead",
	KindVoidReturn:    "VoidReturn",
	KindWriteReturn:   "WriteReturn",
}

// Kinds lists every kind in declaration order.
var Kinds = []Kind{KindVoid, KindRead, KindWrite, KindQualifiedRead, KindVoidReturn, KindWriteReturn}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// NumberOfArguments counts input and output arguments of the kind.
func (k Kind) NumberOfArguments() int {
	switch k {
	case KindVoid:
		return 0
	case KindRead, KindWrite, KindVoidReturn:
		return 1
	case KindQualifiedRead, KindWriteReturn:
		return 2
	}
	return 0
}

// Returns reports whether the kind produces a value for the caller.
func (k Kind) Returns() bool {
	switch k {
	case KindRead, KindQualifiedRead, KindVoidReturn, KindWriteReturn:
		return true
	}
	return false
}

// Mode selects whether a caller waits for a deferred command to run.
type Mode int

const (
	NotBlocking Mode = iota
	Blocking
)

func (m Mode) String() string {
	if m == Blocking {
		return "BLOCKING"
	}
	return "NOT_BLOCKING"
}
