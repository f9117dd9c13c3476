package turns

import (
	"github.com/pkg/errors"
)

// Kind identifies who produced a Turn.
type Kind string

const (
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindToolResult Kind = "tool-result"
	KindReflection Kind = "reflection"
)

// ErrInvalidKind is returned by Store.Append for kinds outside the known set.
var ErrInvalidKind = errors.New("invalid turn kind")

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindAssistant, KindToolResult, KindReflection:
		return true
	default:
		return false
	}
}

// Turn is a single immutable entry in a Store.
type Turn struct {
	// Sequence is assigned by the Store at append time, starting at 1.
	Sequence int    `json:"sequence" yaml:"sequence"`
	Kind     Kind   `json:"kind" yaml:"kind"`
	Text     string `json:"text" yaml:"text"`
}

// String renders the turn the way it appears in a prompt transcript.
func (t Turn) String() string {
	switch t.Kind {
	case KindUser:
		return "Question: " + t.Text
	case KindToolResult:
		return "Observation: " + t.Text
	case KindReflection:
		return "Reflection: " + t.Text
	default:
		return t.Text
	}
}
