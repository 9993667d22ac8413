package memory

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory reports genuine mature-heap exhaustion. It is a catchable
// condition for the calling layer, not a crash: only young-generation sizing
// violations abort the process.
var ErrOutOfMemory = errors.New("memory: mature heap exhausted")

// TypeError is the catchable language-level error produced when a value's
// runtime type tag does not match the expected tag.
type TypeError struct {
	Expected Type
	Value    Ref
	Reason   string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Reason, e.Expected, e.Value)
}

// TypeAssert validates a value's runtime type against an expected tag.
// Fixnum-representable immediates are special-cased: TypeFixnum matches only
// immediates, and immediates never match a heap tag.
func TypeAssert(val Ref, want Type, reason string) error {
	if (val.IsReference() && val.Object().TypeTag() != want) ||
		(want == TypeFixnum && !val.IsFixnum()) {
		return &TypeError{Expected: want, Value: val, Reason: reason}
	}
	return nil
}
