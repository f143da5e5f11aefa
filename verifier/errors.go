package verifier

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Verification failures
// ---------------------------------------------------------------------------

// ErrorKind classifies a verification failure.
type ErrorKind int

const (
	StructuralError     ErrorKind = iota + 1 // stack shape, branch targets, slot 0, fall-off
	TypeError                                // assignability and category mismatches
	InitializationError                      // misuse of objects under construction
	AliasingError                            // two distinct allocations merged into one slot
	InternalError                            // driver invoked the frame inconsistently
)

var kindSentinels = map[ErrorKind]error{
	StructuralError:     ErrStructural,
	TypeError:           ErrType,
	InitializationError: ErrInitialization,
	AliasingError:       ErrAliasing,
	InternalError:       ErrInternal,
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrStructural     = errors.New("structural error")
	ErrType           = errors.New("type error")
	ErrInitialization = errors.New("initialization error")
	ErrAliasing       = errors.New("aliasing error")
	ErrInternal       = errors.New("internal consistency error")
)

func (k ErrorKind) String() string {
	if err, ok := kindSentinels[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a fatal verification failure. Address is the instruction being
// verified when the check failed; Origins holds the creation addresses of
// the conflicting operands for merge failures.
type Error struct {
	Kind    ErrorKind
	Address int
	Origins []int
	Msg     string
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s at %d: %s", e.Kind, e.Address, e.Msg)
	if len(e.Origins) > 0 {
		sb.WriteString(" (origins")
		for _, o := range e.Origins {
			fmt.Fprintf(&sb, " %s", originString(o))
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// Is lets errors.Is(err, ErrAliasing) and friends match by kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the kind of a verification failure, or 0 if err is not one.
func KindOf(err error) ErrorKind {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return 0
}

func originString(o int) string {
	if o == EntryOrigin {
		return "entry"
	}
	return fmt.Sprint(o)
}

func mergeErrorf(kind ErrorKind, a, b Value, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Origins: []int{a.Origin, b.Origin},
		Msg:     fmt.Sprintf(format, args...),
	}
}
