package fhirpath

import (
	"errors"
	"fmt"
)

// ErrorKind classifies evaluation failures.
type ErrorKind uint8

const (
	KindEvaluation ErrorKind = iota
	KindInvalidArgumentCount
	KindType
	KindConversion
	KindUndefinedVariable
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgumentCount:
		return "invalid argument count"
	case KindType:
		return "type error"
	case KindConversion:
		return "conversion error"
	case KindUndefinedVariable:
		return "undefined variable"
	default:
		return "evaluation error"
	}
}

// Error is returned for every failure raised while evaluating an expression.
//
// Use errors.Is with one of the Err* sentinels to test the kind:
//
//	if errors.Is(err, fhirpath.ErrType) {
//	    // ...
//	}
type Error struct {
	Kind ErrorKind
	// Name of the function, operator or variable involved, if any.
	Name string
	Msg  string
	Err  error
}

var (
	ErrEvaluation           = &Error{Kind: KindEvaluation}
	ErrInvalidArgumentCount = &Error{Kind: KindInvalidArgumentCount}
	ErrType                 = &Error{Kind: KindType}
	ErrConversion           = &Error{Kind: KindConversion}
	ErrUndefinedVariable    = &Error{Kind: KindUndefinedVariable}
)

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Name != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Name, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, which makes the sentinels usable with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind ErrorKind, name, format string, args ...any) *Error {
	return &Error{Kind: kind, Name: name, Msg: fmt.Sprintf(format, args...)}
}

func evaluationError(name, format string, args ...any) error {
	return newError(KindEvaluation, name, format, args...)
}

func typeError(name, format string, args ...any) error {
	return newError(KindType, name, format, args...)
}

func argumentCountError(name string, want string, got int) error {
	return newError(KindInvalidArgumentCount, name, "expected %s arguments, got %d", want, got)
}

// wrapError attaches name to err unless it already is an *Error.
// Plain errors raised by element operations count as type errors.
func wrapError(name string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: KindType, Name: name, Err: err}
}
