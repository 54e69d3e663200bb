package codegen

import (
	"errors"
	"fmt"

	"github.com/wnnrd/pgsc/ast"
)

// Sentinel errors for the handful of conditions that carry no parameters.
var (
	errUnknown         = errors.New("internal compiler error")
	errRegisterMapping = errors.New("no temporary register has been allocated yet")
)

// ErrKind tags the parameterized error kinds from spec §6 so callers can
// dispatch on them (errors.As to *CompileError, then Kind) without string
// matching.
type ErrKind int

const (
	KindUnknown ErrKind = iota
	KindUnimplemented
	KindDuplicateVariable
	KindDuplicateMember
	KindDuplicateFunction
	KindDuplicateModule
	KindDuplicateContainer
	KindDuplicateImport
	KindUnknownFunction
	KindUnknownContainer
	KindUnknownVariable
	KindUnknownModule
	KindUnknownType
	KindUnsupportedExpression
	KindTypeMismatch
	KindRegisterMapping
)

// CompileError is the error type returned across the compiler for every
// failure except the errRegisterMapping sentinel above. It carries enough structure for errors.As-based dispatch while Error()
// reads like an ordinary fmt.Errorf message.
type CompileError struct {
	Kind   ErrKind
	Name   string
	Want   ast.Type
	Got    ast.Type
	detail string
}

func (e *CompileError) Error() string {
	if e.detail != "" {
		return e.detail
	}
	return fmt.Sprintf("compile error (%d): %s", e.Kind, e.Name)
}

func errUnimplemented(msg string) error {
	return &CompileError{Kind: KindUnimplemented, detail: fmt.Sprintf("not implemented: %s", msg)}
}

func errDuplicate(kind ErrKind, what, name string) error {
	return &CompileError{Kind: kind, Name: name, detail: fmt.Sprintf("duplicate %s: %s", what, name)}
}

func errUnknownNamed(kind ErrKind, what, name string) error {
	return &CompileError{Kind: kind, Name: name, detail: fmt.Sprintf("unknown %s: %s", what, name)}
}

func errUnknownType(t ast.Type) error {
	return &CompileError{Kind: KindUnknownType, Want: t, detail: fmt.Sprintf("unknown type: %s", t)}
}

func errUnsupportedExpression(desc string) error {
	return &CompileError{Kind: KindUnsupportedExpression, detail: fmt.Sprintf("unsupported expression: %s", desc)}
}

func errTypeMismatch(want, got ast.Type) error {
	return &CompileError{
		Kind: KindTypeMismatch, Want: want, Got: got,
		detail: fmt.Sprintf("type mismatch: expected %s, got %s", want, got),
	}
}

