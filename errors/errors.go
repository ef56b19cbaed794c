// Package errors provides structured error types for the kernel emulation layer.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Guest-visible failures are never reported through this package; they are NTSTATUS
// values returned to the guest. An Error here always means the emulation layer itself
// could not continue the current call.
//
//	err := errors.New(errors.PhaseDispatch, errors.KindUnsupported).
//		Routine("ZwSetInformationThread").
//		Code(0x25).
//		Build()
//
// Unsupported errors also match the standard library's errors.ErrUnsupported.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

var ErrUnsupported = stderrors.ErrUnsupported

// Phase indicates where the error occurred
type Phase string

const (
	PhaseRegistration Phase = "registration" // dispatch table construction
	PhaseMarshal      Phase = "marshal"      // argument decoding and write-back
	PhaseDispatch     Phase = "dispatch"     // routine bodies
	PhaseReentry      Phase = "reentry"      // nested guest execution
	PhaseBind         Phase = "bind"         // hook installation
)

// Kind categorizes the error
type Kind string

const (
	KindUnsupported    Kind = "unsupported"
	KindInvalidType    Kind = "invalid_type"
	KindNotFound       Kind = "not_found"
	KindEmulationFault Kind = "emulation_fault"
	KindBusy           Kind = "busy"
	KindInvalidInput   Kind = "invalid_input"
)

type Error struct {
	Cause   error
	Phase   Phase
	Kind    Kind
	Routine string
	Detail  string
	Code    uint64
	HasCode bool
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Routine != "" {
		b.WriteString(" in ")
		b.WriteString(e.Routine)
	}

	if e.HasCode {
		fmt.Fprintf(&b, " (code %#x)", e.Code)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return e.Kind == KindUnsupported && target == ErrUnsupported
}

type Builder struct {
	err Error
}

func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

func (b *Builder) Routine(name string) *Builder {
	b.err.Routine = name
	return b
}

// Code records the offending sub-operation code.
func (b *Builder) Code(code uint64) *Builder {
	b.err.Code = code
	b.err.HasCode = true
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

func (b *Builder) Build() *Error {
	return &b.err
}

// Unsupported is the UnsupportedOperation result: a known routine was asked for a
// sub-operation this layer does not implement.
func Unsupported(routine string, code uint64) *Error {
	return New(PhaseDispatch, KindUnsupported).Routine(routine).Code(code).Build()
}

// Registration reports a parameter field the marshaller cannot decode.
func Registration(routine, field, goType string) *Error {
	return New(PhaseRegistration, KindInvalidType).
		Routine(routine).
		Detail("field %s has undecodable type %s", field, goType).
		Build()
}

func NotFound(phase Phase, what string) *Error {
	return New(phase, KindNotFound).Detail("%s not found", what).Build()
}

func EmulationFault(routine string, entry uint64, cause error) *Error {
	return New(PhaseReentry, KindEmulationFault).
		Routine(routine).
		Detail("inner run from %#x", entry).
		Cause(cause).
		Build()
}

func Busy(routine string, state string) *Error {
	return New(PhaseReentry, KindBusy).Routine(routine).Detail("reentry is %s", state).Build()
}

func Marshal(routine string, cause error) *Error {
	return New(PhaseMarshal, KindInvalidInput).Routine(routine).Cause(cause).Build()
}

// Is and As forward to the standard library so callers need a single import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}
