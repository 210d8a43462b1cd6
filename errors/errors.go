package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in an ownership transfer the error occurred
type Phase string

const (
	PhaseLift   Phase = "lift"   // guest image to host value
	PhaseLower  Phase = "lower"  // host value to guest image
	PhaseTake   Phase = "take"   // consuming ownership transfer
	PhaseFree   Phase = "free"   // destruction of an owned value
	PhaseBorrow Phase = "borrow" // non-owning access
	PhaseAlloc  Phase = "alloc"  // guest allocator calls
	PhaseLayout Phase = "layout" // size/alignment verification
	PhaseHost   Phase = "host"   // host function registration and dispatch
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidUTF8   Kind = "invalid_utf8"
	KindEmbeddedNul   Kind = "embedded_nul"
	KindNilPointer    Kind = "nil_pointer"
	KindStaleHandle   Kind = "stale_handle"
	KindBusy          Kind = "busy"
	KindOutOfBounds   Kind = "out_of_bounds"
	KindAllocation    Kind = "allocation"
	KindInvalidData   Kind = "invalid_data"
	KindSizeMismatch  Kind = "size_mismatch"
	KindAlignMismatch Kind = "align_mismatch"
	KindTooLarge      Kind = "too_large"
	KindNotBound      Kind = "not_bound"
	KindUnsupported   Kind = "unsupported"
)

// Error is the structured error type used throughout the library
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Addr    uint32
	Handle  uint64
	GoType  string
	WitType string
	Detail  string
	Path    []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Addr != 0 {
		fmt.Fprintf(&b, " addr=0x%x", e.Addr)
	}
	if e.Handle != 0 {
		fmt.Fprintf(&b, " handle=0x%x", e.Handle)
	}

	if e.GoType != "" || e.WitType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.WitType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", WIT type ")
			b.WriteString(e.WitType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("WIT type ")
			b.WriteString(e.WitType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.WitType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Addr sets the guest memory address involved
func (b *Builder) Addr(addr uint32) *Builder {
	b.err.Addr = addr
	return b
}

// Handle sets the handle involved
func (b *Builder) Handle(h uint64) *Builder {
	b.err.Handle = h
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// WitType sets the WIT type name
func (b *Builder) WitType(t string) *Builder {
	b.err.WitType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// EmbeddedNul creates an embedded NUL error
func EmbeddedNul(phase Phase, index int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindEmbeddedNul,
		Detail: fmt.Sprintf("NUL byte at index %d", index),
		Value:  index,
	}
}

// NilPointer creates a nil pointer error for a null address or handle
// where non-null is required
func NilPointer(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNilPointer,
		Detail: fmt.Sprintf("%s must not be null", what),
	}
}

// StaleHandle creates an error for a handle whose value was already
// taken or freed
func StaleHandle(phase Phase, handle uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStaleHandle,
		Handle: handle,
		Detail: "handle already consumed",
	}
}

// Busy creates an error for destroying a value with outstanding borrows
func Busy(phase Phase, handle uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindBusy,
		Handle: handle,
		Detail: "outstanding borrows",
	}
}

// OutOfBounds creates an out of bounds memory access error
func OutOfBounds(phase Phase, addr, length uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Addr:   addr,
		Detail: fmt.Sprintf("access of %d bytes out of bounds", length),
		Cause:  cause,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// TooLarge creates an error for content exceeding a configured limit
func TooLarge(phase Phase, length, limit uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTooLarge,
		Detail: fmt.Sprintf("length %d exceeds limit %d", length, limit),
		Value:  length,
	}
}

// SizeMismatch creates a layout size verification error
func SizeMismatch(goType, witType string, got, want uint32) *Error {
	return &Error{
		Phase:   PhaseLayout,
		Kind:    KindSizeMismatch,
		GoType:  goType,
		WitType: witType,
		Detail:  fmt.Sprintf("size %d, canonical ABI requires %d", got, want),
	}
}

// AlignMismatch creates a layout alignment verification error
func AlignMismatch(goType, witType string, got, want uint32) *Error {
	return &Error{
		Phase:   PhaseLayout,
		Kind:    KindAlignMismatch,
		GoType:  goType,
		WitType: witType,
		Detail:  fmt.Sprintf("alignment %d, canonical ABI requires %d", got, want),
	}
}

// InvalidData creates an invalid data error (unknown tag, corrupt image)
func InvalidData(phase Phase, addr uint32, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Addr:   addr,
		Detail: detail,
	}
}

// NotBound creates an error for operations on an unbound pool or adapter
func NotBound(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotBound,
		Detail: fmt.Sprintf("%s not bound to a guest instance", what),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
