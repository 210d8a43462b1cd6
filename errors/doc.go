// Package errors provides structured error types for the guestpass library.
//
// Errors are categorized by Phase (where in an ownership transfer the error
// occurred) and Kind (error category). The Error type includes rich context:
// guest address, handle, Go/WIT type names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseTake, errors.KindStaleHandle).
//		Handle(h).
//		Detail("value already taken").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NilPointer(errors.PhaseTake, "out parameter")
//	err := errors.InvalidUTF8(errors.PhaseLift, data)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
