package passby

import (
	"github.com/wippyai/guestpass"
	"github.com/wippyai/guestpass/errors"
)

// Value passes a fixed-layout type by value. Nothing is owned on either
// side: images are plain copies, always safe to make, and taking one leaves
// the caller's copy untouched. Types that own an allocation reachable only
// through the image must use Boxed or Unboxed instead.
type Value[T any] struct {
	codec Codec[T]
}

// NewValue builds a pass-by-value discipline over the given codec.
func NewValue[T any](c Codec[T]) *Value[T] {
	return &Value[T]{codec: c}
}

// Codec returns the layout codec this discipline was built over.
func (v *Value[T]) Codec() Codec[T] {
	return v.codec
}

// Take decodes the image at addr. The caller's copy remains valid; nothing
// is consumed.
func (v *Value[T]) Take(mem guestpass.Memory, addr uint32) (T, error) {
	return v.codec.Load(mem, addr)
}

// ReturnVal encodes val into the caller-provided result slot at addr.
func (v *Value[T]) ReturnVal(mem guestpass.Memory, addr uint32, val T) error {
	return v.codec.Store(mem, addr, val)
}

// ToOutParam writes val to caller-supplied storage. A zero addr means the
// caller passed no destination; the value is dropped silently.
func (v *Value[T]) ToOutParam(mem guestpass.Memory, addr uint32, val T) error {
	if addr == 0 {
		return nil
	}
	return v.codec.Store(mem, addr, val)
}

// ToOutParamNonNull is ToOutParam for destinations documented as required;
// a zero addr is a nil_pointer error.
func (v *Value[T]) ToOutParamNonNull(mem guestpass.Memory, addr uint32, val T) error {
	if addr == 0 {
		return errors.NilPointer(errors.PhaseLower, "out parameter")
	}
	return v.codec.Store(mem, addr, val)
}

// WithRef decodes the image at addr and passes the value to fn without
// consuming anything. fn receives a copy; mutations do not write back.
func (v *Value[T]) WithRef(mem guestpass.Memory, addr uint32, fn func(T) error) error {
	val, err := v.codec.Load(mem, addr)
	if err != nil {
		return err
	}
	return fn(val)
}
