package passby

import (
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/guestpass"
	"github.com/wippyai/guestpass/errors"
)

// Unboxed transfers values whose bytes live inline in guest memory, with
// the ownership discipline of a handle: taking a value zeroes its image so
// a second take observes the zero value instead of replaying the first.
// The zero value of T must be a sensible "absent" state for this to hold;
// disciplines whose zero value is meaningful should use Boxed instead.
type Unboxed[T any] struct {
	codec Codec[T]
}

// NewUnboxed builds an inline-image discipline around a codec.
func NewUnboxed[T any](c Codec[T]) *Unboxed[T] {
	return &Unboxed[T]{codec: c}
}

// Codec returns the codec the discipline was built with.
func (u *Unboxed[T]) Codec() Codec[T] { return u.codec }

// Size returns the image size in bytes.
func (u *Unboxed[T]) Size() uint32 { return u.codec.Size() }

// Take decodes a value from an image held on the host side and zeroes the
// image. The slice must be at least Size() bytes.
func (u *Unboxed[T]) Take(img []byte) (T, error) {
	var zero T
	size := u.codec.Size()
	if uint32(len(img)) < size {
		return zero, errors.New(errors.PhaseTake, errors.KindSizeMismatch).
			Detail("image is %d bytes, codec needs %d", len(img), size).
			Build()
	}
	v, err := u.codec.Load(guestpass.ByteMemory(img), 0)
	if err != nil {
		return zero, err
	}
	clear(img[:size])
	return v, nil
}

// TakePtr decodes the image at addr in guest memory, zeroes it, and
// returns ownership of the value. Address 0 yields the zero value.
func (u *Unboxed[T]) TakePtr(mem guestpass.Memory, addr uint32) (T, error) {
	var zero T
	if addr == 0 {
		return zero, nil
	}
	v, err := u.codec.Load(mem, addr)
	if err != nil {
		return zero, err
	}
	size := u.codec.Size()
	if err := mem.Write(addr, make([]byte, size)); err != nil {
		return zero, errors.OutOfBounds(errors.PhaseTake, addr, size, err)
	}
	return v, nil
}

// TakePtrNonNull is TakePtr with address 0 rejected as nil_pointer.
func (u *Unboxed[T]) TakePtrNonNull(mem guestpass.Memory, addr uint32) (T, error) {
	var zero T
	if addr == 0 {
		return zero, errors.NilPointer(errors.PhaseTake, "value pointer")
	}
	return u.TakePtr(mem, addr)
}

// WithRef decodes the image at addr and passes the value to fn by
// copy. The image is left untouched; the guest keeps ownership. Address 0
// calls fn with the zero value.
func (u *Unboxed[T]) WithRef(mem guestpass.Memory, addr uint32, fn func(T) error) error {
	var v T
	if addr != 0 {
		decoded, err := u.codec.Load(mem, addr)
		if err != nil {
			return err
		}
		v = decoded
	}
	return fn(v)
}

// WithRefNonNull is WithRef with address 0 rejected as nil_pointer.
func (u *Unboxed[T]) WithRefNonNull(mem guestpass.Memory, addr uint32, fn func(T) error) error {
	if addr == 0 {
		return errors.NilPointer(errors.PhaseBorrow, "value pointer")
	}
	return u.WithRef(mem, addr, fn)
}

// WithRefMut decodes the image at addr, lets fn mutate the value, and
// stores the result back into the same image. Address 0 hands fn a scratch
// value that is discarded.
func (u *Unboxed[T]) WithRefMut(mem guestpass.Memory, addr uint32, fn func(*T) error) error {
	if addr == 0 {
		var scratch T
		return fn(&scratch)
	}
	v, err := u.codec.Load(mem, addr)
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}
	return u.codec.Store(mem, addr, v)
}

// WithRefMutNonNull is WithRefMut with address 0 rejected as nil_pointer.
func (u *Unboxed[T]) WithRefMutNonNull(mem guestpass.Memory, addr uint32, fn func(*T) error) error {
	if addr == 0 {
		return errors.NilPointer(errors.PhaseBorrow, "value pointer")
	}
	return u.WithRefMut(mem, addr, fn)
}

// ReturnVal encodes v into a fresh image whose ownership passes to the
// caller.
func (u *Unboxed[T]) ReturnVal(v T) ([]byte, error) {
	img := make([]byte, u.codec.Size())
	if err := u.codec.Store(guestpass.ByteMemory(img), 0, v); err != nil {
		return nil, err
	}
	return img, nil
}

// WriteInto encodes v over the image at addr, replacing whatever was
// there. The caller is responsible for having taken or freed the previous
// occupant.
func (u *Unboxed[T]) WriteInto(mem guestpass.Memory, addr uint32, v T) error {
	return u.codec.Store(mem, addr, v)
}

// ToOutParam encodes v into the image at addr. A zero addr means the
// caller passed no destination and the value is silently dropped.
func (u *Unboxed[T]) ToOutParam(mem guestpass.Memory, addr uint32, v T) error {
	if addr == 0 {
		return nil
	}
	return u.codec.Store(mem, addr, v)
}

// ToOutParamNonNull is ToOutParam with addr 0 rejected as nil_pointer.
func (u *Unboxed[T]) ToOutParamNonNull(mem guestpass.Memory, addr uint32, v T) error {
	if addr == 0 {
		return errors.NilPointer(errors.PhaseLower, "out parameter")
	}
	return u.ToOutParam(mem, addr, v)
}

// VerifyLayout checks the codec's size and alignment against the canonical
// layout of t.
func (u *Unboxed[T]) VerifyLayout(t wit.Type) error {
	return CheckLayout(u.codec, t)
}
