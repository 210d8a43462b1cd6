package passby

import (
	"fmt"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/guestpass"
	"github.com/wippyai/guestpass/errors"
	"github.com/wippyai/guestpass/witlayout"
)

// Codec describes the fixed guest-memory layout of a host type and converts
// between the two representations. Size and Align are constants of the type;
// every image of the type occupies exactly Size bytes at an Align boundary.
//
// Load decodes the image at addr and must not allocate guest memory. Store
// encodes v into the image at addr. A codec reports an image outside its
// valid domain (an out-of-range tag, an impossible field value) as an
// invalid_data error rather than guessing.
type Codec[T any] interface {
	Size() uint32
	Align() uint32
	Load(mem guestpass.Memory, addr uint32) (T, error)
	Store(mem guestpass.Memory, addr uint32, v T) error
}

// U32Codec passes a bare uint32.
type U32Codec struct{}

func (U32Codec) Size() uint32  { return 4 }
func (U32Codec) Align() uint32 { return 4 }

func (U32Codec) Load(mem guestpass.Memory, addr uint32) (uint32, error) {
	return mem.ReadU32(addr)
}

func (U32Codec) Store(mem guestpass.Memory, addr uint32, v uint32) error {
	return mem.WriteU32(addr, v)
}

// U64Codec passes a bare uint64.
type U64Codec struct{}

func (U64Codec) Size() uint32  { return 8 }
func (U64Codec) Align() uint32 { return 8 }

func (U64Codec) Load(mem guestpass.Memory, addr uint32) (uint64, error) {
	return mem.ReadU64(addr)
}

func (U64Codec) Store(mem guestpass.Memory, addr uint32, v uint64) error {
	return mem.WriteU64(addr, v)
}

// RecordCodec composes field load and store functions into a Codec for a
// record type with a hand-declared layout. Decode reads fields at their
// offsets relative to the image address; Encode writes them back the same
// way. Use CheckLayout to verify the declared layout against the WIT shape.
type RecordCodec[T any] struct {
	ImageSize  uint32
	ImageAlign uint32
	Decode     func(mem guestpass.Memory, addr uint32) (T, error)
	Encode     func(mem guestpass.Memory, addr uint32, v T) error
}

func (c RecordCodec[T]) Size() uint32  { return c.ImageSize }
func (c RecordCodec[T]) Align() uint32 { return c.ImageAlign }

func (c RecordCodec[T]) Load(mem guestpass.Memory, addr uint32) (T, error) {
	return c.Decode(mem, addr)
}

func (c RecordCodec[T]) Store(mem guestpass.Memory, addr uint32, v T) error {
	return c.Encode(mem, addr, v)
}

// CheckLayout verifies that the codec's declared size and alignment equal
// the Canonical ABI layout of t. Call it once at load time so a divergence
// between the host codec and the guest's WIT declaration fails fast instead
// of corrupting images.
func CheckLayout[T any](c Codec[T], t wit.Type) error {
	info, err := witlayout.Calculate(t)
	if err != nil {
		return err
	}

	var zero T
	goType := fmt.Sprintf("%T", zero)
	witType := fmt.Sprintf("%T", t)

	if c.Size() != info.Size {
		return errors.SizeMismatch(goType, witType, c.Size(), info.Size)
	}
	if c.Align() != info.Align {
		return errors.AlignMismatch(goType, witType, c.Align(), info.Align)
	}
	return nil
}
