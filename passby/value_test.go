package passby

import (
	goerrors "errors"
	"testing"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/guestpass"
	"github.com/wippyai/guestpass/errors"
)

// point is a fixed-layout pair used across the discipline tests.
type point struct {
	X uint32
	Y uint32
}

var pointCodec = RecordCodec[point]{
	ImageSize:  8,
	ImageAlign: 4,
	Decode: func(mem guestpass.Memory, addr uint32) (point, error) {
		x, err := mem.ReadU32(addr)
		if err != nil {
			return point{}, err
		}
		y, err := mem.ReadU32(addr + 4)
		if err != nil {
			return point{}, err
		}
		return point{X: x, Y: y}, nil
	},
	Encode: func(mem guestpass.Memory, addr uint32, v point) error {
		if err := mem.WriteU32(addr, v.X); err != nil {
			return err
		}
		return mem.WriteU32(addr+4, v.Y)
	},
}

func pointWitType() wit.Type {
	return &wit.TypeDef{Kind: &wit.Record{Fields: []wit.Field{
		{Name: "x", Type: wit.U32{}},
		{Name: "y", Type: wit.U32{}},
	}}}
}

// wantKind fails the test unless err is a structured error of the given kind.
func wantKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	var e *errors.Error
	if !goerrors.As(err, &e) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
	if e.Kind != kind {
		t.Fatalf("expected error kind %s, got %s (%v)", kind, e.Kind, err)
	}
}

func TestValueRoundTrip(t *testing.T) {
	mem := make(guestpass.ByteMemory, 64)
	v := NewValue[point](pointCodec)

	if err := v.ReturnVal(mem, 8, point{X: 3, Y: 9}); err != nil {
		t.Fatalf("ReturnVal failed: %v", err)
	}
	got, err := v.Take(mem, 8)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if got != (point{X: 3, Y: 9}) {
		t.Fatalf("got %+v", got)
	}

	// pass-by-value consumes nothing; the image can be read again
	again, err := v.Take(mem, 8)
	if err != nil {
		t.Fatalf("second Take failed: %v", err)
	}
	if again != got {
		t.Fatalf("second Take = %+v, want %+v", again, got)
	}
}

func TestValueOutParams(t *testing.T) {
	mem := make(guestpass.ByteMemory, 64)
	v := NewValue[point](pointCodec)

	if err := v.ToOutParam(mem, 0, point{X: 1}); err != nil {
		t.Fatalf("ToOutParam(0) failed: %v", err)
	}

	err := v.ToOutParamNonNull(mem, 0, point{X: 1})
	wantKind(t, err, errors.KindNilPointer)

	if err := v.ToOutParam(mem, 16, point{X: 7, Y: 2}); err != nil {
		t.Fatalf("ToOutParam failed: %v", err)
	}
	got, err := v.Take(mem, 16)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if got != (point{X: 7, Y: 2}) {
		t.Fatalf("got %+v", got)
	}
}

func TestValueWithRef(t *testing.T) {
	mem := make(guestpass.ByteMemory, 64)
	v := NewValue[point](pointCodec)

	if err := v.ReturnVal(mem, 8, point{X: 5, Y: 6}); err != nil {
		t.Fatalf("ReturnVal failed: %v", err)
	}
	err := v.WithRef(mem, 8, func(p point) error {
		if p != (point{X: 5, Y: 6}) {
			t.Fatalf("borrowed %+v", p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRef failed: %v", err)
	}
}

func TestScalarCodecs(t *testing.T) {
	mem := make(guestpass.ByteMemory, 64)

	u32 := NewValue[uint32](U32Codec{})
	if err := u32.ReturnVal(mem, 4, 0xDEAD); err != nil {
		t.Fatalf("ReturnVal failed: %v", err)
	}
	if got, err := u32.Take(mem, 4); err != nil || got != 0xDEAD {
		t.Fatalf("u32 round trip = %x, %v", got, err)
	}

	u64 := NewValue[uint64](U64Codec{})
	if err := u64.ReturnVal(mem, 8, 0xDEADBEEFCAFE); err != nil {
		t.Fatalf("ReturnVal failed: %v", err)
	}
	if got, err := u64.Take(mem, 8); err != nil || got != 0xDEADBEEFCAFE {
		t.Fatalf("u64 round trip = %x, %v", got, err)
	}
}

func TestCheckLayout(t *testing.T) {
	if err := CheckLayout[point](pointCodec, pointWitType()); err != nil {
		t.Fatalf("matching layout rejected: %v", err)
	}

	fat := pointCodec
	fat.ImageSize = 12
	err := CheckLayout[point](fat, pointWitType())
	wantKind(t, err, errors.KindSizeMismatch)

	skewed := pointCodec
	skewed.ImageAlign = 8
	err = CheckLayout[point](skewed, pointWitType())
	wantKind(t, err, errors.KindAlignMismatch)
}
