package wazeromem

import (
	"context"
	goerrors "errors"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/guestpass/errors"
)

// memoryWASM is a minimal module with 1 page of memory exported as
// "memory" and no allocator.
var memoryWASM = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: 1 page, no max
	0x07, 0x0a, 0x01, // export section: 10 bytes, 1 export
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, // name: "memory"
	0x02, 0x00, // kind: memory, index 0
}

// reallocWASM exports "memory" and a bump-allocating "cabi_realloc":
// aligned = (bump + align - 1) & ~(align - 1); bump = aligned + new_size;
// return aligned. The bump pointer starts at 1024.
var reallocWASM = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	// type section: (i32, i32, i32, i32) -> i32
	0x01, 0x09, 0x01, 0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f,
	// function section: 1 function, type 0
	0x03, 0x02, 0x01, 0x00,
	// memory section: 1 page, no max
	0x05, 0x03, 0x01, 0x00, 0x01,
	// global section: (mut i32) = 1024, the bump pointer
	0x06, 0x07, 0x01, 0x7f, 0x01, 0x41, 0x80, 0x08, 0x0b,
	// export section: "memory", "cabi_realloc"
	0x07, 0x19, 0x02,
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00,
	0x0c, 0x63, 0x61, 0x62, 0x69, 0x5f, 0x72, 0x65, 0x61, 0x6c, 0x6c, 0x6f, 0x63, 0x00, 0x00,
	// code section
	0x0a, 0x20, 0x01, 0x1e,
	0x01, 0x01, 0x7f, // locals: 1 x i32
	0x23, 0x00, // global.get 0        bump
	0x20, 0x02, // local.get 2         align
	0x6a,       // i32.add
	0x41, 0x01, // i32.const 1
	0x6b,       // i32.sub             bump + align - 1
	0x20, 0x02, // local.get 2
	0x41, 0x01, // i32.const 1
	0x6b,       // i32.sub             align - 1
	0x41, 0x7f, // i32.const -1
	0x73,       // i32.xor             ~(align - 1)
	0x71,       // i32.and             aligned
	0x22, 0x04, // local.tee 4
	0x20, 0x03, // local.get 3         new_size
	0x6a,       // i32.add
	0x24, 0x00, // global.set 0        bump = aligned + new_size
	0x20, 0x04, // local.get 4
	0x0b, // end
}

// simpleWASM exports "memory", a bump "alloc(size) -> ptr", and a no-op
// "free(ptr)", the libc-style shape of hand-written guests.
var simpleWASM = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	// type section: (i32) -> i32, (i32) -> ()
	0x01, 0x0a, 0x02,
	0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x60, 0x01, 0x7f, 0x00,
	// function section: 2 functions
	0x03, 0x03, 0x02, 0x00, 0x01,
	// memory section: 1 page, no max
	0x05, 0x03, 0x01, 0x00, 0x01,
	// global section: (mut i32) = 1024, the bump pointer
	0x06, 0x07, 0x01, 0x7f, 0x01, 0x41, 0x80, 0x08, 0x0b,
	// export section: "memory", "alloc", "free"
	0x07, 0x19, 0x03,
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00,
	0x05, 0x61, 0x6c, 0x6c, 0x6f, 0x63, 0x00, 0x00,
	0x04, 0x66, 0x72, 0x65, 0x65, 0x00, 0x01,
	// code section
	0x0a, 0x14, 0x02,
	// alloc: ptr = bump; bump += size; return ptr
	0x0f,
	0x01, 0x01, 0x7f, // locals: 1 x i32
	0x23, 0x00, // global.get 0
	0x22, 0x01, // local.tee 1
	0x20, 0x00, // local.get 0
	0x6a,       // i32.add
	0x24, 0x00, // global.set 0
	0x20, 0x01, // local.get 1
	0x0b, // end
	// free: no-op
	0x02, 0x00, 0x0b,
}

func instantiate(t *testing.T, ctx context.Context, wasm []byte) (api.Module, func()) {
	t.Helper()
	rt := wazero.NewRuntime(ctx)
	mod, err := rt.Instantiate(ctx, wasm)
	if err != nil {
		rt.Close(ctx)
		t.Fatalf("instantiate failed: %v", err)
	}
	return mod, func() { rt.Close(ctx) }
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

func TestWrapMemoryNil(t *testing.T) {
	if mem := WrapMemory(nil); mem != nil {
		t.Error("expected nil for nil memory")
	}
}

func TestWrapAllocatorNil(t *testing.T) {
	if alloc := WrapAllocator(context.Background(), nil); alloc != nil {
		t.Error("expected nil for nil function")
	}
}

func TestWrapperReadWrite(t *testing.T) {
	ctx := context.Background()
	mod, done := instantiate(t, ctx, memoryWASM)
	defer done()

	mem := WrapMemory(mod.ExportedMemory("memory"))
	if mem == nil {
		t.Fatal("expected non-nil wrapped memory")
	}

	data := []byte{1, 2, 3, 4}
	if err := mem.Write(16, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	read, err := mem.Read(16, 4)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	for i, b := range read {
		if b != data[i] {
			t.Errorf("byte %d: expected %d, got %d", i, data[i], b)
		}
	}
}

func TestWrapperOutOfBounds(t *testing.T) {
	ctx := context.Background()
	mod, done := instantiate(t, ctx, memoryWASM)
	defer done()

	mem := WrapMemory(mod.ExportedMemory("memory"))

	_, err := mem.Read(65536, 1)
	wantKind(t, err, errors.KindOutOfBounds)

	err = mem.Write(65536, []byte{1})
	wantKind(t, err, errors.KindOutOfBounds)

	_, err = mem.ReadU64(65529)
	wantKind(t, err, errors.KindOutOfBounds)
}

func TestWrapperIntegerReadWrite(t *testing.T) {
	ctx := context.Background()
	mod, done := instantiate(t, ctx, memoryWASM)
	defer done()

	mem := WrapMemory(mod.ExportedMemory("memory"))

	if err := mem.WriteU8(0, 42); err != nil {
		t.Fatalf("WriteU8 failed: %v", err)
	}
	if v, err := mem.ReadU8(0); err != nil || v != 42 {
		t.Errorf("ReadU8 = %d, %v", v, err)
	}

	if err := mem.WriteU16(0, 0x1234); err != nil {
		t.Fatalf("WriteU16 failed: %v", err)
	}
	if v, err := mem.ReadU16(0); err != nil || v != 0x1234 {
		t.Errorf("ReadU16 = 0x%x, %v", v, err)
	}

	if err := mem.WriteU32(0, 0x12345678); err != nil {
		t.Fatalf("WriteU32 failed: %v", err)
	}
	if v, err := mem.ReadU32(0); err != nil || v != 0x12345678 {
		t.Errorf("ReadU32 = 0x%x, %v", v, err)
	}

	if err := mem.WriteU64(0, 0x123456789ABCDEF0); err != nil {
		t.Fatalf("WriteU64 failed: %v", err)
	}
	if v, err := mem.ReadU64(0); err != nil || v != 0x123456789ABCDEF0 {
		t.Errorf("ReadU64 = 0x%x, %v", v, err)
	}

	// little-endian on the wire
	if b, err := mem.ReadU8(0); err != nil || b != 0xF0 {
		t.Errorf("low byte = 0x%x, %v", b, err)
	}
}

func TestWrapperSize(t *testing.T) {
	ctx := context.Background()
	mod, done := instantiate(t, ctx, memoryWASM)
	defer done()

	w := &Wrapper{Mem: mod.ExportedMemory("memory")}
	if w.Size() != 65536 {
		t.Fatalf("Size = %d, want 65536", w.Size())
	}
}

func TestAllocatorWrapper(t *testing.T) {
	ctx := context.Background()
	mod, done := instantiate(t, ctx, reallocWASM)
	defer done()

	alloc := WrapAllocator(ctx, mod.ExportedFunction("cabi_realloc"))
	if alloc == nil {
		t.Fatal("expected non-nil allocator")
	}

	p1, err := alloc.Alloc(16, 8)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if p1 == 0 || p1%8 != 0 {
		t.Fatalf("Alloc returned %d, want a non-zero 8-aligned pointer", p1)
	}

	p2, err := alloc.Alloc(4, 8)
	if err != nil {
		t.Fatalf("second Alloc failed: %v", err)
	}
	if p2 < p1+16 {
		t.Fatalf("allocations overlap: %d then %d", p1, p2)
	}

	// the allocations are usable guest memory
	mem := WrapMemory(mod.ExportedMemory("memory"))
	if err := mem.Write(p1, []byte("hello!")); err != nil {
		t.Fatalf("Write into allocation failed: %v", err)
	}

	alloc.Free(p1, 16, 8)
	alloc.Free(0, 0, 1) // no-op
}
