package wazeromem

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/guestpass"
	"github.com/wippyai/guestpass/errors"
)

// WrapMemory wraps a wazero api.Memory to implement guestpass.Memory.
// The returned value also implements guestpass.MemorySizer.
func WrapMemory(mem api.Memory) guestpass.Memory {
	if mem == nil {
		return nil
	}
	return &Wrapper{Mem: mem}
}

// WrapAllocator wraps an exported cabi_realloc to implement
// guestpass.Allocator. For modules with separate or non-standard allocator
// exports use ResolveAllocator instead.
func WrapAllocator(ctx context.Context, fn api.Function) guestpass.Allocator {
	if fn == nil {
		return nil
	}
	return &AllocatorWrapper{Ctx: ctx, Fn: fn}
}

// Wrapper adapts wazero api.Memory to the guestpass.Memory interface.
type Wrapper struct {
	Mem api.Memory
}

// Size returns the current memory size in bytes.
func (m *Wrapper) Size() uint32 {
	return m.Mem.Size()
}

// Read returns a view of guest memory. The bytes alias the instance's
// linear memory; callers that retain them must copy.
func (m *Wrapper) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.Mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseLift, offset, length, nil)
	}
	return data, nil
}

// Write writes bytes to guest memory.
func (m *Wrapper) Write(offset uint32, data []byte) error {
	if !m.Mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseLower, offset, uint32(len(data)), nil)
	}
	return nil
}

// ReadU8 reads an unsigned 8-bit value.
func (m *Wrapper) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.Mem.ReadByte(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseLift, offset, 1, nil)
	}
	return v, nil
}

// ReadU16 reads an unsigned 16-bit little-endian value.
func (m *Wrapper) ReadU16(offset uint32) (uint16, error) {
	v, ok := m.Mem.ReadUint16Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseLift, offset, 2, nil)
	}
	return v, nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Wrapper) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.Mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseLift, offset, 4, nil)
	}
	return v, nil
}

// ReadU64 reads an unsigned 64-bit little-endian value.
func (m *Wrapper) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.Mem.ReadUint64Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseLift, offset, 8, nil)
	}
	return v, nil
}

// WriteU8 writes an unsigned 8-bit value.
func (m *Wrapper) WriteU8(offset uint32, value uint8) error {
	if !m.Mem.WriteByte(offset, value) {
		return errors.OutOfBounds(errors.PhaseLower, offset, 1, nil)
	}
	return nil
}

// WriteU16 writes an unsigned 16-bit little-endian value.
func (m *Wrapper) WriteU16(offset uint32, value uint16) error {
	if !m.Mem.WriteUint16Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseLower, offset, 2, nil)
	}
	return nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Wrapper) WriteU32(offset uint32, value uint32) error {
	if !m.Mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseLower, offset, 4, nil)
	}
	return nil
}

// WriteU64 writes an unsigned 64-bit little-endian value.
func (m *Wrapper) WriteU64(offset uint32, value uint64) error {
	if !m.Mem.WriteUint64Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseLower, offset, 8, nil)
	}
	return nil
}

// AllocatorWrapper adapts an exported cabi_realloc function to the
// guestpass.Allocator interface. Allocation calls realloc(0, 0, align,
// size), deallocation calls realloc(ptr, size, align, 0).
type AllocatorWrapper struct {
	Ctx context.Context
	Fn  api.Function
}

// Alloc allocates guest memory through cabi_realloc.
func (a *AllocatorWrapper) Alloc(size, align uint32) (uint32, error) {
	results, err := a.Fn.Call(a.ctx(), 0, 0, uint64(align), uint64(size))
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseAlloc, size, align, err)
	}
	if len(results) == 0 {
		return 0, errors.AllocationFailed(errors.PhaseAlloc, size, align, nil)
	}
	return uint32(results[0]), nil
}

// Free releases guest memory through cabi_realloc. Failures are logged,
// not returned; bump allocators ignore frees entirely.
func (a *AllocatorWrapper) Free(ptr, size, align uint32) {
	if ptr == 0 {
		return
	}
	if _, err := a.Fn.Call(a.ctx(), uint64(ptr), uint64(size), uint64(align), 0); err != nil {
		warnFreeFailed(ptr, size, err)
	}
}

func (a *AllocatorWrapper) ctx() context.Context {
	if a.Ctx != nil {
		return a.Ctx
	}
	return context.Background()
}
