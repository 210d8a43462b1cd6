package guestpass

import (
	"encoding/binary"
	"fmt"
)

// ByteMemory is a Memory backed by a plain byte slice. It serves host-side
// images (structs passed by value) and tests; guest linear memory comes from
// an engine adapter instead.
//
// Read returns a view of the underlying slice, not a copy, matching the
// behavior of engine-backed memories. Callers that retain the bytes must
// copy them.
type ByteMemory []byte

// Size returns the length of the backing slice.
func (m ByteMemory) Size() uint32 {
	return uint32(len(m))
}

func (m ByteMemory) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m)) {
		return fmt.Errorf("memory access out of bounds: offset=%d, length=%d, size=%d", offset, length, len(m))
	}
	return nil
}

func (m ByteMemory) Read(offset uint32, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	return m[offset : offset+length : offset+length], nil
}

func (m ByteMemory) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m[offset:], data)
	return nil
}

func (m ByteMemory) ReadU8(offset uint32) (uint8, error) {
	if err := m.check(offset, 1); err != nil {
		return 0, err
	}
	return m[offset], nil
}

func (m ByteMemory) ReadU16(offset uint32) (uint16, error) {
	if err := m.check(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m[offset:]), nil
}

func (m ByteMemory) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m[offset:]), nil
}

func (m ByteMemory) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m[offset:]), nil
}

func (m ByteMemory) WriteU8(offset uint32, value uint8) error {
	if err := m.check(offset, 1); err != nil {
		return err
	}
	m[offset] = value
	return nil
}

func (m ByteMemory) WriteU16(offset uint32, value uint16) error {
	if err := m.check(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m[offset:], value)
	return nil
}

func (m ByteMemory) WriteU32(offset uint32, value uint32) error {
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m[offset:], value)
	return nil
}

func (m ByteMemory) WriteU64(offset uint32, value uint64) error {
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m[offset:], value)
	return nil
}
