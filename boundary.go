package guestpass

// Memory is guest linear memory as seen from the host.
// All multi-byte accesses are little-endian.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of guest linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator allocates storage inside guest linear memory.
// Free is advisory; bump allocators may ignore it.
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
	Free(ptr, size, align uint32)
}

// Handle is an opaque reference to a host-owned value, sized to cross the
// boundary as a single integer. Handle 0 is reserved and always invalid.
// The high 32 bits carry a generation tag, so a handle whose value was
// taken or freed is detectably stale rather than silently reused.
type Handle uint64

// Ownership identifies who controls a value's storage at a point in time.
// Every transfer operation documents its pre- and postconditions in these terms.
type Ownership uint8

const (
	// OwnershipInvalid is the sentinel state left behind after a value's
	// ownership was taken or its storage freed. Reading it yields a defined
	// empty value, never the prior content.
	OwnershipInvalid Ownership = iota

	// OwnershipHeld means the host implementation owns the value and may
	// mutate or free it.
	OwnershipHeld

	// OwnershipCaller means the guest supplied the storage; the host only
	// reads or writes through a borrow and never frees it.
	OwnershipCaller

	// OwnershipBorrowed means the value is under a temporary, non-owning
	// borrow scoped to a single call.
	OwnershipBorrowed
)

// String returns the state name.
func (o Ownership) String() string {
	switch o {
	case OwnershipInvalid:
		return "invalid"
	case OwnershipHeld:
		return "held"
	case OwnershipCaller:
		return "caller"
	case OwnershipBorrowed:
		return "borrowed"
	default:
		return "unknown"
	}
}
