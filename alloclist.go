package guestpass

import "sync"

// Allocation records one guest-memory allocation so it can be freed later.
// A zero Ptr is a permitted placeholder for "nothing was allocated" and is
// skipped on release.
type Allocation struct {
	Ptr   uint32
	Size  uint32
	Align uint32
}

// AllocationList collects guest allocations made during a multi-step
// operation so they can be released together: after a sweep that detaches
// several allocations at once, or on a failure path as rollback. Lists are
// recycled through an internal pool; obtain one with NewAllocationList and
// finish with FreeAndRelease or Release.
type AllocationList struct {
	allocations []Allocation
}

// NewAllocationList returns an empty list from the pool.
func NewAllocationList() *AllocationList {
	return allocationListPool.Get().(*AllocationList)
}

// Add records an allocation. A zero ptr may be recorded; Free skips it.
func (al *AllocationList) Add(ptr, size, align uint32) {
	al.allocations = append(al.allocations, Allocation{Ptr: ptr, Size: size, Align: align})
}

// Free hands every recorded allocation with a non-zero pointer back to the
// allocator and reports how many were released. A nil allocator releases
// nothing; the entries stay recorded.
func (al *AllocationList) Free(allocator Allocator) int {
	if allocator == nil {
		return 0
	}
	released := 0
	for _, a := range al.allocations {
		if a.Ptr == 0 {
			continue
		}
		allocator.Free(a.Ptr, a.Size, a.Align)
		released++
	}
	return released
}

// FreeAndRelease frees the recorded allocations and returns the list to
// the pool in one step, reporting how many were released.
func (al *AllocationList) FreeAndRelease(allocator Allocator) int {
	released := al.Free(allocator)
	al.Release()
	return released
}

// Reset empties the list without freeing anything, for handing the
// recorded allocations' ownership to someone else.
func (al *AllocationList) Reset() {
	al.allocations = al.allocations[:0]
}

// Count returns the number of recorded allocations, zero pointers included.
func (al *AllocationList) Count() int {
	return len(al.allocations)
}

var allocationListPool = sync.Pool{
	New: func() any {
		return &AllocationList{allocations: make([]Allocation, 0, 8)}
	},
}

const maxPooledAllocationCapacity = 128

// Release returns the list to the pool without freeing anything. The list
// is invalid after Release.
func (al *AllocationList) Release() {
	// Only pool small lists to prevent memory bloat
	if cap(al.allocations) > maxPooledAllocationCapacity {
		return
	}
	al.Reset()
	allocationListPool.Put(al)
}
