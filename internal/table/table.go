package table

import (
	"errors"
	"sync"
)

var (
	ErrClosed   = errors.New("handle table closed")
	ErrNotFound = errors.New("handle stale or never issued")
	ErrBusy     = errors.New("cannot release entry with outstanding borrows")
)

// Handle is an opaque reference to a table entry. Handle 0 is reserved and
// always invalid. The low 32 bits hold slot+1, the high 32 bits hold the
// slot's generation at issue time, so a handle whose entry was released is
// detectable even after the slot is reused.
type Handle uint64

func (h Handle) slot() (uint32, bool) {
	idx := uint32(h)
	if idx == 0 {
		return 0, false
	}
	return idx - 1, true
}

func (h Handle) generation() uint32 {
	return uint32(h >> 32)
}

func join(slot, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(slot+1))
}

type entry[T any] struct {
	value T
	gen   uint32
	// >0 shared borrows, -1 exclusive borrow, 0 none
	borrows int32
	live    bool
}

// Table is an in-memory slot table with generation-tagged handles, free-list
// reuse, and shared/exclusive borrow tracking. Safe for concurrent use.
type Table[T any] struct {
	entries  []*entry[T]
	freeList []uint32
	mu       sync.Mutex
	closed   bool
}

// New creates a table with the given initial capacity (0 for the default).
func New[T any](capacity int) *Table[T] {
	if capacity <= 0 {
		capacity = 64
	}
	return &Table[T]{
		entries:  make([]*entry[T], 0, capacity),
		freeList: make([]uint32, 0, 16),
	}
}

// lookup resolves a handle to its entry. Caller holds mu.
func (t *Table[T]) lookup(h Handle) *entry[T] {
	slot, ok := h.slot()
	if !ok || int(slot) >= len(t.entries) {
		return nil
	}
	e := t.entries[slot]
	if !e.live || e.gen != h.generation() {
		return nil
	}
	return e
}

// Put stores a value and returns its handle.
func (t *Table[T]) Put(value T) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrClosed
	}

	if len(t.freeList) > 0 {
		slot := t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		e := t.entries[slot]
		e.value = value
		e.borrows = 0
		e.live = true
		return join(slot, e.gen), nil
	}

	t.entries = append(t.entries, &entry[T]{value: value, live: true})
	return join(uint32(len(t.entries)-1), 0), nil
}

// Get returns a copy of the value without borrow tracking.
func (t *Table[T]) Get(h Handle) (T, bool) {
	var zero T

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.lookup(h)
	if e == nil {
		return zero, false
	}
	return e.value, true
}

// Take removes the entry and returns its value. The slot's generation is
// bumped so the handle, and every copy of it, becomes stale.
func (t *Table[T]) Take(h Handle) (T, error) {
	var zero T

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return zero, ErrClosed
	}

	e := t.lookup(h)
	if e == nil {
		return zero, ErrNotFound
	}
	if e.borrows != 0 {
		return zero, ErrBusy
	}

	value := e.value
	e.value = zero
	e.live = false
	e.gen++

	slot, _ := h.slot()
	t.freeList = append(t.freeList, slot)

	return value, nil
}

// WithShared runs fn with read access to the value. Shared borrows may
// overlap each other but not an exclusive borrow; the entry cannot be taken
// while any borrow is outstanding. fn must not call back into the table for
// the same handle.
func (t *Table[T]) WithShared(h Handle, fn func(*T) error) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	e := t.lookup(h)
	if e == nil {
		t.mu.Unlock()
		return ErrNotFound
	}
	if e.borrows < 0 {
		t.mu.Unlock()
		return ErrBusy
	}
	e.borrows++
	t.mu.Unlock()

	// the borrow releases even when fn panics
	defer func() {
		t.mu.Lock()
		e.borrows--
		t.mu.Unlock()
	}()

	return fn(&e.value)
}

// WithExclusive runs fn with write access to the value. An exclusive borrow
// overlaps nothing.
func (t *Table[T]) WithExclusive(h Handle, fn func(*T) error) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	e := t.lookup(h)
	if e == nil {
		t.mu.Unlock()
		return ErrNotFound
	}
	if e.borrows != 0 {
		t.mu.Unlock()
		return ErrBusy
	}
	e.borrows = -1
	t.mu.Unlock()

	// the borrow releases even when fn panics
	defer func() {
		t.mu.Lock()
		e.borrows = 0
		t.mu.Unlock()
	}()

	return fn(&e.value)
}

// State reports whether the handle currently resolves and whether its entry
// is under borrow.
func (t *Table[T]) State(h Handle) (live, borrowed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.lookup(h)
	if e == nil {
		return false, false
	}
	return true, e.borrows != 0
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for _, e := range t.entries {
		if e.live {
			count++
		}
	}
	return count
}

// Each iterates over live entries. The table is locked for the duration;
// fn must not call back into the table.
func (t *Table[T]) Each(fn func(Handle, *T) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.entries {
		if e.live {
			if !fn(join(uint32(i), e.gen), &e.value) {
				break
			}
		}
	}
}

// Close drops every live entry, calling onDrop for each, and rejects all
// further operations. Returns the number of entries dropped. Outstanding
// borrows do not block Close; their entries are dropped regardless.
func (t *Table[T]) Close(onDrop func(Handle, T)) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0
	}
	t.closed = true

	var zero T
	dropped := 0
	for i, e := range t.entries {
		if e.live {
			if onDrop != nil {
				onDrop(join(uint32(i), e.gen), e.value)
			}
			e.value = zero
			e.live = false
			e.gen++
			dropped++
		}
	}

	t.entries = nil
	t.freeList = nil
	return dropped
}
