package passby

import (
	goerrors "errors"

	"go.uber.org/zap"

	"github.com/wippyai/guestpass"
	"github.com/wippyai/guestpass/errors"
	"github.com/wippyai/guestpass/internal/table"
)

// Event types for ownership lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventTaken
	EventFreed
	EventBorrowed
	EventBorrowReturned
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventTaken:
		return "taken"
	case EventFreed:
		return "freed"
	case EventBorrowed:
		return "borrowed"
	case EventBorrowReturned:
		return "borrow_returned"
	default:
		return "unknown"
	}
}

// Event represents an ownership lifecycle event on a boxed value.
type Event struct {
	Handle guestpass.Handle
	Type   EventType
}

// Observer receives notifications about ownership lifecycle events.
type Observer interface {
	OnTransferEvent(Event)
}

// TableConfig configures a Boxed discipline. The zero value is usable.
type TableConfig struct {
	// Capacity is the initial slot count; 0 means a small default.
	Capacity int

	// Observer, when set, receives a notification for every create, take,
	// free, and borrow on the table.
	Observer Observer
}

// Boxed owns values on the host side and exposes them to the guest as
// opaque handles. The guest never sees the value's bytes; it holds the
// handle and passes it back into operations. Create, Take, and Free are
// safe to call from multiple goroutines; the values seen through borrows
// get no synchronization beyond the shared/exclusive distinction.
type Boxed[T any] struct {
	table    *table.Table[T]
	observer Observer
}

// NewBoxed builds a callee-owned discipline with its own handle table.
func NewBoxed[T any](cfg TableConfig) *Boxed[T] {
	return &Boxed[T]{
		table:    table.New[T](cfg.Capacity),
		observer: cfg.Observer,
	}
}

func (b *Boxed[T]) notify(h guestpass.Handle, t EventType) {
	if b.observer != nil {
		b.observer.OnTransferEvent(Event{Handle: h, Type: t})
	}
}

func isTableErr(err error) bool {
	return goerrors.Is(err, table.ErrNotFound) ||
		goerrors.Is(err, table.ErrBusy) ||
		goerrors.Is(err, table.ErrClosed)
}

func mapTableErr(phase errors.Phase, h guestpass.Handle, err error) error {
	switch {
	case goerrors.Is(err, table.ErrBusy):
		return errors.Busy(phase, uint64(h))
	case goerrors.Is(err, table.ErrClosed):
		return errors.New(phase, errors.KindStaleHandle).
			Handle(uint64(h)).
			Cause(err).
			Detail("table closed, all values dropped").
			Build()
	default:
		return errors.StaleHandle(phase, uint64(h))
	}
}

// New moves v into host-side storage and returns the opaque handle the
// guest will hold. This is also the return-value path: hand the handle to
// the guest and the guest becomes responsible for eventually freeing it.
func (b *Boxed[T]) New(v T) (guestpass.Handle, error) {
	h, err := b.table.Put(v)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseLower, errors.KindAllocation, err, "handle table closed")
	}
	b.notify(guestpass.Handle(h), EventCreated)
	return guestpass.Handle(h), nil
}

// Free destroys the value behind h. Freeing handle 0 is a no-op, matching
// the C convention for free(NULL). A stale or already-freed handle is a
// stale_handle error: the generation tag turns double free into a detected
// condition instead of corruption.
func (b *Boxed[T]) Free(h guestpass.Handle) error {
	if h == 0 {
		return nil
	}
	if _, err := b.table.Take(table.Handle(h)); err != nil {
		return mapTableErr(errors.PhaseFree, h, err)
	}
	b.notify(h, EventFreed)
	return nil
}

// Take consumes the handle and returns ownership of the value to the
// caller. The slot is invalidated, so any copy of h the guest kept is
// detectably stale afterwards. Handle 0 yields the zero value.
func (b *Boxed[T]) Take(h guestpass.Handle) (T, error) {
	var zero T
	if h == 0 {
		return zero, nil
	}
	v, err := b.table.Take(table.Handle(h))
	if err != nil {
		return zero, mapTableErr(errors.PhaseTake, h, err)
	}
	b.notify(h, EventTaken)
	return v, nil
}

// TakeNonNull is Take for handles documented as required; handle 0 is a
// nil_pointer error.
func (b *Boxed[T]) TakeNonNull(h guestpass.Handle) (T, error) {
	var zero T
	if h == 0 {
		return zero, errors.NilPointer(errors.PhaseTake, "handle")
	}
	return b.Take(h)
}

// WithRef borrows the value behind h for the duration of fn. Shared
// borrows may overlap each other but exclude Free and Take. Handle 0 calls
// fn with a zero value. Treat the pointer as read-only; use WithRefMut
// when fn mutates.
func (b *Boxed[T]) WithRef(h guestpass.Handle, fn func(*T) error) error {
	if h == 0 {
		var zero T
		return fn(&zero)
	}
	err := b.table.WithShared(table.Handle(h), func(v *T) error {
		b.notify(h, EventBorrowed)
		defer b.notify(h, EventBorrowReturned)
		return fn(v)
	})
	if err != nil && isTableErr(err) {
		return mapTableErr(errors.PhaseBorrow, h, err)
	}
	return err
}

// WithRefNonNull is WithRef with handle 0 rejected as nil_pointer.
func (b *Boxed[T]) WithRefNonNull(h guestpass.Handle, fn func(*T) error) error {
	if h == 0 {
		return errors.NilPointer(errors.PhaseBorrow, "handle")
	}
	return b.WithRef(h, fn)
}

// WithRefMut borrows the value exclusively; mutations through the pointer
// persist in the table. Handle 0 calls fn with a scratch zero value that is
// discarded afterwards.
func (b *Boxed[T]) WithRefMut(h guestpass.Handle, fn func(*T) error) error {
	if h == 0 {
		var zero T
		return fn(&zero)
	}
	err := b.table.WithExclusive(table.Handle(h), func(v *T) error {
		b.notify(h, EventBorrowed)
		defer b.notify(h, EventBorrowReturned)
		return fn(v)
	})
	if err != nil && isTableErr(err) {
		return mapTableErr(errors.PhaseBorrow, h, err)
	}
	return err
}

// WithRefMutNonNull is WithRefMut with handle 0 rejected as nil_pointer.
func (b *Boxed[T]) WithRefMutNonNull(h guestpass.Handle, fn func(*T) error) error {
	if h == 0 {
		return errors.NilPointer(errors.PhaseBorrow, "handle")
	}
	return b.WithRefMut(h, fn)
}

// ToOutParam moves v into the table and writes the new handle as a u64 at
// addr. A zero addr means the caller passed no destination: the value is
// dropped without ever entering the table.
func (b *Boxed[T]) ToOutParam(mem guestpass.Memory, addr uint32, v T) error {
	if addr == 0 {
		return nil
	}
	h, err := b.New(v)
	if err != nil {
		return err
	}
	if err := mem.WriteU64(addr, uint64(h)); err != nil {
		// the guest never saw the handle, take the value back out
		_ = b.Free(h)
		return errors.OutOfBounds(errors.PhaseLower, addr, 8, err)
	}
	return nil
}

// ToOutParamNonNull is ToOutParam with addr 0 rejected as nil_pointer.
func (b *Boxed[T]) ToOutParamNonNull(mem guestpass.Memory, addr uint32, v T) error {
	if addr == 0 {
		return errors.NilPointer(errors.PhaseLower, "out parameter")
	}
	return b.ToOutParam(mem, addr, v)
}

// TakeSlot reads the u64 handle stored at addr, takes it, and zeroes the
// slot so a stale re-read observes handle 0. A zero addr yields the zero
// value.
func (b *Boxed[T]) TakeSlot(mem guestpass.Memory, addr uint32) (T, error) {
	var zero T
	if addr == 0 {
		return zero, nil
	}
	h, err := mem.ReadU64(addr)
	if err != nil {
		return zero, errors.OutOfBounds(errors.PhaseTake, addr, 8, err)
	}
	v, err := b.Take(guestpass.Handle(h))
	if err != nil {
		return zero, err
	}
	if err := mem.WriteU64(addr, 0); err != nil {
		return zero, errors.OutOfBounds(errors.PhaseTake, addr, 8, err)
	}
	return v, nil
}

// State reports the ownership state of the handle.
func (b *Boxed[T]) State(h guestpass.Handle) guestpass.Ownership {
	if h == 0 {
		return guestpass.OwnershipInvalid
	}
	live, borrowed := b.table.State(table.Handle(h))
	switch {
	case !live:
		return guestpass.OwnershipInvalid
	case borrowed:
		return guestpass.OwnershipBorrowed
	default:
		return guestpass.OwnershipHeld
	}
}

// Len returns the number of live values.
func (b *Boxed[T]) Len() int {
	return b.table.Len()
}

// Close drops every remaining value and returns how many there were. A
// non-zero count means guests leaked handles they were responsible for
// freeing; each leak is reported through the observer as a freed event.
func (b *Boxed[T]) Close() int {
	leaked := b.table.Close(func(h table.Handle, _ T) {
		b.notify(guestpass.Handle(h), EventFreed)
	})
	if leaked > 0 {
		Logger().Warn("handle table closed with live values",
			zap.Int("leaked", leaked))
	}
	return leaked
}
