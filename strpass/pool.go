package strpass

import (
	"bytes"
	goerrors "errors"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/guestpass"
	"github.com/wippyai/guestpass/errors"
	"github.com/wippyai/guestpass/internal/table"
	"github.com/wippyai/guestpass/passby"
)

// DefaultMaxStringLen caps string content lifted from or lowered into guest
// memory when PoolConfig does not say otherwise. The limit guards against
// hostile images carrying absurd lengths, not against legitimate use.
const DefaultMaxStringLen uint32 = 16 << 20 // 16 MiB

// PoolConfig configures a Pool. The zero value is usable.
type PoolConfig struct {
	// MaxStringLen caps the byte length of any single string crossing the
	// boundary; 0 means DefaultMaxStringLen.
	MaxStringLen uint32

	// Capacity is the payload table's initial slot count; 0 means a small
	// default.
	Capacity int

	// Observer, when set, receives a notification for every payload
	// created, taken, and freed, using the same event vocabulary as
	// passby.Boxed.
	Observer passby.Observer
}

// payload is one host-held string plus its cached shadow: a guest-memory
// copy of the content, materialized on demand for Content views and freed
// with the entry.
type payload struct {
	value      String
	shadowPtr  uint32
	shadowSize uint32
}

// Pool owns the string payloads behind one guest boundary. Text and Bytes
// content stays host-side; the guest holds 32-byte images whose handle
// words resolve through the pool. Store, Take, and Free are safe to call
// from multiple goroutines, but overlapping host and guest access to the
// same image address is the embedder's coordination problem.
//
// A pool needs a bound Memory before any image operation and additionally
// a bound Allocator before content views can materialize shadows. Bind at
// construction or later through Bind (wazeromem.BindPool does both sides
// from a live instance).
type Pool struct {
	mu    sync.RWMutex
	mem   guestpass.Memory
	alloc guestpass.Allocator

	entries  *table.Table[payload]
	observer passby.Observer
	maxLen   uint32
}

// NewPool creates a pool. mem and alloc may be nil and bound later.
func NewPool(mem guestpass.Memory, alloc guestpass.Allocator, cfg PoolConfig) *Pool {
	maxLen := cfg.MaxStringLen
	if maxLen == 0 {
		maxLen = DefaultMaxStringLen
	}
	return &Pool{
		mem:      mem,
		alloc:    alloc,
		entries:  table.New[payload](cfg.Capacity),
		observer: cfg.Observer,
		maxLen:   maxLen,
	}
}

// Bind attaches the pool to a guest boundary, replacing any previous
// binding. Rebinding while payloads are live abandons their shadows in the
// old instance's memory.
func (p *Pool) Bind(mem guestpass.Memory, alloc guestpass.Allocator) {
	p.mu.Lock()
	p.mem = mem
	p.alloc = alloc
	p.mu.Unlock()
}

// Memory returns the bound guest memory, or nil before Bind.
func (p *Pool) Memory() guestpass.Memory {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mem
}

// boundary returns the bound memory and allocator, or a not_bound error
// when no memory is attached yet.
func (p *Pool) boundary(phase errors.Phase) (guestpass.Memory, guestpass.Allocator, error) {
	p.mu.RLock()
	mem, alloc := p.mem, p.alloc
	p.mu.RUnlock()
	if mem == nil {
		return nil, nil, errors.NotBound(phase, "string pool")
	}
	return mem, alloc, nil
}

func (p *Pool) notify(h guestpass.Handle, t passby.EventType) {
	if p.observer != nil {
		p.observer.OnTransferEvent(passby.Event{Handle: h, Type: t})
	}
}

func kindTag(k StringKind) uint64 {
	if k == KindText {
		return tagText
	}
	return tagBytes
}

// freeShadow releases a payload's cached guest copy, if any.
func (p *Pool) freeShadow(alloc guestpass.Allocator, pay *payload) {
	if pay.shadowPtr != 0 && alloc != nil {
		alloc.Free(pay.shadowPtr, pay.shadowSize, 1)
	}
	pay.shadowPtr, pay.shadowSize = 0, 0
}

// Store encodes s into the image at addr. Absent writes the zero image;
// Text and Bytes move the content into the pool and write its handle. The
// destination is treated as uninitialized: storing over an image that
// still owns a payload leaks that payload, so Take or Free the slot first.
//
// Store is also the return-value path; ReturnVal is the alias for call
// sites returning to the guest.
func (p *Pool) Store(addr uint32, s String) error {
	mem, _, err := p.boundary(errors.PhaseLower)
	if err != nil {
		return err
	}
	if addr == 0 {
		return errors.NilPointer(errors.PhaseLower, "string image")
	}
	if s.IsNull() {
		return zeroImage(mem, addr)
	}
	if uint32(s.Len()) > p.maxLen {
		return errors.TooLarge(errors.PhaseLower, uint32(s.Len()), p.maxLen)
	}

	h, err := p.entries.Put(payload{value: s})
	if err != nil {
		return errors.Wrap(errors.PhaseLower, errors.KindAllocation, err, "string pool closed")
	}
	img := image{tag: kindTag(s.Kind()), handle: guestpass.Handle(h)}
	if err := storeImage(mem, addr, img); err != nil {
		// the guest never saw the handle, take the payload back out
		_, _ = p.entries.Take(h)
		return err
	}
	p.notify(guestpass.Handle(h), passby.EventCreated)
	debugf("stored %s image at 0x%x", s.Kind(), addr)
	return nil
}

// ReturnVal encodes s into the caller-provided result slot at addr. The
// guest becomes responsible for eventually freeing the image.
func (p *Pool) ReturnVal(addr uint32, s String) error {
	return p.Store(addr, s)
}

// ToOutParam writes s into caller-supplied storage. A zero addr means the
// caller passed no destination; the value is dropped without entering the
// pool.
func (p *Pool) ToOutParam(addr uint32, s String) error {
	if addr == 0 {
		return nil
	}
	return p.Store(addr, s)
}

// ToOutParamNonNull is ToOutParam for destinations documented as required;
// a zero addr is a nil_pointer error.
func (p *Pool) ToOutParamNonNull(addr uint32, s String) error {
	if addr == 0 {
		return errors.NilPointer(errors.PhaseLower, "out parameter")
	}
	return p.Store(addr, s)
}

// Take consumes the image at addr and returns ownership of its string.
// Owned tags take the payload out of the pool and release its shadow;
// borrow tags copy the guest span. The slot is zeroed, so a re-read
// observes Absent and a second Take yields Null. A zero addr and the
// absent image both yield Null.
//
// A stale handle in the image (the payload was already consumed through a
// duplicate of this image) is a stale_handle error; the slot is still
// zeroed so subsequent reads observe Absent rather than repeating the
// error.
func (p *Pool) Take(addr uint32) (String, error) {
	mem, alloc, err := p.boundary(errors.PhaseTake)
	if err != nil {
		return Null(), err
	}
	shadows := guestpass.NewAllocationList()
	defer shadows.FreeAndRelease(alloc)
	return p.take(mem, addr, shadows)
}

// take consumes one image, recording any shadow it detaches in shadows.
// The caller frees the batch once its sweep is done.
func (p *Pool) take(mem guestpass.Memory, addr uint32, shadows *guestpass.AllocationList) (String, error) {
	if addr == 0 {
		return Null(), nil
	}
	img, err := loadImage(mem, addr)
	if err != nil {
		return Null(), err
	}

	switch img.tag {
	case tagAbsent:
		return Null(), nil

	case tagText, tagBytes:
		if img.handle == 0 {
			return Null(), errors.InvalidData(errors.PhaseTake, addr, "owned string image with zero handle")
		}
		pay, err := p.entries.Take(table.Handle(img.handle))
		if err != nil {
			return Null(), p.mapEntryErr(errors.PhaseTake, mem, addr, img.handle, err)
		}
		shadows.Add(pay.shadowPtr, pay.shadowSize, 1)
		if err := zeroImage(mem, addr); err != nil {
			return Null(), err
		}
		p.notify(img.handle, passby.EventTaken)
		debugf("took %s image at 0x%x", pay.value.Kind(), addr)
		return pay.value, nil

	default: // tagBorrow
		if img.spanLen > p.maxLen {
			return Null(), errors.TooLarge(errors.PhaseTake, img.spanLen, p.maxLen)
		}
		data, err := mem.Read(img.spanPtr, img.spanLen)
		if err != nil {
			return Null(), errors.OutOfBounds(errors.PhaseTake, img.spanPtr, img.spanLen, err)
		}
		s := FromBytes(data)
		if err := zeroImage(mem, addr); err != nil {
			return Null(), err
		}
		return s, nil
	}
}

// TakeNonNull is Take for arguments documented as required; a zero addr is
// a nil_pointer error. The absent image still yields Null: non-null here
// constrains the pointer, not the variant.
func (p *Pool) TakeNonNull(addr uint32) (String, error) {
	if addr == 0 {
		return Null(), errors.NilPointer(errors.PhaseTake, "string image")
	}
	return p.Take(addr)
}

// TakeAll takes every address before reporting any error, so a function
// documented as consuming several string arguments cannot leak the later
// ones by failing on an earlier one. Failed positions hold Null; the
// returned error joins every per-address failure. Detached shadows are
// released as one batch after the sweep.
func (p *Pool) TakeAll(addrs ...uint32) ([]String, error) {
	out := make([]String, len(addrs))
	mem, alloc, err := p.boundary(errors.PhaseTake)
	if err != nil {
		return out, err
	}
	shadows := guestpass.NewAllocationList()
	defer shadows.FreeAndRelease(alloc)

	var merr error
	for i, addr := range addrs {
		s, err := p.take(mem, addr, shadows)
		if err != nil {
			merr = multierr.Append(merr, err)
			continue
		}
		out[i] = s
	}
	return out, merr
}

// mapEntryErr translates table errors on an image's handle. Stale entries
// zero the slot first: the payload is gone either way, and leaving the
// dead image in place would just repeat the error on the next read.
func (p *Pool) mapEntryErr(phase errors.Phase, mem guestpass.Memory, addr uint32, h guestpass.Handle, err error) error {
	switch {
	case goerrors.Is(err, table.ErrBusy):
		return errors.Busy(phase, uint64(h))
	case goerrors.Is(err, table.ErrClosed):
		return errors.New(phase, errors.KindStaleHandle).
			Addr(addr).
			Handle(uint64(h)).
			Cause(err).
			Detail("string pool closed, all payloads dropped").
			Build()
	default:
		_ = zeroImage(mem, addr)
		return errors.New(phase, errors.KindStaleHandle).
			Addr(addr).
			Handle(uint64(h)).
			Detail("string payload already consumed").
			Build()
	}
}

// WithRef borrows the string at addr for the duration of fn without
// consuming it. fn receives a detached view: kind upgrades and other
// mutations affect the view only and do not write back. A zero addr and
// the absent image hand fn the Null view.
func (p *Pool) WithRef(addr uint32, fn func(*String) error) error {
	mem, _, err := p.boundary(errors.PhaseBorrow)
	if err != nil {
		return err
	}
	if addr == 0 {
		view := Null()
		return fn(&view)
	}
	img, err := loadImage(mem, addr)
	if err != nil {
		return err
	}

	switch img.tag {
	case tagAbsent:
		view := Null()
		return fn(&view)

	case tagText, tagBytes:
		if img.handle == 0 {
			return errors.InvalidData(errors.PhaseBorrow, addr, "owned string image with zero handle")
		}
		err := p.entries.WithShared(table.Handle(img.handle), func(pay *payload) error {
			view := pay.value
			return fn(&view)
		})
		return stalePayload(errors.PhaseBorrow, addr, img.handle, err)

	default: // tagBorrow
		if img.spanLen > p.maxLen {
			return errors.TooLarge(errors.PhaseBorrow, img.spanLen, p.maxLen)
		}
		data, err := mem.Read(img.spanPtr, img.spanLen)
		if err != nil {
			return errors.OutOfBounds(errors.PhaseBorrow, img.spanPtr, img.spanLen, err)
		}
		view := FromBytes(data)
		return fn(&view)
	}
}

func isEntryErr(err error) bool {
	return goerrors.Is(err, table.ErrNotFound) ||
		goerrors.Is(err, table.ErrBusy) ||
		goerrors.Is(err, table.ErrClosed)
}

// stalePayload converts table borrow failures into stale_handle
// diagnostics and passes every other error through unchanged.
func stalePayload(phase errors.Phase, addr uint32, h guestpass.Handle, err error) error {
	if err == nil || !isEntryErr(err) {
		return err
	}
	return errors.New(phase, errors.KindStaleHandle).
		Addr(addr).
		Handle(uint64(h)).
		Cause(err).
		Detail("string payload not live").
		Build()
}

// WithRefMut borrows the string at addr exclusively; mutations persist.
// Replacing the value re-stores the image: a new owned value frees nothing
// (the payload slot is rewritten in place for owned tags, a borrow image
// becomes owned), and replacing with Null releases the payload and leaves
// the absent image. A zero addr hands fn a scratch Null value that is
// discarded.
func (p *Pool) WithRefMut(addr uint32, fn func(*String) error) error {
	mem, alloc, err := p.boundary(errors.PhaseBorrow)
	if err != nil {
		return err
	}
	if addr == 0 {
		scratch := Null()
		return fn(&scratch)
	}
	img, err := loadImage(mem, addr)
	if err != nil {
		return err
	}

	switch img.tag {
	case tagAbsent:
		// An absent slot may be filled in place.
		v := Null()
		if err := fn(&v); err != nil {
			return err
		}
		if v.IsNull() {
			return nil
		}
		return p.Store(addr, v)

	case tagText, tagBytes:
		if img.handle == 0 {
			return errors.InvalidData(errors.PhaseBorrow, addr, "owned string image with zero handle")
		}
		var after StringKind
		err := p.entries.WithExclusive(table.Handle(img.handle), func(pay *payload) error {
			ferr := fn(&pay.value)
			// content may have changed; the cached guest copy is stale
			p.freeShadow(alloc, pay)
			after = pay.value.Kind()
			return ferr
		})
		if err != nil {
			return stalePayload(errors.PhaseBorrow, addr, img.handle, err)
		}
		switch {
		case after == KindNull:
			// fn released the string; drop the payload and the image
			if _, err := p.entries.Take(table.Handle(img.handle)); err == nil {
				p.notify(img.handle, passby.EventFreed)
			}
			return zeroImage(mem, addr)
		case kindTag(after) != img.tag:
			// keep the image tag honest after an in-place kind change
			return storeImage(mem, addr, image{tag: kindTag(after), handle: img.handle})
		default:
			return nil
		}

	default: // tagBorrow
		if img.spanLen > p.maxLen {
			return errors.TooLarge(errors.PhaseBorrow, img.spanLen, p.maxLen)
		}
		data, err := mem.Read(img.spanPtr, img.spanLen)
		if err != nil {
			return errors.OutOfBounds(errors.PhaseBorrow, img.spanPtr, img.spanLen, err)
		}
		before := make([]byte, len(data))
		copy(before, data)
		v := FromBytes(before)
		if err := fn(&v); err != nil {
			return err
		}
		if v.IsNull() {
			return zeroImage(mem, addr)
		}
		if bytes.Equal(v.AsBytes(), before) {
			// content unchanged; the guest keeps owning the span
			return nil
		}
		return p.Store(addr, v)
	}
}

// Free destroys the string at addr. A zero addr and the absent image are
// no-ops; owned tags release the payload and its shadow; borrow tags never
// touch the guest allocator, since the span belongs to the guest. All
// paths leave the slot zeroed, so a second Free of the same image is a
// defined no-op rather than a double release.
func (p *Pool) Free(addr uint32) error {
	mem, alloc, err := p.boundary(errors.PhaseFree)
	if err != nil {
		return err
	}
	if addr == 0 {
		return nil
	}
	img, err := loadImage(mem, addr)
	if err != nil {
		return err
	}

	switch img.tag {
	case tagAbsent:
		return zeroImage(mem, addr)

	case tagText, tagBytes:
		if img.handle == 0 {
			return errors.InvalidData(errors.PhaseFree, addr, "owned string image with zero handle")
		}
		pay, err := p.entries.Take(table.Handle(img.handle))
		if err != nil {
			return p.mapEntryErr(errors.PhaseFree, mem, addr, img.handle, err)
		}
		p.freeShadow(alloc, &pay)
		if err := zeroImage(mem, addr); err != nil {
			return err
		}
		p.notify(img.handle, passby.EventFreed)
		debugf("freed %s image at 0x%x", pay.value.Kind(), addr)
		return nil

	default: // tagBorrow
		return zeroImage(mem, addr)
	}
}

// State reports the ownership state of the image at addr. The absent
// image, a zero addr, and a stale handle all read as the invalidated
// state; owned payloads read held or borrowed; borrow spans read
// caller-owned.
func (p *Pool) State(addr uint32) (guestpass.Ownership, error) {
	mem, _, err := p.boundary(errors.PhaseBorrow)
	if err != nil {
		return guestpass.OwnershipInvalid, err
	}
	if addr == 0 {
		return guestpass.OwnershipInvalid, nil
	}
	img, err := loadImage(mem, addr)
	if err != nil {
		return guestpass.OwnershipInvalid, err
	}

	switch img.tag {
	case tagAbsent:
		return guestpass.OwnershipInvalid, nil
	case tagText, tagBytes:
		live, borrowed := p.entries.State(table.Handle(img.handle))
		switch {
		case !live:
			return guestpass.OwnershipInvalid, nil
		case borrowed:
			return guestpass.OwnershipBorrowed, nil
		default:
			return guestpass.OwnershipHeld, nil
		}
	default:
		return guestpass.OwnershipCaller, nil
	}
}

// Len returns the number of live payloads. After balanced stores and
// takes it is zero; a non-zero count at teardown means images the guest
// was responsible for freeing are still outstanding.
func (p *Pool) Len() int {
	return p.entries.Len()
}

// Close drops every remaining payload, releases shadows, and returns how
// many payloads leaked. Further pool operations fail. Leaks are reported
// through the observer and the package logger.
func (p *Pool) Close() int {
	p.mu.RLock()
	alloc := p.alloc
	p.mu.RUnlock()

	// the drop sweep runs under the table lock; shadow frees are guest
	// calls, so they are collected and released after
	shadows := guestpass.NewAllocationList()
	leaked := p.entries.Close(func(h table.Handle, pay payload) {
		shadows.Add(pay.shadowPtr, pay.shadowSize, 1)
		p.notify(guestpass.Handle(h), passby.EventFreed)
	})
	if released := shadows.FreeAndRelease(alloc); released > 0 {
		debugf("released %d shadow allocations on close", released)
	}
	if leaked > 0 {
		Logger().Warn("string pool closed with live payloads",
			zap.Int("leaked", leaked))
	}
	return leaked
}
