// Package guestpass provides ownership-transfer primitives for values crossing
// the boundary between a Go host and a WebAssembly guest.
//
// The two sides of the boundary use different memory managers: the host's
// values live in the Go heap, the guest's in its linear memory, carved up by
// the guest's own exported allocator. Every value that crosses must therefore
// answer three questions explicitly: who owns the storage, who may free it,
// and what a stale reference observes afterwards. This library answers them
// with a small set of composable primitives instead of ad hoc per-function
// glue.
//
// # Architecture Overview
//
// The library is organized into packages by ownership discipline:
//
//	guestpass/           Root package with Memory and Allocator interfaces
//	├── passby/          Pass-by-value, host-owned (boxed), guest-owned (unboxed)
//	├── strpass/         Optional-string values with text/bytes tagging
//	├── hostapi/         String operations exported to guests as host functions
//	├── witlayout/       Canonical ABI size and alignment for WIT types
//	├── wazeromem/       wazero adapters for Memory and Allocator
//	└── errors/          Structured error types for debugging
//
// # Ownership Disciplines
//
// Three disciplines cover every transfer pattern:
//
//   - passby.Value: fixed-layout copyable values. Decoding never consumes,
//     encoding never allocates. For anything that owns no storage of its own.
//   - passby.Boxed: values allocated and freed by the host. The guest holds
//     only an opaque handle; a generation tag makes stale handles detectable.
//   - passby.Unboxed: values living in guest-supplied storage (stack slots,
//     embedded struct fields). The host reads and writes through the address
//     but never allocates or frees it.
//
// strpass layers the string state machine on top: a string image in guest
// memory is tagged absent, owned text, owned bytes, or a borrowed span, and
// every transfer leaves the all-zero absent image behind as a sentinel.
//
// # Quick Start
//
// Bind a pool to an instantiated guest and move a string across:
//
//	pool := strpass.NewPool(nil, nil, strpass.PoolConfig{})
//	if err := wazeromem.BindPool(ctx, pool, mod); err != nil {
//	    log.Fatal(err)
//	}
//
//	slot := allocImage(ctx, mod)          // 32 bytes, 8-aligned, in guest memory
//	_ = pool.Store(slot, strpass.FromString("raw umber"))
//
//	s, _ := pool.Take(slot)               // ownership moves to the host
//	text, _ := s.AsString()               // "raw umber"
//	// the slot now reads as absent; a second Take or Free is a no-op
//
// # Use-After-Free Defense
//
// Taking ownership overwrites the source with a well-defined empty state: a
// zeroed image for values in guest memory, a bumped generation for host-side
// handles. A stale read observes "absent" instead of freed memory, and a stale
// free or take reports a structured error instead of corrupting. Stray writes
// through stale addresses remain the guest's contract violation; no sentinel
// can intercept those.
//
// # Thread Safety
//
// Handle tables and string pools serialize create, take, and free internally,
// so those may be called from any goroutine. The values seen through borrows
// get no synchronization beyond the shared/exclusive split of WithRef and
// WithRefMut; coordinating overlapping access to one value, and any guest
// code touching the same linear memory concurrently, is the embedder's
// responsibility.
//
// # Memory Model
//
// Guest linear memory only grows. Freed allocations return to the guest
// allocator for reuse but are never released to the OS; long-lived embedders
// should recycle instances rather than expect shrinkage.
package guestpass
