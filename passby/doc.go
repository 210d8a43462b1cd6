// Package passby implements the three value-passing disciplines for
// crossing the host/guest boundary: Value for plain by-copy structs,
// Boxed for host-owned values exposed to the guest as opaque handles, and
// Unboxed for values whose bytes live inline in guest memory but still
// transfer ownership on take.
//
// All three share the Codec abstraction for encoding values into guest
// images, and all three enforce the same convention for optional
// pointers: address 0 and handle 0 mean "absent" and are handled without
// touching memory.
package passby
