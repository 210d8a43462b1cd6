// Package strpass moves optional, possibly-invalid-UTF-8 strings across
// the guest boundary without ever copying them through an unvalidated
// `string` conversion.
//
// A String on the host side is one of three variants: Null (no string),
// Text (owned content known to be valid UTF-8), or Bytes (owned content of
// unknown encoding). In guest memory a string is a fixed 32-byte opaque
// image whose tag word selects between absent, owned content held behind a
// pool handle, and a borrowed guest-owned span. The all-zero image is the
// absent variant, so zero-initialized guest storage is already valid and
// every consuming operation can invalidate by zeroing.
//
// # Pool
//
// A Pool owns the payloads behind one guest instance's images:
//
//	pool := strpass.NewPool(mem, alloc, strpass.PoolConfig{})
//
//	// host -> guest: move a value into a guest image slot
//	err := pool.Store(slot, strpass.FromString("raw umber"))
//
//	// guest -> host: consume the image, leaving the absent sentinel
//	s, err := pool.Take(slot)
//	if text, ok := s.AsString(); ok {
//	    use(text)
//	}
//
// Take zeroes the slot, so taking the same image twice yields Null rather
// than the prior content, and a forged or duplicated image fails on its
// stale handle instead of resolving someone else's payload.
//
// # Borrowed Spans
//
// Borrow references a NUL-terminated span the guest owns, copying nothing:
//
//	err := pool.Borrow(slot, cstrPtr)
//
// Consuming a borrowed image copies the span into host memory at that
// point; freeing one never touches the guest allocator.
//
// # Content Views
//
// Content and ContentWithLen expose a string's bytes back to the guest.
// Owned payloads materialize a shadow copy in guest memory, cached on the
// payload and released with it:
//
//	ptr, err := pool.Content(slot)          // NUL-terminated, 0 if not representable
//	ptr, n, err := pool.ContentWithLen(slot) // any content, length excludes NUL
//
// # Validation
//
// Construction never fails and never drops data. FromBytes accepts
// arbitrary content; AsString validates on demand and upgrades a Bytes
// value in place once it proves valid, so validation cost is paid at most
// once per payload.
package strpass
