package strpass

import (
	"bytes"

	"github.com/wippyai/guestpass"
	"github.com/wippyai/guestpass/errors"
	"github.com/wippyai/guestpass/internal/table"
)

// InitNull writes the absent image into addr. This is the only valid way
// to initialize an image slot the guest did not zero itself.
func (p *Pool) InitNull(addr uint32) error {
	mem, _, err := p.boundary(errors.PhaseLower)
	if err != nil {
		return err
	}
	if addr == 0 {
		return errors.NilPointer(errors.PhaseLower, "string image")
	}
	return zeroImage(mem, addr)
}

// Borrow writes a borrowed-span image at addr referencing the
// NUL-terminated guest string at ptr. Nothing is copied; the guest keeps
// owning the span and must keep it valid and unchanged until the image is
// consumed or freed. A zero ptr writes the absent image.
//
// The span is scanned for its NUL terminator, so an unterminated string
// runs into the pool's length limit or the end of memory and fails rather
// than producing an unbounded span.
func (p *Pool) Borrow(addr, ptr uint32) error {
	mem, _, err := p.boundary(errors.PhaseLift)
	if err != nil {
		return err
	}
	if addr == 0 {
		return errors.NilPointer(errors.PhaseLift, "string image")
	}
	if ptr == 0 {
		return zeroImage(mem, addr)
	}
	length, err := scanNul(mem, ptr, p.maxLen)
	if err != nil {
		return err
	}
	return storeImage(mem, addr, image{tag: tagBorrow, spanPtr: ptr, spanLen: length})
}

// scanNul returns the number of bytes at ptr before the first NUL. The
// scan reads in chunks and falls back to single bytes near the end of
// memory, so a terminator in the last page is still found.
func scanNul(mem guestpass.Memory, ptr, limit uint32) (uint32, error) {
	const chunk = 256

	var length uint32
	for length < limit {
		want := uint32(chunk)
		if length+want > limit {
			want = limit - length
		}
		data, err := mem.Read(ptr+length, want)
		if err != nil {
			b, err1 := mem.ReadU8(ptr + length)
			if err1 != nil {
				return 0, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
					Addr(ptr).
					Cause(err1).
					Detail("no NUL terminator before end of memory").
					Build()
			}
			if b == 0 {
				return length, nil
			}
			length++
			continue
		}
		if i := bytes.IndexByte(data, 0); i >= 0 {
			return length + uint32(i), nil
		}
		length += want
	}
	return 0, errors.New(errors.PhaseLift, errors.KindTooLarge).
		Addr(ptr).
		Detail("no NUL terminator within %d bytes", limit).
		Build()
}

// Clone deep-copies the image at src into dst. Whatever the source holds,
// including a borrowed span, dst ends up with an independently owned image;
// the source is left untouched. A zero src reads as Null and writes the
// absent image. As with Store, dst is treated as uninitialized.
func (p *Pool) Clone(dst, src uint32) error {
	mem, _, err := p.boundary(errors.PhaseLift)
	if err != nil {
		return err
	}
	if dst == 0 {
		return errors.NilPointer(errors.PhaseLower, "string image")
	}
	if src == 0 {
		return zeroImage(mem, dst)
	}
	img, err := loadImage(mem, src)
	if err != nil {
		return err
	}

	switch img.tag {
	case tagAbsent:
		return zeroImage(mem, dst)

	case tagText, tagBytes:
		if img.handle == 0 {
			return errors.InvalidData(errors.PhaseLift, src, "owned string image with zero handle")
		}
		var c String
		err := p.entries.WithShared(table.Handle(img.handle), func(pay *payload) error {
			switch pay.value.kind {
			case KindText:
				c = String{kind: KindText, text: pay.value.text}
			case KindBytes:
				c = FromBytes(pay.value.bytes)
			}
			return nil
		})
		if err != nil {
			return stalePayload(errors.PhaseLift, src, img.handle, err)
		}
		return p.Store(dst, c)

	default: // tagBorrow
		if img.spanLen > p.maxLen {
			return errors.TooLarge(errors.PhaseLift, img.spanLen, p.maxLen)
		}
		data, err := mem.Read(img.spanPtr, img.spanLen)
		if err != nil {
			return errors.OutOfBounds(errors.PhaseLift, img.spanPtr, img.spanLen, err)
		}
		return p.Store(dst, FromBytes(data))
	}
}

// CloneWithLen copies length bytes of guest memory at ptr into an owned
// Bytes image at dst. Embedded NULs and invalid UTF-8 are preserved
// exactly; validation happens only when a text view is later requested.
// ptr must not be zero, unlike Borrow, since a length without storage is
// meaningless.
func (p *Pool) CloneWithLen(dst, ptr, length uint32) error {
	mem, _, err := p.boundary(errors.PhaseLift)
	if err != nil {
		return err
	}
	if dst == 0 {
		return errors.NilPointer(errors.PhaseLower, "string image")
	}
	if ptr == 0 {
		return errors.NilPointer(errors.PhaseLift, "string content")
	}
	if length > p.maxLen {
		return errors.TooLarge(errors.PhaseLift, length, p.maxLen)
	}
	data, err := mem.Read(ptr, length)
	if err != nil {
		return errors.OutOfBounds(errors.PhaseLift, ptr, length, err)
	}
	return p.Store(dst, FromBytes(data))
}

// Content returns a pointer to a NUL-terminated guest copy of the string's
// content, for handing to code that expects C strings. Borrowed spans
// return their own address. Owned payloads materialize a shadow copy of
// content plus terminator in guest memory, cached on the payload and freed
// with it, so the returned pointer stays valid until the image is taken,
// freed, or mutated.
//
// Content that cannot be represented NUL-terminated returns 0 instead of
// an error. That covers the Null variant, a zero addr, payloads with an
// embedded NUL, and borrowed spans whose terminator is missing.
func (p *Pool) Content(addr uint32) (uint32, error) {
	mem, alloc, err := p.boundary(errors.PhaseBorrow)
	if err != nil {
		return 0, err
	}
	if addr == 0 {
		return 0, nil
	}
	img, err := loadImage(mem, addr)
	if err != nil {
		return 0, err
	}

	switch img.tag {
	case tagAbsent:
		return 0, nil

	case tagText, tagBytes:
		if img.handle == 0 {
			return 0, errors.InvalidData(errors.PhaseBorrow, addr, "owned string image with zero handle")
		}
		var result uint32
		err := p.entries.WithExclusive(table.Handle(img.handle), func(pay *payload) error {
			if bytes.IndexByte(pay.value.AsBytes(), 0) >= 0 {
				return nil
			}
			ptr, _, err := p.materializeShadow(mem, alloc, pay)
			if err != nil {
				return err
			}
			result = ptr
			return nil
		})
		if err != nil {
			return 0, stalePayload(errors.PhaseBorrow, addr, img.handle, err)
		}
		return result, nil

	default: // tagBorrow
		end := uint64(img.spanPtr) + uint64(img.spanLen)
		if end >= 1<<32 {
			return 0, nil
		}
		b, err := mem.ReadU8(uint32(end))
		if err != nil || b != 0 {
			return 0, nil
		}
		return img.spanPtr, nil
	}
}

// ContentWithLen returns the address and byte length of the string's
// content in guest memory. Unlike Content it represents any content,
// embedded NULs and invalid UTF-8 included. The Null variant and a zero
// addr return (0, 0). Owned payloads share the same shadow copy Content
// uses; the length excludes the shadow's trailing NUL.
func (p *Pool) ContentWithLen(addr uint32) (uint32, uint32, error) {
	mem, alloc, err := p.boundary(errors.PhaseBorrow)
	if err != nil {
		return 0, 0, err
	}
	if addr == 0 {
		return 0, 0, nil
	}
	img, err := loadImage(mem, addr)
	if err != nil {
		return 0, 0, err
	}

	switch img.tag {
	case tagAbsent:
		return 0, 0, nil

	case tagText, tagBytes:
		if img.handle == 0 {
			return 0, 0, errors.InvalidData(errors.PhaseBorrow, addr, "owned string image with zero handle")
		}
		var ptr, length uint32
		err := p.entries.WithExclusive(table.Handle(img.handle), func(pay *payload) error {
			var err error
			ptr, length, err = p.materializeShadow(mem, alloc, pay)
			return err
		})
		if err != nil {
			return 0, 0, stalePayload(errors.PhaseBorrow, addr, img.handle, err)
		}
		return ptr, length, nil

	default: // tagBorrow
		return img.spanPtr, img.spanLen, nil
	}
}

// materializeShadow ensures the payload has a guest-memory copy of its
// content followed by a NUL terminator, allocating one if needed. Returns
// the copy's address and content length. Caller holds the payload's
// exclusive borrow.
func (p *Pool) materializeShadow(mem guestpass.Memory, alloc guestpass.Allocator, pay *payload) (uint32, uint32, error) {
	content := pay.value.AsBytes()
	if pay.shadowPtr != 0 {
		return pay.shadowPtr, uint32(len(content)), nil
	}
	if alloc == nil {
		return 0, 0, errors.NotBound(errors.PhaseAlloc, "guest allocator")
	}

	size := uint32(len(content)) + 1
	ptr, err := alloc.Alloc(size, 1)
	if err != nil {
		return 0, 0, errors.AllocationFailed(errors.PhaseAlloc, size, 1, err)
	}
	if ptr == 0 {
		return 0, 0, errors.AllocationFailed(errors.PhaseAlloc, size, 1, nil)
	}
	buf := make([]byte, size)
	copy(buf, content)
	if err := mem.Write(ptr, buf); err != nil {
		alloc.Free(ptr, size, 1)
		return 0, 0, errors.OutOfBounds(errors.PhaseLower, ptr, size, err)
	}
	pay.shadowPtr, pay.shadowSize = ptr, size
	debugf("materialized %d byte shadow at 0x%x", size, ptr)
	return ptr, uint32(len(content)), nil
}

// IsNull reports whether the image at addr holds the Null variant. A zero
// addr counts as null. The check inspects the variant tag only; an owned
// image whose payload was already consumed still reports non-null.
func (p *Pool) IsNull(addr uint32) (bool, error) {
	mem, _, err := p.boundary(errors.PhaseBorrow)
	if err != nil {
		return false, err
	}
	if addr == 0 {
		return true, nil
	}
	img, err := loadImage(mem, addr)
	if err != nil {
		return false, err
	}
	return img.tag == tagAbsent, nil
}
