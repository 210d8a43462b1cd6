package strpass

import (
	"github.com/wippyai/guestpass"
	"github.com/wippyai/guestpass/errors"
)

// A string lives in guest memory as a fixed-size opaque image of four
// little-endian u64 words. The guest never inspects the words; it passes
// the image's address back into pool operations.
//
//	word 0  tag
//	word 1  payload handle (owned tags) or span address (borrow tag)
//	word 2  span length in bytes (borrow tag), otherwise 0
//	word 3  reserved, 0
//
// The all-zero image is the absent tag, so zeroing a slot both initializes
// it and serves as the invalidation sentinel after ownership transfer.
const (
	ImageSize  uint32 = 32
	ImageAlign uint32 = 8
)

const (
	tagAbsent uint64 = 0
	tagText   uint64 = 1
	tagBytes  uint64 = 2
	tagBorrow uint64 = 3
)

// image is the decoded form of a guest string image.
type image struct {
	tag     uint64
	handle  guestpass.Handle
	spanPtr uint32
	spanLen uint32
}

func loadImage(mem guestpass.Memory, addr uint32) (image, error) {
	var img image

	tag, err := mem.ReadU64(addr)
	if err != nil {
		return img, errors.OutOfBounds(errors.PhaseLift, addr, ImageSize, err)
	}
	img.tag = tag

	switch tag {
	case tagAbsent:
		return img, nil
	case tagText, tagBytes:
		w1, err := mem.ReadU64(addr + 8)
		if err != nil {
			return img, errors.OutOfBounds(errors.PhaseLift, addr, ImageSize, err)
		}
		img.handle = guestpass.Handle(w1)
		return img, nil
	case tagBorrow:
		w1, err := mem.ReadU64(addr + 8)
		if err != nil {
			return img, errors.OutOfBounds(errors.PhaseLift, addr, ImageSize, err)
		}
		w2, err := mem.ReadU64(addr + 16)
		if err != nil {
			return img, errors.OutOfBounds(errors.PhaseLift, addr, ImageSize, err)
		}
		img.spanPtr = uint32(w1)
		img.spanLen = uint32(w2)
		return img, nil
	default:
		return img, errors.InvalidData(errors.PhaseLift, addr, "unknown string image tag")
	}
}

func storeImage(mem guestpass.Memory, addr uint32, img image) error {
	words := [4]uint64{img.tag, 0, 0, 0}
	switch img.tag {
	case tagText, tagBytes:
		words[1] = uint64(img.handle)
	case tagBorrow:
		words[1] = uint64(img.spanPtr)
		words[2] = uint64(img.spanLen)
	}
	for i, w := range words {
		if err := mem.WriteU64(addr+uint32(i)*8, w); err != nil {
			return errors.OutOfBounds(errors.PhaseLower, addr, ImageSize, err)
		}
	}
	return nil
}

// zeroImage overwrites the image at addr with the absent sentinel.
func zeroImage(mem guestpass.Memory, addr uint32) error {
	return storeImage(mem, addr, image{tag: tagAbsent})
}
