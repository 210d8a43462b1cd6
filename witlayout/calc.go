package witlayout

import (
	"fmt"
	"sync"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/guestpass/errors"
)

// Info is the canonical-ABI layout of a WIT type in guest memory.
type Info struct {
	Size      uint32
	Align     uint32
	FieldOffs map[string]uint32
}

// AlignTo rounds offset up to the next multiple of align.
func AlignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// DiscriminantSize returns the byte width of a variant or enum discriminant.
func DiscriminantSize(numCases int) uint32 {
	if numCases <= 256 {
		return 1
	} else if numCases <= 65536 {
		return 2
	}
	return 4
}

// Calculator computes canonical-ABI layouts with a cache keyed by type
// definition. Safe for concurrent use.
type Calculator struct {
	mu    sync.Mutex
	cache map[*wit.TypeDef]Info
}

func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[*wit.TypeDef]Info),
	}
}

var defaultCalculator = NewCalculator()

// Calculate computes the layout of t using a shared calculator.
func Calculate(t wit.Type) (Info, error) {
	return defaultCalculator.Calculate(t)
}

func (c *Calculator) Calculate(t wit.Type) (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calc(t)
}

func (c *Calculator) calc(t wit.Type) (Info, error) {
	switch typ := t.(type) {
	case wit.U8, wit.S8, wit.Bool:
		return Info{Size: 1, Align: 1}, nil
	case wit.U16, wit.S16:
		return Info{Size: 2, Align: 2}, nil
	case wit.U32, wit.S32, wit.F32, wit.Char:
		return Info{Size: 4, Align: 4}, nil
	case wit.U64, wit.S64, wit.F64:
		return Info{Size: 8, Align: 8}, nil
	case wit.String:
		return Info{Size: 8, Align: 4}, nil // [ptr: u32, len: u32]
	case *wit.TypeDef:
		return c.typeDef(typ)
	case nil:
		return Info{}, errors.Unsupported(errors.PhaseLayout, "nil wit type")
	default:
		return Info{}, errors.Unsupported(errors.PhaseLayout, fmt.Sprintf("wit type %T", t))
	}
}

func (c *Calculator) typeDef(t *wit.TypeDef) (Info, error) {
	if cached, ok := c.cache[t]; ok {
		return cached, nil
	}

	var info Info
	var err error

	switch kind := t.Kind.(type) {
	case *wit.Record:
		info, err = c.record(kind)
	case *wit.Variant:
		info, err = c.variant(kind)
	case *wit.Enum:
		size := DiscriminantSize(len(kind.Cases))
		info = Info{Size: size, Align: size}
	case *wit.List:
		info = Info{Size: 8, Align: 4}
	case *wit.Option:
		info, err = c.option(kind)
	case *wit.Result:
		info, err = c.result(kind)
	case *wit.Tuple:
		info, err = c.tuple(kind)
	case *wit.Flags:
		info = flagsInfo(kind)
	case wit.Type:
		info, err = c.calc(kind)
	default:
		err = errors.Unsupported(errors.PhaseLayout, fmt.Sprintf("wit type kind %T", t.Kind))
	}
	if err != nil {
		return Info{}, err
	}

	c.cache[t] = info
	return info, nil
}

func (c *Calculator) record(r *wit.Record) (Info, error) {
	if len(r.Fields) == 0 {
		return Info{Size: 0, Align: 1}, nil
	}

	fieldOffs := make(map[string]uint32)
	maxAlign := uint32(1)
	offset := uint32(0)

	for _, field := range r.Fields {
		fieldLayout, err := c.calc(field.Type)
		if err != nil {
			return Info{}, err
		}

		offset = AlignTo(offset, fieldLayout.Align)
		fieldOffs[field.Name] = offset

		if fieldLayout.Align > maxAlign {
			maxAlign = fieldLayout.Align
		}

		offset += fieldLayout.Size
	}

	return Info{
		Size:      AlignTo(offset, maxAlign),
		Align:     maxAlign,
		FieldOffs: fieldOffs,
	}, nil
}

func (c *Calculator) variant(v *wit.Variant) (Info, error) {
	if len(v.Cases) == 0 {
		return Info{Size: 0, Align: 1}, nil
	}

	discSize := DiscriminantSize(len(v.Cases))

	maxAlign := discSize
	maxSize := uint32(0)

	for _, cs := range v.Cases {
		if cs.Type == nil {
			continue
		}
		caseLayout, err := c.calc(cs.Type)
		if err != nil {
			return Info{}, err
		}
		if caseLayout.Align > maxAlign {
			maxAlign = caseLayout.Align
		}
		if caseLayout.Size > maxSize {
			maxSize = caseLayout.Size
		}
	}

	payloadOffset := AlignTo(discSize, maxAlign)
	totalSize := AlignTo(payloadOffset+maxSize, maxAlign)

	return Info{Size: totalSize, Align: maxAlign}, nil
}

func (c *Calculator) option(o *wit.Option) (Info, error) {
	innerLayout, err := c.calc(o.Type)
	if err != nil {
		return Info{}, err
	}

	maxAlign := innerLayout.Align
	if maxAlign < 1 {
		maxAlign = 1
	}

	payloadOffset := AlignTo(1, maxAlign)
	totalSize := AlignTo(payloadOffset+innerLayout.Size, maxAlign)

	return Info{Size: totalSize, Align: maxAlign}, nil
}

func (c *Calculator) result(r *wit.Result) (Info, error) {
	maxSize := uint32(0)
	maxAlign := uint32(1)

	if r.OK != nil {
		okLayout, err := c.calc(r.OK)
		if err != nil {
			return Info{}, err
		}
		maxSize = okLayout.Size
		maxAlign = okLayout.Align
	}

	if r.Err != nil {
		errLayout, err := c.calc(r.Err)
		if err != nil {
			return Info{}, err
		}
		if errLayout.Size > maxSize {
			maxSize = errLayout.Size
		}
		if errLayout.Align > maxAlign {
			maxAlign = errLayout.Align
		}
	}

	payloadOffset := AlignTo(1, maxAlign)
	totalSize := AlignTo(payloadOffset+maxSize, maxAlign)

	return Info{Size: totalSize, Align: maxAlign}, nil
}

func (c *Calculator) tuple(t *wit.Tuple) (Info, error) {
	if len(t.Types) == 0 {
		return Info{Size: 0, Align: 1}, nil
	}

	maxAlign := uint32(1)
	offset := uint32(0)

	for _, typ := range t.Types {
		elemLayout, err := c.calc(typ)
		if err != nil {
			return Info{}, err
		}

		offset = AlignTo(offset, elemLayout.Align)

		if elemLayout.Align > maxAlign {
			maxAlign = elemLayout.Align
		}

		offset += elemLayout.Size
	}

	return Info{Size: AlignTo(offset, maxAlign), Align: maxAlign}, nil
}

func flagsInfo(f *wit.Flags) Info {
	numFlags := len(f.Flags)

	if numFlags == 0 {
		return Info{Size: 0, Align: 1}
	}

	if numFlags <= 8 {
		return Info{Size: 1, Align: 1}
	} else if numFlags <= 16 {
		return Info{Size: 2, Align: 2}
	} else if numFlags <= 32 {
		return Info{Size: 4, Align: 4}
	} else if numFlags <= 64 {
		return Info{Size: 8, Align: 8}
	}

	// >64 flags: multiple u32s per Canonical ABI spec
	numU32s := (numFlags + 31) / 32
	return Info{Size: uint32(numU32s * 4), Align: 4}
}
