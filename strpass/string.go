package strpass

import "unicode/utf8"

// StringKind identifies the variant a String currently holds.
type StringKind uint8

const (
	// KindNull is the "no string" variant. It is distinct from an empty
	// string the way a nil slice is distinct from an empty one.
	KindNull StringKind = iota

	// KindText holds an owned byte sequence known to be valid UTF-8 since
	// construction.
	KindText

	// KindBytes holds an owned byte sequence of unknown or invalid
	// encoding. It is produced from unvalidated foreign input and is never
	// assumed to be text until a text view proves otherwise.
	KindBytes
)

func (k StringKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// String carries one optional, possibly-invalid-UTF-8 string on the host
// side. It accepts whatever data it is given without error and converts,
// possibly reporting absence, when a view of a different kind is requested.
//
// The zero value is the Null variant.
type String struct {
	text  string
	bytes []byte
	kind  StringKind
}

// Null returns the "no string" value.
func Null() String {
	return String{}
}

// FromString builds a String from host text. Go strings are not guaranteed
// to hold UTF-8, so the content is validated: valid input becomes Text,
// invalid input is demoted to Bytes rather than constructing a Text value
// whose guarantee is a lie. Nothing is ever altered or dropped.
func FromString(s string) String {
	if !utf8.ValidString(s) {
		return String{kind: KindBytes, bytes: []byte(s)}
	}
	return String{kind: KindText, text: s}
}

// FromBytes builds a Bytes String owning a copy of b. No validation is
// performed; the content is preserved exactly, embedded NULs and invalid
// UTF-8 included.
func FromBytes(b []byte) String {
	owned := make([]byte, len(b))
	copy(owned, b)
	return String{kind: KindBytes, bytes: owned}
}

// Kind returns the variant currently held.
func (s *String) Kind() StringKind {
	return s.kind
}

// IsNull reports whether this is the Null variant.
func (s *String) IsNull() bool {
	return s.kind == KindNull
}

// AsString returns the content as text. It yields nothing for the Null
// variant and for Bytes content that is not valid UTF-8. A Bytes value that
// proves valid is upgraded in place to Text, so the validation cost is paid
// once.
func (s *String) AsString() (string, bool) {
	switch s.kind {
	case KindText:
		return s.text, true
	case KindBytes:
		if !utf8.Valid(s.bytes) {
			return "", false
		}
		s.text = string(s.bytes)
		s.bytes = nil
		s.kind = KindText
		return s.text, true
	default:
		return "", false
	}
}

// AsBytes returns the content as a byte slice. Every variant has a byte
// representation, so this never fails; the Null variant yields nil. The
// returned slice is a view of the String's own storage and must not be
// modified.
func (s *String) AsBytes() []byte {
	switch s.kind {
	case KindText:
		// A string cannot be viewed as []byte without a copy; cache the
		// copy so repeated calls are cheap.
		if s.bytes == nil {
			s.bytes = []byte(s.text)
		}
		return s.bytes
	case KindBytes:
		return s.bytes
	default:
		return nil
	}
}

// Len returns the content length in bytes, 0 for the Null variant.
func (s *String) Len() int {
	if s.kind == KindText {
		return len(s.text)
	}
	return len(s.bytes)
}

// Equal reports whether two Strings hold the same content. Null equals
// only Null; otherwise content bytes are compared, so a Text value and a
// Bytes value holding the same bytes are equal. The internal tag is a
// statement about validation, not identity.
func (s *String) Equal(o *String) bool {
	if s.IsNull() || o.IsNull() {
		return s.IsNull() == o.IsNull()
	}
	a, b := s.AsBytes(), o.AsBytes()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
