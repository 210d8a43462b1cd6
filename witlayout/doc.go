// Package witlayout computes Canonical ABI sizes and alignments for WIT
// types. It is used to verify that a codec's hand-declared image layout
// matches the WIT description of the struct the guest expects.
//
// Layouts follow the Component Model Canonical ABI: records and tuples are
// laid out field by field with natural alignment, variants carry a
// discriminant sized to their case count, and strings and lists occupy a
// (ptr, len) pair of u32 words.
package witlayout
