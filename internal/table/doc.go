// Package table provides the slot table backing host-owned values.
//
// Entries are addressed by generation-tagged handles: releasing an entry
// bumps its slot's generation, so every handle issued for the released entry
// resolves to nothing afterwards. Slot storage is reused through a free list.
// Borrows are tracked per entry, shared or exclusive, and block release while
// outstanding.
//
// This package is internal; passby and strpass wrap it with their ownership
// contracts.
package table
