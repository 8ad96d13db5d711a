// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

// Package offset declares the offset resolution engine's data model: a
// directed configuration of named, flavored offsets with inter-offset
// dependencies, per-offset filters and modifications, optional/required
// semantics, and mutually independent alternative chains.
package offset

import "fmt"

// Flavor selects which searcher capability an offset dispatches to.
type Flavor int

const (
	// FlavorSymbol resolves a symbol's address.
	FlavorSymbol Flavor = iota
	// FlavorSymbolSize resolves a symbol's size.
	FlavorSymbolSize
	// FlavorSection resolves a section's address.
	FlavorSection
	// FlavorSectionSize resolves a section's size.
	FlavorSectionSize
	// FlavorOpcodes resolves the address of an opcode pattern match.
	FlavorOpcodes
)

func (f Flavor) String() string {
	switch f {
	case FlavorSymbol:
		return "symbol"
	case FlavorSymbolSize:
		return "symbol-size"
	case FlavorSection:
		return "section"
	case FlavorSectionSize:
		return "section-size"
	case FlavorOpcodes:
		return "opcodes"
	default:
		return fmt.Sprintf("flavor(%d)", int(f))
	}
}

// Data is the search key carried by a Spec. It is either a textual key
// (symbol name, section name, assembly mnemonic string) or a literal byte
// pattern (for Opcodes only), or altogether absent when an offset is purely
// derived from its dependencies.
type Data struct {
	text    string
	bytes   []byte
	present bool
	isBytes bool
}

// NoData represents a Spec whose value is wholly derived from its
// dependencies via Modify, with no independent search performed.
func NoData() Data { return Data{} }

// Text builds search-key Data from a textual key (symbol/section name, or
// an assembly mnemonic for Opcodes).
func Text(s string) Data { return Data{text: s, present: true} }

// Bytes builds search-key Data from a literal byte pattern (Opcodes only).
func Bytes(b []byte) Data { return Data{bytes: append([]byte(nil), b...), present: true, isBytes: true} }

// Present reports whether the offset carries a search key at all.
func (d Data) Present() bool { return d.present }

// IsBytes reports whether the key is a literal byte pattern rather than
// text.
func (d Data) IsBytes() bool { return d.isBytes }

// Text returns the textual key. Only meaningful if Present && !IsBytes.
func (d Data) Text() string { return d.text }

// BytesValue returns the literal byte pattern. Only meaningful if Present &&
// IsBytes.
func (d Data) BytesValue() []byte { return d.bytes }

// Found is the result of resolving one Spec.
type Found struct {
	Name  string
	Value uint64
	// ELF is the owning binary's ELF name, or "" if none (the offset had
	// no Data and Modify alone produced the value, or ELFFilter/Data were
	// both absent).
	ELF string
}

// FoundChain is a chain resolved to completion.
type FoundChain struct {
	Name    string
	Offsets []Found
}

// Filter narrows a non-empty candidate list to exactly one value, given the
// dependency scope resolved so far. Returning ok=false signals "no
// candidate selected" (e.g. the default filter on an empty candidate list).
type Filter func(candidates []uint64, scope map[string]Found) (value uint64, ok bool)

// Modify maps a Filter's output (value, ok) plus the dependency scope to
// the offset's final value. ok=false must be handled explicitly — the
// default Modify raises ErrFindFailure in that case.
type Modify func(value uint64, ok bool, scope map[string]Found) (uint64, error)

// DefaultFilter returns the first candidate, or ok=false if candidates is
// empty.
func DefaultFilter() Filter {
	return func(candidates []uint64, _ map[string]Found) (uint64, bool) {
		if len(candidates) == 0 {
			return 0, false
		}
		return candidates[0], true
	}
}

// IdentityModify passes the filtered value through unchanged, raising
// ErrFindFailure if the filter produced nothing.
func IdentityModify() Modify {
	return func(value uint64, ok bool, _ map[string]Found) (uint64, error) {
		if !ok {
			return 0, fmt.Errorf("offset: %w: filter produced no value and no modification supplies one", ErrFindFailure)
		}
		return value, nil
	}
}
