// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

// Package searcher declares the five-operation capability surface every
// offset searcher back-end implements, plus the cacheable base those
// back-ends embed.
package searcher

import (
	"context"
	"errors"
)

// ErrNotImplemented signals that a searcher does not support a given
// capability at all (as opposed to supporting it and simply finding
// nothing). The extractor treats this as "try the next searcher".
var ErrNotImplemented = errors.New("searcher: capability not implemented")

// Searcher is the capability surface every back-end implements. A nil
// result slice with a nil error means "capability supported, nothing
// matched" (a miss). A non-nil, non-empty slice is the candidate set. Any
// non-nil error other than ErrNotImplemented is a find-failure: the
// search machinery itself failed on this (key, elf) pair.
type Searcher interface {
	// Name identifies this searcher for logging, selection, and priority
	// ordering.
	Name() string

	SearchSymbol(ctx context.Context, name, elf string) ([]uint64, error)
	SearchSymbolSize(ctx context.Context, name, elf string) ([]uint64, error)
	SearchSection(ctx context.Context, name, elf string) ([]uint64, error)
	SearchSectionSize(ctx context.Context, name, elf string) ([]uint64, error)

	// SearchOpcodes matches a pattern in the ELF's executable text.
	// pattern is either an assembly mnemonic string (the searcher
	// assembles it) or a literal byte pattern.
	SearchOpcodes(ctx context.Context, pattern Pattern, elf string) ([]uint64, error)

	// Close releases any file descriptors, subprocess handles, or other
	// resources this searcher instance owns.
	Close() error
}

// Pattern is an opcode search key: either assembly text or literal bytes.
type Pattern struct {
	Asm   string
	Bytes []byte
}

// IsBytes reports whether this Pattern carries a literal byte pattern
// rather than assembly text.
func (p Pattern) IsBytes() bool { return p.Bytes != nil }

// AsmPattern builds an assembly-text Pattern.
func AsmPattern(asm string) Pattern { return Pattern{Asm: asm} }

// BytePattern builds a literal-byte Pattern.
func BytePattern(b []byte) Pattern { return Pattern{Bytes: append([]byte(nil), b...)} }

// Factory constructs a Searcher instance over the given binary set, after
// an Available check has already passed. See package selector.
type Factory func(binaries Binaries) (Searcher, error)

// Binaries is the minimal binary-set view searchers need: ELF name to
// (primary, companion) path pairs, order-preserving.
type Binaries interface {
	Names() []string
	Paths(elf string) (primary, companion string, ok bool)
}
