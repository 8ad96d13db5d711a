// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package offset

import "errors"

// Sentinel error kinds, per the engine's error handling design. Use
// errors.Is against these across package boundaries; concrete errors
// returned by this module wrap one of these with fmt.Errorf("...: %w", ...).
var (
	// ErrDuplicateNames: two offsets share a name within a group, or
	// across general and any chain. Fails config/group construction.
	ErrDuplicateNames = errors.New("offset: duplicate names")

	// ErrDependencyLoop: a name-dependency cycle was found while
	// computing an extraction order. Fails config construction.
	ErrDependencyLoop = errors.New("offset: dependency loop")

	// ErrMissingDependency: a name-dependency is not resolvable in the
	// reachable scope. Fails config construction.
	ErrMissingDependency = errors.New("offset: missing dependency")

	// ErrInvalidELF: an offset's elf filter matched no known binary.
	// Fails the enclosing extraction.
	ErrInvalidELF = errors.New("offset: invalid elf filter")

	// ErrFindFailure: a required offset had no searcher-produced
	// candidates, a dependency of a required offset failed, or no chain
	// succeeded when chains were declared.
	ErrFindFailure = errors.New("offset: find failure")

	// ErrSearcherUnavailable: a requested searcher's prerequisites were
	// not met. Non-fatal at extractor construction unless every
	// requested searcher fails this way.
	ErrSearcherUnavailable = errors.New("offset: searcher unavailable")
)
