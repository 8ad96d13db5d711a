// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package offset

import "path/filepath"

// Binary is a primary ELF path paired with an optional companion path
// carrying separated debug info (typically DWARF). Within a BinarySet each
// Binary is identified by the file-name basename of Primary (its "ELF
// name").
type Binary struct {
	Primary   string
	Companion string // "" if none
}

// ELFName is the file-name basename of Primary, used in filters, errors,
// and results.
func (b Binary) ELFName() string { return filepath.Base(b.Primary) }

// HasCompanion reports whether a separate debug file is present.
func (b Binary) HasCompanion() bool { return b.Companion != "" }

// BinarySet is an ordered list of Binary pairs making up one version of a
// target program.
type BinarySet []Binary

// Names returns the ELF names of every binary in the set, in order.
func (s BinarySet) Names() []string {
	out := make([]string, len(s))
	for i, b := range s {
		out[i] = b.ELFName()
	}
	return out
}

// ByName looks up a Binary by its ELF name.
func (s BinarySet) ByName(name string) (Binary, bool) {
	for _, b := range s {
		if b.ELFName() == name {
			return b, true
		}
	}
	return Binary{}, false
}
